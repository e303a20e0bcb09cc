package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gekko3d/voxtrace/voxelrt/rt/core"

	"github.com/cogentcore/webgpu/wgpu"
)

const (
	CameraUniformSize = 256
	// Storage bindings may not be empty, so empty arrays upload a zeroed placeholder.
	placeholderSize = 64
)

// Bindings of the scene bind group.
const (
	BindingCamera = iota
	BindingTLASNodes
	BindingInstances
	BindingBLASNodes
	BindingVoxels
	BindingMaterials
)

// SceneBuffers holds the packed contents of every storage buffer the kernel reads.
type SceneBuffers struct {
	TLASNodes []byte
	Instances []byte
	BLASNodes []byte
	Voxels    []byte
	Materials []byte
}

// PackScene flattens scene into kernel layout. The TLAS must be current.
func PackScene(scene *core.VoxelScene) (SceneBuffers, error) {
	if scene.TLASStale() {
		return SceneBuffers{}, fmt.Errorf("gpu: scene TLAS is not built or out of date")
	}
	return SceneBuffers{
		TLASNodes: PackTLASNodes(scene.FlattenedTLASNodes()),
		Instances: PackInstances(scene.Instances()),
		BLASNodes: PackBLASNodes(scene.FlattenedBlasNodes()),
		Voxels:    PackVoxels(scene.FlattenedVoxels()),
		Materials: PackMaterials(scene.Materials()),
	}, nil
}

// Named lists the buffers with their labels in binding order.
func (b SceneBuffers) Named() []NamedBuffer {
	return []NamedBuffer{
		{"TLASNodesBuf", BindingTLASNodes, b.TLASNodes},
		{"InstancesBuf", BindingInstances, b.Instances},
		{"BLASNodesBuf", BindingBLASNodes, b.BLASNodes},
		{"VoxelsBuf", BindingVoxels, b.Voxels},
		{"MaterialsBuf", BindingMaterials, b.Materials},
	}
}

type NamedBuffer struct {
	Name    string
	Binding uint32
	Data    []byte
}

// PackCamera lays out the camera uniform:
//
//	inv_view: mat4x4<f32>  -- 0
//	cam_pos:  vec4<f32>    -- 64 (w = vertical fov in radians)
//	light_dir: vec4<f32>   -- 80 (w = ambient)
//	light_color: vec4<f32> -- 96 (w = aspect)
//	-> 256 bytes (padded)
func PackCamera(cam *core.CameraState, light core.Light, aspect float32) []byte {
	buf := make([]byte, CameraUniformSize)
	putMat4(buf, 0, cam.GetViewMatrix().Inv())
	putVec3(buf, 64, cam.Position)
	putF32(buf, 76, cam.FovY)
	putVec3(buf, 80, light.Direction)
	putF32(buf, 92, light.Ambient)
	putVec3(buf, 96, light.Color)
	putF32(buf, 108, aspect)
	return buf
}

// GpuBufferManager owns the device buffers holding a VoxelScene.
type GpuBufferManager struct {
	Device *wgpu.Device

	CameraBuf    *wgpu.Buffer
	TLASNodesBuf *wgpu.Buffer
	InstancesBuf *wgpu.Buffer
	BLASNodesBuf *wgpu.Buffer
	VoxelsBuf    *wgpu.Buffer
	MaterialsBuf *wgpu.Buffer

	BindGroup *wgpu.BindGroup

	// Headroom added when a storage buffer has to grow.
	Headroom int
}

func NewGpuBufferManager(device *wgpu.Device) *GpuBufferManager {
	return &GpuBufferManager{
		Device:   device,
		Headroom: 64 * 1024,
	}
}

// ensureBuffer writes data into *buf, recreating it when it is missing or too small.
// It reports whether the buffer object changed, which invalidates bind groups.
func (m *GpuBufferManager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, headroom int) (bool, error) {
	neededSize := uint64(len(data) + headroom)
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	current := *buf
	recreated := false
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}
		newBuf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            name,
			Size:             neededSize,
			Usage:            usage | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			*buf = nil
			return false, fmt.Errorf("gpu: create %s (%d bytes): %w", name, neededSize, err)
		}
		*buf = newBuf
		recreated = true
	}

	if len(data) > 0 {
		if err := m.Device.GetQueue().WriteBuffer(*buf, 0, data); err != nil {
			return recreated, fmt.Errorf("gpu: write %s: %w", name, err)
		}
	}
	return recreated, nil
}

func (m *GpuBufferManager) storage(name string) **wgpu.Buffer {
	switch name {
	case "TLASNodesBuf":
		return &m.TLASNodesBuf
	case "InstancesBuf":
		return &m.InstancesBuf
	case "BLASNodesBuf":
		return &m.BLASNodesBuf
	case "VoxelsBuf":
		return &m.VoxelsBuf
	default:
		return &m.MaterialsBuf
	}
}

// UpdateScene packs and uploads scene. The bind group is dropped when any buffer had to
// be recreated; call CreateBindGroup again in that case.
func (m *GpuBufferManager) UpdateScene(scene *core.VoxelScene) (bool, error) {
	packed, err := PackScene(scene)
	if err != nil {
		return false, err
	}

	recreated := false
	for _, nb := range packed.Named() {
		data := nb.Data
		headroom := m.Headroom
		if len(data) == 0 {
			data = make([]byte, placeholderSize)
			headroom = 0
		}
		changed, err := m.ensureBuffer(nb.Name, m.storage(nb.Name), data, wgpu.BufferUsageStorage, headroom)
		if err != nil {
			return recreated, err
		}
		recreated = recreated || changed
	}

	if recreated && m.BindGroup != nil {
		m.BindGroup.Release()
		m.BindGroup = nil
	}
	return recreated, nil
}

func (m *GpuBufferManager) UpdateCamera(cam *core.CameraState, light core.Light, aspect float32) error {
	changed, err := m.ensureBuffer("CameraUB", &m.CameraBuf, PackCamera(cam, light, aspect), wgpu.BufferUsageUniform, 0)
	if changed && m.BindGroup != nil {
		m.BindGroup.Release()
		m.BindGroup = nil
	}
	return err
}

// CreateBindGroup binds the camera and the five scene buffers to group 0 of pipeline.
func (m *GpuBufferManager) CreateBindGroup(pipeline *wgpu.ComputePipeline) error {
	if m.CameraBuf == nil || m.TLASNodesBuf == nil {
		return fmt.Errorf("gpu: UpdateCamera and UpdateScene must run before CreateBindGroup")
	}
	entries := []wgpu.BindGroupEntry{
		{Binding: BindingCamera, Buffer: m.CameraBuf, Size: wgpu.WholeSize},
		{Binding: BindingTLASNodes, Buffer: m.TLASNodesBuf, Size: wgpu.WholeSize},
		{Binding: BindingInstances, Buffer: m.InstancesBuf, Size: wgpu.WholeSize},
		{Binding: BindingBLASNodes, Buffer: m.BLASNodesBuf, Size: wgpu.WholeSize},
		{Binding: BindingVoxels, Buffer: m.VoxelsBuf, Size: wgpu.WholeSize},
		{Binding: BindingMaterials, Buffer: m.MaterialsBuf, Size: wgpu.WholeSize},
	}
	layout := pipeline.GetBindGroupLayout(0)
	defer layout.Release()

	bg, err := m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "SceneBG",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create scene bind group: %w", err)
	}
	if m.BindGroup != nil {
		m.BindGroup.Release()
	}
	m.BindGroup = bg
	return nil
}

// Release frees every buffer and the bind group.
func (m *GpuBufferManager) Release() {
	if m.BindGroup != nil {
		m.BindGroup.Release()
		m.BindGroup = nil
	}
	for _, buf := range []**wgpu.Buffer{&m.CameraBuf, &m.TLASNodesBuf, &m.InstancesBuf, &m.BLASNodesBuf, &m.VoxelsBuf, &m.MaterialsBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}

// DumpHeader prefixes each buffer in a dump file: magic, binding, byte length.
func DumpHeader(binding uint32, length int) []byte {
	buf := make([]byte, 12)
	copy(buf, "VXTB")
	binary.LittleEndian.PutUint32(buf[4:], binding)
	binary.LittleEndian.PutUint32(buf[8:], uint32(length))
	return buf
}
