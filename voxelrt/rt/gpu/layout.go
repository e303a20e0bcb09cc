package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/voxtrace/voxelrt/rt/bvh"
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
)

// Packed sizes of the storage buffer elements read by the tracing kernel.
const (
	VoxelSize        = 32
	BLASNodeSize     = 32
	TLASNodeSize     = 48
	BLASInstanceSize = 144
	MaterialSize     = 48
)

// BLASNode flag bits.
const (
	flagLeaf        = 1 << 0
	childCountShift = 1
	childCountMask  = 0x7F
	lodShift        = 8
	occupancyShift  = 16
)

// ErrBufferSize is returned by the decoders when a buffer is not a whole number of elements.
type ErrBufferSize struct {
	Kind   string
	Len    int
	Stride int
}

func (e *ErrBufferSize) Error() string {
	return fmt.Sprintf("gpu: %s buffer of %d bytes is not a multiple of %d", e.Kind, e.Len, e.Stride)
}

func checkStride(kind string, data []byte, stride int) error {
	if len(data)%stride != 0 {
		return &ErrBufferSize{Kind: kind, Len: len(data), Stride: stride}
	}
	return nil
}

func putF32(buf []byte, off int, f float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
}

func getF32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func putVec3(buf []byte, off int, v mgl32.Vec3) {
	putF32(buf, off, v[0])
	putF32(buf, off+4, v[1])
	putF32(buf, off+8, v[2])
}

func getVec3(buf []byte, off int) mgl32.Vec3 {
	return mgl32.Vec3{getF32(buf, off), getF32(buf, off+4), getF32(buf, off+8)}
}

// putMat4 writes m column-major, the order mgl32 already stores it in.
func putMat4(buf []byte, off int, m mgl32.Mat4) {
	for i, v := range m {
		putF32(buf, off+i*4, v)
	}
}

func getMat4(buf []byte, off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = getF32(buf, off+i*4)
	}
	return m
}

// PackVoxels: position(3f32), materialIdx, size, occupancyMask, lodLevel, pad.
func PackVoxels(voxels []volume.Voxel) []byte {
	buf := make([]byte, len(voxels)*VoxelSize)
	for i, v := range voxels {
		off := i * VoxelSize
		putVec3(buf, off, v.Position())
		binary.LittleEndian.PutUint32(buf[off+12:], v.MaterialIdx())
		putF32(buf, off+16, v.Size())
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(v.OccupancyMask()))
		binary.LittleEndian.PutUint32(buf[off+24:], v.LODLevel())
	}
	return buf
}

func DecodeVoxels(data []byte) ([]volume.Voxel, error) {
	if err := checkStride("voxel", data, VoxelSize); err != nil {
		return nil, err
	}
	out := make([]volume.Voxel, len(data)/VoxelSize)
	for i := range out {
		off := i * VoxelSize
		out[i] = volume.NewVoxel(
			getVec3(data, off),
			getF32(data, off+16),
			binary.LittleEndian.Uint32(data[off+12:]),
			binary.LittleEndian.Uint32(data[off+24:]),
			uint8(binary.LittleEndian.Uint32(data[off+20:])),
		)
	}
	return out, nil
}

// BLASNodeFlags packs isLeaf (bit 0), childCount (bits 1-7), lodLevel (bits 8-15) and
// occupancyMask (bits 16-23). LOD levels above 255 are truncated to 8 bits.
func BLASNodeFlags(n bvh.BLASNode) uint32 {
	var flags uint32
	if n.IsLeaf {
		flags |= flagLeaf
	}
	flags |= (uint32(n.ChildCount) & childCountMask) << childCountShift
	flags |= (n.LODLevel & 0xFF) << lodShift
	flags |= uint32(n.OccupancyMask) << occupancyShift
	return flags
}

// PackBLASNodes: aabbMin(3f32), flags, aabbMax(3f32), firstChildOrVoxelIndex.
// The material index is not part of the node layout; the kernel reads it from the voxel.
func PackBLASNodes(nodes []bvh.BLASNode) []byte {
	buf := make([]byte, len(nodes)*BLASNodeSize)
	for i, n := range nodes {
		off := i * BLASNodeSize
		putVec3(buf, off, n.AABB.Min)
		binary.LittleEndian.PutUint32(buf[off+12:], BLASNodeFlags(n))
		putVec3(buf, off+16, n.AABB.Max)
		binary.LittleEndian.PutUint32(buf[off+28:], n.FirstChildOrVoxelIndex)
	}
	return buf
}

func DecodeBLASNodes(data []byte) ([]bvh.BLASNode, error) {
	if err := checkStride("BLAS node", data, BLASNodeSize); err != nil {
		return nil, err
	}
	out := make([]bvh.BLASNode, len(data)/BLASNodeSize)
	for i := range out {
		off := i * BLASNodeSize
		flags := binary.LittleEndian.Uint32(data[off+12:])
		out[i] = bvh.BLASNode{
			AABB:                   volume.NewAABB(getVec3(data, off), getVec3(data, off+16)),
			IsLeaf:                 flags&flagLeaf != 0,
			ChildCount:             uint8((flags >> childCountShift) & childCountMask),
			LODLevel:               (flags >> lodShift) & 0xFF,
			OccupancyMask:          uint8(flags >> occupancyShift),
			FirstChildOrVoxelIndex: binary.LittleEndian.Uint32(data[off+28:]),
		}
	}
	return out, nil
}

// PackTLASNodes: aabbMin(3f32), left, aabbMax(3f32), right, blasInstanceIndex, pad(3).
func PackTLASNodes(nodes []bvh.TLASNode) []byte {
	buf := make([]byte, len(nodes)*TLASNodeSize)
	for i, n := range nodes {
		off := i * TLASNodeSize
		putVec3(buf, off, n.AABB.Min)
		binary.LittleEndian.PutUint32(buf[off+12:], n.Left)
		putVec3(buf, off+16, n.AABB.Max)
		binary.LittleEndian.PutUint32(buf[off+28:], n.Right)
		binary.LittleEndian.PutUint32(buf[off+32:], n.BLASInstanceIndex)
	}
	return buf
}

func DecodeTLASNodes(data []byte) ([]bvh.TLASNode, error) {
	if err := checkStride("TLAS node", data, TLASNodeSize); err != nil {
		return nil, err
	}
	out := make([]bvh.TLASNode, len(data)/TLASNodeSize)
	for i := range out {
		off := i * TLASNodeSize
		out[i] = bvh.TLASNode{
			AABB:              volume.NewAABB(getVec3(data, off), getVec3(data, off+16)),
			Left:              binary.LittleEndian.Uint32(data[off+12:]),
			Right:             binary.LittleEndian.Uint32(data[off+28:]),
			BLASInstanceIndex: binary.LittleEndian.Uint32(data[off+32:]),
		}
	}
	return out, nil
}

// PackInstances: transform(16f32), transformInverse(16f32), blasOffset, materialIdx, pad(2).
func PackInstances(instances []core.BLASInstance) []byte {
	buf := make([]byte, len(instances)*BLASInstanceSize)
	for i, inst := range instances {
		off := i * BLASInstanceSize
		putMat4(buf, off, inst.Transform)
		putMat4(buf, off+64, inst.TransformInverse)
		binary.LittleEndian.PutUint32(buf[off+128:], inst.BLASOffset)
		binary.LittleEndian.PutUint32(buf[off+132:], inst.MaterialIdx)
	}
	return buf
}

func DecodeInstances(data []byte) ([]core.BLASInstance, error) {
	if err := checkStride("instance", data, BLASInstanceSize); err != nil {
		return nil, err
	}
	out := make([]core.BLASInstance, len(data)/BLASInstanceSize)
	for i := range out {
		off := i * BLASInstanceSize
		out[i] = core.BLASInstance{
			Transform:        getMat4(data, off),
			TransformInverse: getMat4(data, off+64),
			BLASOffset:       binary.LittleEndian.Uint32(data[off+128:]),
			MaterialIdx:      binary.LittleEndian.Uint32(data[off+132:]),
		}
	}
	return out, nil
}

// PackMaterials: color(3f32), roughness, emission(3f32), emissionStrength, metalness, pad(3).
func PackMaterials(materials []core.Material) []byte {
	buf := make([]byte, len(materials)*MaterialSize)
	for i, m := range materials {
		off := i * MaterialSize
		putVec3(buf, off, m.Color)
		putF32(buf, off+12, m.Roughness)
		putVec3(buf, off+16, m.Emission)
		putF32(buf, off+28, m.EmissionStrength)
		putF32(buf, off+32, m.Metalness)
	}
	return buf
}

func DecodeMaterials(data []byte) ([]core.Material, error) {
	if err := checkStride("material", data, MaterialSize); err != nil {
		return nil, err
	}
	out := make([]core.Material, len(data)/MaterialSize)
	for i := range out {
		off := i * MaterialSize
		out[i] = core.Material{
			Color:            getVec3(data, off),
			Roughness:        getF32(data, off+12),
			Emission:         getVec3(data, off+16),
			EmissionStrength: getF32(data, off+28),
			Metalness:        getF32(data, off+32),
		}
	}
	return out, nil
}

// CountReachable walks the flattened BLAS node array from root and counts the nodes it
// reaches. For a well formed array it equals the NodeCount of the BLAS at that offset.
// Child ranges that leave the array are not followed.
func CountReachable(nodes []bvh.BLASNode, root uint32) int {
	if int(root) >= len(nodes) {
		return 0
	}
	count := 0
	stack := []uint32{root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		n := nodes[idx]
		if n.IsLeaf {
			continue
		}
		first := n.FirstChildOrVoxelIndex
		if int(first)+int(n.ChildCount) > len(nodes) {
			continue
		}
		for c := uint32(0); c < uint32(n.ChildCount); c++ {
			stack = append(stack, first+c)
		}
	}
	return count
}
