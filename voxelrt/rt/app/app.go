package app

import (
	"fmt"

	voxtrace "github.com/gekko3d/voxtrace"
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/gpu"

	"github.com/cogentcore/webgpu/wgpu"
)

// App is a headless WebGPU session holding a scene's storage buffers. Pipelines and
// presentation are left to the host.
type App struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device

	BufferManager *gpu.GpuBufferManager
	Camera        *core.CameraState
	Light         core.Light
	Profiler      *Profiler

	logger voxtrace.Logger
}

func NewApp(logger voxtrace.Logger) *App {
	return &App{
		Camera:   core.NewCameraState(),
		Light:    core.DefaultLight(),
		Profiler: NewProfiler(),
		logger:   voxtrace.OrNop(logger),
	}
}

// Init acquires an adapter without a surface and opens a device on it.
func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		a.Release()
		return fmt.Errorf("request adapter: %w", err)
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		a.Release()
		return fmt.Errorf("request device: %w", err)
	}
	a.BufferManager = gpu.NewGpuBufferManager(a.Device)

	a.logger.Debugf("headless WebGPU device ready")
	return nil
}

// Upload writes the camera uniform and every scene buffer to the device.
func (a *App) Upload(scene *core.VoxelScene, aspect float32) error {
	if a.BufferManager == nil {
		return fmt.Errorf("app: Init must succeed before Upload")
	}
	return a.Profiler.Scope("upload", func() error {
		if err := a.BufferManager.UpdateCamera(a.Camera, a.Light, aspect); err != nil {
			return err
		}
		recreated, err := a.BufferManager.UpdateScene(scene)
		if err != nil {
			return err
		}
		if recreated {
			a.logger.Debugf("scene buffers reallocated")
		}
		return nil
	})
}

// BufferSizes reports the allocated size of each scene buffer by label.
func (a *App) BufferSizes() map[string]uint64 {
	m := a.BufferManager
	sizes := map[string]uint64{}
	for name, buf := range map[string]*wgpu.Buffer{
		"CameraUB":     m.CameraBuf,
		"TLASNodesBuf": m.TLASNodesBuf,
		"InstancesBuf": m.InstancesBuf,
		"BLASNodesBuf": m.BLASNodesBuf,
		"VoxelsBuf":    m.VoxelsBuf,
		"MaterialsBuf": m.MaterialsBuf,
	} {
		if buf != nil {
			sizes[name] = buf.GetSize()
		}
	}
	return sizes
}

func (a *App) Release() {
	if a.BufferManager != nil {
		a.BufferManager.Release()
		a.BufferManager = nil
	}
	if a.Device != nil {
		a.Device.Release()
		a.Device = nil
	}
	if a.Adapter != nil {
		a.Adapter.Release()
		a.Adapter = nil
	}
	if a.Instance != nil {
		a.Instance.Release()
		a.Instance = nil
	}
}
