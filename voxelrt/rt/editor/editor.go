package editor

import (
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/trace"

	"github.com/go-gl/mathgl/mgl32"
)

// NoSelection is the SelectedInstance value when nothing is selected.
const NoSelection = -1

// Editor picks instances with the traversal and edits their placement. Scale changes are
// debounced because each one rebuilds the TLAS.
type Editor struct {
	SelectedInstance int

	// Debounced scaling
	PendingScaleFactor  float32
	LastScaleInputTime  float64
	LastScaleUpdateTime float64
}

func NewEditor() *Editor {
	return &Editor{
		SelectedInstance:   NoSelection,
		PendingScaleFactor: 1.0,
	}
}

type HitResult struct {
	InstanceIndex int
	BLASID        string
	VoxelIndex    uint32
	T             float32
	Position      mgl32.Vec3
	Normal        mgl32.Vec3
}

// GetPickRay returns the primary ray through a window pixel.
func (e *Editor) GetPickRay(mouseX, mouseY float64, width, height int, camera *core.CameraState) trace.Ray {
	// Normalized Device Coordinates
	nx := (2.0*float32(mouseX))/float32(width) - 1.0
	ny := 1.0 - (2.0*float32(mouseY))/float32(height) // Flip Y for NDC

	aspect := float32(width) / float32(height)
	origin, dir := camera.PrimaryRay(nx, ny, aspect)
	return trace.NewRay(origin, dir)
}

// Pick returns the closest instance hit by ray, or nil. The scene TLAS must be current.
func (e *Editor) Pick(scene *core.VoxelScene, ray trace.Ray) (*HitResult, error) {
	buf, err := trace.FromScene(scene)
	if err != nil {
		return nil, err
	}
	hit := buf.Intersect(ray)
	if !hit.Hit {
		return nil, nil
	}

	res := &HitResult{
		InstanceIndex: int(hit.InstanceIndex),
		VoxelIndex:    hit.VoxelIndex,
		T:             hit.T,
		Position:      hit.Position,
		Normal:        hit.Normal,
	}
	inst, err := scene.Instance(res.InstanceIndex)
	if err != nil {
		return nil, err
	}
	if b, ok := scene.BLASAtOffset(inst.BLASOffset); ok {
		res.BLASID = b.ID
	}
	return res, nil
}

func (e *Editor) Select(scene *core.VoxelScene, ray trace.Ray) (*HitResult, error) {
	hit, err := e.Pick(scene, ray)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		e.SelectedInstance = hit.InstanceIndex
	} else {
		e.SelectedInstance = NoSelection
	}
	e.PendingScaleFactor = 1.0
	return hit, nil
}

// TranslateSelected moves the selected instance by delta in world space and rebuilds
// the TLAS.
func (e *Editor) TranslateSelected(scene *core.VoxelScene, delta mgl32.Vec3) error {
	if e.SelectedInstance == NoSelection {
		return nil
	}
	inst, err := scene.Instance(e.SelectedInstance)
	if err != nil {
		return err
	}
	if err := scene.SetInstanceTransform(e.SelectedInstance, mgl32.Translate3D(delta.X(), delta.Y(), delta.Z()).Mul4(inst.Transform)); err != nil {
		return err
	}
	scene.BuildTLAS()
	return nil
}

func (e *Editor) ScaleSelected(factor float32, now float64) {
	if e.SelectedInstance == NoSelection {
		return
	}
	e.PendingScaleFactor *= factor
	e.LastScaleInputTime = now
}

// Update applies a pending scale once input has been idle for 200ms, or every 100ms
// while it keeps coming. It reports whether the scene changed.
func (e *Editor) Update(scene *core.VoxelScene, now float64) (bool, error) {
	if e.SelectedInstance == NoSelection || e.PendingScaleFactor == 1.0 {
		return false, nil
	}

	idle := (now - e.LastScaleInputTime) > 0.2
	periodic := (now - e.LastScaleUpdateTime) > 0.1
	if !idle && !periodic {
		return false, nil
	}

	// Scale about the instance origin, keeping its translation.
	inst, err := scene.Instance(e.SelectedInstance)
	if err != nil {
		return false, err
	}
	m := inst.Transform
	pos := m.Col(3).Vec3()
	f := e.PendingScaleFactor
	scaled := mgl32.Translate3D(pos.X(), pos.Y(), pos.Z()).
		Mul4(mgl32.Scale3D(f, f, f)).
		Mul4(mgl32.Translate3D(-pos.X(), -pos.Y(), -pos.Z())).
		Mul4(m)
	if err := scene.SetInstanceTransform(e.SelectedInstance, scaled); err != nil {
		return false, err
	}
	scene.BuildTLAS()

	e.PendingScaleFactor = 1.0
	e.LastScaleUpdateTime = now
	return true, nil
}
