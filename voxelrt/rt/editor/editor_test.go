package editor

import (
	"testing"

	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/trace"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoBoxes(t *testing.T) *core.VoxelScene {
	t.Helper()
	s := core.NewVoxelScene()
	_, err := s.CreateBLAS("box", volume.Single(mgl32.Vec3{}, 2, 0))
	require.NoError(t, err)
	_, err = s.AddInstance("box", mgl32.Translate3D(-5, 0, 0), core.MaterialInherit)
	require.NoError(t, err)
	_, err = s.AddInstance("box", mgl32.Translate3D(5, 0, 0), core.MaterialInherit)
	require.NoError(t, err)
	s.BuildTLAS()
	return s
}

func TestPick(t *testing.T) {
	s := twoBoxes(t)
	e := NewEditor()

	hit, err := e.Pick(s, trace.RayTowards(mgl32.Vec3{5, -10, 0}, mgl32.Vec3{5, 0, 0}))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 1, hit.InstanceIndex)
	assert.Equal(t, "box", hit.BLASID)
	assert.InDelta(t, 9, hit.T, 1e-5)
	assert.InDelta(t, -1, hit.Normal.Y(), 1e-5)

	hit, err = e.Pick(s, trace.RayTowards(mgl32.Vec3{0, -10, 0}, mgl32.Vec3{0, 0, 0}))
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestPickNeedsTLAS(t *testing.T) {
	s := twoBoxes(t)
	require.NoError(t, s.SetInstanceTransform(0, mgl32.Ident4()))
	_, err := NewEditor().Pick(s, trace.NewRay(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}))
	assert.ErrorIs(t, err, trace.ErrStaleTLAS)
}

func TestGetPickRayCentre(t *testing.T) {
	cam := core.NewCameraState()
	cam.Position = mgl32.Vec3{0, -10, 0}
	cam.LookAt(mgl32.Vec3{})

	r := NewEditor().GetPickRay(400, 300, 800, 600, cam)
	assert.Equal(t, cam.Position, r.Origin)
	fwd := cam.GetForward()
	for a := 0; a < 3; a++ {
		assert.InDelta(t, fwd[a], r.Direction[a], 1e-5, "axis %d", a)
	}
}

func TestSelectAndTranslate(t *testing.T) {
	s := twoBoxes(t)
	e := NewEditor()

	_, err := e.Select(s, trace.RayTowards(mgl32.Vec3{-5, -10, 0}, mgl32.Vec3{-5, 0, 0}))
	require.NoError(t, err)
	require.Equal(t, 0, e.SelectedInstance)

	require.NoError(t, e.TranslateSelected(s, mgl32.Vec3{0, 0, 10}))
	assert.False(t, s.TLASStale())
	assert.InDelta(t, 11, s.TLAS().Root().AABB.Max.Z(), 1e-5)

	_, err = e.Select(s, trace.RayTowards(mgl32.Vec3{-5, -10, 0}, mgl32.Vec3{-5, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, NoSelection, e.SelectedInstance, "the box moved away")
	assert.NoError(t, e.TranslateSelected(s, mgl32.Vec3{1, 0, 0}))
}

func TestScaleIsDebounced(t *testing.T) {
	s := twoBoxes(t)
	e := NewEditor()
	e.SelectedInstance = 1

	e.ScaleSelected(2, 1.0)
	e.LastScaleUpdateTime = 1.0
	changed, err := e.Update(s, 1.05)
	require.NoError(t, err)
	assert.False(t, changed, "input still arriving")

	changed, err = e.Update(s, 1.3)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, float32(1), e.PendingScaleFactor)

	inst, err := s.Instance(1)
	require.NoError(t, err)
	want := mgl32.Translate3D(5, 0, 0).Mul4(mgl32.Scale3D(2, 2, 2))
	for i := range want {
		assert.InDelta(t, want[i], inst.Transform[i], 1e-5, "element %d", i)
	}
	assert.InDelta(t, 7, s.TLAS().Root().AABB.Max.X(), 1e-5)
}

func TestStaleSelection(t *testing.T) {
	s := twoBoxes(t)
	e := NewEditor()
	e.SelectedInstance = 7

	err := e.TranslateSelected(s, mgl32.Vec3{1, 0, 0})
	assert.ErrorIs(t, err, core.ErrNoInstance)

	e.ScaleSelected(2, 1.0)
	changed, err := e.Update(s, 2.0)
	assert.ErrorIs(t, err, core.ErrNoInstance)
	assert.False(t, changed)
	assert.False(t, s.TLASStale(), "scene untouched")
}
