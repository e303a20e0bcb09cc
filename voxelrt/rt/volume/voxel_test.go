package volume

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoxelBounds(t *testing.T) {
	v := NewVoxel(mgl32.Vec3{1, 2, 3}, 2, 9, 3, 0x0F)
	assert.Equal(t, mgl32.Vec3{0, 1, 2}, v.Min())
	assert.Equal(t, mgl32.Vec3{2, 3, 4}, v.Max())
	assert.Equal(t, NewAABB(v.Min(), v.Max()), v.Bounds())
	assert.Equal(t, uint32(9), v.MaterialIdx())
	assert.Equal(t, uint32(3), v.LODLevel())
	assert.Equal(t, uint8(0x0F), v.OccupancyMask())
	assert.True(t, v.OctantFilled(3))
	assert.False(t, v.OctantFilled(4))
}

func TestOctant(t *testing.T) {
	c := mgl32.Vec3{}
	for i := 0; i < 8; i++ {
		assert.Equal(t, i, Octant(OctantOffset(i), c))
	}
	assert.Equal(t, 7, Octant(c, c), "the centre belongs to the upper octant")
}

func TestCreateChildren(t *testing.T) {
	v := NewVoxel(mgl32.Vec3{0, 0, 0}, 4, 2, 1, FullOccupancy)
	children := v.CreateChildren()
	require.Len(t, children, 8)

	union := EmptyAABB()
	for i, c := range children {
		assert.Equal(t, float32(2), c.Size())
		assert.Equal(t, uint32(0), c.LODLevel())
		assert.Equal(t, uint32(2), c.MaterialIdx())
		assert.Equal(t, i, Octant(c.Position(), v.Position()))
		union.ExpandByAABB(c.Bounds())
	}
	assert.Equal(t, v.Bounds(), union)

	for _, c := range children {
		assert.Nil(t, c.CreateChildren(), "LOD 0 is terminal")
	}
}

func TestCreateChildrenSkipsEmptyOctants(t *testing.T) {
	v := NewVoxel(mgl32.Vec3{}, 2, 0, 5, 0b10000001)
	children := v.CreateChildren()
	require.Len(t, children, 2)
	assert.Equal(t, mgl32.Vec3{-0.5, -0.5, -0.5}, children[0].Position())
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0.5}, children[1].Position())
	assert.Equal(t, uint32(4), children[0].LODLevel())
}

func TestGenerators(t *testing.T) {
	assert.Len(t, Single(mgl32.Vec3{}, 1, 0), 1)

	cube := Cube(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{4, 2, 1}, 1, 3)
	require.Len(t, cube, 8)
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0.5}, cube[0].Position())
	assert.Equal(t, box(0, 0, 0, 4, 2, 1), Bounds(cube))
	assert.Nil(t, Cube(mgl32.Vec3{}, mgl32.Vec3{1, 0, 1}, 1, 0))

	sphere := Sphere(mgl32.Vec3{10, 0, 0}, 3, 1, 1)
	require.NotEmpty(t, sphere)
	for _, v := range sphere {
		assert.LessOrEqual(t, v.Position().Sub(mgl32.Vec3{10, 0, 0}).Len(), float32(3.0001))
	}
	assert.True(t, box(7, -3, -3, 13, 3, 3).ContainsAABB(Bounds(sphere)))
	assert.Nil(t, Sphere(mgl32.Vec3{}, 0, 1, 0))

	assert.True(t, Bounds(nil).IsEmpty())
}

func TestRefine(t *testing.T) {
	coarse := []Voxel{
		NewVoxel(mgl32.Vec3{0, 0, 0}, 4, 1, 2, FullOccupancy),
		NewVoxel(mgl32.Vec3{10, 0, 0}, 1, 1, 0, FullOccupancy),
		NewVoxel(mgl32.Vec3{-10, 0, 0}, 2, 1, 1, 0x01),
	}
	fine := Refine(coarse)
	require.Len(t, fine, 64+1+1)
	for _, v := range fine {
		assert.Equal(t, uint32(0), v.LODLevel())
	}

	big := EmptyAABB()
	for _, v := range fine {
		if v.Size() == 1 && v.Position().X() > -5 && v.Position().X() < 5 {
			big = big.Union(v.Bounds())
		}
	}
	assert.Equal(t, coarse[0].Bounds(), big, "children tile the parent")
	assert.Equal(t, coarse[1], fine[0], "LOD 0 passes through")

	assert.Empty(t, Refine(nil))
}

func TestAtLOD(t *testing.T) {
	in := Single(mgl32.Vec3{1, 1, 1}, 2, 3)
	out := AtLOD(in, 1)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(1), out[0].LODLevel())
	assert.Equal(t, uint32(0), in[0].LODLevel(), "input untouched")
	assert.Equal(t, in[0].Bounds(), out[0].Bounds())
	assert.Len(t, Refine(out), 8)
}
