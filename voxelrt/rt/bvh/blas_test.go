package bvh

import (
	"math/rand"
	"testing"

	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBLASSingleVoxel(t *testing.T) {
	b, err := NewBLAS("one", volume.Single(mgl32.Vec3{0, 0, 0}, 1, 3))
	require.NoError(t, err)

	assert.Equal(t, 1, b.NodeCount())
	assert.Equal(t, 2, b.Capacity())

	root := b.Nodes()[0]
	assert.True(t, root.IsLeaf)
	assert.Equal(t, uint32(0), root.FirstChildOrVoxelIndex)
	assert.Equal(t, uint8(0), root.ChildCount)
	assert.Equal(t, uint32(3), root.MaterialIdx)
	assert.Equal(t, mgl32.Vec3{-0.5, -0.5, -0.5}, root.AABB.Min)
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0.5}, root.AABB.Max)
}

func TestBLASEmpty(t *testing.T) {
	_, err := NewBLAS("none", nil)
	assert.ErrorIs(t, err, ErrNoVoxels)
}

// checkBLAS verifies node bounds, leaf uniqueness and child containment.
func checkBLAS(t *testing.T, b *BLAS) {
	t.Helper()
	n := len(b.Voxels())
	require.GreaterOrEqual(t, b.NodeCount(), 1)
	require.LessOrEqual(t, b.NodeCount(), 2*n)

	seen := make(map[uint32]bool)
	reached := 0
	stack := []uint32{0}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		node := b.Nodes()[idx]
		if node.IsLeaf {
			require.Less(t, int(node.FirstChildOrVoxelIndex), n)
			require.False(t, seen[node.FirstChildOrVoxelIndex], "voxel %d referenced twice", node.FirstChildOrVoxelIndex)
			seen[node.FirstChildOrVoxelIndex] = true
			continue
		}
		require.GreaterOrEqual(t, node.ChildCount, uint8(2))
		for c := uint32(0); c < uint32(node.ChildCount); c++ {
			child := node.FirstChildOrVoxelIndex + c
			require.Less(t, int(child), b.NodeCount())
			assert.True(t, node.AABB.ContainsAABB(b.Nodes()[child].AABB))
			stack = append(stack, child)
		}
	}
	assert.Equal(t, b.NodeCount(), reached, "every used node is reachable exactly once")
}

func TestBLASCube(t *testing.T) {
	voxels := volume.Cube(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{4, 4, 4}, 1, 0)
	require.Len(t, voxels, 64)

	b, err := NewBLAS("cube", voxels)
	require.NoError(t, err)
	checkBLAS(t, b)

	// A regular 4x4x4 grid splits into 8 octants of 8 and then into single voxels.
	assert.Equal(t, 1+8+64, b.NodeCount())
	assert.Equal(t, uint8(0xFF), b.Nodes()[0].OccupancyMask)
	assert.Equal(t, 2, b.MaxDepth())
	assert.Equal(t, 0, b.DroppedVoxels())
	assert.Equal(t, volume.Bounds(voxels), b.RootAABB())
}

func TestBLASOctantOrder(t *testing.T) {
	voxels := []volume.Voxel{
		volume.NewVoxel(mgl32.Vec3{1, 1, 1}, 1, 0, 0, volume.FullOccupancy),
		volume.NewVoxel(mgl32.Vec3{-1, -1, -1}, 1, 1, 0, volume.FullOccupancy),
		volume.NewVoxel(mgl32.Vec3{1, -1, -1}, 1, 2, 0, volume.FullOccupancy),
	}
	b, err := NewBLAS("order", voxels)
	require.NoError(t, err)
	require.Equal(t, 4, b.NodeCount())

	root := b.Nodes()[0]
	assert.Equal(t, uint8(0b10000011), root.OccupancyMask)
	assert.Equal(t, uint32(1), root.FirstChildOrVoxelIndex)
	// Children follow octant order 0, 1, 7.
	assert.Equal(t, uint32(1), b.Nodes()[1].FirstChildOrVoxelIndex)
	assert.Equal(t, uint32(2), b.Nodes()[2].FirstChildOrVoxelIndex)
	assert.Equal(t, uint32(0), b.Nodes()[3].FirstChildOrVoxelIndex)
}

func TestBLASSameOctantFallback(t *testing.T) {
	// The large voxel pulls the box centre onto both positions so plain octant bucketing
	// puts everything in one octant.
	voxels := []volume.Voxel{
		volume.NewVoxel(mgl32.Vec3{0, 0, 0}, 10, 0, 0, volume.FullOccupancy),
		volume.NewVoxel(mgl32.Vec3{1, 1, 1}, 1, 0, 0, volume.FullOccupancy),
	}
	b, err := NewBLAS("fallback", voxels)
	require.NoError(t, err)
	checkBLAS(t, b)
	assert.Equal(t, 3, b.NodeCount())
}

func TestBLASCoincidentVoxels(t *testing.T) {
	voxels := []volume.Voxel{
		volume.NewVoxel(mgl32.Vec3{2, 2, 2}, 1, 0, 0, volume.FullOccupancy),
		volume.NewVoxel(mgl32.Vec3{2, 2, 2}, 2, 1, 0, volume.FullOccupancy),
		volume.NewVoxel(mgl32.Vec3{2, 2, 2}, 3, 2, 0, volume.FullOccupancy),
	}
	b, err := NewBLAS("coincident", voxels)
	require.NoError(t, err)
	checkBLAS(t, b)
	assert.Equal(t, 0, b.DroppedVoxels())
}

func TestBLASMaxLODZero(t *testing.T) {
	voxels := volume.Cube(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2}, 1, 0)
	b, err := NewBLAS("flat", voxels, WithMaxLOD(0))
	require.NoError(t, err)

	assert.Equal(t, 1, b.NodeCount())
	assert.True(t, b.Nodes()[0].IsLeaf)
	assert.Equal(t, len(voxels)-1, b.DroppedVoxels())
}

func TestBLASRandomClouds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, count := range []int{2, 3, 17, 100, 500} {
		voxels := make([]volume.Voxel, count)
		for i := range voxels {
			pos := mgl32.Vec3{rng.Float32() * 50, rng.Float32() * 50, rng.Float32() * 50}
			voxels[i] = volume.NewVoxel(pos, 0.25+rng.Float32(), uint32(i%4), 0, volume.FullOccupancy)
		}
		b, err := NewBLAS("cloud", voxels)
		require.NoError(t, err)
		checkBLAS(t, b)
		t.Logf("%d voxels -> %d nodes, depth %d", count, b.NodeCount(), b.MaxDepth())
	}
}

func TestBLASKeepsVoxelOrder(t *testing.T) {
	voxels := volume.Sphere(mgl32.Vec3{0, 0, 0}, 3, 1, 2)
	orig := append([]volume.Voxel(nil), voxels...)
	b, err := NewBLAS("sphere", voxels)
	require.NoError(t, err)
	assert.Equal(t, orig, b.Voxels())
}
