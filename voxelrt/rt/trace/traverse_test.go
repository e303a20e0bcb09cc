package trace

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildScene(t *testing.T, setup func(s *core.VoxelScene)) *Buffers {
	t.Helper()
	s := core.NewVoxelScene()
	setup(s)
	s.BuildTLAS()
	buf, err := FromScene(s)
	require.NoError(t, err)
	return buf
}

func TestSingleVoxelHit(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("v", volume.Single(mgl32.Vec3{0, 0, 0}, 2, 5))
		require.NoError(t, err)
		_, err = s.AddInstance("v", mgl32.Ident4(), core.MaterialInherit)
		require.NoError(t, err)
	})

	hit := buf.Intersect(RayTowards(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 0, -10}))
	require.True(t, hit.Hit)
	assert.InDelta(t, 9, hit.T, 1e-5)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, hit.Normal)
	assert.InDelta(t, 1, hit.Position.Z(), 1e-5)
	assert.Equal(t, uint32(5), hit.MaterialIdx)
}

func TestMissReturnsNoHit(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("v", volume.Single(mgl32.Vec3{0, 0, 0}, 2, 0))
		require.NoError(t, err)
		_, err = s.AddInstance("v", mgl32.Ident4(), core.MaterialInherit)
		require.NoError(t, err)
	})

	for _, r := range []Ray{
		RayTowards(mgl32.Vec3{5, 5, 10}, mgl32.Vec3{5, 5, -10}),
		RayTowards(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 0, 20}),
		NewRay(mgl32.Vec3{0, 3, 0}, mgl32.Vec3{1, 0, 0}),
	} {
		hit := buf.Intersect(r)
		assert.False(t, hit.Hit)
		assert.True(t, hit.T > 1e30)
	}
}

func TestEmptyScene(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {})
	assert.False(t, buf.Intersect(NewRay(mgl32.Vec3{}, mgl32.Vec3{0, 0, 1})).Hit)
}

func TestFromSceneRequiresCurrentTLAS(t *testing.T) {
	s := core.NewVoxelScene()
	_, err := FromScene(s)
	assert.ErrorIs(t, err, ErrNoTLAS)

	_, err = s.CreateBLAS("v", volume.Single(mgl32.Vec3{}, 1, 0))
	require.NoError(t, err)
	s.BuildTLAS()
	_, err = s.AddInstance("v", mgl32.Ident4(), 0)
	require.NoError(t, err)
	_, err = FromScene(s)
	assert.ErrorIs(t, err, ErrStaleTLAS)
}

func TestClosestInstanceWins(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("cube", volume.Cube(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}, 0.5, 0))
		require.NoError(t, err)
		for _, x := range []float32{-5, 5, 15} {
			_, err = s.AddInstance("cube", mgl32.Translate3D(x, 0, 0), uint32(x+100))
			require.NoError(t, err)
		}
	})

	hit := buf.Intersect(NewRay(mgl32.Vec3{-20, 0.1, 0.1}, mgl32.Vec3{1, 0, 0}))
	require.True(t, hit.Hit)
	assert.InDelta(t, 14, hit.T, 1e-5)
	assert.Equal(t, mgl32.Vec3{-1, 0, 0}, hit.Normal)
	assert.Equal(t, uint32(95), hit.MaterialIdx)
	assert.Equal(t, uint32(0), hit.InstanceIndex)

	hit = buf.Intersect(NewRay(mgl32.Vec3{30, 0.1, 0.1}, mgl32.Vec3{-1, 0, 0}))
	require.True(t, hit.Hit)
	assert.InDelta(t, 14, hit.T, 1e-5)
	assert.Equal(t, uint32(115), hit.MaterialIdx)
}

func TestTransformedInstance(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("v", volume.Single(mgl32.Vec3{0, 0, 0}, 1, 0))
		require.NoError(t, err)
		tr := core.NewTransformEuler(mgl32.Vec3{0, 0, -10}, mgl32.Vec3{0, 90, 0}, mgl32.Vec3{4, 4, 4})
		_, err = s.AddInstance("v", tr.ObjectToWorld(), core.MaterialInherit)
		require.NoError(t, err)
	})

	hit := buf.Intersect(NewRay(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 0, -1}))
	require.True(t, hit.Hit)
	// Scaled voxel spans z in [-12, -8].
	assert.InDelta(t, 18, hit.T, 1e-4)
	assert.InDelta(t, -8, hit.Position.Z(), 1e-4)
	assert.InDelta(t, 1, hit.Normal.Z(), 1e-4)
	assert.InDelta(t, 1, hit.Normal.Len(), 1e-5)
}

func TestHitDistanceIsMonotonic(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("sphere", volume.Sphere(mgl32.Vec3{0, 0, 0}, 3, 0.5, 0))
		require.NoError(t, err)
		for i := 0; i < 6; i++ {
			_, err = s.AddInstance("sphere", mgl32.Translate3D(0, 0, float32(-8*i)), core.MaterialInherit)
			require.NoError(t, err)
		}
	})

	tr := NewTraverser(buf)
	last := infinity
	visits := 0
	tr.OnVisit = func(v Visit) {
		visits++
		assert.LessOrEqual(t, v.Best.T, last)
		last = v.Best.T
	}
	hit := tr.Intersect(NewRay(mgl32.Vec3{0.1, 0.2, 50}, mgl32.Vec3{0, 0, -1}))
	require.True(t, hit.Hit)
	assert.Greater(t, visits, 0)
	assert.LessOrEqual(t, visits, tr.Stats.TLASNodes+tr.Stats.BLASNodes)
	t.Logf("stats %+v", tr.Stats)
}

// bruteForce intersects every voxel of every instance directly.
func bruteForce(buf *Buffers, r Ray) Hit {
	best := Miss()
	for _, inst := range buf.Instances {
		local := r.Transform(inst.TransformInverse)
		for _, vi := range leafVoxels(buf, inst.BLASOffset) {
			tNear, _, ok := slab(buf.Voxels[vi].Bounds(), local, best.T)
			if ok && tNear >= local.TMin && tNear < best.T {
				best = Hit{T: tNear, Hit: true}
			}
		}
	}
	return best
}

// leafVoxels lists the voxel indices referenced by the BLAS rooted at offset.
func leafVoxels(buf *Buffers, offset uint32) []uint32 {
	var out []uint32
	stack := []uint32{offset}
	for len(stack) > 0 {
		n := buf.BLASNodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if n.IsLeaf {
			out = append(out, n.FirstChildOrVoxelIndex)
			continue
		}
		for c := uint32(0); c < uint32(n.ChildCount); c++ {
			stack = append(stack, n.FirstChildOrVoxelIndex+c)
		}
	}
	return out
}

func TestMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("sphere", volume.Sphere(mgl32.Vec3{0, 0, 0}, 2, 0.5, 0))
		require.NoError(t, err)
		_, err = s.CreateBLAS("slab", volume.Cube(mgl32.Vec3{-3, -3, 0}, mgl32.Vec3{3, 3, 0.5}, 0.5, 1))
		require.NoError(t, err)
		for i := 0; i < 12; i++ {
			id := "sphere"
			if i%3 == 0 {
				id = "slab"
			}
			tr := core.NewTransformEuler(
				mgl32.Vec3{rng.Float32()*30 - 15, rng.Float32()*30 - 15, rng.Float32()*30 - 15},
				mgl32.Vec3{rng.Float32() * 360, rng.Float32() * 360, rng.Float32() * 360},
				mgl32.Vec3{1, 1, 1},
			)
			_, err = s.AddInstance(id, tr.ObjectToWorld(), core.MaterialInherit)
			require.NoError(t, err)
		}
	})

	hits := 0
	for i := 0; i < 300; i++ {
		origin := mgl32.Vec3{rng.Float32()*60 - 30, rng.Float32()*60 - 30, 40}
		target := mgl32.Vec3{rng.Float32()*30 - 15, rng.Float32()*30 - 15, rng.Float32()*30 - 15}
		r := RayTowards(origin, target)

		got := buf.Intersect(r)
		want := bruteForce(buf, r)
		require.Equal(t, want.Hit, got.Hit, "ray %d", i)
		if want.Hit {
			hits++
			assert.InDelta(t, want.T, got.T, 1e-3, "ray %d", i)
		}
	}
	t.Logf("%d/300 rays hit", hits)
	assert.Greater(t, hits, 0)
}

func TestDeepTreeGrowsStack(t *testing.T) {
	// A 32^3 grid is a 5 level octree; descending it keeps up to 7*5+1 nodes pending.
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("grid", volume.Cube(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{32, 32, 32}, 1, 0))
		require.NoError(t, err)
		_, err = s.AddInstance("grid", mgl32.Ident4(), core.MaterialInherit)
		require.NoError(t, err)
	})

	r := RayTowards(mgl32.Vec3{-10, -9, -8}, mgl32.Vec3{16.2, 16.1, 16.3})
	tr := NewTraverser(buf)
	hit := tr.Intersect(r)
	require.True(t, hit.Hit)
	assert.Equal(t, bruteForce(buf, r).T, hit.T)
	assert.Greater(t, cap(tr.blasStack), DefaultStackSize)
}

func TestConcurrentIntersect(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("sphere", volume.Sphere(mgl32.Vec3{0, 0, 0}, 3, 0.5, 0))
		require.NoError(t, err)
		_, err = s.AddInstance("sphere", mgl32.Ident4(), core.MaterialInherit)
		require.NoError(t, err)
	})
	want := buf.Intersect(NewRay(mgl32.Vec3{0.1, 0.1, 20}, mgl32.Vec3{0, 0, -1}))
	require.True(t, want.Hit)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := NewTraverser(buf)
			for i := 0; i < 50; i++ {
				got := tr.Intersect(NewRay(mgl32.Vec3{0.1, 0.1, 20}, mgl32.Vec3{0, 0, -1}))
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}

func TestOccluded(t *testing.T) {
	buf := buildScene(t, func(s *core.VoxelScene) {
		_, err := s.CreateBLAS("v", volume.Single(mgl32.Vec3{0, 0, 0}, 2, 0))
		require.NoError(t, err)
		_, err = s.AddInstance("v", mgl32.Ident4(), core.MaterialInherit)
		require.NoError(t, err)
	})
	tr := NewTraverser(buf)

	r := NewRay(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 0, -1})
	assert.True(t, tr.Occluded(r))
	r.TMax = 5
	assert.False(t, tr.Occluded(r))
}
