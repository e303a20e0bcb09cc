package trace

import (
	"math"

	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	infinity    = float32(math.Inf(1))
	negInfinity = float32(math.Inf(-1))
)

// Ray is parametrised as Origin + t*Direction for t in [TMin, TMax]. Direction need not
// be normalized; hit distances are in units of its length.
type Ray struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3
	TMin      float32
	TMax      float32
}

func NewRay(origin, direction mgl32.Vec3) Ray {
	return Ray{Origin: origin, Direction: direction, TMin: 0, TMax: infinity}
}

// RayTowards returns a unit-direction ray from origin through target.
func RayTowards(origin, target mgl32.Vec3) Ray {
	return NewRay(origin, target.Sub(origin).Normalize())
}

func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Transform maps the ray through the affine matrix m. The direction is not
// renormalized, so distances along the ray are preserved.
func (r Ray) Transform(m mgl32.Mat4) Ray {
	return Ray{
		Origin:    m.Mul4x1(r.Origin.Vec4(1)).Vec3(),
		Direction: m.Mul4x1(r.Direction.Vec4(0)).Vec3(),
		TMin:      r.TMin,
		TMax:      r.TMax,
	}
}

// Hit is the closest intersection found so far. Position and Normal are in world space.
type Hit struct {
	T             float32
	Position      mgl32.Vec3
	Normal        mgl32.Vec3
	MaterialIdx   uint32
	InstanceIndex uint32
	VoxelIndex    uint32
	Hit           bool
}

// Miss is the initial hit record: no hit at infinite distance.
func Miss() Hit {
	return Hit{T: infinity}
}

// slab intersects r with b and returns the entry and exit distances. ok is false when
// the overlap of the ray interval with [TMin, min(TMax, limit)] is empty.
func slab(b volume.AABB, r Ray, limit float32) (tNear, tFar float32, ok bool) {
	tNear, tFar = negInfinity, infinity
	for i := 0; i < 3; i++ {
		o, d := r.Origin[i], r.Direction[i]
		if d == 0 {
			if o < b.Min[i] || o > b.Max[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / d
		t1 := (b.Min[i] - o) * inv
		t2 := (b.Max[i] - o) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tNear = max(tNear, t1)
		tFar = min(tFar, t2)
	}
	hi := min(r.TMax, limit)
	if tNear > tFar || tFar < r.TMin || tNear >= hi {
		return tNear, tFar, false
	}
	return tNear, tFar, true
}

// voxelNormal picks the face of v closest to p: the axis with the largest component of
// p relative to the voxel centre. Voxels are cubes so no per-axis scaling is needed.
func voxelNormal(v volume.Voxel, p mgl32.Vec3) mgl32.Vec3 {
	rel := p.Sub(v.Position())
	axis := 0
	best := float32(-1)
	for i := 0; i < 3; i++ {
		a := float32(math.Abs(float64(rel[i])))
		if a > best {
			best, axis = a, i
		}
	}
	var n mgl32.Vec3
	if rel[axis] < 0 {
		n[axis] = -1
	} else {
		n[axis] = 1
	}
	return n
}
