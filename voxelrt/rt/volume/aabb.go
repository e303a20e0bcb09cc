package volume

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	inf    = float32(math.Inf(1))
	negInf = float32(math.Inf(-1))
)

// AABB is an axis-aligned box. The zero value is the degenerate point box at the
// origin; use EmptyAABB for a box that absorbs the first expansion.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns the [+inf]/[-inf] sentinel box.
func EmptyAABB() AABB {
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{negInf, negInf, negInf},
	}
}

func NewAABB(minB, maxB mgl32.Vec3) AABB {
	return AABB{Min: minB, Max: maxB}
}

// IsEmpty reports whether the box encloses nothing on at least one axis.
func (b AABB) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b *AABB) ExpandByPoint(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
}

func (b *AABB) ExpandByAABB(o AABB) {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], o.Min[i])
		b.Max[i] = max(b.Max[i], o.Max[i])
	}
}

// Union returns the smallest box enclosing both a and o.
func (b AABB) Union(o AABB) AABB {
	b.ExpandByAABB(o)
	return b
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// SurfaceArea is 2(wh+hd+dw). Empty boxes report 0.
func (b AABB) SurfaceArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	d := b.Size()
	return 2 * (d.X()*d.Y() + d.Y()*d.Z() + d.Z()*d.X())
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b AABB) ContainsPoint(p mgl32.Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}

// ContainsAABB reports whether o lies entirely inside b. An empty o is contained by anything.
func (b AABB) ContainsAABB(o AABB) bool {
	if o.IsEmpty() {
		return true
	}
	return o.Min.X() >= b.Min.X() && o.Max.X() <= b.Max.X() &&
		o.Min.Y() >= b.Min.Y() && o.Max.Y() <= b.Max.Y() &&
		o.Min.Z() >= b.Min.Z() && o.Max.Z() <= b.Max.Z()
}

// IntersectsAABB is a separating-axis test; touching faces count as intersecting.
func (b AABB) IntersectsAABB(o AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || b.Min[i] > o.Max[i] {
			return false
		}
	}
	return true
}

// ApplyMatrix transforms all 8 corners by m and returns the box enclosing them.
// The result is conservative under rotation.
func (b AABB) ApplyMatrix(m mgl32.Mat4) AABB {
	if b.IsEmpty() {
		return EmptyAABB()
	}
	corners := [8]mgl32.Vec3{
		{b.Min.X(), b.Min.Y(), b.Min.Z()},
		{b.Max.X(), b.Min.Y(), b.Min.Z()},
		{b.Min.X(), b.Max.Y(), b.Min.Z()},
		{b.Max.X(), b.Max.Y(), b.Min.Z()},
		{b.Min.X(), b.Min.Y(), b.Max.Z()},
		{b.Max.X(), b.Min.Y(), b.Max.Z()},
		{b.Min.X(), b.Max.Y(), b.Max.Z()},
		{b.Max.X(), b.Max.Y(), b.Max.Z()},
	}

	out := EmptyAABB()
	for _, c := range corners {
		out.ExpandByPoint(m.Mul4x1(c.Vec4(1.0)).Vec3())
	}
	return out
}
