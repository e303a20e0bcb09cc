package volume

import (
	"github.com/go-gl/mathgl/mgl32"
)

// FullOccupancy marks all 8 octants as filled.
const FullOccupancy uint8 = 0xFF

// Voxel is an immutable cubic primitive centred at Position with edge length Size.
//
// Bit i of OccupancyMask, with i = x | y<<1 | z<<2, tells whether octant i relative to
// the voxel centre is filled. It is consulted only when the voxel is refined into
// LOD children.
type Voxel struct {
	position      mgl32.Vec3
	size          float32
	materialIdx   uint32
	lodLevel      uint32
	occupancyMask uint8

	min mgl32.Vec3
	max mgl32.Vec3
}

func NewVoxel(position mgl32.Vec3, size float32, materialIdx uint32, lodLevel uint32, occupancyMask uint8) Voxel {
	h := size * 0.5
	half := mgl32.Vec3{h, h, h}
	return Voxel{
		position:      position,
		size:          size,
		materialIdx:   materialIdx,
		lodLevel:      lodLevel,
		occupancyMask: occupancyMask,
		min:           position.Sub(half),
		max:           position.Add(half),
	}
}

func (v Voxel) Position() mgl32.Vec3 {
	return v.position
}

func (v Voxel) Size() float32 {
	return v.size
}

func (v Voxel) MaterialIdx() uint32 {
	return v.materialIdx
}

func (v Voxel) LODLevel() uint32 {
	return v.lodLevel
}

func (v Voxel) OccupancyMask() uint8 {
	return v.occupancyMask
}

func (v Voxel) Min() mgl32.Vec3 {
	return v.min
}

func (v Voxel) Max() mgl32.Vec3 {
	return v.max
}

func (v Voxel) Bounds() AABB {
	return AABB{Min: v.min, Max: v.max}
}

func (v Voxel) OctantFilled(i int) bool {
	return v.occupancyMask&(1<<uint(i)) != 0
}

// Octant returns the octant index of p relative to centre c. A coordinate equal to the
// centre falls in the upper half.
func Octant(p, c mgl32.Vec3) int {
	i := 0
	if p.X() >= c.X() {
		i |= 1
	}
	if p.Y() >= c.Y() {
		i |= 2
	}
	if p.Z() >= c.Z() {
		i |= 4
	}
	return i
}

// OctantOffset is the unit direction (components ±1) from a centre to octant i.
func OctantOffset(i int) mgl32.Vec3 {
	o := mgl32.Vec3{-1, -1, -1}
	if i&1 != 0 {
		o[0] = 1
	}
	if i&2 != 0 {
		o[1] = 1
	}
	if i&4 != 0 {
		o[2] = 1
	}
	return o
}

// CreateChildren refines the voxel into up to 8 half-size children one LOD lower,
// skipping octants whose occupancy bit is clear. LOD 0 voxels are terminal.
func (v Voxel) CreateChildren() []Voxel {
	if v.lodLevel == 0 {
		return nil
	}

	childSize := v.size * 0.5
	quarter := v.size * 0.25
	children := make([]Voxel, 0, 8)
	for i := 0; i < 8; i++ {
		if !v.OctantFilled(i) {
			continue
		}
		pos := v.position.Add(OctantOffset(i).Mul(quarter))
		children = append(children, NewVoxel(pos, childSize, v.materialIdx, v.lodLevel-1, FullOccupancy))
	}
	return children
}

// Refine splits every voxel above LOD 0 through CreateChildren until only LOD 0
// voxels remain. LOD 0 input passes through unchanged.
func Refine(voxels []Voxel) []Voxel {
	out := make([]Voxel, 0, len(voxels))
	pending := voxels
	for len(pending) > 0 {
		var next []Voxel
		for _, v := range pending {
			if v.lodLevel == 0 {
				out = append(out, v)
				continue
			}
			next = append(next, v.CreateChildren()...)
		}
		pending = next
	}
	return out
}

// AtLOD returns copies of voxels tagged with lodLevel, ready for Refine.
func AtLOD(voxels []Voxel, lodLevel uint32) []Voxel {
	out := make([]Voxel, len(voxels))
	for i, v := range voxels {
		v.lodLevel = lodLevel
		out[i] = v
	}
	return out
}
