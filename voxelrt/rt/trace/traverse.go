package trace

import (
	"errors"

	"github.com/gekko3d/voxtrace/voxelrt/rt/bvh"
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"
)

// DefaultStackSize is the initial capacity of both traversal stacks. The stacks grow
// past it, so tree depth is not limited by it.
const DefaultStackSize = 32

var (
	ErrNoTLAS    = errors.New("trace: scene has no TLAS, call BuildTLAS first")
	ErrStaleTLAS = errors.New("trace: instances changed since the last BuildTLAS")
)

// Buffers is the flattened, read-only scene: the same arrays handed to the GPU.
// BLAS node indices are absolute into BLASNodes and Voxels.
type Buffers struct {
	TLASNodes []bvh.TLASNode
	BLASNodes []bvh.BLASNode
	Voxels    []volume.Voxel
	Instances []core.BLASInstance
	Materials []core.Material
}

// FromScene flattens s. The TLAS must be built and current.
func FromScene(s *core.VoxelScene) (*Buffers, error) {
	if s.TLAS() == nil {
		return nil, ErrNoTLAS
	}
	if s.TLASStale() {
		return nil, ErrStaleTLAS
	}
	return &Buffers{
		TLASNodes: s.FlattenedTLASNodes(),
		BLASNodes: s.FlattenedBlasNodes(),
		Voxels:    s.FlattenedVoxels(),
		Instances: s.Instances(),
		Materials: s.Materials(),
	}, nil
}

// Intersect traces r with a fresh Traverser. Safe for concurrent use.
func (b *Buffers) Intersect(r Ray) Hit {
	return NewTraverser(b).Intersect(r)
}

// Material returns the material at idx, or the default material when idx is out of range.
func (b *Buffers) Material(idx uint32) core.Material {
	if int(idx) < len(b.Materials) {
		return b.Materials[idx]
	}
	return core.DefaultMaterial()
}

type VisitKind int

const (
	VisitTLAS VisitKind = iota
	VisitBLAS
)

// Visit is reported for every node whose box the ray enters, after the node is handled.
type Visit struct {
	Kind  VisitKind
	Index uint32
	Best  Hit
}

type Stats struct {
	TLASNodes  int
	BLASNodes  int
	VoxelTests int
}

// Traverser runs the two-level search. It reuses its stacks between calls and is not
// safe for concurrent use; give each goroutine its own.
type Traverser struct {
	buf       *Buffers
	tlasStack []uint32
	blasStack []uint32

	OnVisit func(Visit)
	Stats   Stats
}

func NewTraverser(buf *Buffers) *Traverser {
	return &Traverser{
		buf:       buf,
		tlasStack: make([]uint32, 0, DefaultStackSize),
		blasStack: make([]uint32, 0, DefaultStackSize),
	}
}

func (t *Traverser) empty() bool {
	nodes := t.buf.TLASNodes
	return len(nodes) == 0 || (nodes[0].IsLeaf() && nodes[0].BLASInstanceIndex == bvh.InvalidIndex)
}

// Intersect returns the closest hit along r, or Miss().
func (t *Traverser) Intersect(r Ray) Hit {
	best := Miss()
	if t.empty() {
		return best
	}
	nodes := t.buf.TLASNodes

	stack := append(t.tlasStack[:0], 0)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.Stats.TLASNodes++

		node := nodes[idx]
		if _, _, ok := slab(node.AABB, r, best.T); !ok {
			continue
		}

		if node.IsLeaf() {
			inst := t.buf.Instances[node.BLASInstanceIndex]
			t.intersectBLAS(node.BLASInstanceIndex, inst, r, &best)
		} else {
			stack = t.pushNearerLast(stack, node, r, best.T)
		}
		t.visit(VisitTLAS, idx, best)
	}
	t.tlasStack = stack
	return best
}

// pushNearerLast pushes the children the ray enters, farther first so the nearer one is
// popped first.
func (t *Traverser) pushNearerLast(stack []uint32, node bvh.TLASNode, r Ray, limit float32) []uint32 {
	nodes := t.buf.TLASNodes
	tl, _, okL := slab(nodes[node.Left].AABB, r, limit)
	tr, _, okR := slab(nodes[node.Right].AABB, r, limit)
	switch {
	case okL && okR:
		if tl <= tr {
			return append(stack, node.Right, node.Left)
		}
		return append(stack, node.Left, node.Right)
	case okL:
		return append(stack, node.Left)
	case okR:
		return append(stack, node.Right)
	}
	return stack
}

func (t *Traverser) intersectBLAS(instIdx uint32, inst core.BLASInstance, world Ray, best *Hit) {
	local := world.Transform(inst.TransformInverse)
	nodes := t.buf.BLASNodes

	stack := append(t.blasStack[:0], inst.BLASOffset)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.Stats.BLASNodes++

		node := nodes[idx]
		tNear, _, ok := slab(node.AABB, local, best.T)
		if !ok {
			continue
		}

		if node.IsLeaf {
			t.Stats.VoxelTests++
			if tNear >= local.TMin && tNear < best.T {
				voxel := t.buf.Voxels[node.FirstChildOrVoxelIndex]
				n := voxelNormal(voxel, local.At(tNear))
				*best = Hit{
					T:             tNear,
					Position:      inst.Transform.Mul4x1(local.At(tNear).Vec4(1)).Vec3(),
					Normal:        inst.TransformInverse.Transpose().Mul4x1(n.Vec4(0)).Vec3().Normalize(),
					MaterialIdx:   inst.ResolveMaterial(voxel.MaterialIdx()),
					InstanceIndex: instIdx,
					VoxelIndex:    node.FirstChildOrVoxelIndex,
					Hit:           true,
				}
			}
		} else {
			// Reverse push keeps octant order on pop.
			for c := int(node.ChildCount) - 1; c >= 0; c-- {
				stack = append(stack, node.FirstChildOrVoxelIndex+uint32(c))
			}
		}
		t.visit(VisitBLAS, idx, *best)
	}
	t.blasStack = stack
}

func (t *Traverser) visit(kind VisitKind, idx uint32, best Hit) {
	if t.OnVisit != nil {
		t.OnVisit(Visit{Kind: kind, Index: idx, Best: best})
	}
}

// Occluded reports whether anything blocks r within [TMin, TMax).
func (t *Traverser) Occluded(r Ray) bool {
	h := t.Intersect(r)
	return h.Hit && h.T < r.TMax
}
