package bvh

import (
	"math"
	"sort"
	"time"

	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
)

// InvalidIndex marks the instance slot of internal TLAS nodes.
const InvalidIndex = ^uint32(0)

// Axes whose centroid spread is below this are not evaluated as split candidates.
const minCentroidExtent float32 = 1e-6

// TLASNode is a scene-level BVH node. A node is a leaf iff Left and Right are both 0;
// index 0 is always the root, so no node can have it as a child.
type TLASNode struct {
	AABB              volume.AABB
	Left              uint32
	Right             uint32
	BLASInstanceIndex uint32
}

func (n TLASNode) IsLeaf() bool {
	return n.Left == 0 && n.Right == 0
}

// Placement is what the TLAS needs to know about one instance.
type Placement struct {
	LocalBounds volume.AABB
	Transform   mgl32.Mat4
}

// TLAS is a binary SAH BVH over instances. The root is at index 0.
type TLAS struct {
	nodes     []TLASNode
	nodeCount int
	cursor    int
}

// NewTLAS builds the hierarchy over placements; leaf i refers to placements[i].
func NewTLAS(placements []Placement, opts ...Option) *TLAS {
	cfg := newBuildConfig(opts)
	n := len(placements)

	t := &TLAS{
		nodes:  make([]TLASNode, max(1, 2*n)),
		cursor: 1,
	}
	if n == 0 {
		t.nodes[0] = TLASNode{AABB: volume.EmptyAABB(), BLASInstanceIndex: InvalidIndex}
		return t
	}

	start := time.Now()
	work := make([]uint32, 0, n)
	for i, p := range placements {
		idx := t.alloc()
		t.nodes[idx] = TLASNode{
			AABB:              p.LocalBounds.ApplyMatrix(p.Transform),
			BLASInstanceIndex: uint32(i),
		}
		work = append(work, idx)
	}

	root := t.buildHierarchy(work)
	t.nodes[0] = t.nodes[root]
	// The root is the last node allocated, so its original slot falls outside [0, nodeCount).
	t.nodeCount = t.cursor - 1

	cfg.logger.Debugf("TLAS build: %d instances, %d nodes, depth %d, %s",
		n, t.nodeCount, t.MaxDepth(), time.Since(start))
	return t
}

func (t *TLAS) alloc() uint32 {
	idx := uint32(t.cursor)
	t.cursor++
	return idx
}

type hierarchyFrame struct {
	items    []uint32
	right    []uint32
	leftRoot uint32
	stage    int
}

// buildHierarchy is the iterative form of the recursive top-down build: split, build
// left, build right, then allocate the parent. Allocation order is post-order.
func (t *TLAS) buildHierarchy(items []uint32) uint32 {
	stack := []*hierarchyFrame{{items: items}}
	var result uint32

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		switch f.stage {
		case 0:
			if len(f.items) == 1 {
				result = f.items[0]
				stack = stack[:len(stack)-1]
				continue
			}
			left, right := t.partition(f.items)
			f.right = right
			f.stage = 1
			stack = append(stack, &hierarchyFrame{items: left})
		case 1:
			f.leftRoot = result
			f.stage = 2
			stack = append(stack, &hierarchyFrame{items: f.right})
		case 2:
			idx := t.alloc()
			t.nodes[idx] = TLASNode{
				AABB:              t.nodes[f.leftRoot].AABB.Union(t.nodes[result].AABB),
				Left:              f.leftRoot,
				Right:             result,
				BLASInstanceIndex: InvalidIndex,
			}
			result = idx
			stack = stack[:len(stack)-1]
		}
	}
	return result
}

func (t *TLAS) partition(items []uint32) ([]uint32, []uint32) {
	axis, split, _ := t.findBestSplit(items)
	if axis == -1 {
		mid := len(items) / 2
		return clone(items[:mid]), clone(items[mid:])
	}
	sorted := t.sortedByAxis(items, axis)
	return sorted[:split], sorted[split:]
}

// findBestSplit evaluates every split position on every axis with
// cost = SA(left)*|left| + SA(right)*|right| and returns the cheapest one. axis is -1
// when no axis has a usable centroid spread.
func (t *TLAS) findBestSplit(items []uint32) (axis int, split int, cost float32) {
	n := len(items)
	axis, split, cost = -1, 0, float32(math.Inf(1))
	if n < 2 {
		return
	}

	lo, hi := t.centroidRange(items)
	leftArea := make([]float32, n)
	for a := 0; a < 3; a++ {
		if hi[a]-lo[a] < minCentroidExtent {
			continue
		}
		sorted := t.sortedByAxis(items, a)

		box := volume.EmptyAABB()
		for i := 1; i < n; i++ {
			box.ExpandByAABB(t.nodes[sorted[i-1]].AABB)
			leftArea[i] = box.SurfaceArea()
		}

		box = volume.EmptyAABB()
		for i := n - 1; i >= 1; i-- {
			box.ExpandByAABB(t.nodes[sorted[i]].AABB)
			c := leftArea[i]*float32(i) + box.SurfaceArea()*float32(n-i)
			if c < cost {
				axis, split, cost = a, i, c
			}
		}
	}
	return
}

func (t *TLAS) centroidRange(items []uint32) (lo, hi mgl32.Vec3) {
	r := volume.EmptyAABB()
	for _, idx := range items {
		r.ExpandByPoint(t.nodes[idx].AABB.Center())
	}
	return r.Min, r.Max
}

func (t *TLAS) sortedByAxis(items []uint32, axis int) []uint32 {
	sorted := clone(items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return t.nodes[sorted[i]].AABB.Center()[axis] < t.nodes[sorted[j]].AABB.Center()[axis]
	})
	return sorted
}

func clone(s []uint32) []uint32 {
	return append([]uint32(nil), s...)
}

// Nodes returns the used node range [0, NodeCount). It is empty for a TLAS over no
// instances.
func (t *TLAS) Nodes() []TLASNode {
	return t.nodes[:t.nodeCount]
}

// AllocatedNodes returns all max(1, 2n) slots.
func (t *TLAS) AllocatedNodes() []TLASNode {
	return t.nodes
}

func (t *TLAS) NodeCount() int {
	return t.nodeCount
}

func (t *TLAS) Root() TLASNode {
	return t.nodes[0]
}

// MaxDepth walks the tree from the root; a single leaf has depth 0.
func (t *TLAS) MaxDepth() int {
	if t.nodeCount == 0 {
		return 0
	}
	type entry struct {
		idx   uint32
		depth int
	}
	deepest := 0
	stack := []entry{{0, 0}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deepest = max(deepest, e.depth)
		n := t.nodes[e.idx]
		if !n.IsLeaf() {
			stack = append(stack, entry{n.Left, e.depth + 1}, entry{n.Right, e.depth + 1})
		}
	}
	return deepest
}
