package bvh

import (
	"errors"
	"time"

	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrNoVoxels is returned when a BLAS is requested for an empty voxel list.
var ErrNoVoxels = errors.New("bvh: BLAS needs at least one voxel")

// BLASNode is an object-space octree node.
//
// Leaves reference one voxel slot through FirstChildOrVoxelIndex and have ChildCount 0.
// Internal nodes reference ChildCount contiguous children starting at FirstChildOrVoxelIndex.
type BLASNode struct {
	AABB                   volume.AABB
	IsLeaf                 bool
	FirstChildOrVoxelIndex uint32
	ChildCount             uint8
	MaterialIdx            uint32
	OccupancyMask          uint8
	LODLevel               uint32
}

// BLAS is the octree over one object's voxels. Node 0 is the root.
type BLAS struct {
	ID string

	voxels    []volume.Voxel
	nodes     []BLASNode
	nodeCount int
	dropped   int
	maxDepth  int
}

type octreeTask struct {
	node  int
	items []uint32
	lod   uint32
	depth int
}

// NewBLAS builds the octree over voxels. The voxel slice is kept as given; leaf indices
// refer to it directly.
func NewBLAS(id string, voxels []volume.Voxel, opts ...Option) (*BLAS, error) {
	if len(voxels) == 0 {
		return nil, ErrNoVoxels
	}
	cfg := newBuildConfig(opts)

	b := &BLAS{
		ID:     id,
		voxels: voxels,
		nodes:  make([]BLASNode, 2*len(voxels)),
	}

	start := time.Now()
	b.build(cfg)
	if b.dropped > 0 {
		cfg.logger.Warnf("BLAS %q: %d voxels share a leaf at LOD 0 and are not addressable", id, b.dropped)
	}
	cfg.logger.Debugf("BLAS %q build: %d voxels, %d/%d nodes, depth %d, %s",
		id, len(voxels), b.nodeCount, len(b.nodes), b.maxDepth, time.Since(start))
	return b, nil
}

func (b *BLAS) build(cfg buildConfig) {
	all := make([]uint32, len(b.voxels))
	for i := range all {
		all[i] = uint32(i)
	}

	b.nodeCount = 1
	stack := []octreeTask{{node: 0, items: all, lod: cfg.maxLOD}}

	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if task.depth > b.maxDepth {
			b.maxDepth = task.depth
		}

		node := &b.nodes[task.node]
		node.AABB = b.boundsOf(task.items)

		if len(task.items) == 1 || task.lod == 0 {
			b.dropped += len(task.items) - 1
			b.makeLeaf(node, task.items[0])
			continue
		}

		buckets, mask := b.subdivide(task.items, node.AABB.Center())
		childCount := 0
		for i := range buckets {
			if len(buckets[i]) > 0 {
				childCount++
			}
		}
		if childCount == 0 || b.nodeCount+childCount > len(b.nodes) {
			cfg.logger.Warnf("BLAS %q: node %d could not be subdivided, using first voxel", b.ID, task.node)
			b.makeLeaf(node, task.items[0])
			continue
		}

		first := b.nodeCount
		b.nodeCount += childCount

		node.IsLeaf = false
		node.FirstChildOrVoxelIndex = uint32(first)
		node.ChildCount = uint8(childCount)
		node.MaterialIdx = b.voxels[task.items[0]].MaterialIdx()
		node.OccupancyMask = mask
		node.LODLevel = task.lod

		// Children are pushed in reverse so they are expanded in octant order.
		child := first + childCount - 1
		for i := len(buckets) - 1; i >= 0; i-- {
			if len(buckets[i]) == 0 {
				continue
			}
			stack = append(stack, octreeTask{
				node:  child,
				items: buckets[i],
				lod:   task.lod - 1,
				depth: task.depth + 1,
			})
			child--
		}
	}
}

// subdivide buckets items into octants around center. When every item lands in the
// same octant the split is retried around the centre of the item positions, and as a
// last resort the list is halved, so an internal node always has at least two children.
func (b *BLAS) subdivide(items []uint32, center mgl32.Vec3) ([8][]uint32, uint8) {
	buckets := b.bucket(items, center)
	if nonEmpty(buckets) > 1 {
		return buckets, occupancy(buckets)
	}

	posBounds := volume.EmptyAABB()
	for _, idx := range items {
		posBounds.ExpandByPoint(b.voxels[idx].Position())
	}
	buckets = b.bucket(items, posBounds.Center())
	if nonEmpty(buckets) > 1 {
		return buckets, occupancy(buckets)
	}

	var halves [8][]uint32
	mid := len(items) / 2
	halves[0] = items[:mid]
	halves[1] = items[mid:]
	return halves, occupancy(halves)
}

func (b *BLAS) bucket(items []uint32, center mgl32.Vec3) [8][]uint32 {
	var buckets [8][]uint32
	for _, idx := range items {
		o := volume.Octant(b.voxels[idx].Position(), center)
		buckets[o] = append(buckets[o], idx)
	}
	return buckets
}

func nonEmpty(buckets [8][]uint32) int {
	n := 0
	for i := range buckets {
		if len(buckets[i]) > 0 {
			n++
		}
	}
	return n
}

func occupancy(buckets [8][]uint32) uint8 {
	var mask uint8
	for i := range buckets {
		if len(buckets[i]) > 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func (b *BLAS) makeLeaf(node *BLASNode, voxelIdx uint32) {
	v := b.voxels[voxelIdx]
	node.AABB = v.Bounds()
	node.IsLeaf = true
	node.FirstChildOrVoxelIndex = voxelIdx
	node.ChildCount = 0
	node.MaterialIdx = v.MaterialIdx()
	node.OccupancyMask = v.OccupancyMask()
	node.LODLevel = v.LODLevel()
}

func (b *BLAS) boundsOf(items []uint32) volume.AABB {
	box := volume.EmptyAABB()
	for _, idx := range items {
		box.ExpandByAABB(b.voxels[idx].Bounds())
	}
	return box
}

// Nodes returns the used node range [0, NodeCount).
func (b *BLAS) Nodes() []BLASNode {
	return b.nodes[:b.nodeCount]
}

// AllocatedNodes returns the full node array including unused capacity.
func (b *BLAS) AllocatedNodes() []BLASNode {
	return b.nodes
}

func (b *BLAS) NodeCount() int {
	return b.nodeCount
}

// Capacity is the allocated node count, 2 per voxel.
func (b *BLAS) Capacity() int {
	return len(b.nodes)
}

func (b *BLAS) Voxels() []volume.Voxel {
	return b.voxels
}

func (b *BLAS) RootAABB() volume.AABB {
	return b.nodes[0].AABB
}

// DroppedVoxels counts voxels that ended up sharing a LOD 0 leaf with another voxel.
func (b *BLAS) DroppedVoxels() int {
	return b.dropped
}

// MaxDepth is the depth of the deepest node, the root being depth 0.
func (b *BLAS) MaxDepth() int {
	return b.maxDepth
}
