package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	voxtrace "github.com/gekko3d/voxtrace"
	"github.com/gekko3d/voxtrace/voxelrt/rt/bvh"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownBLAS   = errors.New("core: unknown BLAS")
	ErrDuplicateBLAS = errors.New("core: BLAS id already registered")
	ErrNoInstance    = errors.New("core: instance index out of range")
)

// MaterialInherit as an instance material means "use the voxel's own material".
const MaterialInherit = ^uint32(0)

// BLASInstance places a BLAS in the scene. BLASOffset is the index of the BLAS root in
// the flattened node array.
type BLASInstance struct {
	Transform        mgl32.Mat4
	TransformInverse mgl32.Mat4
	BLASOffset       uint32
	MaterialIdx      uint32
}

// NewBLASInstance stores transform together with its inverse.
func NewBLASInstance(transform mgl32.Mat4, blasOffset, materialIdx uint32, logger voxtrace.Logger) BLASInstance {
	return BLASInstance{
		Transform:        transform,
		TransformInverse: InvertMatrix(transform, logger),
		BLASOffset:       blasOffset,
		MaterialIdx:      materialIdx,
	}
}

// ResolveMaterial applies the instance override to a voxel material.
func (i BLASInstance) ResolveMaterial(voxelMaterial uint32) uint32 {
	if i.MaterialIdx == MaterialInherit {
		return voxelMaterial
	}
	return i.MaterialIdx
}

// BLASSpec describes one object for CreateBLASBatch.
type BLASSpec struct {
	ID     string
	Voxels []volume.Voxel
}

// SceneStats summarises the built structures.
type SceneStats struct {
	BLASCount        int
	VoxelCount       int
	BLASNodesUsed    int
	BLASNodeCapacity int
	MaxBLASDepth     int
	DroppedVoxels    int
	InstanceCount    int
	MaterialCount    int
	TLASNodeCount    int
	TLASDepth        int
}

// VoxelScene owns every BLAS, the instance list and the material table.
//
// BLAS objects live in a dense arena. Each one is assigned a node offset equal to the
// running total of allocated node capacity of the BLAS objects registered before it;
// the flattened node buffer is laid out the same way.
type VoxelScene struct {
	logger  voxtrace.Logger
	workers int
	bvhOpts []bvh.Option

	blas       []*bvh.BLAS
	offsets    []uint32
	voxelBases []uint32
	byID       map[string]int
	byOffset   map[uint32]int
	nextOffset uint32
	nextVoxel  uint32

	instances []BLASInstance
	materials []Material

	tlas      *bvh.TLAS
	tlasStale bool
}

type SceneOption func(*VoxelScene)

func WithSceneLogger(l voxtrace.Logger) SceneOption {
	return func(s *VoxelScene) {
		s.logger = l
	}
}

// WithWorkers bounds the number of concurrent builds in CreateBLASBatch.
func WithWorkers(n int) SceneOption {
	return func(s *VoxelScene) {
		s.workers = n
	}
}

// WithBVHOptions forwards options to every BLAS and TLAS build.
func WithBVHOptions(opts ...bvh.Option) SceneOption {
	return func(s *VoxelScene) {
		s.bvhOpts = append(s.bvhOpts, opts...)
	}
}

func NewVoxelScene(opts ...SceneOption) *VoxelScene {
	s := &VoxelScene{
		workers:  runtime.GOMAXPROCS(0),
		byID:     make(map[string]int),
		byOffset: make(map[uint32]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = voxtrace.OrNop(s.logger)
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

func (s *VoxelScene) buildOptions() []bvh.Option {
	return append([]bvh.Option{bvh.WithLogger(s.logger)}, s.bvhOpts...)
}

// CreateBLAS builds the octree for voxels and registers it. An empty id is replaced by a
// random UUID.
func (s *VoxelScene) CreateBLAS(id string, voxels []volume.Voxel) (*bvh.BLAS, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.byID[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateBLAS, id)
	}
	b, err := bvh.NewBLAS(id, voxels, s.buildOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create BLAS %q: %w", id, err)
	}
	s.register(b)
	return b, nil
}

// CreateBLASBatch builds several BLAS objects concurrently. Offsets are assigned in the
// order of specs once every build has succeeded; on error nothing is registered.
func (s *VoxelScene) CreateBLASBatch(ctx context.Context, specs []BLASSpec) ([]*bvh.BLAS, error) {
	ids := make([]string, len(specs))
	pending := make(map[string]bool, len(specs))
	for i, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, ok := s.byID[id]; ok || pending[id] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBLAS, id)
		}
		pending[id] = true
		ids[i] = id
	}

	built := make([]*bvh.BLAS, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := bvh.NewBLAS(ids[i], specs[i].Voxels, s.buildOptions()...)
			if err != nil {
				return fmt.Errorf("create BLAS %q: %w", ids[i], err)
			}
			built[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, b := range built {
		s.register(b)
	}
	return built, nil
}

func (s *VoxelScene) register(b *bvh.BLAS) {
	idx := len(s.blas)
	s.blas = append(s.blas, b)
	s.offsets = append(s.offsets, s.nextOffset)
	s.voxelBases = append(s.voxelBases, s.nextVoxel)
	s.byID[b.ID] = idx
	s.byOffset[s.nextOffset] = idx

	// Offsets advance by allocated capacity, not by the used node count.
	s.nextOffset += uint32(b.Capacity())
	s.nextVoxel += uint32(len(b.Voxels()))

	s.logger.Debugf("registered BLAS %q at node offset %d (%d nodes used of %d)",
		b.ID, s.offsets[idx], b.NodeCount(), b.Capacity())
}

// LookupBlasOffset returns the node offset of the BLAS registered under id.
func (s *VoxelScene) LookupBlasOffset(id string) (uint32, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	return s.offsets[idx], true
}

// GetBlasOffset returns the node offset of id, or logs an error and returns 0 when id is
// unknown. Use LookupBlasOffset to tell a miss from the first BLAS.
func (s *VoxelScene) GetBlasOffset(id string) uint32 {
	off, ok := s.LookupBlasOffset(id)
	if !ok {
		s.logger.Errorf("no BLAS registered under %q, returning offset 0", id)
	}
	return off
}

func (s *VoxelScene) BLAS(id string) (*bvh.BLAS, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.blas[idx], true
}

// BLASAtOffset resolves an instance offset back to its BLAS.
func (s *VoxelScene) BLASAtOffset(offset uint32) (*bvh.BLAS, bool) {
	idx, ok := s.byOffset[offset]
	if !ok {
		return nil, false
	}
	return s.blas[idx], true
}

func (s *VoxelScene) BLASCount() int {
	return len(s.blas)
}

// AddMaterial appends m and returns its index.
func (s *VoxelScene) AddMaterial(m Material) uint32 {
	s.materials = append(s.materials, m)
	return uint32(len(s.materials) - 1)
}

func (s *VoxelScene) Materials() []Material {
	return s.materials
}

// AddInstance places the BLAS registered under blasID with transform. materialIdx
// overrides voxel materials unless it is MaterialInherit. The TLAS must be rebuilt
// before it sees the new instance.
func (s *VoxelScene) AddInstance(blasID string, transform mgl32.Mat4, materialIdx uint32) (int, error) {
	off, ok := s.LookupBlasOffset(blasID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBLAS, blasID)
	}
	s.instances = append(s.instances, NewBLASInstance(transform, off, materialIdx, s.logger))
	s.tlasStale = true
	return len(s.instances) - 1, nil
}

// SetInstanceTransform replaces the transform of instance i.
func (s *VoxelScene) SetInstanceTransform(i int, transform mgl32.Mat4) error {
	if i < 0 || i >= len(s.instances) {
		return fmt.Errorf("%w: %d", ErrNoInstance, i)
	}
	inst := &s.instances[i]
	inst.Transform = transform
	inst.TransformInverse = InvertMatrix(transform, s.logger)
	s.tlasStale = true
	return nil
}

func (s *VoxelScene) Instances() []BLASInstance {
	return s.instances
}

// Instance returns a copy of instance i, or ErrNoInstance when i is out of range.
func (s *VoxelScene) Instance(i int) (BLASInstance, error) {
	if i < 0 || i >= len(s.instances) {
		return BLASInstance{}, fmt.Errorf("%w: %d", ErrNoInstance, i)
	}
	return s.instances[i], nil
}

// BuildTLAS rebuilds the TLAS over the current instance list, replacing any previous one.
func (s *VoxelScene) BuildTLAS() *bvh.TLAS {
	placements := make([]bvh.Placement, len(s.instances))
	for i, inst := range s.instances {
		bounds := volume.EmptyAABB()
		if b, ok := s.BLASAtOffset(inst.BLASOffset); ok {
			bounds = b.RootAABB()
		} else {
			s.logger.Errorf("instance %d refers to unknown BLAS offset %d", i, inst.BLASOffset)
		}
		placements[i] = bvh.Placement{LocalBounds: bounds, Transform: inst.Transform}
	}
	s.tlas = bvh.NewTLAS(placements, s.buildOptions()...)
	s.tlasStale = false
	return s.tlas
}

// TLAS returns the last built TLAS, or nil before the first BuildTLAS.
func (s *VoxelScene) TLAS() *bvh.TLAS {
	return s.tlas
}

// TLASStale reports whether instances changed since the last BuildTLAS.
func (s *VoxelScene) TLASStale() bool {
	return s.tlas == nil || s.tlasStale
}

// FlattenedBlasNodes concatenates the allocated node arrays of every BLAS in offset
// order. Internal child indices are rebased by the BLAS node offset and leaf voxel
// indices by the BLAS voxel base, so both index into the flattened arrays directly.
// Unused capacity slots are zero nodes.
func (s *VoxelScene) FlattenedBlasNodes() []bvh.BLASNode {
	out := make([]bvh.BLASNode, s.nextOffset)
	for i, b := range s.blas {
		base := s.offsets[i]
		for j, n := range b.Nodes() {
			if n.IsLeaf {
				n.FirstChildOrVoxelIndex += s.voxelBases[i]
			} else {
				n.FirstChildOrVoxelIndex += base
			}
			out[int(base)+j] = n
		}
	}
	return out
}

// FlattenedVoxels concatenates the voxel arrays of every BLAS in registration order.
func (s *VoxelScene) FlattenedVoxels() []volume.Voxel {
	out := make([]volume.Voxel, 0, s.nextVoxel)
	for _, b := range s.blas {
		out = append(out, b.Voxels()...)
	}
	return out
}

// FlattenedTLASNodes returns the used TLAS nodes, or the single empty sentinel root when
// there are no instances. It is nil before the first BuildTLAS.
func (s *VoxelScene) FlattenedTLASNodes() []bvh.TLASNode {
	if s.tlas == nil {
		return nil
	}
	if s.tlas.NodeCount() == 0 {
		return s.tlas.AllocatedNodes()[:1]
	}
	return s.tlas.Nodes()
}

func (s *VoxelScene) Stats() SceneStats {
	st := SceneStats{
		BLASCount:        len(s.blas),
		VoxelCount:       int(s.nextVoxel),
		BLASNodeCapacity: int(s.nextOffset),
		InstanceCount:    len(s.instances),
		MaterialCount:    len(s.materials),
	}
	for _, b := range s.blas {
		st.BLASNodesUsed += b.NodeCount()
		st.DroppedVoxels += b.DroppedVoxels()
		st.MaxBLASDepth = max(st.MaxBLASDepth, b.MaxDepth())
	}
	if s.tlas != nil {
		st.TLASNodeCount = s.tlas.NodeCount()
		st.TLASDepth = s.tlas.MaxDepth()
	}
	return st
}
