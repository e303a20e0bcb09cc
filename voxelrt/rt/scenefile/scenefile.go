// Package scenefile reads YAML scene descriptions and builds VoxelScenes from them.
package scenefile

import (
	"context"
	"fmt"
	"os"

	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/volume"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Generators understood in objects[].generator.
const (
	GeneratorSingle = "single"
	GeneratorCube   = "cube"
	GeneratorSphere = "sphere"
	GeneratorPoints = "points"
)

// MaxLOD bounds objects[].lod; each level multiplies the voxel count by 8.
const MaxLOD = 4

// A sphere smaller than this fraction of a voxel contains no cell centre.
const halfCellDiagonal = 0.8660254

// Vec3 accepts either a three element sequence or a single scalar that fills all axes.
type Vec3 mgl32.Vec3

func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var f float32
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Vec3{f, f, f}
		return nil
	case yaml.SequenceNode:
		var fs []float32
		if err := node.Decode(&fs); err != nil {
			return err
		}
		if len(fs) != 3 {
			return fmt.Errorf("line %d: vector needs 3 components, got %d", node.Line, len(fs))
		}
		*v = Vec3{fs[0], fs[1], fs[2]}
		return nil
	}
	return fmt.Errorf("line %d: expected a number or a 3 element list", node.Line)
}

func (v *Vec3) orDefault(d mgl32.Vec3) mgl32.Vec3 {
	if v == nil {
		return d
	}
	return mgl32.Vec3(*v)
}

type File struct {
	Materials []MaterialDesc `yaml:"materials"`
	Objects   []ObjectDesc   `yaml:"objects"`
	Instances []InstanceDesc `yaml:"instances"`
	Camera    *CameraDesc    `yaml:"camera"`
	Light     *LightDesc     `yaml:"light"`
}

type MaterialDesc struct {
	Name             string  `yaml:"name"`
	Color            string  `yaml:"color"`
	Roughness        float32 `yaml:"roughness"`
	Metalness        float32 `yaml:"metalness"`
	Emission         string  `yaml:"emission"`
	EmissionStrength float32 `yaml:"emission_strength"`
}

type ObjectDesc struct {
	ID        string  `yaml:"id"`
	Generator string  `yaml:"generator"`
	VoxelSize float32 `yaml:"voxel_size"`
	Center    *Vec3   `yaml:"center"`
	Min       *Vec3   `yaml:"min"`
	Max       *Vec3   `yaml:"max"`
	Radius    float32 `yaml:"radius"`
	Points    []Vec3  `yaml:"points"`
	Material  string  `yaml:"material"`
	// LOD refines every generated cell this many levels, so the stored voxels
	// are voxel_size / 2^lod wide.
	LOD uint32 `yaml:"lod"`
}

type InstanceDesc struct {
	Object   string `yaml:"object"`
	Position *Vec3  `yaml:"position"`
	Rotation *Vec3  `yaml:"rotation"` // degrees, XYZ order
	Scale    *Vec3  `yaml:"scale"`
	Material string `yaml:"material"`
}

type CameraDesc struct {
	Position *Vec3   `yaml:"position"`
	LookAt   *Vec3   `yaml:"look_at"`
	Yaw      float32 `yaml:"yaw"`   // degrees
	Pitch    float32 `yaml:"pitch"` // degrees
	Fov      float32 `yaml:"fov"`   // vertical, degrees
}

type LightDesc struct {
	Direction *Vec3    `yaml:"direction"`
	Color     string   `yaml:"color"`
	Ambient   *float32 `yaml:"ambient"`
}

// Parse decodes and validates a scene description.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode scene file")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem in f at once.
func (f *File) Validate() error {
	var errs error
	materials := map[string]bool{}
	for i, m := range f.Materials {
		if m.Name == "" {
			errs = multierr.Append(errs, errors.Errorf("materials[%d]: name is required", i))
		} else if materials[m.Name] {
			errs = multierr.Append(errs, errors.Errorf("materials[%d]: duplicate name %q", i, m.Name))
		}
		materials[m.Name] = true
		for _, hex := range []string{m.Color, m.Emission} {
			if hex == "" {
				continue
			}
			if _, err := core.ParseColor(hex); err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "materials[%d]", i))
			}
		}
	}

	checkMaterial := func(where, name string) {
		if name != "" && !materials[name] {
			errs = multierr.Append(errs, errors.Errorf("%s: unknown material %q", where, name))
		}
	}

	objects := map[string]bool{}
	for i, o := range f.Objects {
		where := fmt.Sprintf("objects[%d]", i)
		if o.ID != "" {
			if objects[o.ID] {
				errs = multierr.Append(errs, errors.Errorf("%s: duplicate id %q", where, o.ID))
			}
			objects[o.ID] = true
		}
		checkMaterial(where, o.Material)
		errs = multierr.Append(errs, o.validate(where))
	}

	for i, inst := range f.Instances {
		where := fmt.Sprintf("instances[%d]", i)
		if !objects[inst.Object] {
			errs = multierr.Append(errs, errors.Errorf("%s: unknown object %q", where, inst.Object))
		}
		checkMaterial(where, inst.Material)
		if inst.Scale != nil {
			for _, s := range inst.Scale {
				if s == 0 {
					errs = multierr.Append(errs, errors.Errorf("%s: scale has a zero component", where))
					break
				}
			}
		}
	}

	if f.Camera != nil && (f.Camera.Fov < 0 || f.Camera.Fov >= 180) {
		errs = multierr.Append(errs, errors.Errorf("camera: fov %g out of range (0, 180)", f.Camera.Fov))
	}
	if f.Light != nil {
		if f.Light.Color != "" {
			if _, err := core.ParseColor(f.Light.Color); err != nil {
				errs = multierr.Append(errs, errors.Wrap(err, "light"))
			}
		}
		if f.Light.Direction != nil && mgl32.Vec3(*f.Light.Direction).Len() == 0 {
			errs = multierr.Append(errs, errors.New("light: direction must be non-zero"))
		}
	}
	return errs
}

func (o ObjectDesc) validate(where string) error {
	var errs error
	needSize := func() {
		if o.VoxelSize <= 0 {
			errs = multierr.Append(errs, errors.Errorf("%s: voxel_size must be positive", where))
		}
	}
	switch o.Generator {
	case GeneratorSingle:
		needSize()
	case GeneratorCube:
		needSize()
		if o.Min == nil || o.Max == nil {
			errs = multierr.Append(errs, errors.Errorf("%s: cube needs min and max", where))
			break
		}
		for a := 0; a < 3; a++ {
			if o.Max[a] <= o.Min[a] {
				errs = multierr.Append(errs, errors.Errorf("%s: cube max must exceed min on every axis", where))
				break
			}
		}
	case GeneratorSphere:
		needSize()
		if o.Radius <= 0 {
			errs = multierr.Append(errs, errors.Errorf("%s: sphere radius must be positive", where))
		} else if o.VoxelSize > 0 && o.Radius < o.VoxelSize*halfCellDiagonal {
			errs = multierr.Append(errs, errors.Errorf("%s: sphere radius %g holds no voxel of size %g", where, o.Radius, o.VoxelSize))
		}
	case GeneratorPoints:
		needSize()
		if len(o.Points) == 0 {
			errs = multierr.Append(errs, errors.Errorf("%s: points generator needs at least one point", where))
		}
	default:
		errs = multierr.Append(errs, errors.Errorf("%s: unknown generator %q", where, o.Generator))
	}
	if o.LOD > MaxLOD {
		errs = multierr.Append(errs, errors.Errorf("%s: lod %d exceeds %d", where, o.LOD, MaxLOD))
	}
	return errs
}

func (o ObjectDesc) voxels(materialIdx uint32) []volume.Voxel {
	cells := o.cells(materialIdx)
	if o.LOD == 0 {
		return cells
	}
	return volume.Refine(volume.AtLOD(cells, o.LOD))
}

func (o ObjectDesc) cells(materialIdx uint32) []volume.Voxel {
	center := o.Center.orDefault(mgl32.Vec3{})
	switch o.Generator {
	case GeneratorSingle:
		return volume.Single(center, o.VoxelSize, materialIdx)
	case GeneratorCube:
		return volume.Cube(mgl32.Vec3(*o.Min), mgl32.Vec3(*o.Max), o.VoxelSize, materialIdx)
	case GeneratorSphere:
		return volume.Sphere(center, o.Radius, o.VoxelSize, materialIdx)
	case GeneratorPoints:
		out := make([]volume.Voxel, len(o.Points))
		for i, p := range o.Points {
			out[i] = volume.NewVoxel(mgl32.Vec3(p), o.VoxelSize, materialIdx, 0, volume.FullOccupancy)
		}
		return out
	}
	return nil
}

// Loaded is a built scene together with the view settings of its file.
type Loaded struct {
	Scene     *core.VoxelScene
	Camera    *core.CameraState
	Light     core.Light
	Materials map[string]uint32
	// ObjectIDs holds the BLAS id of every object, generated ones included.
	ObjectIDs []string
}

// Load reads, validates and builds the scene at path.
func Load(ctx context.Context, path string, opts ...core.SceneOption) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scene file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scene file %s", path)
	}
	return f.Build(ctx, opts...)
}

// Build creates the materials, builds every object as a BLAS in parallel, adds the
// instances and builds the TLAS. With no materials declared a default white one is added.
func (f *File) Build(ctx context.Context, opts ...core.SceneOption) (*Loaded, error) {
	scene := core.NewVoxelScene(opts...)
	out := &Loaded{
		Scene:     scene,
		Camera:    core.NewCameraState(),
		Light:     core.DefaultLight(),
		Materials: map[string]uint32{},
	}

	for _, md := range f.Materials {
		m, err := md.material()
		if err != nil {
			return nil, errors.Wrapf(err, "material %q", md.Name)
		}
		out.Materials[md.Name] = scene.AddMaterial(m)
	}
	if len(f.Materials) == 0 {
		scene.AddMaterial(core.DefaultMaterial())
	}

	specs := make([]core.BLASSpec, len(f.Objects))
	for i, o := range f.Objects {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		specs[i] = core.BLASSpec{ID: id, Voxels: o.voxels(out.Materials[o.Material])}
		out.ObjectIDs = append(out.ObjectIDs, id)
	}
	if _, err := scene.CreateBLASBatch(ctx, specs); err != nil {
		return nil, errors.Wrap(err, "build objects")
	}

	for i, inst := range f.Instances {
		mat := core.MaterialInherit
		if inst.Material != "" {
			mat = out.Materials[inst.Material]
		}
		tr := core.NewTransformEuler(
			inst.Position.orDefault(mgl32.Vec3{}),
			inst.Rotation.orDefault(mgl32.Vec3{}),
			inst.Scale.orDefault(mgl32.Vec3{1, 1, 1}),
		)
		if _, err := scene.AddInstance(inst.Object, tr.ObjectToWorld(), mat); err != nil {
			return nil, errors.Wrapf(err, "instances[%d]", i)
		}
	}
	scene.BuildTLAS()

	if f.Camera != nil {
		f.Camera.apply(out.Camera)
	}
	if f.Light != nil {
		if err := f.Light.apply(&out.Light); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (md MaterialDesc) material() (core.Material, error) {
	m := core.DefaultMaterial()
	if md.Color != "" {
		c, err := core.ParseColor(md.Color)
		if err != nil {
			return m, err
		}
		m.Color = c
	}
	if md.Emission != "" {
		e, err := core.ParseColor(md.Emission)
		if err != nil {
			return m, err
		}
		m.Emission = e
	}
	m.Roughness = md.Roughness
	m.Metalness = md.Metalness
	m.EmissionStrength = md.EmissionStrength
	return m.Clamped(), nil
}

func (c *CameraDesc) apply(cam *core.CameraState) {
	cam.Position = c.Position.orDefault(cam.Position)
	if c.Fov > 0 {
		cam.FovY = mgl32.DegToRad(c.Fov)
	}
	if c.LookAt != nil {
		cam.LookAt(mgl32.Vec3(*c.LookAt))
		return
	}
	cam.Yaw = mgl32.DegToRad(c.Yaw)
	cam.Pitch = mgl32.DegToRad(c.Pitch)
}

func (l *LightDesc) apply(light *core.Light) error {
	if l.Direction != nil {
		light.Direction = mgl32.Vec3(*l.Direction).Normalize()
	}
	if l.Color != "" {
		c, err := core.ParseColor(l.Color)
		if err != nil {
			return errors.Wrap(err, "light")
		}
		light.Color = c
	}
	if l.Ambient != nil {
		light.Ambient = mgl32.Clamp(*l.Ambient, 0, 1)
	}
	return nil
}
