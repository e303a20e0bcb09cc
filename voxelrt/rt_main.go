package main

import (
	"fmt"
	"image/png"
	"io"
	"os"

	voxtrace "github.com/gekko3d/voxtrace"
	"github.com/gekko3d/voxtrace/voxelrt/rt/app"
	"github.com/gekko3d/voxtrace/voxelrt/rt/bvh"
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/editor"
	"github.com/gekko3d/voxtrace/voxelrt/rt/gpu"
	"github.com/gekko3d/voxtrace/voxelrt/rt/scenefile"
	"github.com/gekko3d/voxtrace/voxelrt/rt/trace"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

const (
	flagDebug       = "debug"
	flagWorkers     = "workers"
	flagMaxLOD      = "max-lod"
	flagOut         = "out"
	flagWidth       = "width"
	flagHeight      = "height"
	flagSupersample = "supersample"
	flagNoShadows   = "no-shadows"
	flagX           = "x"
	flagY           = "y"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "voxtrace:", err)
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "voxtrace",
		Usage:     "build and inspect two-level voxel acceleration structures",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagDebug, Usage: "log build details"},
			&cli.IntFlag{Name: flagWorkers, Usage: "parallel BLAS builds and render tiles (0 = GOMAXPROCS)"},
			&cli.UintFlag{Name: flagMaxLOD, Value: uint(bvh.DefaultMaxLOD), Usage: "octree root LOD level"},
		},
		Commands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "print acceleration structure statistics for a scene file",
				ArgsUsage: "<scene.yaml>",
				Action:    statsAction,
			},
			{
				Name:      "dump",
				Usage:     "write the packed GPU buffers of a scene file",
				ArgsUsage: "<scene.yaml>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output file"},
				},
				Action: dumpAction,
			},
			{
				Name:      "pick",
				Usage:     "report what the camera sees through one pixel",
				ArgsUsage: "<scene.yaml>",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagX, Usage: "pixel column, defaults to the centre"},
					&cli.Float64Flag{Name: flagY, Usage: "pixel row, defaults to the centre"},
					&cli.IntFlag{Name: flagWidth, Value: 640},
					&cli.IntFlag{Name: flagHeight, Value: 360},
				},
				Action: pickAction,
			},
			{
				Name:      "upload",
				Usage:     "upload the scene buffers to a headless WebGPU device and report their sizes",
				ArgsUsage: "<scene.yaml>",
				Action:    uploadAction,
			},
			{
				Name:      "render",
				Usage:     "trace a preview image of a scene file on the CPU",
				ArgsUsage: "<scene.yaml>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Value: "preview.png", Usage: "output PNG"},
					&cli.IntFlag{Name: flagWidth, Value: 640},
					&cli.IntFlag{Name: flagHeight, Value: 360},
					&cli.IntFlag{Name: flagSupersample, Value: 1, Usage: "samples per pixel axis"},
					&cli.BoolFlag{Name: flagNoShadows, Usage: "skip shadow rays"},
				},
				Action: renderAction,
			},
		},
	}
}

type session struct {
	logger   *voxtrace.DefaultLogger
	profiler *app.Profiler
	loaded   *scenefile.Loaded
	workers  int
}

func load(c *cli.Context) (*session, error) {
	if c.NArg() != 1 {
		return nil, errors.New("expected exactly one scene file argument")
	}
	s := &session{
		logger:   voxtrace.NewDefaultLogger("voxtrace", c.Bool(flagDebug)),
		profiler: app.NewProfiler(),
		workers:  c.Int(flagWorkers),
	}

	opts := []core.SceneOption{
		core.WithSceneLogger(s.logger.Named("scene")),
		core.WithBVHOptions(bvh.WithMaxLOD(uint32(c.Uint(flagMaxLOD)))),
	}
	if s.workers > 0 {
		opts = append(opts, core.WithWorkers(s.workers))
	}

	err := s.profiler.Scope("load", func() error {
		var err error
		s.loaded, err = scenefile.Load(c.Context, c.Args().First(), opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	st := s.loaded.Scene.Stats()
	s.logger.Infof("loaded %s: %d objects, %d voxels, %d instances",
		c.Args().First(), st.BLASCount, st.VoxelCount, st.InstanceCount)
	return s, nil
}

func statsAction(c *cli.Context) error {
	s, err := load(c)
	if err != nil {
		return err
	}
	st := s.loaded.Scene.Stats()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Structure", "Value"})
	t.AppendRows([]table.Row{
		{"BLAS objects", st.BLASCount},
		{"Voxels", st.VoxelCount},
		{"BLAS nodes used", st.BLASNodesUsed},
		{"BLAS node capacity", st.BLASNodeCapacity},
		{"Max BLAS depth", st.MaxBLASDepth},
		{"Dropped voxels", st.DroppedVoxels},
		{"Instances", st.InstanceCount},
		{"TLAS nodes", st.TLASNodeCount},
		{"TLAS depth", st.TLASDepth},
		{"Materials", st.MaterialCount},
	})
	fmt.Fprintln(c.App.Writer, t.Render())
	fmt.Fprintln(c.App.Writer, s.profiler.Table())
	return nil
}

func dumpAction(c *cli.Context) (err error) {
	s, err := load(c)
	if err != nil {
		return err
	}
	packed, err := gpu.PackScene(s.loaded.Scene)
	if err != nil {
		return err
	}

	f, err := os.Create(c.String(flagOut))
	if err != nil {
		return errors.Wrap(err, "create dump file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	total := 0
	for _, nb := range packed.Named() {
		if _, err := f.Write(gpu.DumpHeader(nb.Binding, len(nb.Data))); err != nil {
			return errors.Wrapf(err, "write %s", nb.Name)
		}
		if _, err := f.Write(nb.Data); err != nil {
			return errors.Wrapf(err, "write %s", nb.Name)
		}
		s.logger.Debugf("%s: %d bytes", nb.Name, len(nb.Data))
		total += len(nb.Data)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d buffer bytes to %s\n", total, c.String(flagOut))
	return nil
}

func renderAction(c *cli.Context) (err error) {
	s, err := load(c)
	if err != nil {
		return err
	}
	buf, err := trace.FromScene(s.loaded.Scene)
	if err != nil {
		return err
	}

	opts := app.DefaultRenderOptions()
	opts.Width = c.Int(flagWidth)
	opts.Height = c.Int(flagHeight)
	opts.Supersample = c.Int(flagSupersample)
	opts.Shadows = !c.Bool(flagNoShadows)
	opts.Camera = s.loaded.Camera
	opts.Light = s.loaded.Light
	opts.Profiler = s.profiler
	opts.Logger = s.logger
	if s.workers > 0 {
		opts.Workers = s.workers
	}

	img, err := app.Render(c.Context, buf, opts)
	if err != nil {
		return errors.Wrap(err, "render")
	}

	f, err := os.Create(c.String(flagOut))
	if err != nil {
		return errors.Wrap(err, "create image")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "encode png")
	}
	fmt.Fprintln(c.App.Writer, s.profiler.Table())
	return nil
}

func uploadAction(c *cli.Context) error {
	s, err := load(c)
	if err != nil {
		return err
	}
	a := app.NewApp(s.logger.Named("gpu"))
	a.Camera = s.loaded.Camera
	a.Light = s.loaded.Light
	a.Profiler = s.profiler
	if err := a.Init(); err != nil {
		return err
	}
	defer a.Release()

	if err := a.Upload(s.loaded.Scene, 16.0/9.0); err != nil {
		return err
	}
	sizes := a.BufferSizes()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Buffer", "Bytes"})
	for _, name := range []string{"CameraUB", "TLASNodesBuf", "InstancesBuf", "BLASNodesBuf", "VoxelsBuf", "MaterialsBuf"} {
		t.AppendRow(table.Row{name, sizes[name]})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	fmt.Fprintln(c.App.Writer, s.profiler.Table())
	return nil
}

func pickAction(c *cli.Context) error {
	s, err := load(c)
	if err != nil {
		return err
	}
	w, h := c.Int(flagWidth), c.Int(flagHeight)
	if w <= 0 || h <= 0 {
		return errors.New("width and height must be positive")
	}
	x, y := float64(w)/2, float64(h)/2
	if c.IsSet(flagX) {
		x = c.Float64(flagX)
	}
	if c.IsSet(flagY) {
		y = c.Float64(flagY)
	}

	e := editor.NewEditor()
	ray := e.GetPickRay(x, y, w, h, s.loaded.Camera)
	hit, err := e.Pick(s.loaded.Scene, ray)
	if err != nil {
		return err
	}
	if hit == nil {
		fmt.Fprintln(c.App.Writer, "no hit")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "instance %d (%s) voxel %d at t=%.4f position %v normal %v\n",
		hit.InstanceIndex, hit.BLASID, hit.VoxelIndex, hit.T, hit.Position, hit.Normal)
	return nil
}
