package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"runtime"

	voxtrace "github.com/gekko3d/voxtrace"
	"github.com/gekko3d/voxtrace/voxelrt/rt/core"
	"github.com/gekko3d/voxtrace/voxelrt/rt/trace"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTileSize = 32
	shadowBias      = 1e-3
)

var ErrBadSize = errors.New("app: render size must be positive")

// RenderOptions configures the CPU preview.
type RenderOptions struct {
	Width, Height int
	// Supersample renders at Width*Supersample and scales down. 0 and 1 disable it.
	Supersample int
	Camera      *core.CameraState
	Light       core.Light
	Shadows     bool
	Workers     int
	TileSize    int
	Profiler    *Profiler
	Logger      voxtrace.Logger
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Width:    320,
		Height:   240,
		Camera:   core.NewCameraState(),
		Light:    core.DefaultLight(),
		Shadows:  true,
		Workers:  runtime.GOMAXPROCS(0),
		TileSize: DefaultTileSize,
	}
}

// Render traces one primary ray per pixel through buf. Tiles are traced in parallel,
// each worker with its own Traverser.
func Render(ctx context.Context, buf *trace.Buffers, opts RenderOptions) (*image.RGBA, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, ErrBadSize
	}
	if opts.Camera == nil {
		opts.Camera = core.NewCameraState()
	}
	ss := max(opts.Supersample, 1)
	tile := opts.TileSize
	if tile <= 0 {
		tile = DefaultTileSize
	}
	prof := opts.Profiler
	if prof == nil {
		prof = NewProfiler()
	}
	logger := voxtrace.OrNop(opts.Logger)

	w, h := opts.Width*ss, opts.Height*ss
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	prof.BeginScope("trace")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for ty := 0; ty < h; ty += tile {
		for tx := 0; tx < w; tx += tile {
			rect := image.Rect(tx, ty, min(tx+tile, w), min(ty+tile, h))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				shadeTile(img, rect, buf, opts, w, h)
				return nil
			})
		}
	}
	err := g.Wait()
	prof.EndScope("trace")
	if err != nil {
		return nil, err
	}
	prof.SetCount("rays", w*h)

	if ss == 1 {
		return img, nil
	}
	prof.BeginScope("downscale")
	out := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	prof.EndScope("downscale")
	logger.Debugf("preview %dx%d rendered at %dx%d", opts.Width, opts.Height, w, h)
	return out, nil
}

func shadeTile(img *image.RGBA, rect image.Rectangle, buf *trace.Buffers, opts RenderOptions, w, h int) {
	tr := trace.NewTraverser(buf)
	aspect := float32(w) / float32(h)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			u := (float32(x)+0.5)/float32(w)*2 - 1
			v := 1 - (float32(y)+0.5)/float32(h)*2
			origin, dir := opts.Camera.PrimaryRay(u, v, aspect)
			img.SetRGBA(x, y, Shade(tr, buf, trace.NewRay(origin, dir), opts.Light, opts.Shadows))
		}
	}
}

// Shade returns the preview colour for r: albedo lit by ambient plus a Lambert term,
// emission added on top, sky gradient on a miss.
func Shade(tr *trace.Traverser, buf *trace.Buffers, r trace.Ray, light core.Light, shadows bool) color.RGBA {
	hit := tr.Intersect(r)
	if !hit.Hit {
		return toRGBA(sky(r.Direction))
	}

	m := buf.Material(hit.MaterialIdx)
	lambert := max(hit.Normal.Dot(light.Direction), 0)
	if lambert > 0 && shadows {
		shadow := trace.NewRay(hit.Position.Add(hit.Normal.Mul(shadowBias)), light.Direction)
		if tr.Occluded(shadow) {
			lambert = 0
		}
	}

	lit := light.Color.Mul(light.Ambient + lambert*(1-light.Ambient))
	c := mgl32.Vec3{m.Color[0] * lit[0], m.Color[1] * lit[1], m.Color[2] * lit[2]}
	return toRGBA(c.Add(m.Radiance()))
}

func sky(dir mgl32.Vec3) mgl32.Vec3 {
	t := 0.5 * (dir.Normalize().Z() + 1)
	horizon := mgl32.Vec3{0.8, 0.85, 0.9}
	zenith := mgl32.Vec3{0.35, 0.5, 0.8}
	return horizon.Mul(1 - t).Add(zenith.Mul(t))
}

func toRGBA(c mgl32.Vec3) color.RGBA {
	r, g, b := colorful.LinearRgb(float64(c[0]), float64(c[1]), float64(c[2])).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
