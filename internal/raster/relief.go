package raster

import (
	"errors"
	"image"
	"runtime"
	"sync"

	"depthfx/internal/mathutil"
	"depthfx/internal/pose"
	"depthfx/internal/wallpaper"
)

// ErrBackendUnavailable is returned when per-pixel shading cannot run for the
// requested surface. Callers fall back to layer compositing.
var ErrBackendUnavailable = errors.New("raster: relief backend unavailable")

// displacementScale converts depth × intensity into a uv offset.
const displacementScale = 0.05

// intensityNorm maps the 0–45 depth slider onto the calibrated displacement range.
const intensityNorm = 20.0

// Options configures a Relief shader.
type Options struct {
	Disabled  bool // force the fallback path
	MaxPixels int  // largest surface area accepted; 0 = unlimited
	Workers   int  // row bands shaded in parallel; 0 = GOMAXPROCS
	Light     *LightConfig
}

// Relief renders an image with depth-driven parallax and relief lighting
// into a frame buffer it owns.
type Relief struct {
	fb        *FrameBuffer
	light     LightConfig
	maxPixels int
	workers   int
	wg        sync.WaitGroup
}

// NewRelief creates a shader. It fails with ErrBackendUnavailable when the
// backend is disabled.
func NewRelief(opts Options) (*Relief, error) {
	if opts.Disabled {
		return nil, ErrBackendUnavailable
	}
	r := &Relief{
		fb:        NewFrameBuffer(0, 0),
		light:     DefaultLightConfig(),
		maxPixels: opts.MaxPixels,
		workers:   opts.Workers,
	}
	if opts.Light != nil {
		r.light = *opts.Light
	}
	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	return r, nil
}

// Resize tracks the displayed surface size. The buffer is reallocated only
// when the dimensions change, so calling it every frame is cheap.
func (r *Relief) Resize(w, h int) error {
	if r.maxPixels > 0 && w*h > r.maxPixels {
		return ErrBackendUnavailable
	}
	r.fb.Resize(w, h)
	return nil
}

// Frame returns the buffer the last Render wrote to.
func (r *Relief) Frame() *FrameBuffer {
	return r.fb
}

// Displacement returns the uv offset applied to a pixel of the given depth.
func Displacement(p pose.Vector, depth, depthIntensity float64) (dx, dy float64) {
	k := depth * (depthIntensity / intensityNorm) * displacementScale
	return p.X * k, p.Y * k
}

// Render shades every pixel of the current surface. p is the screen-space
// pose (see pose.Vector.Screen) read once for the whole frame. Only
// DepthIntensity and LightIntensity of the settings are used.
//
// This is the hot path: no allocation per pixel.
func (r *Relief) Render(img *image.NRGBA, depth *image.Gray, p pose.Vector, s wallpaper.Settings) *FrameBuffer {
	fb := r.fb
	if fb.Width == 0 || fb.Height == 0 || img == nil || depth == nil {
		return fb
	}
	s = s.Clamp()

	k := (s.DepthIntensity / intensityNorm) * displacementScale
	li := s.LightIntensity
	lightDir := r.light.LightDir(p.X, p.Y)

	bands := r.workers
	if bands > fb.Height {
		bands = fb.Height
	}
	rows := (fb.Height + bands - 1) / bands

	r.wg.Add(bands)
	for b := 0; b < bands; b++ {
		y0 := b * rows
		y1 := y0 + rows
		if y1 > fb.Height {
			y1 = fb.Height
		}
		go func(y0, y1 int) {
			defer r.wg.Done()
			r.shadeRows(y0, y1, img, depth, p, k, li, lightDir)
		}(y0, y1)
	}
	r.wg.Wait()
	return fb
}

func (r *Relief) shadeRows(y0, y1 int, img *image.NRGBA, depth *image.Gray, p pose.Vector, k, li float64, lightDir mathutil.Vec3) {
	fb := r.fb
	lc := &r.light
	eps := lc.GradientEps
	invW := 1 / float64(fb.Width)
	invH := 1 / float64(fb.Height)

	for y := y0; y < y1; y++ {
		v := (float64(y) + 0.5) * invH
		rowOff := y * fb.Width * 4
		for x := 0; x < fb.Width; x++ {
			u := (float64(x) + 0.5) * invW

			// Parallax: nearer texels shift further against the pose.
			d := SampleDepth(depth, u, v)
			cr, cg, cb, _ := SampleTexture(img, u-p.X*d*k, v-p.Y*d*k)

			// Relief: normal from the depth gradient around the undisplaced point.
			dX := SampleDepth(depth, u+eps, v) - SampleDepth(depth, u-eps, v)
			dY := SampleDepth(depth, u, v+eps) - SampleDepth(depth, u, v-eps)
			shade := lc.ComputeShade(lc.Normal(dX, dY), lightDir)

			f := 1 - li + shade*li
			i := rowOff + x*4
			fb.Color[i] = clamp255(cr * f)
			fb.Color[i+1] = clamp255(cg * f)
			fb.Color[i+2] = clamp255(cb * f)
			fb.Color[i+3] = 255
		}
	}
}
