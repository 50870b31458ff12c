// Package compositor renders the flat fallback view: the wallpaper as a
// single card tilted in 3D with a drop shadow and an overlay light.
//
// The card is a plane, so the whole perspective transform collapses to a
// 3×3 homography. Every output pixel is mapped back onto the card with the
// inverse homography; there is no mesh and therefore no seam.
package compositor

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"depthfx/internal/pose"
	"depthfx/internal/postprocess"
	"depthfx/internal/raster"
	"depthfx/internal/wallpaper"
)

const (
	// shadowSigma is the Gaussian deviation of a 30px CSS shadow blur.
	shadowSigma = 15.0
	// shadowShift converts a rotation in degrees to a shadow offset in pixels.
	shadowShift = 2.0
	// lightReach is where the overlay gradient reaches zero, as a fraction
	// of the farthest-corner radius.
	lightReach = 0.6
)

// DefaultBackground is the colour behind the card.
var DefaultBackground = color.NRGBA{R: 3, G: 7, B: 18, A: 255}

// Options configures a Compositor.
type Options struct {
	Background color.NRGBA // zero value selects DefaultBackground
	Workers    int         // row bands drawn in parallel; 0 = GOMAXPROCS
	PixelScale float64     // output pixels per layout pixel, e.g. 2 when supersampling; 0 = 1
}

// Compositor draws tilted cards into frame buffers. It caches the cover-fitted
// copy of the last image per target size. Not safe for concurrent Render calls.
type Compositor struct {
	bg      color.NRGBA
	workers int
	scale   float64

	coverSrc *image.NRGBA
	coverW   int
	coverH   int
	cover    *image.NRGBA

	wg sync.WaitGroup
}

// New creates a Compositor.
func New(opts Options) *Compositor {
	c := &Compositor{bg: opts.Background, workers: opts.Workers, scale: opts.PixelScale}
	if c.scale <= 0 {
		c.scale = 1
	}
	if c.bg == (color.NRGBA{}) {
		c.bg = DefaultBackground
	}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Angles returns the card rotation in degrees about the X and Y axes.
func Angles(p pose.Vector, depthIntensity float64) (rx, ry float64) {
	return p.X * depthIntensity, p.Y * depthIntensity
}

// Homography returns the matrix mapping a point of a w×h card, relative to
// the card centre, to the screen relative to the same centre. The card is
// transformed by perspective(P) rotateX(rx) rotateY(ry) scale(s) about its
// centre with y pointing down.
func Homography(rx, ry, scale, perspective float64) mgl64.Mat3 {
	persp := mgl64.Ident4()
	persp.Set(3, 2, -1/perspective)

	m := persp.
		Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(rx))).
		Mul4(mgl64.HomogRotate3DY(mgl64.DegToRad(ry))).
		Mul4(mgl64.Scale3D(scale, scale, scale))

	// The card lies in z = 0, so the z column drops out.
	return mgl64.Mat3FromRows(
		mgl64.Vec3{m.At(0, 0), m.At(0, 1), m.At(0, 3)},
		mgl64.Vec3{m.At(1, 0), m.At(1, 1), m.At(1, 3)},
		mgl64.Vec3{m.At(3, 0), m.At(3, 1), m.At(3, 3)},
	)
}

// card carries the per-frame constants of one draw.
type card struct {
	layer    *image.NRGBA
	inv      mgl64.Mat3
	w, h     float64
	shadow   float64 // opacity, 0 disables
	sx0, sy0 float64 // shadow rectangle in card pixels
	sx1, sy1 float64
	blur     float64 // 1/(σ√2) of the shadow blur in output pixels
	light    float64 // overlay alpha at the centre, 0 disables
	lx, ly   float64 // overlay centre in card pixels
	lr       float64 // distance at which the overlay fades out
}

// Render draws img as a tilted card filling dst. dst's size is the surface
// size. Perspective, shadow blur and shadow offset are layout distances and
// are multiplied by the pixel scale after clamping.
func (c *Compositor) Render(dst *raster.FrameBuffer, img *image.NRGBA, p pose.Vector, s wallpaper.Settings) {
	if dst.Width == 0 || dst.Height == 0 {
		return
	}
	if img == nil {
		dst.Fill(c.bg.R, c.bg.G, c.bg.B)
		return
	}
	s = s.Clamp()
	layer := c.coverFit(img, dst.Width, dst.Height)

	rx, ry := Angles(p, s.DepthIntensity)
	w, h := float64(dst.Width), float64(dst.Height)
	lpx, lpy := pose.LightPos(p)

	k := c.newCard(layer, rx, ry, s.Scale, s.Perspective*c.scale)
	k.shadow = s.ShadowOpacity
	k.blur = 1 / (shadowSigma * c.scale * math.Sqrt2)
	ox, oy := -ry*shadowShift*c.scale, rx*shadowShift*c.scale
	k.sx0, k.sy0, k.sx1, k.sy1 = ox, oy, w+ox, h+oy
	k.light = s.LightIntensity
	k.lx, k.ly = lpx/100*w, lpy/100*h
	k.lr = farthestCorner(k.lx, k.ly, w, h) * lightReach

	c.draw(dst, k)
}

// Tilt applies only the card transform to an already rendered frame, with
// no shadow and no overlay.
func (c *Compositor) Tilt(dst, src *raster.FrameBuffer, p pose.Vector, s wallpaper.Settings) {
	if dst.Width == 0 || dst.Height == 0 || src.Width == 0 || src.Height == 0 {
		return
	}
	s = s.Clamp()
	rx, ry := Angles(p, s.DepthIntensity)
	c.draw(dst, c.newCard(src.Image(), rx, ry, s.Scale, s.Perspective*c.scale))
}

func (c *Compositor) newCard(layer *image.NRGBA, rx, ry, scale, perspective float64) *card {
	return &card{
		layer: layer,
		inv:   Homography(rx, ry, scale, perspective).Inv(),
		w:     float64(layer.Rect.Dx()),
		h:     float64(layer.Rect.Dy()),
	}
}

func (c *Compositor) coverFit(img *image.NRGBA, w, h int) *image.NRGBA {
	if c.cover != nil && c.coverSrc == img && c.coverW == w && c.coverH == h {
		return c.cover
	}
	c.cover = postprocess.Cover(img, w, h)
	c.coverSrc, c.coverW, c.coverH = img, w, h
	return c.cover
}

func (c *Compositor) draw(dst *raster.FrameBuffer, k *card) {
	bands := c.workers
	if bands > dst.Height {
		bands = dst.Height
	}
	rows := (dst.Height + bands - 1) / bands

	c.wg.Add(bands)
	for b := 0; b < bands; b++ {
		y0 := b * rows
		y1 := min(y0+rows, dst.Height)
		go func(y0, y1 int) {
			defer c.wg.Done()
			c.drawRows(dst, k, y0, y1)
		}(y0, y1)
	}
	c.wg.Wait()
}

func (c *Compositor) drawRows(dst *raster.FrameBuffer, k *card, y0, y1 int) {
	halfSW, halfSH := float64(dst.Width)/2, float64(dst.Height)/2
	halfW, halfH := k.w/2, k.h/2
	bgR, bgG, bgB := float64(c.bg.R), float64(c.bg.G), float64(c.bg.B)

	for y := y0; y < y1; y++ {
		sy := float64(y) + 0.5 - halfSH
		row := y * dst.Width * 4
		for x := 0; x < dst.Width; x++ {
			sx := float64(x) + 0.5 - halfSW
			i := row + x*4

			q := k.inv.Mul3x1(mgl64.Vec3{sx, sy, 1})
			if q[2] <= 0 {
				dst.Color[i], dst.Color[i+1], dst.Color[i+2], dst.Color[i+3] = c.bg.R, c.bg.G, c.bg.B, 255
				continue
			}
			lx := q[0]/q[2] + halfW
			ly := q[1]/q[2] + halfH

			var r, g, b float64
			if lx >= 0 && lx < k.w && ly >= 0 && ly < k.h {
				r, g, b, _ = raster.SampleTexture(k.layer, lx/k.w, ly/k.h)
				if k.light > 0 {
					a := k.light * (1 - math.Hypot(lx-k.lx, ly-k.ly)/k.lr)
					if a > 0 {
						r = overlayWhite(r, a)
						g = overlayWhite(g, a)
						b = overlayWhite(b, a)
					}
				}
			} else {
				f := 1.0
				if k.shadow > 0 {
					f = 1 - k.shadow*shadowCoverage(lx, ly, k)
				}
				r, g, b = bgR*f, bgG*f, bgB*f
			}
			dst.Color[i] = uint8(r + 0.5)
			dst.Color[i+1] = uint8(g + 0.5)
			dst.Color[i+2] = uint8(b + 0.5)
			dst.Color[i+3] = 255
		}
	}
}

// overlayWhite blends a white source of alpha a over backdrop cb (0–255)
// with the overlay blend mode.
func overlayWhite(cb, a float64) float64 {
	blended := 2 * cb
	if blended > 255 {
		blended = 255
	}
	return cb + a*(blended-cb)
}

// shadowCoverage is the Gaussian-blurred coverage of the shadow rectangle
// at a point in card space.
func shadowCoverage(x, y float64, k *card) float64 {
	return blurredSpan(x, k.sx0, k.sx1, k.blur) * blurredSpan(y, k.sy0, k.sy1, k.blur)
}

func blurredSpan(v, lo, hi, inv float64) float64 {
	return 0.5 * (math.Erf((hi-v)*inv) - math.Erf((lo-v)*inv))
}

func farthestCorner(x, y, w, h float64) float64 {
	return math.Max(
		math.Max(math.Hypot(x, y), math.Hypot(w-x, y)),
		math.Max(math.Hypot(x, h-y), math.Hypot(w-x, h-y)),
	)
}
