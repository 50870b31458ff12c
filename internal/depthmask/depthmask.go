// Package depthmask builds approximate depth buffers.
//
// Synthesize is a coarse stand-in for a depth-estimation model: it paints a
// soft radial gradient around a subject bounding box, clipped to an ellipse,
// and leaves everything else far. It knows nothing about the image content,
// so scenes with several depth layers or off-centre silhouettes get a single
// blob of relief. The falloff is smooth on purpose: the relief shader derives
// normals from the local gradient, and a hard edge would show up as a bright
// lighting seam.
package depthmask

import (
	"image"
	"image/color"
	"math"

	"depthfx/internal/wallpaper"
)

// DefaultResolution is the side length of synthesized buffers.
const DefaultResolution = 512

// referenceResolution is the buffer size the gradient lengths are tuned for.
const referenceResolution = 512.0

const (
	innerRadius  = 10.0 // reference pixels painted at full "near"
	radiusFactor = 2.5  // subject extent → gradient radius
	outerFactor  = 1.5  // gradient radius → zero-depth radius
	ellipseScale = 3.0  // box extent → clip ellipse semi-axis
)

// Synthesize paints a res×res depth buffer for the given subject box.
// The result depends only on its inputs.
func Synthesize(box wallpaper.BoundingBox, res int) *image.Gray {
	if res <= 0 {
		res = DefaultResolution
	}
	img := image.NewGray(image.Rect(0, 0, res, res))
	if !box.Finite() {
		return img
	}
	box = box.Clamp()

	w, h := box.Width(), box.Height()
	if w <= 0 || h <= 0 {
		return img
	}

	toPx := float64(res) / 100
	ref := float64(res) / referenceResolution

	cx := (box.XMin + w/2) * toPx
	cy := (box.YMin + h/2) * toPx
	r0 := innerRadius * ref
	r1 := math.Max(w, h) * radiusFactor * outerFactor * ref
	ax := w * ellipseScale * ref
	ay := h * ellipseScale * ref

	for y := 0; y < res; y++ {
		dy := float64(y) + 0.5 - cy
		row := y * img.Stride
		for x := 0; x < res; x++ {
			dx := float64(x) + 0.5 - cx
			ex, ey := dx/ax, dy/ay
			if ex*ex+ey*ey > 1 {
				continue
			}
			v := gradient(math.Hypot(dx, dy), r0, r1)
			img.Pix[row+x] = uint8(v*255 + 0.5)
		}
	}
	return img
}

// gradient evaluates the three-stop ramp 1 → 0.5 → 0 between r0 and r1.
func gradient(d, r0, r1 float64) float64 {
	if d <= r0 {
		return 1
	}
	if d >= r1 || r1 <= r0 {
		return 0
	}
	// The 0.5 stop sits exactly halfway, so the ramp is a single line.
	return 1 - (d-r0)/(r1-r0)
}

// FromImage converts a user-supplied depth image to a depth buffer.
// Only the red channel is read, so grayscale and false-colour maps whose
// red channel encodes nearness both work.
func FromImage(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.Pix[(y-b.Min.Y)*dst.Stride+(x-b.Min.X)] = c.R
		}
	}
	return dst
}
