package postprocess

import (
	"image"

	"golang.org/x/image/draw"
)

// CoverRect returns the source rectangle that, scaled to w×h, fills the
// target completely while preserving the aspect ratio. The overflow is
// cropped equally from both sides.
func CoverRect(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 || w <= 0 || h <= 0 {
		return src
	}
	// Compare aspect ratios without division: sw/sh > w/h.
	if sw*h > w*sh {
		cw := sh * w / h
		if cw < 1 {
			cw = 1
		}
		x0 := src.Min.X + (sw-cw)/2
		return image.Rect(x0, src.Min.Y, x0+cw, src.Max.Y)
	}
	ch := sw * h / w
	if ch < 1 {
		ch = 1
	}
	y0 := src.Min.Y + (sh-ch)/2
	return image.Rect(src.Min.X, y0, src.Max.X, y0+ch)
}

// Cover scales img to exactly w×h, cropping the overflow like CSS
// object-fit: cover.
// An image that already has the target size and origin is returned as is.
func Cover(img *image.NRGBA, w, h int) *image.NRGBA {
	if img.Rect == image.Rect(0, 0, w, h) {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return dst
	}
	sr := CoverRect(img.Bounds(), w, h)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, sr, draw.Src, nil)
	return dst
}
