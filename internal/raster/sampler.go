package raster

import "image"

// Edge policy: all samplers clamp to the edge texel. Coordinates outside
// [0,1] repeat the border row or column instead of wrapping or reading
// transparent black, so parallax displacement near the frame border
// stretches the outermost pixels.

// SampleTexture performs bilinear filtering at normalized (u, v) with
// clamp-to-edge addressing. Texel centres sit at (i+0.5)/w.
// Returns straight-alpha RGBA in [0,255]. Accesses tex.Pix directly for performance.
func SampleTexture(tex *image.NRGBA, u, v float64) (r, g, b, a float64) {
	w := tex.Rect.Dx()
	h := tex.Rect.Dy()
	if w == 0 || h == 0 {
		return 0, 0, 0, 0
	}

	x0, x1, dx := texelPair(u, w)
	y0, y1, dy := texelPair(v, h)

	stride := tex.Stride
	pix := tex.Pix

	// Four texels
	i00 := y0*stride + x0*4
	i10 := y0*stride + x1*4
	i01 := y1*stride + x0*4
	i11 := y1*stride + x1*4

	w00 := (1 - dx) * (1 - dy)
	w10 := dx * (1 - dy)
	w01 := (1 - dx) * dy
	w11 := dx * dy

	r = float64(pix[i00])*w00 + float64(pix[i10])*w10 + float64(pix[i01])*w01 + float64(pix[i11])*w11
	g = float64(pix[i00+1])*w00 + float64(pix[i10+1])*w10 + float64(pix[i01+1])*w01 + float64(pix[i11+1])*w11
	b = float64(pix[i00+2])*w00 + float64(pix[i10+2])*w10 + float64(pix[i01+2])*w01 + float64(pix[i11+2])*w11
	a = float64(pix[i00+3])*w00 + float64(pix[i10+3])*w10 + float64(pix[i01+3])*w01 + float64(pix[i11+3])*w11
	return r, g, b, a
}

// SampleDepth returns the bilinearly filtered depth at (u, v) in [0,1].
func SampleDepth(depth *image.Gray, u, v float64) float64 {
	w := depth.Rect.Dx()
	h := depth.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	x0, x1, dx := texelPair(u, w)
	y0, y1, dy := texelPair(v, h)

	stride := depth.Stride
	pix := depth.Pix
	top := float64(pix[y0*stride+x0])*(1-dx) + float64(pix[y0*stride+x1])*dx
	bot := float64(pix[y1*stride+x0])*(1-dx) + float64(pix[y1*stride+x1])*dx
	return (top*(1-dy) + bot*dy) / 255
}

// texelPair maps a normalized coordinate onto the two neighbouring texel
// indices (clamped to [0,n-1]) and the blend weight between them.
func texelPair(u float64, n int) (i0, i1 int, frac float64) {
	f := u*float64(n) - 0.5
	if !(f > 0) { // also catches NaN
		return 0, 0, 0
	}
	last := n - 1
	if f >= float64(last) {
		return last, last, 0
	}
	i0 = int(f)
	return i0, i0 + 1, f - float64(i0)
}
