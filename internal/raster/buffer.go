package raster

import "image"

// FrameBuffer holds the rendering target as a flat slice for cache locality.
type FrameBuffer struct {
	Width  int
	Height int
	Color  []uint8 // RGBA interleaved, len = W*H*4
}

// NewFrameBuffer allocates a zeroed (transparent black) buffer.
func NewFrameBuffer(w, h int) *FrameBuffer {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &FrameBuffer{
		Width:  w,
		Height: h,
		Color:  make([]uint8, w*h*4),
	}
}

// Resize reallocates the backing slice only when the dimensions change.
// It reports whether a reallocation happened.
func (fb *FrameBuffer) Resize(w, h int) bool {
	if fb.Width == w && fb.Height == h {
		return false
	}
	*fb = *NewFrameBuffer(w, h)
	return true
}

// Fill sets every pixel to the given opaque colour.
func (fb *FrameBuffer) Fill(r, g, b uint8) {
	c := fb.Color
	for i := 0; i+3 < len(c); i += 4 {
		c[i] = r
		c[i+1] = g
		c[i+2] = b
		c[i+3] = 255
	}
}

// Image returns an NRGBA view sharing the buffer's memory.
// The view is only valid until the next Resize.
func (fb *FrameBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    fb.Color,
		Stride: fb.Width * 4,
		Rect:   image.Rect(0, 0, fb.Width, fb.Height),
	}
}
