package compositor

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"depthfx/internal/pose"
	"depthfx/internal/postprocess"
	"depthfx/internal/raster"
	"depthfx/internal/wallpaper"
)

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 77, A: 255})
		}
	}
	return img
}

func flatImage(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func TestAnglesMonotonicInIntensity(t *testing.T) {
	p := pose.Vector{X: -0.4, Y: 0.9}
	prev := -1.0
	for di := 0.0; di <= 45; di += 5 {
		rx, ry := Angles(p, di)
		mag := math.Hypot(rx, ry)
		if mag < prev {
			t.Fatalf("rotation magnitude fell to %v at intensity %v", mag, di)
		}
		prev = mag
	}
}

func TestHomographyIdentityAtZeroDepth(t *testing.T) {
	h := Homography(0, 0, 1, 1000)
	if !h.ApproxEqual(mgl64.Ident3()) {
		t.Errorf("Homography(0,0,1) = %v; want identity", h)
	}
}

func TestHomographyScalesAboutCentre(t *testing.T) {
	h := Homography(0, 0, 1.5, 1000)
	got := h.Mul3x1(mgl64.Vec3{10, -4, 1})
	if math.Abs(got[0]/got[2]-15) > 1e-9 || math.Abs(got[1]/got[2]+6) > 1e-9 {
		t.Errorf("scaled point = %v; want (15,-6)", got)
	}
}

func TestHomographyPerspectiveForeshortens(t *testing.T) {
	// Tilting about Y pushes one side toward the viewer and the other away.
	h := Homography(0, 30, 1, 1000)
	right := h.Mul3x1(mgl64.Vec3{100, 0, 1})
	left := h.Mul3x1(mgl64.Vec3{-100, 0, 1})
	r := math.Abs(right[0] / right[2])
	l := math.Abs(left[0] / left[2])
	if math.Abs(r-l) < 1 {
		t.Errorf("projected half-widths %v and %v; want visible foreshortening", l, r)
	}
}

func TestRenderZeroDepthIgnoresPose(t *testing.T) {
	img := gradientImage(48, 32)
	s := wallpaper.Settings{DepthIntensity: 0, LightIntensity: 0, ShadowOpacity: 0.5, Scale: 1, Perspective: 1000}
	c := New(Options{Workers: 2})

	rest := raster.NewFrameBuffer(48, 32)
	c.Render(rest, img, pose.Rest, s)
	tilted := raster.NewFrameBuffer(48, 32)
	c.Render(tilted, img, pose.Vector{X: 1, Y: -1}, s)

	for i := range rest.Color {
		if rest.Color[i] != tilted.Color[i] {
			t.Fatalf("byte %d differs: %d vs %d", i, rest.Color[i], tilted.Color[i])
		}
	}
	// Same aspect, scale 1: the card is the image itself.
	for i := range img.Pix {
		if rest.Color[i] != img.Pix[i] {
			t.Fatalf("byte %d = %d; want source %d", i, rest.Color[i], img.Pix[i])
		}
	}
}

func TestRenderOverlayLight(t *testing.T) {
	img := flatImage(64, 64, 64)
	s := wallpaper.Settings{DepthIntensity: 0, LightIntensity: 1, Scale: 1, Perspective: 1000}
	fb := raster.NewFrameBuffer(64, 64)
	New(Options{}).Render(fb, img, pose.Rest, s)

	// Overlay of white on a 25% backdrop doubles it near the light centre.
	centre := fb.Color[(32*64+32)*4]
	if centre < 123 || centre > 128 {
		t.Errorf("centre = %d; want about 126", centre)
	}
	// Beyond 60% of the farthest-corner radius the image is untouched.
	corner := fb.Color[0]
	if corner != 64 {
		t.Errorf("corner = %d; want 64", corner)
	}
}

func TestRenderShadow(t *testing.T) {
	img := flatImage(100, 100, 255)
	bg := color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	s := wallpaper.Settings{DepthIntensity: 0, LightIntensity: 0, ShadowOpacity: 1, Scale: 0.8, Perspective: 1000}

	fb := raster.NewFrameBuffer(100, 100)
	New(Options{Background: bg}).Render(fb, img, pose.Rest, s)
	near := fb.Color[(50*100+5)*4]
	if near >= 100 {
		t.Errorf("pixel next to the card = %d; want shadowed below 100", near)
	}
	inside := fb.Color[(50*100+50)*4]
	if inside != 255 {
		t.Errorf("card pixel = %d; want 255", inside)
	}

	s.ShadowOpacity = 0
	New(Options{Background: bg}).Render(fb, img, pose.Rest, s)
	if v := fb.Color[(50*100+5)*4]; v != 100 {
		t.Errorf("unshadowed background = %d; want 100", v)
	}
}

func TestPixelScaleMatchesLayoutRender(t *testing.T) {
	bg := color.NRGBA{R: 220, G: 220, B: 220, A: 255}
	s := wallpaper.Settings{DepthIntensity: 10, LightIntensity: 0, ShadowOpacity: 1, Scale: 0.7, Perspective: 3000}
	p := pose.Vector{X: 1, Y: -1}

	// Pixels that change with the card colour are on the card.
	base := raster.NewFrameBuffer(64, 48)
	New(Options{Background: bg}).Render(base, flatImage(64, 48, 255), p, s)
	dark := raster.NewFrameBuffer(64, 48)
	New(Options{Background: bg}).Render(dark, flatImage(64, 48, 0), p, s)
	onCard := make([]bool, 64*48)
	for i := range onCard {
		onCard[i] = base.Color[i*4] != dark.Color[i*4]
	}

	tests := []struct {
		name  string
		scale int
	}{
		{"2x", 2},
		{"3x", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			big := raster.NewFrameBuffer(64*tt.scale, 48*tt.scale)
			New(Options{Background: bg, PixelScale: float64(tt.scale)}).Render(big, flatImage(64, 48, 255), p, s)
			small := postprocess.Downsample(big.Image(), 64, 48)

			// Compare away from the card outline, where the renders sample a
			// hard step at different positions.
			compared := 0
			for y := 2; y < 46; y++ {
				for x := 2; x < 62; x++ {
					if !sameSideAround(onCard, 64, x, y) {
						continue
					}
					compared++
					want := int(base.Color[(y*64+x)*4])
					got := int(small.Pix[small.PixOffset(x, y)])
					if d := got - want; d < -6 || d > 6 {
						t.Fatalf("pixel (%d,%d) = %d at %dx; want %d", x, y, got, tt.scale, want)
					}
				}
			}
			if compared < 60*44/2 {
				t.Errorf("only %d pixels compared", compared)
			}
		})
	}
}

// sameSideAround reports whether the 5×5 neighbourhood of (x, y) lies
// entirely on or entirely off the card.
func sameSideAround(onCard []bool, w, x, y int) bool {
	c := onCard[y*w+x]
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if onCard[(y+dy)*w+x+dx] != c {
				return false
			}
		}
	}
	return true
}

func TestRenderNilImageFillsBackground(t *testing.T) {
	fb := raster.NewFrameBuffer(4, 4)
	New(Options{}).Render(fb, nil, pose.Rest, wallpaper.DefaultSettings())
	if fb.Color[0] != DefaultBackground.R || fb.Color[2] != DefaultBackground.B || fb.Color[3] != 255 {
		t.Errorf("pixel = %v; want background", fb.Color[:4])
	}
}

func TestTiltKeepsFrameAtRest(t *testing.T) {
	src := raster.NewFrameBuffer(16, 16)
	copy(src.Color, gradientImage(16, 16).Pix)
	dst := raster.NewFrameBuffer(16, 16)
	s := wallpaper.Settings{DepthIntensity: 30, Scale: 1, Perspective: 1000}
	New(Options{}).Tilt(dst, src, pose.Rest, s)
	for i := range src.Color {
		if dst.Color[i] != src.Color[i] {
			t.Fatalf("byte %d = %d; want %d", i, dst.Color[i], src.Color[i])
		}
	}
}

func TestOverlayWhite(t *testing.T) {
	tests := []struct {
		cb, a, want float64
	}{
		{0, 1, 0},
		{64, 1, 128},
		{200, 1, 255},
		{100, 0, 100},
		{100, 0.5, 150},
	}
	for _, tt := range tests {
		if got := overlayWhite(tt.cb, tt.a); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("overlayWhite(%v,%v) = %v; want %v", tt.cb, tt.a, got, tt.want)
		}
	}
}
