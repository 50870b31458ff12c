package wallpaper

import (
	"image"
	"math"

	"depthfx/internal/mathutil"
)

// BoundingBox is a subject rectangle in percent of the image (0–100 on both axes).
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// FallbackBox is the centred box used whenever subject detection fails.
var FallbackBox = BoundingBox{XMin: 20, YMin: 20, XMax: 80, YMax: 80}

// Valid reports whether 0 ≤ min ≤ max ≤ 100 holds on both axes.
func (b BoundingBox) Valid() bool {
	return inRange(b.XMin) && inRange(b.XMax) && inRange(b.YMin) && inRange(b.YMax) &&
		b.XMin <= b.XMax && b.YMin <= b.YMax
}

func inRange(v float64) bool {
	return v >= 0 && v <= 100
}

// Finite reports whether every coordinate is a real number.
func (b BoundingBox) Finite() bool {
	for _, v := range [4]float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamp returns the box limited to [0,100] with inverted edges swapped.
func (b BoundingBox) Clamp() BoundingBox {
	c := BoundingBox{
		XMin: mathutil.Clamp(b.XMin, 0, 100),
		YMin: mathutil.Clamp(b.YMin, 0, 100),
		XMax: mathutil.Clamp(b.XMax, 0, 100),
		YMax: mathutil.Clamp(b.YMax, 0, 100),
	}
	if c.XMin > c.XMax {
		c.XMin, c.XMax = c.XMax, c.XMin
	}
	if c.YMin > c.YMax {
		c.YMin, c.YMax = c.YMax, c.YMin
	}
	return c
}

// Width and Height are the box extents in percent.
func (b BoundingBox) Width() float64  { return b.XMax - b.XMin }
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Settings are the five user-controlled render parameters.
// They apply globally to whichever wallpaper is active.
type Settings struct {
	DepthIntensity float64 `json:"depthIntensity"` // 0 to 45
	LightIntensity float64 `json:"lightIntensity"` // 0 to 1
	ShadowOpacity  float64 `json:"shadowOpacity"`  // 0 to 1
	Scale          float64 `json:"scale"`          // 0.8 to 1.5
	Perspective    float64 `json:"perspective"`    // pixels
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		DepthIntensity: 20,
		LightIntensity: 0.4,
		ShadowOpacity:  0.5,
		Scale:          1.05,
		Perspective:    1000,
	}
}

// Slider describes the range of one settings control.
type Slider struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Step  float64 `json:"step"`
}

// Sliders lists the settings controls in display order.
var Sliders = []Slider{
	{Key: "depthIntensity", Label: "3D Depth", Min: 0, Max: 45, Step: 1},
	{Key: "lightIntensity", Label: "Light Intensity", Min: 0, Max: 1, Step: 0.05},
	{Key: "shadowOpacity", Label: "Shadow Opacity", Min: 0, Max: 1, Step: 0.05},
	{Key: "scale", Label: "Perspective (Zoom)", Min: 0.8, Max: 1.5, Step: 0.01},
	{Key: "perspective", Label: "Perspective Distance", Min: 500, Max: 2000, Step: 50},
}

// Clamp limits every field to a range the renderers handle.
// Perspective is allowed wider than its slider so configs can go beyond it.
func (s Settings) Clamp() Settings {
	return Settings{
		DepthIntensity: mathutil.Clamp(s.DepthIntensity, 0, 45),
		LightIntensity: mathutil.Clamp(s.LightIntensity, 0, 1),
		ShadowOpacity:  mathutil.Clamp(s.ShadowOpacity, 0, 1),
		Scale:          mathutil.Clamp(s.Scale, 0.8, 1.5),
		Perspective:    mathutil.Clamp(s.Perspective, 100, 5000),
	}
}

// Entry is one wallpaper in the library.
type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"` // file path, http(s), s3:// or data: URL

	// Depth is nil until a depth buffer has been synthesized or uploaded.
	Depth       *image.Gray `json:"-"`
	DepthSource string      `json:"depthSource,omitempty"` // "synthetic" or "uploaded"
}

// HasDepth reports whether a depth buffer is attached.
func (e Entry) HasDepth() bool {
	return e.Depth != nil
}
