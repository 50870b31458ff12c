package raster

import (
	"math"

	"depthfx/internal/mathutil"
)

// LightConfig holds the relief lighting constants.
type LightConfig struct {
	Ambient     float64 // floor added to the weighted diffuse term
	Diffuse     float64 // weight of the Lambert term
	Specular    float64 // weight of the Phong term
	Shininess   float64 // Phong exponent
	Bias        float64 // z component of the light direction before normalization
	GradientEps float64 // finite-difference step in uv units
	GradientAmp float64 // amplification of depth differences into normal tilt
	ViewDir     mathutil.Vec3
}

// DefaultLightConfig returns the tuning the relief effect was calibrated with.
func DefaultLightConfig() LightConfig {
	return LightConfig{
		Ambient:     0.5,
		Diffuse:     0.5,
		Specular:    0.3,
		Shininess:   16,
		Bias:        0.5,
		GradientEps: 0.005,
		GradientAmp: 10,
		ViewDir:     mathutil.Vec3{0, 0, 1},
	}
}

// LightDir returns the light direction for a screen-space pose. The light
// sits opposite the viewer's horizontal shift and leans toward the screen.
func (lc *LightConfig) LightDir(px, py float64) mathutil.Vec3 {
	return mathutil.Vec3{-px, py, lc.Bias}.Normalize()
}

// Normal builds the surface normal from central depth differences.
func (lc *LightConfig) Normal(dX, dY float64) mathutil.Vec3 {
	return mathutil.Vec3{dX * lc.GradientAmp, dY * lc.GradientAmp, 1}.Normalize()
}

// ComputeShade returns the combined lighting scalar for a surface normal:
// ambient + weighted Lambert + weighted Phong highlight. The sum is not
// normalized and may exceed 1.
func (lc *LightConfig) ComputeShade(normal, lightDir mathutil.Vec3) float64 {
	diffuse := normal.Dot(lightDir)
	if diffuse < 0 {
		diffuse = 0
	}

	reflected := mathutil.Reflect(lightDir.Scale(-1), normal)
	rdv := reflected.Dot(lc.ViewDir)
	if rdv < 0 {
		rdv = 0
	}
	spec := pow(rdv, lc.Shininess)

	return diffuse*lc.Diffuse + lc.Ambient + spec*lc.Specular
}

// pow takes the fast path for the default exponent.
func pow(x, n float64) float64 {
	if n == 16 {
		x2 := x * x
		x4 := x2 * x2
		x8 := x4 * x4
		return x8 * x8
	}
	return math.Pow(x, n)
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
