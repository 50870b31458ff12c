// Package pose turns pointer positions and device-orientation angles into a
// normalized tilt vector.
//
// The vector follows a "leaning toward" convention: X is the vertical tilt
// (inverted, so the top of the viewport gives +1) and Y is the horizontal tilt.
package pose

import (
	"context"
	"sync"

	"depthfx/internal/mathutil"
)

// MaxTilt is the orientation angle, in degrees, that maps to a full ±1 tilt.
const MaxTilt = 45.0

// ScreenGain scales the pose when it is handed to the relief shader.
const ScreenGain = 1.5

// Vector is a tilt in [-1,1]×[-1,1].
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rest is the untilted pose.
var Rest = Vector{}

// Screen converts the tilt into the relief shader's screen-space pose:
// x grows to the right, y grows downward.
func (v Vector) Screen() Vector {
	return Vector{X: v.Y * ScreenGain, Y: -v.X * ScreenGain}
}

// LightPos returns the overlay light centre in percent of the layer.
func LightPos(v Vector) (x, y float64) {
	return 50 + v.Y*40, 50 - v.X*40
}

// FromPointer maps a pointer position inside a w×h viewport.
// The centre gives Rest and the top-left corner gives {1,-1}. Positions
// outside the viewport are clamped to its edge.
func FromPointer(x, y, w, h float64) Vector {
	xPct := mathutil.Clamp((x/w-0.5)*2, -1, 1)
	yPct := mathutil.Clamp((y/h-0.5)*2, -1, 1)
	return Vector{X: -yPct, Y: xPct}
}

// FromOrientation maps device beta/gamma angles in degrees.
// A phone held at 45° forward with no roll is at rest.
func FromOrientation(beta, gamma float64) Vector {
	b := mathutil.Clamp(beta-MaxTilt, -MaxTilt, MaxTilt) / MaxTilt
	g := mathutil.Clamp(gamma, -MaxTilt, MaxTilt) / MaxTilt
	return Vector{X: -b, Y: g}
}

// Mode selects which input source drives the pose.
type Mode int

const (
	ModePointer Mode = iota
	ModeOrientation
)

func (m Mode) String() string {
	if m == ModeOrientation {
		return "orientation"
	}
	return "pointer"
}

// PermissionGate asks the platform for orientation access.
// It returns true when access was granted.
type PermissionGate func(ctx context.Context) (bool, error)

// Sampler holds the latest pose. Pointer and orientation inputs are mutually
// exclusive: only the active mode's events are applied.
type Sampler struct {
	mu   sync.RWMutex
	v    Vector
	mode Mode
}

// NewSampler returns a sampler at rest in pointer mode.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Pointer applies a pointer move. Ignored in orientation mode.
func (s *Sampler) Pointer(x, y, w, h float64) {
	if w <= 0 || h <= 0 {
		return
	}
	v := FromPointer(x, y, w, h)
	s.mu.Lock()
	if s.mode == ModePointer {
		s.v = v
	}
	s.mu.Unlock()
}

// Leave resets the pose to rest when the pointer exits the viewport.
func (s *Sampler) Leave() {
	s.mu.Lock()
	if s.mode == ModePointer {
		s.v = Rest
	}
	s.mu.Unlock()
}

// Orientation applies a device-orientation reading. Ignored in pointer mode.
// Readings with a zero beta or gamma are treated as missing.
func (s *Sampler) Orientation(beta, gamma float64) {
	if beta == 0 || gamma == 0 {
		return
	}
	v := FromOrientation(beta, gamma)
	s.mu.Lock()
	if s.mode == ModeOrientation {
		s.v = v
	}
	s.mu.Unlock()
}

// EnableOrientation switches to orientation mode once the gate grants access.
// A nil gate means the platform does not ask for consent. A refusal or gate
// error leaves the sampler in pointer mode and is not reported.
func (s *Sampler) EnableOrientation(ctx context.Context, gate PermissionGate) bool {
	if gate != nil {
		granted, err := gate(ctx)
		if err != nil || !granted {
			return false
		}
	}
	s.mu.Lock()
	s.mode = ModeOrientation
	s.mu.Unlock()
	return true
}

// DisableOrientation returns to pointer mode at rest.
func (s *Sampler) DisableOrientation() {
	s.mu.Lock()
	s.mode = ModePointer
	s.v = Rest
	s.mu.Unlock()
}

// Current returns the latest pose.
func (s *Sampler) Current() Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Mode returns the active input mode.
func (s *Sampler) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}
