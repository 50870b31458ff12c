// Package subject finds the main foreground subject of an image.
//
// Detection is advisory: Detect never fails, it substitutes the centred
// fallback box and reports the cause alongside it.
package subject

import (
	"context"
	"errors"

	"depthfx/internal/wallpaper"
)

// ErrInvalidBox is returned for a box with non-finite coordinates.
var ErrInvalidBox = errors.New("subject: invalid bounding box")

// ErrNoLocator is returned when detection runs without a locator.
var ErrNoLocator = errors.New("subject: no locator configured")

// Locator returns the subject bounding box of an encoded image, in percent.
type Locator interface {
	Locate(ctx context.Context, encoded []byte, mimeType string) (wallpaper.BoundingBox, error)
}

// Result is the outcome of one detection.
type Result struct {
	Box      wallpaper.BoundingBox `json:"box"`
	Fallback bool                  `json:"fallback"`
	Err      error                 `json:"-"`
}

// Detect runs loc and always returns a valid box. Out-of-range boxes are
// clamped; on any failure the fallback box is used and Err holds the cause.
func Detect(ctx context.Context, loc Locator, encoded []byte, mimeType string) Result {
	if loc == nil {
		return fallback(ErrNoLocator)
	}
	box, err := loc.Locate(ctx, encoded, mimeType)
	if err != nil {
		return fallback(err)
	}
	if !box.Finite() {
		return fallback(ErrInvalidBox)
	}
	return Result{Box: box.Clamp()}
}

func fallback(err error) Result {
	return Result{Box: wallpaper.FallbackBox, Fallback: true, Err: err}
}

// Fixed is a Locator that always returns the same box.
type Fixed wallpaper.BoundingBox

// Locate implements Locator.
func (f Fixed) Locate(context.Context, []byte, string) (wallpaper.BoundingBox, error) {
	return wallpaper.BoundingBox(f), nil
}
