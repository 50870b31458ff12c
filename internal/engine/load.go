package engine

import (
	"image"
	"time"
)

// retryAfter is the delay before a failed image load is attempted again.
const retryAfter = 2 * time.Second

// imageLoad is a background resolve of one image reference. img, err and
// at are written before done is closed.
type imageLoad struct {
	ref  string
	done chan struct{}
	img  *image.NRGBA
	err  error
	at   time.Time
}

// loadImage returns the load for ref and whether it has finished. It never
// blocks: a new reference starts a background load, and a failed load is
// restarted once retryAfter has passed. Called on the render goroutine.
func (e *Engine) loadImage(ref string, now time.Time) (*imageLoad, bool) {
	ld := e.load
	if ld == nil || ld.ref != ref {
		ld = e.startLoad(ref)
	}
	select {
	case <-ld.done:
	default:
		return ld, false
	}
	if ld.err != nil && now.Sub(ld.at) >= retryAfter {
		ld = e.startLoad(ref)
		select {
		case <-ld.done:
		default:
			return ld, false
		}
	}
	return ld, true
}

func (e *Engine) startLoad(ref string) *imageLoad {
	ld := &imageLoad{ref: ref, done: make(chan struct{})}
	e.load = ld
	e.loads.Add(1)
	go func() {
		defer e.loads.Done()
		ld.img, ld.err = e.resolver.Resolve(e.ctx, ref)
		ld.at = time.Now()
		close(ld.done)
	}()
	return ld
}
