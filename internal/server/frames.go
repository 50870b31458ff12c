package server

import (
	"bytes"
	"context"
	"image"
	"log"
	"sync"

	"github.com/HugoSmits86/nativewebp"

	"depthfx/internal/engine"
	"depthfx/internal/raster"
)

// frameStream decouples the render goroutine from WebP encoding. The engine
// sink only copies pixels; a separate goroutine encodes the newest frame and
// hands it to the hub. Frames published while an encode is running collapse
// into one.
type frameStream struct {
	hub    *hub
	logger *log.Logger

	mu      sync.Mutex
	pending *image.NRGBA // latest raw frame, owned by publish until taken
	spare   *image.NRGBA // recycled buffer for the next copy
	info    engine.FrameInfo
	notify  chan struct{}

	snapMu   sync.Mutex
	snapSeq  uint64
	snapRaw  *image.NRGBA
	snapWebP []byte
}

func newFrameStream(h *hub, logger *log.Logger) *frameStream {
	return &frameStream{
		hub:    h,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// publish is the engine sink. It runs on the render goroutine and must not
// block.
func (f *frameStream) publish(fb *raster.FrameBuffer, info engine.FrameInfo) {
	f.mu.Lock()
	buf := f.spare
	f.spare = nil
	if buf == nil || buf.Rect.Dx() != fb.Width || buf.Rect.Dy() != fb.Height {
		buf = image.NewNRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	}
	copy(buf.Pix, fb.Color)
	f.pending = buf
	f.info = info
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *frameStream) take() (*image.NRGBA, engine.FrameInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img := f.pending
	f.pending = nil
	return img, f.info
}

func (f *frameStream) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.notify:
		}
		img, info := f.take()
		if img == nil {
			continue
		}
		f.store(img, info.Seq)
		if f.hub.len() == 0 {
			continue
		}
		data, err := f.snapshot()
		if err != nil {
			f.logger.Printf("[server] encode frame %d: %v", info.Seq, err)
			continue
		}
		f.hub.broadcastFrame(data)
	}
}

// store keeps img as the snapshot source and recycles the previous one.
func (f *frameStream) store(img *image.NRGBA, seq uint64) {
	f.snapMu.Lock()
	prev := f.snapRaw
	f.snapRaw = img
	f.snapSeq = seq
	f.snapWebP = nil
	f.snapMu.Unlock()

	if prev != nil {
		f.mu.Lock()
		if f.spare == nil {
			f.spare = prev
		}
		f.mu.Unlock()
	}
}

// snapshot returns the latest frame as WebP, encoding it at most once.
// It returns nil data when no frame has been rendered yet.
func (f *frameStream) snapshot() ([]byte, error) {
	f.snapMu.Lock()
	defer f.snapMu.Unlock()
	if f.snapRaw == nil {
		return nil, nil
	}
	if f.snapWebP != nil {
		return f.snapWebP, nil
	}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, f.snapRaw, nil); err != nil {
		return nil, err
	}
	f.snapWebP = buf.Bytes()
	return f.snapWebP, nil
}
