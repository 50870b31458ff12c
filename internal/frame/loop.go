package frame

import (
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// Loop calls a draw function once per frame until stopped.
//
// Each frame re-registers the next one after drawing. Stop cancels the
// pending registration, and a generation counter makes sure a callback that
// was already dequeued never draws for a stopped or restarted loop.
// Stop waits for an in-flight draw, so it must not be called from draw.
type Loop struct {
	sched  Scheduler
	draw   func(now time.Time)
	logger *log.Logger

	drawMu sync.Mutex // held for the duration of a frame

	mu      sync.Mutex
	gen     uint64
	running bool
	handle  Handle
}

// NewLoop creates a stopped loop.
func NewLoop(s Scheduler, draw func(now time.Time), logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{sched: s, draw: draw, logger: logger}
}

// Start begins drawing on the next frame. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.gen++
	l.arm(l.gen)
}

// Stop cancels the loop. No draw runs after Stop returns.
func (l *Loop) Stop() {
	l.drawMu.Lock()
	defer l.drawMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.gen++
	l.sched.Cancel(l.handle)
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// arm registers the next frame. Callers hold l.mu.
func (l *Loop) arm(gen uint64) {
	l.handle = l.sched.Register(func(now time.Time) { l.frame(gen, now) })
}

func (l *Loop) frame(gen uint64, now time.Time) {
	l.drawMu.Lock()
	defer l.drawMu.Unlock()

	l.mu.Lock()
	live := l.running && l.gen == gen
	l.mu.Unlock()
	if !live {
		return
	}

	l.safeDraw(now)

	l.mu.Lock()
	if l.running && l.gen == gen {
		l.arm(gen)
	}
	l.mu.Unlock()
}

// safeDraw keeps a failing frame from taking the scheduler down.
func (l *Loop) safeDraw(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("[frame] draw panic: %v\n%s", r, debug.Stack())
		}
	}()
	l.draw(now)
}
