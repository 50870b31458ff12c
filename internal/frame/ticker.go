package frame

import (
	"log"
	"sync"
	"time"
)

// DefaultFPS is the refresh rate used when none is configured.
const DefaultFPS = 60

// Ticker is a Scheduler paced by a time.Ticker. Callbacks run sequentially
// on the ticker goroutine.
type Ticker struct {
	queue

	interval time.Duration
	logger   *log.Logger
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewTicker starts a scheduler at fps frames per second.
func NewTicker(fps int, logger *log.Logger) *Ticker {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &Ticker{
		interval: time.Second / time.Duration(fps),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.done)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-tk.C:
			start := time.Now()
			t.flush(now)
			if el := time.Since(start); el > 2*t.interval {
				t.logger.Printf("[frame] slow frame: %v (budget %v)", el, t.interval)
			}
		}
	}
}

// Interval returns the time between frames.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Close stops the ticker and waits for the running frame to finish.
// Pending callbacks are dropped.
func (t *Ticker) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
