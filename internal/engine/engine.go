// Package engine owns the application state of a running wallpaper: the
// library, the active entry, the render settings, the pose and the render
// loop that turns them into frames.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"depthfx/internal/compositor"
	"depthfx/internal/depthmask"
	"depthfx/internal/frame"
	"depthfx/internal/pose"
	"depthfx/internal/raster"
	"depthfx/internal/subject"
	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

var (
	// ErrDetectionBusy is returned while a subject detection is in flight.
	ErrDetectionBusy = errors.New("engine: subject detection already running")
	// ErrNoActive is returned when the library is empty.
	ErrNoActive = errors.New("engine: no active wallpaper")
)

// Depth sources recorded on library entries.
const (
	DepthSynthetic = "synthetic"
	DepthUploaded  = "uploaded"
)

// Fetcher returns the encoded bytes behind a resource reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (texture.Resource, error)
}

// Path is the renderer that produced a frame.
type Path int

const (
	PathNone Path = iota
	PathRelief
	PathCompositor
)

func (p Path) String() string {
	switch p {
	case PathRelief:
		return "relief"
	case PathCompositor:
		return "compositor"
	}
	return "none"
}

// FrameInfo describes a published frame.
type FrameInfo struct {
	Seq     uint64
	Path    Path
	EntryID string
	Pose    pose.Vector
	Time    time.Time
}

// Sink receives every rendered frame on the render goroutine. The buffer is
// reused for the next frame, so sinks copy what they keep and return quickly.
type Sink func(fb *raster.FrameBuffer, info FrameInfo)

// Options wires an Engine.
type Options struct {
	Library         *wallpaper.Library
	Resolver        texture.Resolver
	Fetcher         Fetcher
	Locator         subject.Locator
	Scheduler       frame.Scheduler
	Width, Height   int
	Settings        wallpaper.Settings
	DepthResolution int
	Relief          raster.Options
	Background      color.NRGBA
	LayerTilt       bool
	Logger          *log.Logger
}

// Status is a snapshot of the engine state.
type Status struct {
	ActiveID      string `json:"activeId"`
	DepthEnabled  bool   `json:"depthEnabled"`
	HasDepth      bool   `json:"hasDepth"`
	Path          string `json:"path"`
	InputMode     string `json:"inputMode"`
	Detecting     bool   `json:"detecting"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ReliefBackend bool   `json:"reliefBackend"`
}

// Engine is the top-level application-state controller.
type Engine struct {
	lib      *wallpaper.Library
	resolver texture.Resolver
	fetcher  Fetcher
	locator  subject.Locator
	sched    frame.Scheduler
	logger   *log.Logger
	depthRes int
	tilt     bool
	pose     *pose.Sampler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	activeID string
	settings wallpaper.Settings
	depthOn  bool
	width    int
	height   int
	lastPath Path

	loopMu  sync.Mutex
	loop    *frame.Loop
	running bool

	// Owned by the render goroutine.
	relief  *raster.Relief
	comp    *compositor.Compositor
	fb      *raster.FrameBuffer
	failed  map[string]bool
	seq     uint64
	load    *imageLoad
	waiting bool // the last frame was skipped for a pending load

	loads sync.WaitGroup

	sinkMu   sync.RWMutex
	sinks    map[int]Sink
	nextSink int

	detecting atomic.Bool
}

// New creates an engine with the first library entry active. The render
// loop does not run until Start.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		lib:      opts.Library,
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		locator:  opts.Locator,
		sched:    opts.Scheduler,
		logger:   logger,
		depthRes: opts.DepthResolution,
		tilt:     opts.LayerTilt,
		pose:     pose.NewSampler(),
		ctx:      ctx,
		cancel:   cancel,
		settings: opts.Settings.Clamp(),
		depthOn:  true,
		width:    opts.Width,
		height:   opts.Height,
		comp:     compositor.New(compositor.Options{Background: opts.Background}),
		fb:       raster.NewFrameBuffer(0, 0),
		failed:   make(map[string]bool),
		sinks:    make(map[int]Sink),
	}
	if e.lib == nil {
		e.lib = wallpaper.NewLibrary(nil)
	}
	if e.depthRes <= 0 {
		e.depthRes = depthmask.DefaultResolution
	}
	if opts.Settings == (wallpaper.Settings{}) {
		e.settings = wallpaper.DefaultSettings()
	}

	relief, err := raster.NewRelief(opts.Relief)
	if err != nil {
		logger.Printf("[engine] %v, using the compositor", err)
	} else {
		e.relief = relief
	}

	if first, ok := e.lib.First(); ok {
		e.activeID = first.ID
	}
	return e
}

// Start runs the render loop.
func (e *Engine) Start() {
	e.loopMu.Lock()
	e.running = true
	e.loopMu.Unlock()
	e.restartLoop()
}

// Close stops the render loop, cancels in-flight resource loads and waits
// for them to return.
func (e *Engine) Close() {
	e.loopMu.Lock()
	e.running = false
	if e.loop != nil {
		e.loop.Stop()
		e.loop = nil
	}
	e.loopMu.Unlock()
	e.cancel()
	e.loads.Wait()
}

// restartLoop replaces the render loop. Called whenever the active image or
// its depth buffer changes identity.
func (e *Engine) restartLoop() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.loop != nil {
		e.loop.Stop()
		e.loop = nil
	}
	if !e.running || e.sched == nil {
		return
	}
	e.loop = frame.NewLoop(e.sched, e.drawFrame, e.logger)
	e.loop.Start()
}

// Pose returns the pose sampler fed by input events.
func (e *Engine) Pose() *pose.Sampler {
	return e.pose
}

// Library returns the wallpaper library.
func (e *Engine) Library() *wallpaper.Library {
	return e.lib
}

// Active returns the active entry.
func (e *Engine) Active() (wallpaper.Entry, error) {
	e.mu.RLock()
	id := e.activeID
	e.mu.RUnlock()
	if id == "" {
		return wallpaper.Entry{}, ErrNoActive
	}
	return e.lib.Get(id)
}

// Activate makes the entry with the given ID the displayed wallpaper.
func (e *Engine) Activate(id string) error {
	if _, err := e.lib.Get(id); err != nil {
		return fmt.Errorf("engine: activate %s: %w", id, err)
	}
	e.mu.Lock()
	changed := e.activeID != id
	e.activeID = id
	e.mu.Unlock()
	if changed {
		e.restartLoop()
	}
	return nil
}

// Upload adds a wallpaper to the front of the library and activates it.
func (e *Engine) Upload(name, source string) wallpaper.Entry {
	entry := e.lib.Add(name, source)
	e.mu.Lock()
	e.activeID = entry.ID
	e.mu.Unlock()
	e.restartLoop()
	return entry
}

// Settings returns the current render settings.
func (e *Engine) Settings() wallpaper.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// SetSettings replaces the render settings from the next frame on.
// Out-of-range values are clamped.
func (e *Engine) SetSettings(s wallpaper.Settings) wallpaper.Settings {
	s = s.Clamp()
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	return s
}

// SetDepthEnabled switches between the relief and compositor paths.
// The depth buffer is kept either way.
func (e *Engine) SetDepthEnabled(on bool) {
	e.mu.Lock()
	e.depthOn = on
	e.mu.Unlock()
}

// ToggleDepth flips depth mode and returns the new state.
func (e *Engine) ToggleDepth() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depthOn = !e.depthOn
	return e.depthOn
}

// DepthEnabled reports whether depth mode is on.
func (e *Engine) DepthEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.depthOn
}

// Resize sets the output surface size. Non-positive sizes are ignored.
func (e *Engine) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	e.mu.Lock()
	e.width, e.height = w, h
	e.mu.Unlock()
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		ActiveID:      e.activeID,
		DepthEnabled:  e.depthOn,
		Path:          e.lastPath.String(),
		Width:         e.width,
		Height:        e.height,
		ReliefBackend: e.relief != nil,
	}
	e.mu.RUnlock()
	if entry, err := e.lib.Get(st.ActiveID); err == nil {
		st.HasDepth = entry.HasDepth()
	}
	st.InputMode = e.pose.Mode().String()
	st.Detecting = e.detecting.Load()
	return st
}

// AttachDepth installs a user-supplied depth image on an entry and turns
// depth mode on.
func (e *Engine) AttachDepth(id string, img image.Image) (wallpaper.Entry, error) {
	entry, err := e.lib.AttachDepth(id, depthmask.FromImage(img), DepthUploaded)
	if err != nil {
		return wallpaper.Entry{}, fmt.Errorf("engine: attach depth %s: %w", id, err)
	}
	e.depthAttached(id)
	return entry, nil
}

func (e *Engine) depthAttached(id string) {
	e.mu.Lock()
	e.depthOn = true
	active := e.activeID == id
	e.mu.Unlock()
	if active {
		e.restartLoop()
	}
}

// DetectSubject locates the subject of the active wallpaper, synthesizes a
// depth mask from it and turns depth mode on. Only one detection runs at a
// time; a concurrent call gets ErrDetectionBusy. Detection failures are not
// errors: the fallback box is used and reported in the result.
func (e *Engine) DetectSubject(ctx context.Context) (subject.Result, error) {
	if !e.detecting.CompareAndSwap(false, true) {
		return subject.Result{}, ErrDetectionBusy
	}
	defer e.detecting.Store(false)

	entry, err := e.Active()
	if err != nil {
		return subject.Result{}, err
	}

	var res subject.Result
	if e.fetcher == nil {
		res = subject.Detect(ctx, nil, nil, "")
	} else if data, ferr := e.fetcher.Fetch(ctx, entry.Source); ferr != nil {
		res = subject.Result{Box: wallpaper.FallbackBox, Fallback: true, Err: ferr}
	} else {
		res = subject.Detect(ctx, e.locator, data.Data, data.MIME)
	}
	if res.Fallback {
		e.logger.Printf("[engine] subject detection for %q fell back to the centre box: %v", entry.Name, res.Err)
	}

	depth := depthmask.Synthesize(res.Box, e.depthRes)
	if _, err := e.lib.AttachDepth(entry.ID, depth, DepthSynthetic); err != nil {
		return res, fmt.Errorf("engine: attach depth %s: %w", entry.ID, err)
	}
	e.depthAttached(entry.ID)
	return res, nil
}

// AddSink registers a frame consumer and returns a function removing it.
func (e *Engine) AddSink(s Sink) (remove func()) {
	e.sinkMu.Lock()
	id := e.nextSink
	e.nextSink++
	e.sinks[id] = s
	e.sinkMu.Unlock()
	return func() {
		e.sinkMu.Lock()
		delete(e.sinks, id)
		e.sinkMu.Unlock()
	}
}

// drawFrame renders one frame. It runs on the scheduler goroutine and never
// waits on a resource load: until the active image is decoded the previous
// frame stays on screen.
func (e *Engine) drawFrame(now time.Time) {
	e.waiting = false
	e.mu.RLock()
	id := e.activeID
	s := e.settings
	depthOn := e.depthOn
	w, h := e.width, e.height
	e.mu.RUnlock()
	if id == "" || w <= 0 || h <= 0 {
		return
	}
	entry, err := e.lib.Get(id)
	if err != nil {
		return
	}
	p := e.pose.Current()

	ld, ready := e.loadImage(entry.Source, now)
	if !ready {
		e.waiting = true
		return
	}
	if ld.err != nil {
		// Hold the last frame; report each broken source once.
		if !e.failed[entry.Source] {
			e.failed[entry.Source] = true
			e.logger.Printf("[engine] load %q: %v", entry.Name, ld.err)
		}
		return
	}
	delete(e.failed, entry.Source)
	img := ld.img

	out, path := e.render(img, entry.Depth, p, s, depthOn, w, h)

	e.mu.Lock()
	e.lastPath = path
	e.mu.Unlock()

	e.seq++
	info := FrameInfo{Seq: e.seq, Path: path, EntryID: entry.ID, Pose: p, Time: now}
	e.sinkMu.RLock()
	for _, sink := range e.sinks {
		sink(out, info)
	}
	e.sinkMu.RUnlock()
}

func (e *Engine) render(img *image.NRGBA, depth *image.Gray, p pose.Vector, s wallpaper.Settings, depthOn bool, w, h int) (*raster.FrameBuffer, Path) {
	e.fb.Resize(w, h)
	if depthOn && depth != nil && e.relief != nil {
		if err := e.relief.Resize(w, h); err == nil {
			out := e.relief.Render(img, depth, p.Screen(), s)
			if e.tilt {
				e.comp.Tilt(e.fb, out, p, s)
				out = e.fb
			}
			return out, PathRelief
		}
	}
	e.comp.Render(e.fb, img, p, s)
	return e.fb, PathCompositor
}
