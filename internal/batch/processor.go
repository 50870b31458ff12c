package batch

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HugoSmits86/nativewebp"

	"depthfx/internal/compositor"
	"depthfx/internal/pose"
	"depthfx/internal/postprocess"
	"depthfx/internal/raster"
	"depthfx/internal/wallpaper"
)

// Config holds all shared settings for a batch run.
type Config struct {
	OutputDir   string
	Width       int
	Height      int
	Settings    wallpaper.Settings
	Background  color.NRGBA
	Relief      raster.Options // per worker
	Supersample int
	Workers     int
	Quiet       bool // suppress the progress reporter
}

// Job is one frame to render. A nil Depth renders through the compositor.
type Job struct {
	Name  string // output path relative to OutputDir, without extension
	Image *image.NRGBA
	Depth *image.Gray
	Pose  pose.Vector
}

// Result holds the outcome of rendering one job.
type Result struct {
	Name    string
	Image   string
	Pose    pose.Vector
	Path    string
	Success bool
	Error   string
}

// Sweep returns n poses evenly spaced on the unit circle, starting at
// {0, 1} (tilted right) and turning counter-clockwise.
func Sweep(n int) []pose.Vector {
	if n <= 0 {
		return nil
	}
	out := make([]pose.Vector, n)
	for i := range out {
		a := 2 * math.Pi * float64(i) / float64(n)
		out[i] = pose.Vector{X: math.Sin(a), Y: math.Cos(a)}
	}
	return out
}

// SweepJobs builds one job per pose, named "<name>/<index>".
func SweepJobs(name string, img *image.NRGBA, depth *image.Gray, poses []pose.Vector) []Job {
	jobs := make([]Job, len(poses))
	for i, p := range poses {
		jobs[i] = Job{
			Name:  fmt.Sprintf("%s/%03d", name, i),
			Image: img,
			Depth: depth,
			Pose:  p,
		}
	}
	return jobs
}

// Run renders all jobs using a worker pool.
func Run(cfg Config, jobs []Job) []Result {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Supersample < 1 {
		cfg.Supersample = 1
	}
	if cfg.Settings == (wallpaper.Settings{}) {
		cfg.Settings = wallpaper.DefaultSettings()
	}
	total := len(jobs)
	results := make([]Result, total)
	var processed atomic.Int64

	start := time.Now()

	// Progress reporter
	done := make(chan struct{})
	if !cfg.Quiet {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					p := processed.Load()
					if p > 0 {
						elapsed := time.Since(start).Seconds()
						rate := float64(p) / elapsed
						fmt.Printf("  [%d/%d] %.1f frames/sec\n", p, total, rate)
					}
				}
			}
		}()
	}

	// Worker pool
	jobChan := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wk := newWorker(cfg)
			for idx := range jobChan {
				results[idx] = wk.process(jobs[idx])
				processed.Add(1)
			}
		}()
	}

	// Send work
	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(done)

	return results
}

// worker owns its render targets; none of them are safe for concurrent use.
type worker struct {
	cfg    Config
	relief *raster.Relief
	comp   *compositor.Compositor
	fb     *raster.FrameBuffer
}

func newWorker(cfg Config) *worker {
	wk := &worker{
		cfg:  cfg,
		comp: compositor.New(compositor.Options{Background: cfg.Background, Workers: 1, PixelScale: float64(cfg.Supersample)}),
		fb:   raster.NewFrameBuffer(0, 0),
	}
	if r, err := raster.NewRelief(cfg.Relief); err == nil {
		wk.relief = r
	}
	return wk
}

func (wk *worker) process(job Job) Result {
	res := Result{Name: job.Name, Pose: job.Pose, Image: job.Name + ".webp"}
	if job.Image == nil {
		res.Error = "no image"
		return res
	}

	img, path, err := wk.render(job)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Path = path

	outPath := filepath.Join(wk.cfg.OutputDir, filepath.FromSlash(res.Image))
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		res.Error = err.Error()
		return res
	}

	f, err := os.Create(outPath)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	if err := nativewebp.Encode(f, img, nil); err != nil {
		res.Error = fmt.Sprintf("WebP encode: %v", err)
		return res
	}

	res.Success = true
	return res
}

// render draws one frame at the supersampled size and scales it back down.
// The returned image may share the worker's buffers.
func (wk *worker) render(job Job) (*image.NRGBA, string, error) {
	ss := wk.cfg.Supersample
	w, h := wk.cfg.Width*ss, wk.cfg.Height*ss
	if w <= 0 || h <= 0 {
		return nil, "", fmt.Errorf("invalid output size %dx%d", wk.cfg.Width, wk.cfg.Height)
	}
	s := wk.cfg.Settings

	var out *image.NRGBA
	path := "compositor"
	if job.Depth != nil && wk.relief != nil && wk.relief.Resize(w, h) == nil {
		out = wk.relief.Render(job.Image, job.Depth, job.Pose.Screen(), s).Image()
		path = "relief"
	} else {
		wk.fb.Resize(w, h)
		wk.comp.Render(wk.fb, job.Image, job.Pose, s)
		out = wk.fb.Image()
	}

	if ss > 1 {
		out = postprocess.Downsample(out, wk.cfg.Width, wk.cfg.Height)
	}
	return out, path, nil
}
