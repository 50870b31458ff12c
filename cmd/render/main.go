package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"depthfx/internal/batch"
	"depthfx/internal/config"
	"depthfx/internal/depthmask"
	"depthfx/internal/raster"
	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

func main() {
	// CLI flags
	configFile := flag.String("config", "", "Path to config.json file")
	source := flag.String("image", "", "Wallpaper to render (path, http(s), s3:// or data: URL)")
	depthRef := flag.String("depth", "", "Depth map image (default: synthesize from -box)")
	box := flag.String("box", "", "Subject box xmin,ymin,xmax,ymax in percent (default: centre box)")
	flat := flag.Bool("flat", false, "Render through the compositor without depth")
	frames := flag.Int("frames", 24, "Number of poses in the sweep")
	workers := flag.Int("workers", 0, "Number of worker goroutines (default: NumCPU)")
	outputDir := flag.String("output", "", "Output directory (default: renders)")
	width := flag.Int("width", 0, "Frame width in pixels (default: 1080)")
	height := flag.Int("height", 0, "Frame height in pixels (default: 1920)")

	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "Error: -image is required.")
		os.Exit(1)
	}

	// Load config
	var cfg config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI flags override config file
	cfg.Resolve(config.Flags{
		OutputDir: *outputDir,
		Width:     *width,
		Height:    *height,
		Workers:   *workers,
	})

	ctx := context.Background()
	fetcher := &texture.Fetcher{
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		BaseDir:  cfg.BaseDir,
		MaxBytes: cfg.MaxBytes,
		MaxSide:  cfg.MaxSide,
	}
	if strings.HasPrefix(*source, "s3://") || strings.HasPrefix(*depthRef, "s3://") {
		store, err := texture.NewS3Store(ctx, texture.S3Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error configuring S3: %v\n", err)
			os.Exit(1)
		}
		fetcher.S3 = store
	}

	img, err := fetcher.Load(ctx, *source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		os.Exit(1)
	}

	var depth *image.Gray
	switch {
	case *flat:
	case *depthRef != "":
		d, err := fetcher.Load(ctx, *depthRef)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading depth map: %v\n", err)
			os.Exit(1)
		}
		depth = depthmask.FromImage(d)
	default:
		b := wallpaper.FallbackBox
		if *box != "" {
			if _, err := fmt.Sscanf(*box, "%g,%g,%g,%g", &b.XMin, &b.YMin, &b.XMax, &b.YMax); err != nil || !b.Valid() {
				fmt.Fprintf(os.Stderr, "Error: invalid -box %q\n", *box)
				os.Exit(1)
			}
		}
		depth = depthmask.Synthesize(b, cfg.DepthResolution)
	}

	name := strings.TrimSuffix(filepath.Base(*source), filepath.Ext(*source))
	if name == "" || strings.ContainsAny(name, ":,;") {
		name = "wallpaper"
	}
	jobs := batch.SweepJobs(name, img, depth, batch.Sweep(*frames))
	if len(jobs) == 0 {
		fmt.Println("No frames to render.")
		os.Exit(0)
	}

	mode := "relief"
	if depth == nil || cfg.DisableRelief {
		mode = "compositor"
	}
	fmt.Printf("DepthFX sweep renderer → WebP (%s)\n", mode)
	fmt.Printf("Frames: %d, Size: %dx%d, Workers: %d\n", len(jobs), cfg.Width, cfg.Height, cfg.Workers)
	fmt.Printf("Output: %s\n", cfg.OutputDir)
	fmt.Println("------------------------------------------------------------")

	start := time.Now()

	// Run batch
	r, g, b := cfg.BackgroundRGB()
	batchCfg := batch.Config{
		OutputDir:  cfg.OutputDir,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Settings:   *cfg.Settings,
		Background: color.NRGBA{R: r, G: g, B: b, A: 255},
		Relief: raster.Options{
			Disabled:  cfg.DisableRelief,
			MaxPixels: cfg.MaxReliefPixels,
			Workers:   1,
		},
		Supersample: cfg.Supersample,
		Workers:     cfg.Workers,
	}

	results := batch.Run(batchCfg, jobs)

	elapsed := time.Since(start)
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Done in %.1fs\n", elapsed.Seconds())

	// Count results
	success, failed := 0, 0
	var errors []batch.Result
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failed++
			errors = append(errors, r)
		}
	}

	fmt.Printf("Rendered: %d/%d\n", success, len(jobs))

	if len(errors) > 0 {
		fmt.Printf("\nFailed (%d):\n", failed)
		limit := min(20, len(errors))
		for _, e := range errors[:limit] {
			fmt.Printf("  %s: %s\n", e.Name, e.Error)
		}
	}

	// Write manifest
	manifestPath := filepath.Join(cfg.OutputDir, "manifest.json")
	os.MkdirAll(cfg.OutputDir, 0755)
	if err := batch.WriteManifest(manifestPath, results); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: manifest write failed: %v\n", err)
	} else {
		fmt.Printf("Manifest: %s\n", manifestPath)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
