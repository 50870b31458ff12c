package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"depthfx/internal/config"
	"depthfx/internal/depthmask"
	"depthfx/internal/subject"
	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

func main() {
	configFile := flag.String("config", "", "Path to config.json file")
	source := flag.String("image", "", "Wallpaper to locate the subject in (requires a Gemini API key)")
	box := flag.String("box", "", "Subject box xmin,ymin,xmax,ymax in percent")
	res := flag.Int("res", 0, "Mask resolution (default: 512)")
	out := flag.String("out", "depth.png", "Output file (.png or .webp)")

	flag.Parse()

	var cfg config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Resolve(config.Flags{})
	if *res > 0 {
		cfg.DepthResolution = *res
	}

	b := wallpaper.FallbackBox
	switch {
	case *box != "":
		if _, err := fmt.Sscanf(*box, "%g,%g,%g,%g", &b.XMin, &b.YMin, &b.XMax, &b.YMax); err != nil || !b.Valid() {
			fmt.Fprintf(os.Stderr, "Error: invalid -box %q\n", *box)
			os.Exit(1)
		}
	case *source != "":
		b = locate(cfg, *source)
	}
	fmt.Printf("Box: %.1f,%.1f,%.1f,%.1f\n", b.XMin, b.YMin, b.XMax, b.YMax)

	mask := depthmask.Synthesize(b, cfg.DepthResolution)
	if err := write(*out, mask); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Depth map: %s (%dx%d)\n", *out, mask.Rect.Dx(), mask.Rect.Dy())
}

// locate runs subject detection, reporting but not failing on fallback.
func locate(cfg config.Config, source string) wallpaper.BoundingBox {
	ctx := context.Background()
	fetcher := &texture.Fetcher{
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		BaseDir:  cfg.BaseDir,
		MaxBytes: cfg.MaxBytes,
	}
	if strings.HasPrefix(source, "s3://") {
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
	data, err := fetcher.Fetch(ctx, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		os.Exit(1)
	}

	var loc subject.Locator
	if cfg.Gemini.APIKey != "" {
		loc = subject.NewGemini(subject.GeminiConfig{
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			APIKey:  cfg.Gemini.APIKey,
			Timeout: time.Duration(cfg.Gemini.Timeout),
			MaxSide: cfg.Gemini.MaxSide,
		})
	}
	r := subject.Detect(ctx, loc, data.Data, data.MIME)
	if r.Fallback {
		fmt.Fprintf(os.Stderr, "Warning: detection fell back to the centre box: %v\n", r.Err)
	}
	return r.Box
}

func write(path string, mask *image.Gray) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		rgba := image.NewNRGBA(mask.Rect)
		draw.Draw(rgba, rgba.Rect, mask, image.Point{}, draw.Src)
		return nativewebp.Encode(f, rgba, nil)
	default:
		return png.Encode(f, mask)
	}
}
