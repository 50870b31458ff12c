package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"depthfx/internal/config"
	"depthfx/internal/engine"
	"depthfx/internal/frame"
	"depthfx/internal/raster"
	"depthfx/internal/server"
	"depthfx/internal/subject"
	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

func main() {
	// CLI flags
	configFile := flag.String("config", "", "Path to config.json file")
	addr := flag.String("addr", "", "Listen address (default: :8080)")
	libraryDir := flag.String("library", "", "Directory of wallpapers to seed the library with")
	width := flag.Int("width", 0, "Surface width in pixels (default: 1080)")
	height := flag.Int("height", 0, "Surface height in pixels (default: 1920)")
	fps := flag.Int("fps", 0, "Frames per second (default: 60)")
	workers := flag.Int("workers", 0, "Relief shading workers (default: NumCPU)")
	noRelief := flag.Bool("no-relief", false, "Always use the compositor path")
	open := flag.Bool("open", false, "Open the viewer in the default browser")

	flag.Parse()

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
		Addr:       *addr,
		LibraryDir: *libraryDir,
		Width:      *width,
		Height:     *height,
		FPS:        *fps,
		Workers:    *workers,
		NoRelief:   *noRelief,
	})

	logger := log.New(os.Stderr, "", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resources
	uploads := texture.NewMemStore()
	fetcher := &texture.Fetcher{
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Memory:   uploads,
		BaseDir:  cfg.BaseDir,
		MaxBytes: cfg.MaxBytes,
		MaxSide:  cfg.MaxSide,
	}
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		store, err := texture.NewS3Store(ctx, texture.S3Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			logger.Printf("Warning: S3 disabled: %v", err)
		} else {
			fetcher.S3 = store
		}
	}
	cache := texture.NewCache(fetcher, cfg.CacheSize)

	seeds := wallpaper.DefaultSeeds
	if cfg.LibraryDir != "" {
		idx := texture.BuildIndex(cfg.LibraryDir)
		if idx.Len() == 0 {
			logger.Printf("Warning: no images in %s, using the built-in library", cfg.LibraryDir)
		} else {
			seeds = idx.Seeds()
		}
	}

	var locator subject.Locator
	if cfg.Gemini.APIKey != "" {
		locator = subject.NewGemini(subject.GeminiConfig{
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			APIKey:  cfg.Gemini.APIKey,
			Timeout: time.Duration(cfg.Gemini.Timeout),
			MaxSide: cfg.Gemini.MaxSide,
		})
	} else {
		logger.Println("Warning: no Gemini API key, subject detection will use the centre box")
	}

	// Engine
	ticker := frame.NewTicker(cfg.FPS, logger)
	r, g, b := cfg.BackgroundRGB()
	eng := engine.New(engine.Options{
		Library:         wallpaper.NewLibrary(seeds),
		Resolver:        cache,
		Fetcher:         fetcher,
		Locator:         locator,
		Scheduler:       ticker,
		Width:           cfg.Width,
		Height:          cfg.Height,
		Settings:        *cfg.Settings,
		DepthResolution: cfg.DepthResolution,
		Relief: raster.Options{
			Disabled:  cfg.DisableRelief,
			MaxPixels: cfg.MaxReliefPixels,
			Workers:   cfg.Workers,
		},
		Background: color.NRGBA{R: r, G: g, B: b, A: 255},
		LayerTilt:  cfg.LayerTilt,
		Logger:     logger,
	})
	eng.Start()

	srv := server.New(server.Options{
		Engine:    eng,
		Uploads:   uploads,
		MaxUpload: cfg.MaxBytes,
		Logger:    logger,
	})

	fmt.Println("DepthFX parallax wallpaper")
	fmt.Printf("Wallpapers: %d, Surface: %dx%d @ %d fps\n", eng.Library().Len(), cfg.Width, cfg.Height, cfg.FPS)
	fmt.Printf("Listening: %s\n", cfg.Addr)
	fmt.Println("------------------------------------------------------------")

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(cfg.Addr)
	}()

	if *open {
		url := cfg.Addr
		if strings.HasPrefix(url, ":") {
			url = "localhost" + url
		}
		_ = browser.OpenURL("http://" + url + "/api/frame.webp")
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	logger.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown error: %v", err)
	}
	eng.Close()
	ticker.Close()
}
