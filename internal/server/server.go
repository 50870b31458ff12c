// Package server exposes an Engine over HTTP: a JSON API for the library,
// settings and subject detection, and a WebSocket that takes pose input and
// streams rendered frames as WebP.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"depthfx/internal/engine"
	"depthfx/internal/texture"
)

// DefaultMaxUpload caps multipart uploads.
const DefaultMaxUpload = 32 << 20

// Options configures a Server.
type Options struct {
	Engine    *engine.Engine
	Uploads   *texture.MemStore // where uploaded images are kept
	MaxUpload int64
	Logger    *log.Logger
}

// Server is the HTTP and WebSocket front end of an Engine.
type Server struct {
	echo      *echo.Echo
	eng       *engine.Engine
	uploads   *texture.MemStore
	maxUpload int64
	logger    *log.Logger
	frames    *frameStream
	hub       *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	remove func()
}

// New builds the routes and subscribes to the engine's frames.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      echo.New(),
		eng:       opts.Engine,
		uploads:   opts.Uploads,
		maxUpload: opts.MaxUpload,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if s.uploads == nil {
		s.uploads = texture.NewMemStore()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUpload
	}
	s.hub = newHub(logger)
	s.frames = newFrameStream(s.hub, logger)
	s.remove = s.eng.AddSink(s.frames.publish)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.frames.run(ctx)
	}()

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupMiddleware()
	s.routes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			// Snapshot polling would drown the log.
			return c.Path() == "/api/frame.webp"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Printf("[server] %s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/wallpapers", s.handleListWallpapers)
	api.POST("/wallpapers", s.handleAddWallpaper)
	api.POST("/wallpapers/:id/activate", s.handleActivate)
	api.GET("/wallpapers/:id/depth.png", s.handleGetDepth)
	api.POST("/wallpapers/:id/depth", s.handleUploadDepth)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
	api.GET("/settings/sliders", s.handleSliders)
	api.POST("/detect", s.handleDetect)
	api.POST("/mode", s.handleMode)
	api.GET("/status", s.handleStatus)
	api.GET("/frame.webp", s.handleFrame)
	s.echo.GET("/ws", s.handleWS)
}

// ServeHTTP lets the server be mounted on any http.Server or httptest.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("[server] listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes WebSocket clients and waits for
// background work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.remove()
	s.cancel()
	s.hub.closeAll()
	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	return err
}
