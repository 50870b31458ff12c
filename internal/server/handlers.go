package server

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"depthfx/internal/engine"
	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

type wallpaperJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	HasDepth    bool   `json:"hasDepth"`
	DepthSource string `json:"depthSource,omitempty"`
	Active      bool   `json:"active"`
}

func toJSON(e wallpaper.Entry, activeID string) wallpaperJSON {
	return wallpaperJSON{
		ID:          e.ID,
		Name:        e.Name,
		Source:      e.Source,
		HasDepth:    e.HasDepth(),
		DepthSource: e.DepthSource,
		Active:      e.ID == activeID,
	}
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (s *Server) handleListWallpapers(c echo.Context) error {
	active := s.eng.Status().ActiveID
	entries := s.eng.Library().List()
	out := make([]wallpaperJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toJSON(e, active))
	}
	return c.JSON(http.StatusOK, out)
}

type addRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// handleAddWallpaper accepts either a multipart "image" upload or a JSON
// body naming a remote source. The new entry becomes active.
func (s *Server) handleAddWallpaper(c echo.Context) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, echo.MIMEMultipartForm) {
		return s.addUpload(c)
	}

	var req addRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return jsonError(c, http.StatusBadRequest, "url is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Wallpaper"
	}
	entry := s.eng.Upload(name, req.URL)
	s.logger.Printf("[server] added %q from %s", entry.Name, req.URL)
	s.broadcastStatus()
	return c.JSON(http.StatusCreated, toJSON(entry, entry.ID))
}

func (s *Server) addUpload(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "no image file provided")
	}
	data, err := s.readUpload(file)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if _, err := texture.Decode(data); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid image: "+err.Error())
	}

	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}
	if name == "" {
		name = "Upload"
	}
	ref := s.uploads.Put(texture.Resource{Data: data, MIME: http.DetectContentType(data)})
	entry := s.eng.Upload(name, ref)
	s.logger.Printf("[server] uploaded %q (%d bytes)", entry.Name, len(data))
	s.broadcastStatus()
	return c.JSON(http.StatusCreated, toJSON(entry, entry.ID))
}

func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > s.maxUpload {
		return nil, fmt.Errorf("file too large (max %d MB)", s.maxUpload>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxUpload {
		return nil, fmt.Errorf("file too large (max %d MB)", s.maxUpload>>20)
	}
	return data, nil
}

func (s *Server) handleActivate(c echo.Context) error {
	id := c.Param("id")
	if err := s.eng.Activate(id); err != nil {
		if errors.Is(err, wallpaper.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "wallpaper not found")
		}
		return err
	}
	s.broadcastStatus()
	return c.JSON(http.StatusOK, s.eng.Status())
}

func (s *Server) handleGetDepth(c echo.Context) error {
	entry, err := s.eng.Library().Get(c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusNotFound, "wallpaper not found")
	}
	if !entry.HasDepth() {
		return jsonError(c, http.StatusNotFound, "no depth map")
	}
	c.Response().Header().Set(echo.HeaderContentType, "image/png")
	c.Response().WriteHeader(http.StatusOK)
	return png.Encode(c.Response(), entry.Depth)
}

func (s *Server) handleUploadDepth(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.eng.Library().Get(id); err != nil {
		return jsonError(c, http.StatusNotFound, "wallpaper not found")
	}
	file, err := c.FormFile("depth")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "no depth file provided")
	}
	data, err := s.readUpload(file)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	img, err := texture.Decode(data)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid image: "+err.Error())
	}
	entry, err := s.eng.AttachDepth(id, img)
	if err != nil {
		if errors.Is(err, wallpaper.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "wallpaper not found")
		}
		return err
	}
	s.broadcastStatus()
	return c.JSON(http.StatusOK, toJSON(entry, s.eng.Status().ActiveID))
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.eng.Settings())
}

// handlePutSettings merges the body over the current settings, so a client
// may send only the fields it changes.
func (s *Server) handlePutSettings(c echo.Context) error {
	settings := s.eng.Settings()
	if err := c.Bind(&settings); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid settings")
	}
	return c.JSON(http.StatusOK, s.eng.SetSettings(settings))
}

func (s *Server) handleSliders(c echo.Context) error {
	return c.JSON(http.StatusOK, wallpaper.Sliders)
}

// handleDetect starts subject detection in the background. The outcome is
// broadcast to WebSocket clients as a "detect" message.
func (s *Server) handleDetect(c echo.Context) error {
	if _, err := s.eng.Active(); err != nil {
		return jsonError(c, http.StatusConflict, "no active wallpaper")
	}
	if s.eng.Status().Detecting {
		return jsonError(c, http.StatusConflict, engine.ErrDetectionBusy.Error())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.eng.DetectSubject(s.ctx)
		if err != nil {
			s.logger.Printf("[server] detect: %v", err)
			s.hub.broadcastJSON(errorMessage{Type: "error", Error: err.Error()})
			return
		}
		s.hub.broadcastJSON(newDetectMessage(res))
		s.broadcastStatus()
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "detecting"})
}

type modeRequest struct {
	Depth *bool `json:"depth"`
}

// handleMode sets depth mode, or toggles it when the body omits "depth".
func (s *Server) handleMode(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	if req.Depth == nil {
		s.eng.ToggleDepth()
	} else {
		s.eng.SetDepthEnabled(*req.Depth)
	}
	s.broadcastStatus()
	return c.JSON(http.StatusOK, s.eng.Status())
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.eng.Status())
}

func (s *Server) handleFrame(c echo.Context) error {
	data, err := s.frames.snapshot()
	if err != nil {
		return err
	}
	if data == nil {
		return jsonError(c, http.StatusServiceUnavailable, "no frame rendered yet")
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/webp", data)
}
