package subject

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"depthfx/internal/wallpaper"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

type stubLocator struct {
	box wallpaper.BoundingBox
	err error
}

func (s stubLocator) Locate(context.Context, []byte, string) (wallpaper.BoundingBox, error) {
	return s.box, s.err
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		loc          Locator
		want         wallpaper.BoundingBox
		wantFallback bool
	}{
		{"ok", Fixed{XMin: 10, YMin: 10, XMax: 90, YMax: 60}, wallpaper.BoundingBox{XMin: 10, YMin: 10, XMax: 90, YMax: 60}, false},
		{"clamped", Fixed{XMin: -5, YMin: 30, XMax: 120, YMax: 20}, wallpaper.BoundingBox{XMin: 0, YMin: 20, XMax: 100, YMax: 30}, false},
		{"error", stubLocator{err: errors.New("timeout")}, wallpaper.FallbackBox, true},
		{"nan", Fixed{XMin: math.NaN(), YMax: 50, XMax: 50}, wallpaper.FallbackBox, true},
		{"nil locator", nil, wallpaper.FallbackBox, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Detect(context.Background(), tt.loc, nil, "")
			if res.Box != tt.want {
				t.Errorf("Box = %+v; want %+v", res.Box, tt.want)
			}
			if res.Fallback != tt.wantFallback {
				t.Errorf("Fallback = %v; want %v", res.Fallback, tt.wantFallback)
			}
			if res.Fallback != (res.Err != nil) {
				t.Errorf("Err = %v with Fallback %v", res.Err, res.Fallback)
			}
			if !res.Box.Valid() {
				t.Errorf("box %+v violates 0 ≤ min ≤ max ≤ 100", res.Box)
			}
		})
	}
}

func TestGeminiLocate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/test-model:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, candidate(`{"ymin": 12, "xmin": 8.5, "ymax": 70, "xmax": 91}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{BaseURL: srv.URL + "/", Model: "test-model", APIKey: "k", HTTP: srv.Client()})
	img := encodePNG(t, 40, 30)
	box, err := g.Locate(context.Background(), img, "image/png")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	want := wallpaper.BoundingBox{XMin: 8.5, YMin: 12, XMax: 91, YMax: 70}
	if box != want {
		t.Errorf("box = %+v; want %+v", box, want)
	}

	cfg := got.GenerationConfig
	if cfg.ResponseMimeType != "application/json" || cfg.ResponseSchema.Type != "OBJECT" {
		t.Errorf("generationConfig = %+v", cfg)
	}
	if len(cfg.ResponseSchema.Properties) != 4 || cfg.ResponseSchema.Properties["xmax"].Type != "NUMBER" {
		t.Errorf("schema properties = %+v", cfg.ResponseSchema.Properties)
	}
	parts := got.Contents[0].Parts
	if parts[0].InlineData == nil || parts[0].InlineData.MimeType != "image/png" {
		t.Fatalf("first part = %+v", parts[0])
	}
	sent, _ := base64.StdEncoding.DecodeString(parts[0].InlineData.Data)
	if !bytes.Equal(sent, img) {
		t.Error("small image was re-encoded")
	}
	if !strings.Contains(parts[1].Text, "0 to 100") {
		t.Errorf("prompt = %q", parts[1].Text)
	}
}

func TestGeminiDownscalesLargeImages(t *testing.T) {
	var mime string
	var sent []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		mime = req.Contents[0].Parts[0].InlineData.MimeType
		sent, _ = base64.StdEncoding.DecodeString(req.Contents[0].Parts[0].InlineData.Data)
		io.WriteString(w, candidate(`{"ymin":0,"xmin":0,"ymax":100,"xmax":100}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{BaseURL: srv.URL, APIKey: "k", MaxSide: 64, HTTP: srv.Client()})
	if _, err := g.Locate(context.Background(), encodePNG(t, 256, 128), "image/png"); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q", mime)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(sent))
	if err != nil {
		t.Fatalf("decode uploaded image: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Errorf("uploaded %dx%d; want 64x32", cfg.Width, cfg.Height)
	}
}

func TestGeminiSendsJPEGUnchanged(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 20, 10)), nil); err != nil {
		t.Fatal(err)
	}

	var mime string
	var sent []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		mime = req.Contents[0].Parts[0].InlineData.MimeType
		sent, _ = base64.StdEncoding.DecodeString(req.Contents[0].Parts[0].InlineData.Data)
		io.WriteString(w, candidate(`{"ymin":0,"xmin":0,"ymax":100,"xmax":100}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()})
	if _, err := g.Locate(context.Background(), jpg.Bytes(), ""); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q; want image/jpeg", mime)
	}
	if !bytes.Equal(sent, jpg.Bytes()) {
		t.Error("small jpeg was re-encoded")
	}
}

func TestGeminiFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		timeout time.Duration
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, 0, 0},
		{"not json", http.StatusOK, `<html>`, 0, 0},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, 0, 0},
		{"empty text", http.StatusOK, candidate(""), 0, 0},
		{"text not json", http.StatusOK, candidate("the subject is in the middle"), 0, 0},
		{"missing field", http.StatusOK, candidate(`{"ymin":1,"xmin":2,"ymax":3}`), 0, 0},
		{"timeout", http.StatusOK, candidate(`{"ymin":1,"xmin":2,"ymax":3,"xmax":4}`), 200 * time.Millisecond, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			g := NewGemini(GeminiConfig{BaseURL: srv.URL, APIKey: "k", Timeout: tt.timeout})
			if _, err := g.Locate(context.Background(), encodePNG(t, 4, 4), "image/png"); err == nil {
				t.Fatal("Locate succeeded")
			}
			res := Detect(context.Background(), g, encodePNG(t, 4, 4), "image/png")
			if !res.Fallback || res.Box != wallpaper.FallbackBox {
				t.Errorf("Detect = %+v; want fallback", res)
			}
		})
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	g := NewGemini(GeminiConfig{})
	if _, err := g.Locate(context.Background(), encodePNG(t, 4, 4), ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v; want ErrNoAPIKey", err)
	}
}

func TestGeminiRejectsUndecodableImage(t *testing.T) {
	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	if _, err := g.Locate(context.Background(), []byte("not an image"), ""); err == nil {
		t.Error("Locate accepted garbage bytes")
	}
}
