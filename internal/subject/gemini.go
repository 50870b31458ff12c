package subject

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nfnt/resize"

	"depthfx/internal/texture"
	"depthfx/internal/wallpaper"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 30 * time.Second
	// DefaultMaxSide bounds the longer image side sent to the model.
	DefaultMaxSide = 1024
)

// ErrNoAPIKey is returned when no Gemini API key is configured.
var ErrNoAPIKey = errors.New("subject: no API key configured")

const prompt = "Analyze this image and identify the main foreground subject. " +
	"Return a JSON object with the bounding box coordinates (ymin, xmin, ymax, xmax) on a scale of 0 to 100. " +
	"If there are multiple subjects, bound the group. If unclear, return a central box."

// GeminiConfig configures the Gemini locator.
type GeminiConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	MaxSide int
	HTTP    *http.Client
}

// Gemini locates subjects with the Gemini generateContent API using a
// declared JSON response schema.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini fills defaults into cfg and returns a locator.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultMaxSide
	}
	client := cfg.HTTP
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gemini{cfg: cfg, client: client}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string            `json:"type"`
	Properties map[string]schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
	ResponseSchema   schema `json:"responseSchema"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

var boxSchema = schema{
	Type: "OBJECT",
	Properties: map[string]schema{
		"ymin": {Type: "NUMBER"},
		"xmin": {Type: "NUMBER"},
		"ymax": {Type: "NUMBER"},
		"xmax": {Type: "NUMBER"},
	},
	Required: []string{"ymin", "xmin", "ymax", "xmax"},
}

// Locate implements Locator.
func (g *Gemini) Locate(ctx context.Context, encoded []byte, mimeType string) (wallpaper.BoundingBox, error) {
	if g.cfg.APIKey == "" {
		return wallpaper.BoundingBox{}, ErrNoAPIKey
	}
	data, mimeType, err := g.prepare(encoded, mimeType)
	if err != nil {
		return wallpaper.BoundingBox{}, err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{
			{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
			{Text: prompt},
		}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   boxSchema,
		},
	})
	if err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: status=%d, body=%s", resp.StatusCode, truncate(respData, 200))
	}
	return parseResponse(respData)
}

// parseResponse extracts the box from the first candidate's text part.
func parseResponse(data []byte) (wallpaper.BoundingBox, error) {
	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: parse response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return wallpaper.BoundingBox{}, errors.New("subject: empty response")
	}
	text := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return wallpaper.BoundingBox{}, errors.New("subject: empty response")
	}

	var raw struct {
		YMin *float64 `json:"ymin"`
		XMin *float64 `json:"xmin"`
		YMax *float64 `json:"ymax"`
		XMax *float64 `json:"xmax"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: parse box: %w", err)
	}
	if raw.YMin == nil || raw.XMin == nil || raw.YMax == nil || raw.XMax == nil {
		return wallpaper.BoundingBox{}, fmt.Errorf("subject: parse box: missing coordinate in %s", truncate([]byte(text), 200))
	}
	return wallpaper.BoundingBox{XMin: *raw.XMin, YMin: *raw.YMin, XMax: *raw.XMax, YMax: *raw.YMax}, nil
}

// prepare downscales images whose longer side exceeds MaxSide and
// re-encodes them as PNG. Smaller images are sent unchanged.
func (g *Gemini) prepare(encoded []byte, mimeType string) ([]byte, string, error) {
	cfg, format, err := texture.DecodeConfig(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("subject: decode image: %w", err)
	}
	if cfg.Width <= g.cfg.MaxSide && cfg.Height <= g.cfg.MaxSide {
		if mimeType == "" {
			mimeType = "image/" + format
		}
		return encoded, mimeType, nil
	}

	img, err := texture.Decode(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("subject: decode image: %w", err)
	}
	small := resize.Thumbnail(uint(g.cfg.MaxSide), uint(g.cfg.MaxSide), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, "", fmt.Errorf("subject: encode png: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
