package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"depthfx/internal/wallpaper"
)

// Config holds all configurable paths, services and render settings.
type Config struct {
	// Server
	Addr string `json:"addr"`

	// Paths
	BaseDir    string `json:"base_dir"`
	LibraryDir string `json:"library_dir"` // seeds the library instead of the built-in list
	OutputDir  string `json:"output_dir"`

	// Surface
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`

	// Rendering
	DisableRelief   bool                `json:"disable_relief"`
	MaxReliefPixels int                 `json:"max_relief_pixels"`
	LayerTilt       bool                `json:"layer_tilt"`
	DepthResolution int                 `json:"depth_resolution"`
	Background      string              `json:"background"` // #rrggbb
	Settings        *wallpaper.Settings `json:"settings,omitempty"`

	// Resources
	CacheSize int   `json:"cache_size"`
	MaxBytes  int64 `json:"max_bytes"`
	MaxSide   int   `json:"max_side"` // decoded wallpapers are scaled to fit
	S3        S3    `json:"s3"`

	// Subject detection
	Gemini Gemini `json:"gemini"`

	// Output
	Supersample int `json:"supersample"`
	Workers     int `json:"workers"`
}

// S3 configures s3:// wallpaper references.
type S3 struct {
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// Gemini configures the subject locator.
type Gemini struct {
	BaseURL string   `json:"base_url"`
	Model   string   `json:"model"`
	APIKey  string   `json:"api_key"`
	Timeout Duration `json:"timeout"`
	MaxSide int      `json:"max_side"`
}

// Duration is a time.Duration that reads "30s"-style strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration: %s", b)
		}
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads a JSON config file and returns Config.
// Fields not set in the file keep their zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Settings fields missing from the file keep their defaults.
	defaults := wallpaper.DefaultSettings()
	cfg := Config{Settings: &defaults}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Resolve fills in any empty fields with defaults.
// CLI flags take priority when non-zero/non-empty.
func (c *Config) Resolve(flags Flags) {
	// CLI flags override config file
	if flags.Addr != "" {
		c.Addr = flags.Addr
	}
	if flags.LibraryDir != "" {
		c.LibraryDir = flags.LibraryDir
	}
	if flags.OutputDir != "" {
		c.OutputDir = flags.OutputDir
	}
	if flags.Width > 0 {
		c.Width = flags.Width
	}
	if flags.Height > 0 {
		c.Height = flags.Height
	}
	if flags.FPS > 0 {
		c.FPS = flags.FPS
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.NoRelief {
		c.DisableRelief = true
	}

	if c.BaseDir == "" {
		c.BaseDir, _ = os.Getwd()
	}
	if c.LibraryDir != "" && !filepath.IsAbs(c.LibraryDir) {
		c.LibraryDir = filepath.Join(c.BaseDir, c.LibraryDir)
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.BaseDir, "renders")
	} else if !filepath.IsAbs(c.OutputDir) {
		c.OutputDir = filepath.Join(c.BaseDir, c.OutputDir)
	}

	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Width <= 0 {
		c.Width = 1080
	}
	if c.Height <= 0 {
		c.Height = 1920
	}
	if c.FPS <= 0 {
		c.FPS = 60
	}
	if c.DepthResolution <= 0 {
		c.DepthResolution = 512
	}
	if c.Background == "" {
		c.Background = "#030712"
	}
	if c.Settings == nil {
		s := wallpaper.DefaultSettings()
		c.Settings = &s
	} else {
		s := c.Settings.Clamp()
		c.Settings = &s
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 16
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 32 << 20
	}
	if c.MaxSide <= 0 {
		c.MaxSide = 4096
	}

	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = firstEnv("GEMINI_API_KEY", "API_KEY")
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Gemini.Timeout <= 0 {
		c.Gemini.Timeout = Duration(30 * time.Second)
	}
	if c.Gemini.MaxSide <= 0 {
		c.Gemini.MaxSide = 1024
	}

	if c.Supersample <= 0 {
		c.Supersample = 1
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// Flags holds CLI flag values that override config file settings.
type Flags struct {
	Addr       string
	LibraryDir string
	OutputDir  string
	Width      int
	Height     int
	FPS        int
	Workers    int
	NoRelief   bool
}

// BackgroundRGB parses Background, falling back to the default colour.
func (c *Config) BackgroundRGB() (r, g, b uint8) {
	var rr, gg, bb uint8
	if _, err := fmt.Sscanf(c.Background, "#%02x%02x%02x", &rr, &gg, &bb); err != nil {
		return 3, 7, 18
	}
	return rr, gg, bb
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
