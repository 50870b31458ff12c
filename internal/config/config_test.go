package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"depthfx/internal/wallpaper"
)

func TestResolveDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "fallback-key")

	var c Config
	c.Resolve(Flags{})

	if c.Addr != ":8080" || c.Width != 1080 || c.Height != 1920 || c.FPS != 60 {
		t.Errorf("surface defaults = %s %dx%d@%d", c.Addr, c.Width, c.Height, c.FPS)
	}
	if c.DepthResolution != 512 || c.CacheSize != 16 {
		t.Errorf("depth %d cache %d", c.DepthResolution, c.CacheSize)
	}
	if c.Gemini.Model != "gemini-2.5-flash" || time.Duration(c.Gemini.Timeout) != 30*time.Second {
		t.Errorf("gemini = %+v", c.Gemini)
	}
	if c.Gemini.APIKey != "fallback-key" {
		t.Errorf("APIKey = %q; want value of API_KEY", c.Gemini.APIKey)
	}
	if *c.Settings != wallpaper.DefaultSettings() {
		t.Errorf("Settings = %+v", *c.Settings)
	}
	if r, g, b := c.BackgroundRGB(); r != 3 || g != 7 || b != 18 {
		t.Errorf("background = %d,%d,%d", r, g, b)
	}
}

func TestLoadAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "depthfx.json")
	data := `{
		"base_dir": "` + filepath.ToSlash(dir) + `",
		"library_dir": "walls",
		"width": 720,
		"fps": 30,
		"background": "#102030",
		"settings": {"depthIntensity": 99, "lightIntensity": 0.2, "shadowOpacity": 0.1, "scale": 1, "perspective": 800},
		"gemini": {"api_key": "from-file", "timeout": "5s"}
	}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.Resolve(Flags{FPS: 120, NoRelief: true})

	if c.Width != 720 || c.Height != 1920 {
		t.Errorf("size = %dx%d", c.Width, c.Height)
	}
	if c.FPS != 120 {
		t.Errorf("FPS = %d; flag must win", c.FPS)
	}
	if !c.DisableRelief {
		t.Error("NoRelief flag ignored")
	}
	if c.LibraryDir != filepath.Join(dir, "walls") {
		t.Errorf("LibraryDir = %q", c.LibraryDir)
	}
	if c.Settings.DepthIntensity != 45 {
		t.Errorf("DepthIntensity = %v; want clamped to 45", c.Settings.DepthIntensity)
	}
	if c.Gemini.APIKey != "from-file" || time.Duration(c.Gemini.Timeout) != 5*time.Second {
		t.Errorf("gemini = %+v", c.Gemini)
	}
	if r, g, b := c.BackgroundRGB(); r != 0x10 || g != 0x20 || b != 0x30 {
		t.Errorf("background = %d,%d,%d", r, g, b)
	}
}

func TestLoadPartialSettings(t *testing.T) {
	tests := []struct {
		name string
		data string
		want wallpaper.Settings
	}{
		{
			name: "one field",
			data: `{"settings": {"depthIntensity": 30}}`,
			want: wallpaper.Settings{DepthIntensity: 30, LightIntensity: 0.4, ShadowOpacity: 0.5, Scale: 1.05, Perspective: 1000},
		},
		{
			name: "explicit zero",
			data: `{"settings": {"lightIntensity": 0}}`,
			want: wallpaper.Settings{DepthIntensity: 20, LightIntensity: 0, ShadowOpacity: 0.5, Scale: 1.05, Perspective: 1000},
		},
		{
			name: "null",
			data: `{"settings": null}`,
			want: wallpaper.DefaultSettings(),
		},
		{
			name: "absent",
			data: `{}`,
			want: wallpaper.DefaultSettings(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "depthfx.json")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			c, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			c.Resolve(Flags{})
			if *c.Settings != tt.want {
				t.Errorf("settings = %+v; want %+v", *c.Settings, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("malformed file accepted")
	}
}
