package texture

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"depthfx/internal/wallpaper"
)

// imageExts lists the extensions the decoders are registered for.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tga": true,
}

// Index maps lowercase file stems to paths for a wallpaper directory.
type Index struct {
	entries map[string]string // stem.lower() → full path
}

// BuildIndex scans dir and its subdirectories for image files. When two
// files share a stem the first in lexical path order wins.
func BuildIndex(dir string) *Index {
	idx := &Index{entries: make(map[string]string)}
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !imageExts[ext] {
			return nil
		}
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if _, exists := idx.entries[stem]; !exists {
			idx.entries[stem] = path
		}
		return nil
	})
	return idx
}

// ResolvePath returns the path for a wallpaper name, or ("", false).
func (idx *Index) ResolvePath(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	path, ok := idx.entries[stem]
	return path, ok
}

// Seeds returns one library seed per indexed file, sorted by name.
func (idx *Index) Seeds() []wallpaper.Seed {
	stems := make([]string, 0, len(idx.entries))
	for s := range idx.entries {
		stems = append(stems, s)
	}
	sort.Strings(stems)

	seeds := make([]wallpaper.Seed, len(stems))
	for i, s := range stems {
		seeds[i] = wallpaper.Seed{Name: displayName(s), Source: idx.entries[s]}
	}
	return seeds
}

// Len returns the number of indexed files.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// displayName turns "mystic_peaks-2" into "Mystic Peaks 2".
func displayName(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
