package wallpaper

import (
	"errors"
	"image"
	"testing"
)

func TestNewLibrarySeedsInOrder(t *testing.T) {
	lib := NewLibrary(DefaultSeeds)
	list := lib.List()
	if len(list) != len(DefaultSeeds) {
		t.Fatalf("len = %d; want %d", len(list), len(DefaultSeeds))
	}
	seen := map[string]bool{}
	for i, e := range list {
		if e.Name != DefaultSeeds[i].Name {
			t.Errorf("entry %d name = %q; want %q", i, e.Name, DefaultSeeds[i].Name)
		}
		if e.ID == "" || seen[e.ID] {
			t.Errorf("entry %d has empty or duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
}

func TestAddPrepends(t *testing.T) {
	lib := NewLibrary(DefaultSeeds[:1])
	added := lib.Add("upload.png", "/tmp/upload.png")
	first, ok := lib.First()
	if !ok || first.ID != added.ID {
		t.Fatalf("First() = %+v; want the added entry %s", first, added.ID)
	}
	if lib.Len() != 2 {
		t.Errorf("Len() = %d; want 2", lib.Len())
	}
}

func TestAttachDepth(t *testing.T) {
	lib := NewLibrary(DefaultSeeds)
	e, _ := lib.First()
	if e.HasDepth() {
		t.Fatal("seed entry should start without depth")
	}

	depth := image.NewGray(image.Rect(0, 0, 4, 4))
	got, err := lib.AttachDepth(e.ID, depth, "synthetic")
	if err != nil {
		t.Fatalf("AttachDepth: %v", err)
	}
	if got.Depth != depth || got.DepthSource != "synthetic" {
		t.Errorf("AttachDepth returned %+v", got)
	}

	again, _ := lib.Get(e.ID)
	if !again.HasDepth() {
		t.Error("depth not visible through Get")
	}

	if _, err := lib.AttachDepth("missing", depth, "synthetic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachDepth(missing) err = %v; want ErrNotFound", err)
	}
}
