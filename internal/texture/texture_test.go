package texture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchDataURL(t *testing.T) {
	data := pngBytes(t, 3, 2)
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	f := &Fetcher{}
	img, err := f.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if c := img.NRGBAAt(0, 0); c != (color.NRGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Errorf("pixel = %+v", c)
	}
}

func TestLoadScalesToMaxSide(t *testing.T) {
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 40, 10))

	tests := []struct {
		name    string
		maxSide int
		want    image.Rectangle
	}{
		{"unlimited", 0, image.Rect(0, 0, 40, 10)},
		{"fits", 40, image.Rect(0, 0, 40, 10)},
		{"scaled", 20, image.Rect(0, 0, 20, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Fetcher{MaxSide: tt.maxSide}
			img, err := f.Load(context.Background(), ref)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if img.Bounds() != tt.want {
				t.Errorf("bounds = %v; want %v", img.Bounds(), tt.want)
			}
		})
	}
}

func TestFetchDataURLMalformed(t *testing.T) {
	f := &Fetcher{}
	for _, ref := range []string{"data:image/png;base64", "data:image/png;base64,@@@"} {
		if _, err := f.Fetch(context.Background(), ref); err == nil {
			t.Errorf("Fetch(%q) succeeded", ref)
		}
	}
}

func TestFetchFileRelativeToBaseDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 4, 4), 0644); err != nil {
		t.Fatal(err)
	}
	f := &Fetcher{BaseDir: dir}
	res, err := f.Fetch(context.Background(), "a.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.MIME != "image/png" {
		t.Errorf("MIME = %q; want image/png", res.MIME)
	}
	if _, err := f.Fetch(context.Background(), "file://"+filepath.Join(dir, "a.png")); err != nil {
		t.Errorf("file URL: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "missing.png"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v; want ErrNotExist", err)
	}
}

func TestFetchHTTP(t *testing.T) {
	data := pngBytes(t, 2, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: srv.Client()}
	res, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(res.Data, data) || res.MIME != "image/png" {
		t.Errorf("got %d bytes, MIME %q", len(res.Data), res.MIME)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("404 did not fail")
	}
}

func TestFetchTooLarge(t *testing.T) {
	f := &Fetcher{MaxBytes: 8}
	ref := "data:text/plain," + "0123456789"
	if _, err := f.Fetch(context.Background(), ref); err != nil {
		// data URLs are not size limited; they are already in memory
		t.Fatalf("data URL: %v", err)
	}
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 9), 0644)
	if _, err := f.Fetch(context.Background(), filepath.Join(dir, "big.bin")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v; want ErrTooLarge", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, string, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, "", ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/png", nil
}

func TestFetchS3(t *testing.T) {
	data := pngBytes(t, 2, 2)
	f := &Fetcher{S3: &fakeS3{objects: map[string][]byte{"walls/city/neon.png": data}}}

	img, err := f.Load(context.Background(), "s3://walls/city/neon.png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if _, err := f.Fetch(context.Background(), "s3://walls/nope.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("missing object err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), "s3://walls"); err == nil {
		t.Error("reference without key accepted")
	}
	if _, err := (&Fetcher{}).Fetch(context.Background(), "s3://walls/city/neon.png"); err == nil {
		t.Error("s3 reference accepted without a client")
	}
}

type countingLoader struct {
	calls    atomic.Int64
	gate     chan struct{}
	err      error
	failures int64 // when err is nil, the first failures calls still fail
}

func (l *countingLoader) Load(ctx context.Context, ref string) (*image.NRGBA, error) {
	n := l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	if l.err != nil {
		return nil, l.err
	}
	if n <= l.failures {
		return nil, errors.New("transient")
	}
	return image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestCacheSharesConcurrentLoads(t *testing.T) {
	l := &countingLoader{gate: make(chan struct{})}
	c := NewCache(l, 4)

	var wg sync.WaitGroup
	imgs := make([]*image.NRGBA, 8)
	for i := range imgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			imgs[i], _ = c.Resolve(context.Background(), "a")
		}(i)
	}
	close(l.gate)
	wg.Wait()

	if n := l.calls.Load(); n < 1 || n > int64(len(imgs)) {
		t.Fatalf("loads = %d", n)
	}
	// Once settled, every further resolve is a hit.
	before := l.calls.Load()
	for i := 0; i < 5; i++ {
		c.Resolve(context.Background(), "a")
	}
	if l.calls.Load() != before {
		t.Error("cached ref was reloaded")
	}
}

func TestCacheRemembersFailures(t *testing.T) {
	l := &countingLoader{err: errors.New("offline")}
	c := NewCache(l, 4)

	for i := 0; i < 3; i++ {
		if _, err := c.Resolve(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := l.calls.Load(); n != 1 {
		t.Errorf("loads = %d; want 1", n)
	}
	c.Forget("x")
	c.Resolve(context.Background(), "x")
	if n := l.calls.Load(); n != 2 {
		t.Errorf("loads after Forget = %d; want 2", n)
	}
}

func TestCacheRetriesFailuresAfterTTL(t *testing.T) {
	l := &countingLoader{failures: 1}
	c := NewCache(l, 4)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "flaky"); err == nil {
		t.Fatal("first load succeeded")
	}
	now = now.Add(DefaultFailureTTL - time.Millisecond)
	if _, err := c.Resolve(ctx, "flaky"); err == nil {
		t.Fatal("failure not served from cache before expiry")
	}
	if n := l.calls.Load(); n != 1 {
		t.Fatalf("loads before expiry = %d; want 1", n)
	}

	now = now.Add(time.Millisecond)
	img, err := c.Resolve(ctx, "flaky")
	if err != nil || img == nil {
		t.Fatalf("Resolve after expiry = %v, %v", img, err)
	}
	if n := l.calls.Load(); n != 2 {
		t.Errorf("loads after expiry = %d; want 2", n)
	}

	// Successes never expire.
	now = now.Add(time.Hour)
	c.Resolve(ctx, "flaky")
	if n := l.calls.Load(); n != 2 {
		t.Errorf("loads after success = %d; want 2", n)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	l := &countingLoader{}
	c := NewCache(l, 2)
	ctx := context.Background()
	c.Resolve(ctx, "a")
	c.Resolve(ctx, "b")
	c.Resolve(ctx, "a")
	c.Resolve(ctx, "c") // evicts b
	if c.Len() != 2 {
		t.Fatalf("Len = %d", c.Len())
	}
	c.Resolve(ctx, "a")
	if n := l.calls.Load(); n != 3 {
		t.Errorf("loads = %d; want 3", n)
	}
}

func TestCachePut(t *testing.T) {
	l := &countingLoader{}
	c := NewCache(l, 2)
	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	c.Put("upload", img)
	got, err := c.Resolve(context.Background(), "upload")
	if err != nil || got != img || l.calls.Load() != 0 {
		t.Errorf("Resolve after Put = %v, %v (loads %d)", got, err, l.calls.Load())
	}
}

func TestIndexSeeds(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	for _, name := range []string{"neon_city.png", "sub/mystic-peaks.JPG", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644)
	}
	idx := BuildIndex(dir)
	if idx.Len() != 2 {
		t.Fatalf("Len = %d; want 2", idx.Len())
	}
	seeds := idx.Seeds()
	if seeds[0].Name != "Mystic Peaks" || seeds[1].Name != "Neon City" {
		t.Errorf("seeds = %+v", seeds)
	}
	if p, ok := idx.ResolvePath(`walls\Neon_City.webp`); !ok || filepath.Base(p) != "neon_city.png" {
		t.Errorf("ResolvePath = %q, %v", p, ok)
	}
}

func TestFetchMemory(t *testing.T) {
	mem := NewMemStore()
	data := pngBytes(t, 2, 3)
	ref := mem.Put(Resource{Data: data, MIME: "image/png"})

	f := &Fetcher{Memory: mem}
	img, err := f.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Bounds().Dy() != 3 {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if _, err := f.Fetch(context.Background(), MemScheme+"unknown"); err == nil {
		t.Error("unknown upload resolved")
	}
}
