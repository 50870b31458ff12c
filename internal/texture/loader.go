package texture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"depthfx/internal/postprocess"
)

// DefaultMaxBytes caps the size of a fetched resource.
const DefaultMaxBytes = 32 << 20

// ErrTooLarge is returned when a resource exceeds the fetch limit.
var ErrTooLarge = errors.New("texture: resource too large")

// Resource is an encoded image as fetched from its source.
type Resource struct {
	Data []byte
	MIME string
}

// ObjectGetter reads objects from S3-compatible storage.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, string, error)
}

// Fetcher resolves resource references. A reference is a local path, a
// file:// URL, an http(s) URL, an s3://bucket/key URL, a data: URL or a
// mem:// upload. Relative paths are resolved against BaseDir.
type Fetcher struct {
	HTTP     *http.Client
	S3       ObjectGetter // nil disables s3:// references
	Memory   *MemStore    // nil disables mem:// references
	BaseDir  string
	MaxBytes int64
	MaxSide  int // decoded images larger than this are scaled down; 0 keeps full size
}

// Fetch reads the encoded bytes behind ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (Resource, error) {
	switch {
	case isMem(ref):
		if f.Memory != nil {
			if res, ok := f.Memory.Get(ref); ok {
				return res, nil
			}
		}
		return Resource{}, fmt.Errorf("texture: unknown upload %s", ref)
	case strings.HasPrefix(ref, "data:"):
		return parseDataURL(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return Resource{}, fmt.Errorf("texture: parse %s: %w", ref, err)
		}
		return f.fetchFile(u.Path)
	default:
		return f.fetchFile(ref)
	}
}

// Load fetches and decodes ref.
func (f *Fetcher) Load(ctx context.Context, ref string) (*image.NRGBA, error) {
	res, err := f.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := Decode(res.Data)
	if err != nil {
		return nil, fmt.Errorf("texture: decode %s: %w", shortRef(ref), err)
	}
	return postprocess.FitWithin(img, f.MaxSide), nil
}

func (f *Fetcher) limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

func (f *Fetcher) fetchFile(path string) (Resource, error) {
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}
	file, err := os.Open(path)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: read %s: %w", path, err)
	}
	defer file.Close()
	data, err := f.readAll(file)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: read %s: %w", path, err)
	}
	return Resource{Data: data, MIME: sniff(data, "")}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref string) (Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: request %s: %w", ref, err)
	}
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: get %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Resource{}, fmt.Errorf("texture: get %s: bad status: %s", ref, resp.Status)
	}
	data, err := f.readAll(resp.Body)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: get %s: %w", ref, err)
	}
	return Resource{Data: data, MIME: sniff(data, resp.Header.Get("Content-Type"))}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (Resource, error) {
	if f.S3 == nil {
		return Resource{}, fmt.Errorf("texture: get %s: no s3 client configured", ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return Resource{}, fmt.Errorf("texture: invalid s3 reference %q", ref)
	}
	body, contentType, err := f.S3.GetObject(ctx, bucket, key)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: get %s: %w", ref, err)
	}
	defer body.Close()
	data, err := f.readAll(body)
	if err != nil {
		return Resource{}, fmt.Errorf("texture: get %s: %w", ref, err)
	}
	return Resource{Data: data, MIME: sniff(data, contentType)}, nil
}

func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	n := f.limit()
	data, err := io.ReadAll(io.LimitReader(r, n+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > n {
		return nil, ErrTooLarge
	}
	return data, nil
}

// parseDataURL decodes data:[<mime>][;base64],<payload>.
func parseDataURL(ref string) (Resource, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return Resource{}, fmt.Errorf("texture: malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	var data []byte
	if isBase64 {
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Resource{}, fmt.Errorf("texture: data URL: %w", err)
		}
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return Resource{}, fmt.Errorf("texture: data URL: %w", err)
		}
		data = []byte(s)
	}
	return Resource{Data: data, MIME: sniff(data, mime)}, nil
}

// sniff prefers a declared image type and falls back to content detection.
func sniff(data []byte, declared string) string {
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = declared[:i]
	}
	declared = strings.TrimSpace(declared)
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}

// shortRef keeps data URLs out of error messages.
func shortRef(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		if i := strings.IndexByte(ref, ','); i >= 0 {
			return ref[:i] + ",…"
		}
	}
	return ref
}

// toNRGBA converts any image to NRGBA with a zero origin.
func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
