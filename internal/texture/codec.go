package texture

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

// ErrUnknownFormat is returned for data no decoder accepts.
var ErrUnknownFormat = errors.New("texture: unknown image format")

// codec pairs a magic prefix with its decoders. '?' in magic matches any byte.
type codec struct {
	name   string
	magic  string
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

// The tga package registers itself with an empty magic string, which
// image.Decode matches against every input. Formats are therefore chosen
// here by their own signatures and TGA, which has none, comes last.
var codecs = []codec{
	{"png", "\x89PNG\r\n\x1a\n", png.Decode, png.DecodeConfig},
	{"jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig},
	{"gif", "GIF8", gif.Decode, gif.DecodeConfig},
	{"webp", "RIFF????WEBP", webp.Decode, webp.DecodeConfig},
	{"bmp", "BM", bmp.Decode, bmp.DecodeConfig},
}

var tgaCodec = codec{"tga", "", tga.Decode, tga.DecodeConfig}

func match(magic string, data []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i := 0; i < len(magic); i++ {
		if magic[i] != '?' && magic[i] != data[i] {
			return false
		}
	}
	return true
}

func lookup(data []byte) codec {
	for _, c := range codecs {
		if match(c.magic, data) {
			return c
		}
	}
	return tgaCodec
}

// Decode decodes JPEG, PNG, GIF, WebP, BMP or TGA data.
func Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, ErrUnknownFormat
	}
	img, err := lookup(data).decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toNRGBA(img), nil
}

// DecodeConfig reports the dimensions and format name of encoded data
// without decoding the pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", ErrUnknownFormat
	}
	c := lookup(data)
	cfg, err := c.config(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", err
	}
	return cfg, c.name, nil
}
