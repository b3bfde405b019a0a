// Package photo checks uploaded recipe photos before they are stored.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmpty             = errors.New("photo is empty")
	ErrTooLarge          = errors.New("photo is too large")
	ErrUnsupportedFormat = errors.New("unsupported photo format")
)

// MaxDimension bounds width and height to keep decoded thumbnails in browsers sane.
const MaxDimension = 12000

type Info struct {
	Format      string
	ContentType string
	Ext         string
	Width       int
	Height      int
	Size        int
}

var formats = map[string]struct{ contentType, ext string }{
	"jpeg": {"image/jpeg", "jpg"},
	"png":  {"image/png", "png"},
	"gif":  {"image/gif", "gif"},
	"webp": {"image/webp", "webp"},
}

// Inspect reads only the image header. The declared format, not the file name or the
// client-supplied content type, decides how the photo is stored and served.
func Inspect(data []byte, maxBytes int64) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	f, ok := formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedFormat, cfg.Width, cfg.Height)
	}

	return &Info{
		Format:      format,
		ContentType: f.contentType,
		Ext:         f.ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        len(data),
	}, nil
}
