// Package thumbnail renders small JPEG previews of images and of the key
// frame the extractor picked from a video.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"

	// Decoders for the accepted upload formats.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxSide bounds both edges of a thumbnail.
	DefaultMaxSide = 300
	// DefaultQuality is the JPEG quality of a thumbnail.
	DefaultQuality = 85

	keyPrefix = "thumbnails/"
)

// ErrUndecodable is returned when the source is not a supported image.
var ErrUndecodable = errors.New("thumbnail: source is not a decodable image")

// Generate decodes src and returns a JPEG that fits in maxSide x maxSide with
// the aspect ratio kept. Smaller images are re-encoded without upscaling.
func Generate(src []byte, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: DefaultQuality}); err != nil {
		return nil, fmt.Errorf("thumbnail: encode: %w", err)
	}
	return out.Bytes(), nil
}

// Fit scales w x h down to fit in maxSide x maxSide. No edge drops below 1.
func Fit(w, h, maxSide int) (int, int) {
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w)
	}
	return max(1, w*maxSide/h), maxSide
}

// Key is where the thumbnail of the blob at blobKey is stored.
func Key(blobKey string) string {
	return keyPrefix + strings.TrimSuffix(blobKey, path.Ext(blobKey)) + ".jpg"
}
