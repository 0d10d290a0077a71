package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	cases := []struct {
		name       string
		w, h, side int
		wantW      int
		wantH      int
	}{
		{"Landscape", 1200, 800, 300, 300, 200},
		{"Portrait", 600, 1800, 300, 100, 300},
		{"AlreadySmall", 120, 80, 300, 120, 80},
		{"Sliver", 3000, 2, 300, 300, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := Fit(tc.w, tc.h, tc.side)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestGenerate(t *testing.T) {
	out, err := Generate(pngOf(t, 640, 320), 0)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, DefaultMaxSide, img.Bounds().Dx())
	assert.Equal(t, DefaultMaxSide/2, img.Bounds().Dy())

	_, err = jpeg.DecodeConfig(bytes.NewReader(out))
	assert.NoError(t, err)
}

func TestGenerateRejectsNonImages(t *testing.T) {
	_, err := Generate([]byte("jpeg-bytes"), 0)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "thumbnails/users/alice/2024/03/09/m1.jpg", Key("users/alice/2024/03/09/m1.png"))
	assert.Equal(t, "thumbnails/raw/m2.jpg", Key("raw/m2"))
}
