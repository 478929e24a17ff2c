package img

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPNG draws a w x h image whose left half is black and right half white.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{0, 0, 0, 0xff}
			if x >= w/2 {
				c = color.NRGBA{0xff, 0xff, 0xff, 0xff}
			}
			m.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return buf.Bytes()
}

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	m, _, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	return m
}

func TestRectBounds(t *testing.T) {
	tests := []struct {
		name string
		rect Rect
		want image.Rectangle
	}{
		{"full", Rect{0, 0, 1, 1}, image.Rect(0, 0, 200, 100)},
		{"quarter", Rect{0.5, 0.5, 0.5, 0.5}, image.Rect(100, 50, 200, 100)},
		{"overflow clamps", Rect{0.75, 0.2, 1, 1}, image.Rect(150, 20, 200, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rect.Bounds(200, 100))
		})
	}
}

func TestTransformCrop(t *testing.T) {
	src := testPNG(t, 200, 100)

	out, err := Transform(src, &Rect{X: 0.5, Y: 0, W: 0.5, H: 0.5}, 0)
	require.NoError(t, err)

	m := decode(t, out)
	assert.Equal(t, 100, m.Bounds().Dx())
	assert.Equal(t, 50, m.Bounds().Dy())
	r, g, b, _ := m.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r&g&b, "right half of the source is white")
}

func TestTransformRotate(t *testing.T) {
	src := testPNG(t, 200, 100)

	out, err := Transform(src, nil, 90)
	require.NoError(t, err)
	m := decode(t, out)
	assert.Equal(t, 100, m.Bounds().Dx())
	assert.Equal(t, 200, m.Bounds().Dy())

	_, err = Transform(src, nil, 45)
	assert.ErrorIs(t, err, ErrBadRotation)
}

func TestTransformRejectsBadRect(t *testing.T) {
	src := testPNG(t, 20, 20)

	_, err := Transform(src, &Rect{X: -0.1, Y: 0, W: 1, H: 1}, 0)
	assert.ErrorIs(t, err, ErrBadRect)

	_, err = Transform(src, &Rect{X: 0.5, Y: 0.5, W: 0, H: 0.2}, 0)
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

func TestPrepareForVision(t *testing.T) {
	src := testPNG(t, 400, 100)

	p, err := PrepareForVision(src, PrepOptions{MaxW: 200, Quality: 80, Grayscale: true})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.MIME)

	m := decode(t, p.Bytes)
	assert.Equal(t, 200, m.Bounds().Dx())
	assert.Equal(t, 50, m.Bounds().Dy())

	_, err = PrepareForVision([]byte("not an image"), PrepOptions{})
	assert.Error(t, err)
}

func TestStoreSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "/uploads/")
	require.NoError(t, err)

	url, err := s.Save("omr_crop", "photo.JPG", []byte("x"), true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/omr_crop_"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	p := s.Path(url)
	assert.Equal(t, dir, filepath.Dir(p))
	_, err = os.Stat(p)
	require.NoError(t, err)

	url2, err := s.Save("upload", "sheet.JPG", []byte("y"), false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url2, ".jpg"))

	require.NoError(t, s.Remove(url))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Remove(url), "second remove is a no-op")
	assert.Equal(t, "", s.Path("/elsewhere/file.png"))
}
