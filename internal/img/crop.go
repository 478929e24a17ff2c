package img

import (
	"bytes"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

var (
	ErrBadRect     = errors.New("crop rectangle must lie within 0..1")
	ErrBadRotation = errors.New("rotation must be 0, 90, 180 or 270")
	ErrEmptyCrop   = errors.New("crop rectangle is empty")
)

// Rect is a crop area relative to the image size, every field in [0,1].
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Validate() error {
	for _, v := range []float64{r.X, r.Y, r.W, r.H} {
		if v < 0 || v > 1 {
			return ErrBadRect
		}
	}
	return nil
}

// Bounds maps r onto a width x height image, clamping to the image.
func (r Rect) Bounds(width, height int) image.Rectangle {
	left := clamp(int(r.X*float64(width)), 0, width)
	top := clamp(int(r.Y*float64(height)), 0, height)
	right := clamp(int((r.X+r.W)*float64(width)), 0, width)
	bottom := clamp(int((r.Y+r.H)*float64(height)), 0, height)
	return image.Rect(left, top, right, bottom)
}

// Transform decodes data, rotates it counter-clockwise by deg, crops it to
// rect when rect is non-nil and re-encodes it as PNG.
func Transform(data []byte, rect *Rect, deg int) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if src, err = rotate(src, deg); err != nil {
		return nil, err
	}
	if rect != nil {
		if err := rect.Validate(); err != nil {
			return nil, err
		}
		b := rect.Bounds(src.Bounds().Dx(), src.Bounds().Dy())
		if b.Empty() {
			return nil, ErrEmptyCrop
		}
		src = imaging.Crop(src, b.Add(src.Bounds().Min))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rotate(src image.Image, deg int) (image.Image, error) {
	switch ((deg % 360) + 360) % 360 {
	case 0:
		return src, nil
	case 90:
		return imaging.Rotate90(src), nil
	case 180:
		return imaging.Rotate180(src), nil
	case 270:
		return imaging.Rotate270(src), nil
	default:
		return nil, ErrBadRotation
	}
}
