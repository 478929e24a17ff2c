package img

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

type Prepared struct {
	Bytes []byte
	MIME  string
}

type PrepOptions struct {
	MaxW      int
	Quality   int
	Grayscale bool
}

// PrepareForVision: auto-orient → resize → grayscale (optional) → JPEG.
// Bubble shading survives down to ~1200px wide, anything bigger only costs tokens.
func PrepareForVision(data []byte, opt PrepOptions) (Prepared, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Prepared{}, err
	}

	if opt.MaxW > 0 && src.Bounds().Dx() > opt.MaxW {
		src = imaging.Resize(src, opt.MaxW, 0, imaging.Lanczos)
	}

	if opt.Grayscale {
		src = imaging.Grayscale(src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, forceOpaque(src), &jpeg.Options{Quality: clamp(opt.Quality, 60, 95)}); err != nil {
		return Prepared{}, err
	}
	return Prepared{Bytes: buf.Bytes(), MIME: "image/jpeg"}, nil
}

// Hash is the hex sha256 of b.
func Hash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// transparent pixels become white, JPEG has no alpha
func forceOpaque(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				dst.Set(x, y, color.White)
			} else {
				dst.SetRGBA(x, y, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), 0xff})
			}
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
