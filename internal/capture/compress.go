package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 800
	DefaultQuality      = 75
)

// Compressor decodes an image, rotates it, bounds its longest side and
// writes it out as JPEG.
type Compressor struct {
	MaxDimension int
	Quality      int
	TempDir      string
}

// Compress reads an image from src and writes the compressed JPEG to a
// fresh image_<timestamp>_*_compress file, returning its path. rotate is
// clockwise degrees and is applied before scaling.
func (c *Compressor) Compress(ctx context.Context, src io.Reader, rotate int) (string, error) {
	img, format, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img = Rotate(img, rotate)
	img = c.downscale(img)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := createImageFile(c.TempDir, "compress")
	if err != nil {
		return "", err
	}
	quality := c.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode jpeg (from %s): %w", format, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write compressed image: %w", err)
	}
	return f.Name(), nil
}

// downscale caps the longest side at MaxDimension, keeping aspect.
func (c *Compressor) downscale(img image.Image) image.Image {
	limit := c.MaxDimension
	if limit <= 0 {
		limit = DefaultMaxDimension
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}

	scale := min(float64(limit)/float64(w), float64(limit)/float64(h))
	dw := max(int(float64(w)*scale), 1)
	dh := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Rotate turns img clockwise by deg, which is rounded down to a multiple
// of 90.
func Rotate(img image.Image, deg int) image.Image {
	deg = ((deg/90)*90%360 + 360) % 360
	if deg == 0 {
		return img
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	sx, sy := float64(b.Min.X), float64(b.Min.Y)

	var (
		dr  image.Rectangle
		s2d f64.Aff3
	)
	switch deg {
	case 90:
		dr = image.Rect(0, 0, b.Dy(), b.Dx())
		s2d = f64.Aff3{0, -1, h + sy, 1, 0, -sx}
	case 180:
		dr = image.Rect(0, 0, b.Dx(), b.Dy())
		s2d = f64.Aff3{-1, 0, w + sx, 0, -1, h + sy}
	case 270:
		dr = image.Rect(0, 0, b.Dy(), b.Dx())
		s2d = f64.Aff3{0, 1, -sy, -1, 0, w + sx}
	}

	dst := image.NewRGBA(dr)
	draw.NearestNeighbor.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

// createImageFile makes an empty image_<timestamp>_<random>_<suffix> file.
func createImageFile(dir, suffix string) (*os.File, error) {
	pattern := "image_" + time.Now().Format("20060102_150405") + "_*_" + suffix
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create image file: %w", err)
	}
	return f, nil
}
