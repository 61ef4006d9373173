// Package imaging validates uploaded X-ray images and turns them into model input.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/tbscan/internal/model"
)

const (
	// MaxSniffBytes bounds how much of the upload is inspected for its media type.
	MaxSniffBytes = 3072

	// MaxPixels guards against decompression bombs: a small file declaring a huge canvas.
	MaxPixels = 50_000_000
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrCorruptImage    = errors.New("corrupt or unreadable image")
	ErrFileTooLarge    = errors.New("file too large")
)

var allowedTypes = []string{"image/jpeg", "image/png"}

// Sniff detects the media type from content alone.
func Sniff(data []byte) (string, error) {
	if len(data) > MaxSniffBytes {
		data = data[:MaxSniffBytes]
	}
	mtype := mimetype.Detect(data)
	for _, allowed := range allowedTypes {
		if mtype.Is(allowed) {
			return allowed, nil
		}
	}
	return mtype.String(), fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
}

// Decode verifies the header and then decodes the full image.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty canvas %dx%d", ErrCorruptImage, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrCorruptImage, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	return img, format, nil
}

// Preprocess converts img to RGB, resizes it to size x size and scales every
// channel to [0,1]. The result has an implicit leading batch dimension of 1.
// Resampling is nearest neighbour, the interpolation the classifier was
// trained with.
func Preprocess(img image.Image, size int, layout model.Layout) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.NearestNeighbor)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := rgb8(resized.At(bounds.Min.X+x, bounds.Min.Y+y))

			pixel := y*width + x
			switch layout {
			case model.LayoutNCHW:
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = b
			default:
				data[3*pixel] = r
				data[3*pixel+1] = g
				data[3*pixel+2] = b
			}
		}
	}

	return data
}

// rgb8 drops alpha and quantizes to 8 bits before scaling, matching the
// uint8 arrays the training pipeline rescaled by 1/255.
func rgb8(c interface{ RGBA() (r, g, b, a uint32) }) (float32, float32, float32) {
	r, g, b, a := c.RGBA()
	if a != 0 && a != 0xffff {
		// un-premultiply so transparent regions keep their colour, like an RGB convert
		r = r * 0xffff / a
		g = g * 0xffff / a
		b = b * 0xffff / a
	}
	return float32(r>>8) / 255, float32(g>>8) / 255, float32(b>>8) / 255
}

// Prepare reads at most limit bytes from r and runs the whole validation and
// preprocessing chain. It returns the tensor and the sniffed media type.
func Prepare(r io.Reader, limit int64, size int, layout model.Layout) ([]float32, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
	}

	mediaType, err := Sniff(data)
	if err != nil {
		return nil, mediaType, err
	}

	img, _, err := Decode(data)
	if err != nil {
		return nil, mediaType, err
	}

	return Preprocess(img, size, layout), mediaType, nil
}
