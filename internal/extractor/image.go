package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	resizedJPEGQuality = 92

	// DefaultMaxPixels bounds the decoded size of an upload. A few hundred bytes
	// of compressed data can declare gigapixel dimensions.
	DefaultMaxPixels = 40_000_000
)

// NormalizeImage checks that data decodes as an image and downsizes it so that
// its longer side is at most maxSide. Images that already fit are returned untouched.
// Images declaring more than maxPixels pixels are rejected before decoding;
// maxPixels <= 0 uses DefaultMaxPixels.
func NormalizeImage(data []byte, maxSide, maxPixels int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrInvalidImage, format)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, over the %d pixel limit",
			ErrInvalidImage, format, cfg.Width, cfg.Height, maxPixels)
	}

	longest := max(cfg.Width, cfg.Height)
	if maxSide <= 0 || longest <= maxSide {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	scale := float64(maxSide) / float64(longest)
	width := max(1, int(float64(cfg.Width)*scale))
	height := max(1, int(float64(cfg.Height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: resizedJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
