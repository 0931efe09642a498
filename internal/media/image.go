package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"deedstudio/internal/model"
)

// Dimensions reads the pixel size of an encoded image without decoding
// the full raster.
func Dimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// CoverJPEG normalizes an image into the JPEG used as a cover candidate.
// EXIF orientation is applied so portrait photos stay upright.
func CoverJPEG(r io.Reader, width int) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return encodeJPEG(fitWidth(img, width), model.VariantJPEGQuality)
}

// Variants holds the derived rasters for one photo.
type Variants struct {
	Small   []byte
	Full    []byte
	Preview string // data URI
	Width   int
	Height  int
}

// DeriveVariants decodes a photo once and produces the small and full
// JPEG variants plus a tiny inline preview placeholder.
func DeriveVariants(data []byte) (*Variants, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	small, err := encodeJPEG(fitWidth(img, model.PhotoSmallWidth), model.VariantJPEGQuality)
	if err != nil {
		return nil, err
	}
	full, err := encodeJPEG(fitWidth(img, model.PhotoFullWidth), model.VariantJPEGQuality)
	if err != nil {
		return nil, err
	}
	tiny, err := encodeJPEG(imaging.Resize(img, model.InlinePreviewWidth, 0, imaging.Box), model.PreviewJPEGQuality)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Variants{
		Small:   small,
		Full:    full,
		Preview: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(tiny),
		Width:   b.Dx(),
		Height:  b.Dy(),
	}, nil
}

// fitWidth downsizes to width keeping the aspect ratio; smaller images are
// left alone.
func fitWidth(img image.Image, width int) image.Image {
	if width <= 0 || img.Bounds().Dx() <= width {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
