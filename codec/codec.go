// Package codec converts images between their transport encoding (base64 text)
// and in-memory raster images.
//
// Decoding accepts any registered container: PNG, JPEG and GIF from the
// standard library plus WebP, BMP and TIFF from golang.org/x/image. Encoding
// always produces PNG so the output is lossless.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode errors. Every decode failure satisfies errors.Is(err, ErrDecode).
var (
	ErrDecode        = errors.New("codec: invalid image data")
	ErrEmpty         = fmt.Errorf("%w: empty payload", ErrDecode)
	ErrInvalidBase64 = fmt.Errorf("%w: not valid base64", ErrDecode)
	ErrInvalidImage  = fmt.Errorf("%w: not a decodable image", ErrDecode)
	ErrImageTooLarge = fmt.Errorf("%w: declared size exceeds limit", ErrInvalidImage)
)

// ErrEncode is returned when an image cannot be serialized.
var ErrEncode = errors.New("codec: failed to encode image")

// Size limits checked against the image header before any pixel data is
// allocated.
const (
	// DefaultMaxPixels is used when a caller passes a non-positive limit.
	DefaultMaxPixels = 4096 * 4096

	// MaxDimension bounds either side regardless of the pixel limit.
	MaxDimension = 16384
)

// dataURLMarker separates a data URL header from its payload.
const dataURLMarker = ";base64,"

// DecodeImage decodes standard base64 text into a raster image and reports
// its container format ("png", "jpeg", ...).
// Surrounding whitespace and an optional "data:<mime>;base64," prefix are
// stripped before decoding. Images whose header declares more than maxPixels
// pixels, or a side longer than MaxDimension, fail with ErrImageTooLarge.
func DecodeImage(text string, maxPixels int) (image.Image, string, error) {
	raw, err := DecodeBytes(text)
	if err != nil {
		return nil, "", err
	}
	return DecodeRaw(raw, maxPixels)
}

// DecodeRaw decodes already base64-decoded image bytes with the same size
// check as DecodeImage.
func DecodeRaw(raw []byte, maxPixels int) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := CheckSize(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, format, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, format, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// CheckSize rejects dimensions that are empty, longer than MaxDimension on
// either side, or larger than maxPixels in total.
func CheckSize(width, height, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty dimensions %dx%d", ErrInvalidImage, width, height)
	}
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d, max side %d", ErrImageTooLarge, width, height, MaxDimension)
	}
	if int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d, max %d pixels", ErrImageTooLarge, width, height, maxPixels)
	}
	return nil
}

// DecodeBytes decodes the base64 payload without interpreting the bytes.
func DecodeBytes(text string) ([]byte, error) {
	payload := stripDataURL(strings.TrimSpace(text))
	if payload == "" {
		return nil, ErrEmpty
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	return raw, nil
}

// EncodeImage serializes img as PNG and returns it base64-encoded.
// DecodeImage(EncodeImage(img)) is pixel-identical for opaque images and
// for *image.NRGBA and *image.Gray images of any alpha.
func EncodeImage(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodePNG serializes img to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrEncode)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrEncode, b)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func stripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, dataURLMarker); i >= 0 {
		return s[i+len(dataURLMarker):]
	}
	return s
}
