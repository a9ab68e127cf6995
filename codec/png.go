package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
)

// PNG magic bytes for file identification
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// minPNGSize is signature + IHDR + IEND.
const minPNGSize = 45

// PNG validation errors
var (
	ErrPNGTooSmall = errors.New("codec: data too small to be a PNG")
	ErrNotPNG      = errors.New("codec: data is not a PNG")
)

func isPNG(data []byte) bool {
	if len(data) < len(pngMagic) {
		return false
	}
	return bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// ValidatePNG checks the signature and IHDR chunk of PNG bytes received
// from a remote engine, including the declared size against maxPixels.
// Pixel data is not read; DecodeRaw reports truncated bodies.
func ValidatePNG(data []byte, maxPixels int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) < minPNGSize {
		return ErrPNGTooSmall
	}
	if !isPNG(data) {
		return ErrNotPNG
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return CheckSize(cfg.Width, cfg.Height, maxPixels)
}
