// Package caption stamps caption text onto images.
package caption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// MaxPixels bounds the decoded image size. Larger images are refused before
// their pixels are decoded.
const MaxPixels = 64 << 20

var (
	// ErrDecode is returned when the payload is not a supported image.
	ErrDecode = errors.New("decode image")

	// ErrTooManyPixels is returned for images larger than MaxPixels.
	ErrTooManyPixels = errors.New("image too large")
)

// Stamper draws the label in the top-left corner of an image and re-encodes
// it as PNG.
type Stamper struct {
	Face  font.Face
	Color color.Color
}

// NewStamper returns a Stamper drawing black 7x13 bitmap text.
func NewStamper() *Stamper {
	return &Stamper{Face: basicfont.Face7x13, Color: color.Black}
}

// Transform decodes payload (PNG, JPEG or GIF), stamps label on it and returns
// the PNG encoding of the result.
func (s *Stamper) Transform(ctx context.Context, label string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	dst := s.Stamp(src, label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Stamp returns a copy of src with label drawn along its top edge. The text
// baseline sits one ascent below the top, so the first line is fully visible.
func (s *Stamper) Stamp(src image.Image, label string) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(s.Color),
		Face: s.Face,
		Dot: fixed.Point26_6{
			X: fixed.I(b.Min.X),
			Y: fixed.I(b.Min.Y) + s.Face.Metrics().Ascent,
		},
	}
	d.DrawString(label)
	return dst
}
