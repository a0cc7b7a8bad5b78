package ai

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/rs/zerolog"
)

// DefaultKeyColor is broadcast chroma green
var DefaultKeyColor = color.NRGBA{R: 0x00, G: 0xb1, B: 0x40, A: 0xff}

// LumaKeySegmenter keys out a solid backdrop without a model. Pixels close to
// the key colour become transparent, with a soft ramp between tolerance and
// tolerance+softness.
type LumaKeySegmenter struct {
	logger    zerolog.Logger
	key       color.NRGBA
	tolerance float64
	softness  float64
}

func NewLumaKeySegmenter(logger zerolog.Logger, key color.NRGBA) *LumaKeySegmenter {
	return &LumaKeySegmenter{
		logger:    logger.With().Str("segmenter", "lumakey").Logger(),
		key:       key,
		tolerance: 0.18,
		softness:  0.12,
	}
}

// Segment computes the key mask for frame
func (l *LumaKeySegmenter) Segment(ctx context.Context, frame image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := frame.Bounds()
	mask := image.NewAlpha(bounds)
	kr, kg, kb := float64(l.key.R), float64(l.key.G), float64(l.key.B)
	kLum := luminance(kr, kg, kb)

	var covered int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			fr, fg, fb := float64(r>>8), float64(g>>8), float64(b>>8)

			// Chroma distance dominates; luminance separates dark subjects
			// from a dark key.
			chroma := math.Sqrt((fr-kr)*(fr-kr)+(fg-kg)*(fg-kg)+(fb-kb)*(fb-kb)) / (255 * math.Sqrt(3))
			lum := math.Abs(luminance(fr, fg, fb)-kLum) / 255
			dist := math.Max(chroma, lum)

			a := clampUnit((dist - l.tolerance) / l.softness)
			if a > 0 {
				covered++
			}
			mask.SetAlpha(x, y, color.Alpha{A: uint8(a*255 + 0.5)})
		}
	}

	l.logger.Debug().
		Float64("coverage", float64(covered)/math.Max(1, float64(bounds.Dx()*bounds.Dy()))).
		Msg("luma key complete")

	return &Result{Mask: mask, Image: frame}, nil
}

func luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Close is a no-op for the key segmenter
func (l *LumaKeySegmenter) Close() error {
	return nil
}
