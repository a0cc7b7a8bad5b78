package gui

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/effects"
	"github.com/keagan/slopstudio/internal/timeline"
)

type flakyFrames struct {
	fail bool
}

func (f *flakyFrames) Ready() bool { return true }

func (f *flakyFrames) FrameAt(t float64) (image.Image, error) {
	if f.fail {
		return nil, errors.New("decoder restarting")
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 200, A: 255}), image.Point{}, draw.Src)
	return img, nil
}

func testScene(t float64) compositor.Scene {
	idx := timeline.NewIndex(timeline.SessionState{Style: timeline.DefaultStyle()})
	return compositor.New(zerolog.Nop(), idx, effects.NewDefaultResolver(), nil).Compose(t)
}

func TestViewportKeepsLastFrame(t *testing.T) {
	raster := compositor.NewRasterizer(zerolog.Nop(), compositor.RasterOptions{Width: 8, Height: 8}, nil, nil)
	frames := &flakyFrames{}
	v := NewViewport(zerolog.Nop(), raster, frames)

	red := color.RGBA{R: 200, A: 255}
	if got := v.Render(testScene(0)).RGBAAt(4, 4); got != red {
		t.Fatalf("expected frame drawn, got %v", got)
	}

	frames.fail = true
	if got := v.Render(testScene(1)).RGBAAt(4, 4); got != red {
		t.Errorf("expected previous frame reused, got %v", got)
	}
}

func TestViewportWithoutFrames(t *testing.T) {
	raster := compositor.NewRasterizer(zerolog.Nop(), compositor.RasterOptions{Width: 8, Height: 8}, nil, nil)
	v := NewViewport(zerolog.Nop(), raster, nil)

	img := v.Render(testScene(0))
	if got := img.RGBAAt(4, 4); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Errorf("expected black without a frame source, got %v", got)
	}
}
