package gui

import (
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/video"
)

// Viewport turns composed scenes into pictures. When a frame cannot be read
// the previous one is reused so the preview does not flash black.
type Viewport struct {
	logger zerolog.Logger
	raster *compositor.Rasterizer
	frames video.FrameReader

	mu   sync.Mutex
	last image.Image
}

func NewViewport(logger zerolog.Logger, raster *compositor.Rasterizer, frames video.FrameReader) *Viewport {
	return &Viewport{logger: logger, raster: raster, frames: frames}
}

// Render draws scene over the frame at scene.Time
func (v *Viewport) Render(scene compositor.Scene) *image.RGBA {
	return v.raster.Draw(scene, v.frame(scene.Time))
}

func (v *Viewport) frame(t float64) image.Image {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.frames == nil || !v.frames.Ready() {
		return v.last
	}
	img, err := v.frames.FrameAt(t)
	if err != nil {
		v.logger.Debug().Err(err).Float64("t", t).Msg("frame unavailable, keeping previous")
		return v.last
	}
	v.last = img
	return img
}
