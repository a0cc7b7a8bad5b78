package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/ffmpeg"
)

// RenderOptions configures an offline render
type RenderOptions struct {
	Output string
	FPS    float64

	VideoCodec string
	CRF        int
	Preset     string

	// OnFrame is called after each encoded frame
	OnFrame func(done, total int)
}

// FrameWriter consumes rendered frames
type FrameWriter interface {
	WriteFrame(frame *image.RGBA) error
	Close() error
}

// Render composites the whole clip frame by frame and encodes it with
// ffmpeg, muxing the source audio back in
func (s *Session) Render(ctx context.Context, exec *ffmpeg.Executor, raster *compositor.Rasterizer, opts RenderOptions) error {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	w, h := raster.Size()

	enc, err := exec.NewEncoder(ctx, ffmpeg.EncodeOptions{
		Output:     opts.Output,
		Width:      w,
		Height:     h,
		FPS:        opts.FPS,
		AudioFrom:  s.VideoPath(),
		VideoCodec: opts.VideoCodec,
		CRF:        opts.CRF,
		Preset:     opts.Preset,
	})
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return s.RenderTo(ctx, enc, raster, opts)
}

// RenderTo draws every frame of the clip into out and closes it
func (s *Session) RenderTo(ctx context.Context, out FrameWriter, raster *compositor.Rasterizer, opts RenderOptions) error {
	err := s.renderFrames(ctx, out, raster, opts)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) renderFrames(ctx context.Context, out FrameWriter, raster *compositor.Rasterizer, opts RenderOptions) error {
	if s.ID() == "" {
		return ErrNotBootstrapped
	}
	if s.opts.Frames == nil {
		return errors.New("render: no frame source")
	}
	duration := s.Duration()
	if duration <= 0 {
		return errors.New("render: unknown clip duration")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}

	total := int(math.Ceil(duration * opts.FPS))
	s.logger.Info().
		Int("frames", total).
		Float64("fps", opts.FPS).
		Str("output", opts.Output).
		Msg("rendering session")

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := float64(i) / opts.FPS

		frame, err := s.opts.Frames.FrameAt(t)
		if err != nil {
			return fmt.Errorf("render frame %d: %w", i, err)
		}
		if s.pipeline != nil {
			if err := s.pipeline.Capture(ctx, frame); err != nil {
				// the failed matte is cleared; render the frame without it
				s.logger.Debug().Err(err).Int("frame", i).Msg("no matte for frame")
			}
		}

		img := raster.Draw(s.compositor.Compose(t), frame)
		if err := out.WriteFrame(img); err != nil {
			return fmt.Errorf("render frame %d: %w", i, err)
		}
		if opts.OnFrame != nil {
			opts.OnFrame(i+1, total)
		}
	}

	s.logger.Info().Int("frames", total).Msg("render complete")
	return nil
}
