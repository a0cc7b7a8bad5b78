package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/slopstudio/internal/ai"
	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/config"
	"github.com/keagan/slopstudio/internal/director"
	"github.com/keagan/slopstudio/internal/engine"
	"github.com/keagan/slopstudio/internal/ffmpeg"
	"github.com/keagan/slopstudio/internal/overlays"
	"github.com/keagan/slopstudio/internal/store"
	"github.com/keagan/slopstudio/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// runtime holds the collaborators shared by every command
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *store.Store
	client *director.HTTPClient
	assets *overlays.Registry

	exec *ffmpeg.Executor
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		client: director.NewHTTPClient(logger, cfg.Director, nil),
		assets: overlays.NewRegistry(logger, nil),
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to close store")
	}
}

func (r *runtime) executor() (*ffmpeg.Executor, error) {
	if r.exec != nil {
		return r.exec, nil
	}
	exec, err := ffmpeg.New(r.logger, r.cfg.FFmpeg.BinaryPath, r.cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}
	r.exec = exec
	return exec, nil
}

func (r *runtime) options() engine.Options {
	return engine.Options{
		Store:   r.store,
		Assets:  r.assets,
		Refresh: time.Second / time.Duration(r.cfg.Video.RefreshHz),
	}
}

// resume reopens a stored session without media
func (r *runtime) resume(ctx context.Context, id string) (*engine.Session, error) {
	return engine.Resume(ctx, r.logger, r.client, id, r.options())
}

// resumeWithMedia reopens a stored session with a decoder for its local
// video and the configured segmenter
func (r *runtime) resumeWithMedia(ctx context.Context, id string) (*engine.Session, error) {
	stored, err := r.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	opts, err := r.mediaOptions(ctx, stored.VideoPath)
	if err != nil {
		return nil, err
	}

	s, err := engine.Resume(ctx, r.logger, r.client, id, opts)
	if err != nil {
		closeMedia(opts)
		return nil, err
	}
	return s, nil
}

func (r *runtime) mediaOptions(ctx context.Context, videoPath string) (engine.Options, error) {
	opts := r.options()
	if videoPath == "" || !util.FileExists(videoPath) {
		r.logger.Warn().Str("video", videoPath).Msg("source video not found locally, drawing layers over black")
		return opts, nil
	}

	exec, err := r.executor()
	if err != nil {
		return opts, err
	}
	info, err := exec.ProbeVideo(ctx, videoPath)
	if err != nil {
		return opts, err
	}
	opts.Duration = info.Seconds()

	dec, err := exec.NewDecoder(ffmpeg.DecoderOptions{
		Input:  videoPath,
		Width:  r.cfg.Video.FrameWidth,
		Height: r.cfg.Video.FrameHeight,
		FPS:    r.cfg.Video.DecodeFPS,
	})
	if err != nil {
		return opts, err
	}
	opts.Frames = dec

	seg, err := ai.New(r.cfg.Segmentation, r.logger)
	switch {
	case errors.Is(err, ai.ErrDisabled):
		r.logger.Info().Msg("segmentation disabled")
	case err != nil:
		dec.Close()
		return opts, fmt.Errorf("segmenter: %w", err)
	default:
		opts.Segmenter = seg
	}
	return opts, nil
}

func closeMedia(opts engine.Options) {
	if opts.Segmenter != nil {
		opts.Segmenter.Close()
	}
	if d, ok := opts.Frames.(*ffmpeg.Decoder); ok {
		d.Close()
	}
}

func (r *runtime) rasterizer() (*compositor.Rasterizer, error) {
	fonts, err := compositor.NewFontBook(r.logger, r.cfg.Render.FontDir)
	if err != nil {
		return nil, err
	}
	return compositor.NewRasterizer(r.logger, compositor.RasterOptions{
		Width:          r.cfg.Video.FrameWidth,
		Height:         r.cfg.Video.FrameHeight,
		HUDWidth:       r.cfg.Render.HUDWidth,
		SubtitleShadow: r.cfg.Render.SubtitleShadow,
	}, fonts, r.assets), nil
}
