// Package ai runs foreground segmentation models over video frames.
package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/keagan/slopstudio/internal/config"
	"github.com/keagan/slopstudio/internal/effects"
	"github.com/rs/zerolog"
)

var (
	// ErrModelNotFound is returned when a model file is missing
	ErrModelNotFound = errors.New("model not found")

	// ErrDisabled is returned by New when segmentation is turned off
	ErrDisabled = errors.New("segmentation disabled")
)

// Segmenter separates the foreground subject from a frame
type Segmenter interface {
	Segment(ctx context.Context, frame image.Image) (*Result, error)
	Close() error
}

// Result holds the foreground mask and the frame it was computed for
type Result struct {
	Mask  *image.Alpha
	Image image.Image
}

// New creates the segmenter selected by cfg.Backend
func New(cfg config.SegmentationConfig, logger zerolog.Logger) (Segmenter, error) {
	switch strings.ToLower(cfg.Backend) {
	case "onnx":
		return NewONNXSegmenter(logger, ONNXOptions{
			ModelPath:      cfg.ModelPath,
			RuntimeLibrary: cfg.RuntimeLibrary,
			InputName:      cfg.InputName,
			OutputName:     cfg.OutputName,
			InputSize:      cfg.InputSize,
			Threshold:      cfg.Threshold,
		})
	case "worker":
		return NewWorkerSegmenter(logger, cfg.WorkerCommand)
	case "lumakey", "":
		key, ok := effects.LookupColor(cfg.KeyColor)
		if !ok {
			key = DefaultKeyColor
		}
		return NewLumaKeySegmenter(logger, key), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", cfg.Backend)
	}
}
