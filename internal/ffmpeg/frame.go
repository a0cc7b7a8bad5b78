package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"time"

	"github.com/keagan/slopstudio/pkg/util"
)

// ExtractFrame writes the frame shown at `at` seconds to output. The image
// format follows the output extension.
func (e *Executor) ExtractFrame(ctx context.Context, input string, at float64, output string) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Float64("at", at).
		Msg("extracting frame")

	args := []string{
		"-ss", util.FormatDuration(seconds(at)),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}

	opts := RunOptions{
		Args: args,
		OnLog: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("frame extraction")
		},
	}
	if err := e.Run(ctx, opts); err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}
	return nil
}

// ReadFrame decodes the frame at `at` seconds straight into memory, fitted
// into width×height
func (e *Executor) ReadFrame(ctx context.Context, input string, at float64, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	args := append(e.baseArgs("error"),
		"-ss", fmt.Sprintf("%.3f", at),
		"-i", input,
		"-frames:v", "1",
		"-vf", NewFilterChain().Fit(width, height).Format("rgba").String(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if stdout.Len() < len(img.Pix) {
		return nil, fmt.Errorf("no frame at %.3fs", at)
	}
	copy(img.Pix, stdout.Bytes())
	return img, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
