package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/keagan/slopstudio/pkg/util"
)

// EncodeOptions configures a rawvideo encoder
type EncodeOptions struct {
	Output string
	Width  int
	Height int
	FPS    float64

	// AudioFrom is an optional file whose first audio stream is muxed in
	AudioFrom string

	VideoCodec string
	CRF        int
	Preset     string
	OnProgress func(Progress)
}

// Encoder pipes composited RGBA frames into ffmpeg
type Encoder struct {
	opts  EncodeOptions
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	// set by the stderr reader before done closes
	tail *logTail

	frames    int
	closeOnce sync.Once
	closeErr  error
}

// NewEncoder starts ffmpeg reading rawvideo from stdin
func (e *Executor) NewEncoder(ctx context.Context, opts EncodeOptions) (*Encoder, error) {
	if err := validateEncodeOptions(opts); err != nil {
		return nil, fmt.Errorf("invalid encode options: %w", err)
	}

	e.logger.Info().
		Str("output", opts.Output).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Msg("starting encode")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, encodeArgs(e.baseArgs("info"), opts)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	enc := &Encoder{opts: opts, cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		defer close(enc.done)
		enc.tail = scanStderr(stderr, opts.OnProgress, func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("encode output")
		})
	}()
	return enc, nil
}

func encodeArgs(base []string, opts EncodeOptions) []string {
	args := append(base,
		"-nostats",
		"-progress", "pipe:2",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", fmt.Sprintf("%.3f", opts.FPS),
		"-i", "pipe:0",
	)

	if opts.AudioFrom != "" {
		args = append(args, "-i", opts.AudioFrom, "-map", "0:v:0", "-map", "1:a:0?", "-c:a", DefaultAudioCodec, "-shortest")
	}

	videoCodec := opts.VideoCodec
	if videoCodec == "" {
		videoCodec = DefaultVideoCodec
	}
	args = append(args, "-c:v", videoCodec)

	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	args = append(args, "-crf", fmt.Sprintf("%d", crf))

	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	args = append(args, "-preset", preset)
	args = append(args, "-pix_fmt", DefaultPixFmt)

	return append(args, opts.Output)
}

// WriteFrame sends one frame. Its size must match the encoder's.
func (enc *Encoder) WriteFrame(frame *image.RGBA) error {
	b := frame.Bounds()
	if b.Dx() != enc.opts.Width || b.Dy() != enc.opts.Height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), enc.opts.Width, enc.opts.Height)
	}

	rowBytes := enc.opts.Width * 4
	if frame.Stride == rowBytes {
		if _, err := enc.stdin.Write(frame.Pix[:rowBytes*enc.opts.Height]); err != nil {
			return fmt.Errorf("write frame %d: %w", enc.frames, err)
		}
	} else {
		for y := 0; y < enc.opts.Height; y++ {
			off := y * frame.Stride
			if _, err := enc.stdin.Write(frame.Pix[off : off+rowBytes]); err != nil {
				return fmt.Errorf("write frame %d: %w", enc.frames, err)
			}
		}
	}
	enc.frames++
	return nil
}

// Frames returns how many frames were written
func (enc *Encoder) Frames() int {
	return enc.frames
}

// Close flushes stdin and waits for ffmpeg to finish the file
func (enc *Encoder) Close() error {
	enc.closeOnce.Do(func() {
		enc.stdin.Close()
		<-enc.done
		if err := enc.cmd.Wait(); err != nil {
			enc.closeErr = fmt.Errorf("ffmpeg encode failed: %w: %s", err, enc.tail)
		}
	})
	return enc.closeErr
}

func validateEncodeOptions(opts EncodeOptions) error {
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.Width%2 != 0 || opts.Height%2 != 0 {
		return fmt.Errorf("frame size %dx%d must be even for %s", opts.Width, opts.Height, DefaultPixFmt)
	}
	if opts.FPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	if opts.CRF < 0 || opts.CRF > 51 {
		return fmt.Errorf("CRF must be between 0 and 51, got %d", opts.CRF)
	}

	if !util.HasExtension(opts.Output, util.VideoExtensions...) {
		return fmt.Errorf("unsupported output format %q", filepath.Ext(opts.Output))
	}
	return nil
}
