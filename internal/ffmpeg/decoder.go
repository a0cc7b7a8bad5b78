package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// maxForwardSeconds is the largest jump served by reading ahead instead of
// restarting the decoder
const maxForwardSeconds = 2.0

// DecoderOptions configures a streaming decoder
type DecoderOptions struct {
	Input  string
	Width  int
	Height int
	FPS    float64
}

// Decoder streams rawvideo RGBA frames from an ffmpeg process. Reads go
// forward from the last seek point; a backward seek or a long jump restarts
// ffmpeg at the requested time.
type Decoder struct {
	exec   *Executor
	logger zerolog.Logger
	opts   DecoderOptions

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	start  float64 // seek point of the running process
	index  int     // frames read since start
	cur    *image.RGBA
	eof    bool
	err    error
	closed bool
}

// NewDecoder creates a decoder. ffmpeg is started lazily on the first FrameAt.
func (e *Executor) NewDecoder(opts DecoderOptions) (*Decoder, error) {
	if opts.Input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("decode fps must be positive")
	}
	return &Decoder{
		exec:   e,
		logger: e.logger.With().Str("input", opts.Input).Logger(),
		opts:   opts,
	}, nil
}

// Ready reports whether frames can be served
func (d *Decoder) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.err == nil
}

// FrameAt returns the frame on screen at t seconds. Past the end of the
// input the last frame is returned. The image is not reused by the decoder.
func (d *Decoder) FrameAt(t float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("decoder closed")
	}
	if t < 0 {
		t = 0
	}

	prev := d.cur
	restart, target := planRead(d.cmd != nil, d.start, d.index, t, d.opts.FPS)
	if restart {
		if err := d.restart(t); err != nil {
			d.err = err
			return nil, err
		}
		target = 0
	}

	for !d.eof && d.index <= target {
		img := image.NewRGBA(image.Rect(0, 0, d.opts.Width, d.opts.Height))
		if _, err := io.ReadFull(d.stdout, img.Pix); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				break
			}
			d.err = fmt.Errorf("read frame: %w", err)
			return nil, d.err
		}
		d.cur = img
		d.index++
	}

	if d.cur == nil && restart && prev != nil {
		// Seeked past the end of the input.
		d.cur = prev
	}
	if d.cur == nil {
		return nil, fmt.Errorf("no frame at %.3fs", t)
	}
	d.err = nil
	return d.cur, nil
}

// planRead decides whether the running process can reach the frame for t by
// reading forward. target is the frame index relative to start.
func planRead(running bool, start float64, index int, t, fps float64) (restart bool, target int) {
	if !running {
		return true, 0
	}
	target = int(math.Floor((t-start)*fps + 1e-6))
	if target < 0 || target < index-1 {
		return true, 0
	}
	if float64(target-index) > maxForwardSeconds*fps {
		return true, 0
	}
	return false, target
}

func (d *Decoder) restart(t float64) error {
	d.stopLocked()

	args := append(d.exec.baseArgs("error"),
		"-ss", fmt.Sprintf("%.3f", t),
		"-i", d.opts.Input,
		"-an",
		"-vf", NewFilterChain().
			FPS(d.opts.FPS).
			Fit(d.opts.Width, d.opts.Height).
			Format("rgba").
			String(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, d.exec.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start decoder: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			d.logger.Debug().Str("ffmpeg", scanner.Text()).Msg("decoder output")
		}
	}()

	d.logger.Debug().Float64("at", t).Msg("decoder started")

	d.cmd = cmd
	d.cancel = cancel
	d.stdout = stdout
	d.start = t
	d.index = 0
	d.eof = false
	d.cur = nil
	return nil
}

func (d *Decoder) stopLocked() {
	if d.cmd == nil {
		return
	}
	d.cancel()
	// Wait reaps the process; a kill error is expected here.
	_ = d.cmd.Wait()
	d.cmd = nil
	d.stdout = nil
}

// Close stops the ffmpeg process
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.stopLocked()
	return nil
}
