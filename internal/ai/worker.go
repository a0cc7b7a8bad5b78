package ai

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single worker response
const maxMessageSize = 64 << 20

var errWorkerStopped = errors.New("segmentation worker stopped")

// workerRequest is one frame sent to the worker process
type workerRequest struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	RGBA   []byte `msgpack:"rgba"`
}

// workerResponse carries a width×height alpha mask, one byte per pixel
type workerResponse struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Mask   []byte `msgpack:"mask"`
	Error  string `msgpack:"error"`
}

// WorkerSegmenter delegates inference to a long-lived subprocess speaking
// length-prefixed msgpack (4 byte big-endian size, then the message) on its
// stdin and stdout. One request is outstanding at a time.
type WorkerSegmenter struct {
	logger zerolog.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	exited chan struct{}

	mu     sync.Mutex
	seq    uint64
	broken error

	closeOnce sync.Once
}

// NewWorkerSegmenter starts command and wires its pipes
func NewWorkerSegmenter(logger zerolog.Logger, command []string) (*WorkerSegmenter, error) {
	if len(command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start segmentation worker: %w", err)
	}

	w := newWorker(logger, stdin, stdout)
	w.cmd = cmd
	w.logger.Info().
		Strs("command", command).
		Int("pid", cmd.Process.Pid).
		Msg("segmentation worker spawned")

	go w.logStderr(stderr)
	go func() {
		err := cmd.Wait()
		w.logger.Debug().Err(err).Msg("segmentation worker exited")
		close(w.exited)
	}()

	return w, nil
}

func newWorker(logger zerolog.Logger, stdin io.WriteCloser, stdout io.Reader) *WorkerSegmenter {
	return &WorkerSegmenter{
		logger: logger.With().Str("segmenter", "worker").Logger(),
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}
}

// Segment sends frame and waits for the matching mask. If ctx ends while the
// worker is busy the stream can no longer be trusted, so the worker is
// marked broken and later calls fail fast.
func (w *WorkerSegmenter) Segment(ctx context.Context, frame image.Image) (*Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}

	bounds := frame.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), frame, bounds.Min, draw.Src)

	w.seq++
	req := workerRequest{Seq: w.seq, Width: bounds.Dx(), Height: bounds.Dy(), RGBA: rgba.Pix}

	type reply struct {
		resp workerResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		var r reply
		if r.err = writeMessage(w.stdin, &req); r.err == nil {
			r.err = readMessage(w.stdout, &r.resp)
		}
		done <- r
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		w.broken = errWorkerStopped
		w.kill()
		return nil, ctx.Err()
	}

	if r.err != nil {
		w.broken = fmt.Errorf("%w: %v", errWorkerStopped, r.err)
		return nil, r.err
	}
	resp := r.resp
	if resp.Error != "" {
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}
	if resp.Seq != req.Seq {
		w.broken = errWorkerStopped
		return nil, fmt.Errorf("worker answered seq %d, expected %d", resp.Seq, req.Seq)
	}
	if resp.Width != req.Width || resp.Height != req.Height || len(resp.Mask) != req.Width*req.Height {
		return nil, fmt.Errorf("worker returned %dx%d mask with %d bytes for %dx%d frame",
			resp.Width, resp.Height, len(resp.Mask), req.Width, req.Height)
	}

	mask := &image.Alpha{Pix: resp.Mask, Stride: resp.Width, Rect: bounds}
	return &Result{Mask: mask, Image: frame}, nil
}

func writeMessage(wr io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack request: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := wr.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := wr.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("worker message of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack response: %w", err)
	}
	return nil
}

func (w *WorkerSegmenter) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w.logger.Debug().Str("stderr", scanner.Text()).Msg("worker output")
	}
}

func (w *WorkerSegmenter) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		if err := w.cmd.Process.Kill(); err != nil {
			w.logger.Warn().Err(err).Msg("failed to kill segmentation worker")
		}
	}
}

// Close closes stdin so the worker can exit, and kills it after a grace period
func (w *WorkerSegmenter) Close() error {
	w.closeOnce.Do(func() {
		w.stdin.Close()
		if w.cmd == nil {
			return
		}
		select {
		case <-w.exited:
			w.logger.Info().Msg("segmentation worker stopped cleanly")
		case <-time.After(2 * time.Second):
			w.logger.Warn().Msg("segmentation worker stop timeout, force killing process")
			w.kill()
			<-w.exited
		}
	})
	return nil
}
