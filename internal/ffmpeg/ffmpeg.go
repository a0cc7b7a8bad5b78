// Package ffmpeg drives the ffmpeg and ffprobe binaries: probing sources,
// decoding frames for the compositor and encoding local renders.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Executor runs ffmpeg processes
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates an executor. binaryPath may name ffmpeg on PATH or point at
// a binary; ffprobe is looked up next to it first.
func New(logger zerolog.Logger, binaryPath string, threads int) (*Executor, error) {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	ffmpegPath, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	ffprobePath := filepath.Join(filepath.Dir(ffmpegPath), "ffprobe")
	if _, err := exec.LookPath(ffprobePath); err != nil {
		ffprobePath, err = exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// baseArgs are the flags every invocation starts with
func (e *Executor) baseArgs(loglevel string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", loglevel}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	return args
}

// Run executes ffmpeg to completion, reporting progress blocks and log
// lines. Failures carry the last lines ffmpeg printed.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	args := append(e.baseArgs("info"), "-nostats", "-progress", "pipe:2")
	args = append(args, opts.Args...)
	e.logger.Debug().Strs("args", args).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := scanStderr(stderr, opts.OnProgress, opts.OnLog)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
	}
	return nil
}

// scanStderr routes `-progress` blocks to onProgress and every other line
// to onLog until r is drained
func scanStderr(r io.Reader, onProgress func(Progress), onLog func(string)) *logTail {
	tail := &logTail{max: 6}
	var parser progressParser

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if isProgressLine(line) {
			if block, ok := parser.feed(line); ok && onProgress != nil {
				onProgress(block)
			}
			continue
		}
		tail.add(line)
		if onLog != nil {
			onLog(line)
		}
	}
	return tail
}

// progress lines are bare key=value pairs, log lines always have spaces
func isProgressLine(line string) bool {
	return strings.IndexByte(line, '=') > 0 && !strings.ContainsAny(line, " \t")
}

type progressParser struct {
	cur Progress
}

// feed consumes one key=value line and returns the block it completes
func (p *progressParser) feed(line string) (Progress, bool) {
	key, value, _ := strings.Cut(line, "=")
	switch key {
	case "frame":
		p.cur.Frame, _ = strconv.Atoi(value)
	case "fps":
		p.cur.FPS, _ = strconv.ParseFloat(value, 64)
	case "out_time_us", "out_time_ms":
		// both are microseconds
		if us, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.cur.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		p.cur.Speed = value
	case "progress":
		block := p.cur
		block.Done = value == "end"
		p.cur = Progress{}
		return block, true
	}
	return Progress{}, false
}

// logTail keeps the last lines ffmpeg printed
type logTail struct {
	lines []string
	max   int
}

func (t *logTail) add(line string) {
	if line = strings.TrimSpace(line); line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *logTail) String() string {
	if t == nil || len(t.lines) == 0 {
		return "no output"
	}
	return strings.Join(t.lines, "; ")
}
