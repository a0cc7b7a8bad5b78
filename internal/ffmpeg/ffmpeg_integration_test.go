package ffmpeg_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/keagan/slopstudio/internal/ai"
	"github.com/keagan/slopstudio/internal/ffmpeg"
	"github.com/keagan/slopstudio/internal/pipeline"
	"github.com/keagan/slopstudio/internal/video"
	"github.com/rs/zerolog"
)

// local helper (cannot use unexported ones from ffmpeg package)
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

func TestIntegration_DecoderClockSegmentation(t *testing.T) {
	skipIfNoFFmpeg(t)

	src := filepath.Join(t.TempDir(), "green.mp4")
	gen := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=c=0x00b140:size=128x72:rate=15:duration=2",
		"-c:v", "mpeg4", "-pix_fmt", "yuv420p", src)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("generate source: %v: %s", err, out)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).With().Str("test", "integration_segmentation").Logger()

	exec, err := ffmpeg.New(logger, "", 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	dec, err := exec.NewDecoder(ffmpeg.DecoderOptions{Input: src, Width: 64, Height: 36, FPS: 15})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	defer dec.Close()

	clock := video.NewClock(logger)
	frames := video.NewClockFrames(clock, dec)
	seg := ai.NewLumaKeySegmenter(logger, ai.DefaultKeyColor)

	p := pipeline.New(logger, seg, frames, clock, pipeline.NewMatte())
	p.Start(context.Background())
	defer p.Stop()

	// Paused clock: nothing captured.
	p.Tick()
	if s := p.Stats(); s.Captures != 0 {
		t.Fatalf("expected no capture while paused, got %+v", s)
	}

	clock.Play()
	clock.Progress(0.5)
	p.Tick()
	p.Wait()

	s := p.Stats()
	if s.Successes != 1 {
		t.Fatalf("expected one successful inference, got %+v", s)
	}
	m := p.Matte().Current()
	if m == nil {
		t.Fatal("expected published matte")
	}
	if m.Bounds().Dx() != 64 || m.Bounds().Dy() != 36 {
		t.Errorf("unexpected matte bounds %v", m.Bounds())
	}
	// A solid key-colour frame keys out entirely.
	if a := m.RGBAAt(32, 18).A; a > 64 {
		t.Errorf("expected keyed pixel to be mostly transparent, got alpha %d", a)
	}
}
