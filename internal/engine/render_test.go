package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/keagan/slopstudio/internal/ai"
	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/rs/zerolog"
)

// solidFrames serves the same keyed-green frame for every position
type solidFrames struct {
	times  []float64
	closed bool
}

func (f *solidFrames) Ready() bool { return true }

func (f *solidFrames) FrameAt(t float64) (image.Image, error) {
	f.times = append(f.times, t)
	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	draw.Draw(img, img.Bounds(), image.NewUniform(ai.DefaultKeyColor), image.Point{}, draw.Src)
	return img, nil
}

func (f *solidFrames) Close() error {
	f.closed = true
	return nil
}

type memoryWriter struct {
	frames []*image.RGBA
	closed bool
	err    error
}

func (m *memoryWriter) WriteFrame(frame *image.RGBA) error {
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *memoryWriter) Close() error {
	m.closed = true
	return nil
}

func TestRenderToWritesEveryFrame(t *testing.T) {
	frames := &solidFrames{}
	client := newFakeClient()
	client.boot.Subtitles = nil
	s := bootstrapTestSession(t, client, Options{
		Frames:    frames,
		Segmenter: ai.NewLumaKeySegmenter(zerolog.Nop(), ai.DefaultKeyColor),
		Duration:  1,
	})
	raster := compositor.NewRasterizer(zerolog.Nop(), compositor.RasterOptions{Width: 32, Height: 18}, nil, nil)

	out := &memoryWriter{}
	var progress []int
	err := s.RenderTo(context.Background(), out, raster, RenderOptions{
		FPS:     10,
		OnFrame: func(done, total int) { progress = append(progress, done) },
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if len(out.frames) != 10 || !out.closed {
		t.Fatalf("expected 10 frames and a closed writer, got %d %v", len(out.frames), out.closed)
	}
	if len(frames.times) != 10 || frames.times[3] != 0.3 {
		t.Errorf("unexpected sample times %v", frames.times)
	}
	if len(progress) != 10 || progress[9] != 10 {
		t.Errorf("unexpected progress %v", progress)
	}
	if st := s.Pipeline().Stats(); st.Captures != 10 || st.Successes != 10 {
		t.Errorf("expected a matte per frame, got %+v", st)
	}

	if b := out.frames[0].Bounds(); b.Dx() != 32 || b.Dy() != 18 {
		t.Errorf("unexpected frame size %v", b)
	}
	want := color.RGBA{R: ai.DefaultKeyColor.R, G: ai.DefaultKeyColor.G, B: ai.DefaultKeyColor.B, A: 255}
	if got := out.frames[5].RGBAAt(16, 9); got != want {
		t.Errorf("expected the keyed backdrop to show through, got %v", got)
	}
}

func TestRenderToWriteError(t *testing.T) {
	s := bootstrapTestSession(t, newFakeClient(), Options{Frames: &solidFrames{}, Duration: 1})
	raster := compositor.NewRasterizer(zerolog.Nop(), compositor.RasterOptions{Width: 32, Height: 18}, nil, nil)

	out := &memoryWriter{err: errors.New("broken pipe")}
	if err := s.RenderTo(context.Background(), out, raster, RenderOptions{FPS: 5}); err == nil {
		t.Fatal("expected write error")
	}
	if !out.closed {
		t.Error("writer must be closed on failure")
	}
}

func TestRenderToPreconditions(t *testing.T) {
	raster := compositor.NewRasterizer(zerolog.Nop(), compositor.RasterOptions{Width: 32, Height: 18}, nil, nil)

	noFrames := bootstrapTestSession(t, newFakeClient(), Options{Duration: 1})
	if err := noFrames.RenderTo(context.Background(), &memoryWriter{}, raster, RenderOptions{}); err == nil {
		t.Error("expected error without a frame source")
	}

	noDuration := bootstrapTestSession(t, newFakeClient(), Options{Frames: &solidFrames{}})
	if err := noDuration.RenderTo(context.Background(), &memoryWriter{}, raster, RenderOptions{}); err == nil {
		t.Error("expected error without a duration")
	}

	fresh := New(zerolog.Nop(), newFakeClient(), Options{Frames: &solidFrames{}, Duration: 1})
	defer fresh.Close()
	if err := fresh.RenderTo(context.Background(), &memoryWriter{}, raster, RenderOptions{}); !errors.Is(err, ErrNotBootstrapped) {
		t.Errorf("expected ErrNotBootstrapped, got %v", err)
	}
}

func TestCloseReleasesFrameReader(t *testing.T) {
	frames := &solidFrames{}
	s, err := Bootstrap(context.Background(), zerolog.Nop(), newFakeClient(), "clip.mp4", Options{Frames: frames})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s.Close()
	if !frames.closed {
		t.Error("expected frame reader closed with the session")
	}
}
