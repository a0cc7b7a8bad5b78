package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/effects"
	"github.com/keagan/slopstudio/internal/timeline"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	playing atomic.Bool
	now     atomic.Uint64
}

func (c *fakeClock) Playing() bool { return c.playing.Load() }
func (c *fakeClock) Now() float64  { return math.Float64frombits(c.now.Load()) }
func (c *fakeClock) set(t float64) { c.now.Store(math.Float64bits(t)) }

type countingTicker struct{ n atomic.Int32 }

func (c *countingTicker) Tick() { c.n.Add(1) }

type countingPoller struct{ n atomic.Int32 }

func (c *countingPoller) Poll() { c.n.Add(1) }

type recordingSink struct {
	mu     sync.Mutex
	scenes []compositor.Scene
}

func (r *recordingSink) Present(s compositor.Scene) {
	r.mu.Lock()
	r.scenes = append(r.scenes, s)
	r.mu.Unlock()
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scenes)
}

func newTestCompositor() *compositor.Compositor {
	state := timeline.SessionState{
		Style: timeline.DefaultStyle(),
		Subtitles: []timeline.SubtitleCue{
			{Interval: timeline.Interval{Start: 1, End: 2}, Text: "hello"},
		},
	}
	return compositor.New(zerolog.Nop(), timeline.NewIndex(state), effects.NewDefaultResolver(), nil)
}

func TestTickPausedIsNoop(t *testing.T) {
	clock := &fakeClock{}
	ticker := &countingTicker{}
	sink := &recordingSink{}
	s := NewScheduler(zerolog.Nop(), clock, ticker, newTestCompositor(), nil)
	s.AddSink(sink)

	if s.Tick() {
		t.Error("expected no frame while paused")
	}
	if ticker.n.Load() != 0 || sink.count() != 0 {
		t.Errorf("paused tick reached pipeline (%d) or sinks (%d)", ticker.n.Load(), sink.count())
	}
}

func TestTickComposesAtClockTime(t *testing.T) {
	clock := &fakeClock{}
	clock.playing.Store(true)
	clock.set(1.5)
	ticker := &countingTicker{}
	sink := &recordingSink{}
	s := NewScheduler(zerolog.Nop(), clock, ticker, newTestCompositor(), nil)
	s.AddSink(sink)

	if !s.Tick() {
		t.Fatal("expected a frame while playing")
	}
	if ticker.n.Load() != 1 {
		t.Errorf("expected one pipeline tick, got %d", ticker.n.Load())
	}
	if sink.count() != 1 {
		t.Fatalf("expected one scene, got %d", sink.count())
	}
	scene := sink.scenes[0]
	if scene.Time != 1.5 {
		t.Errorf("expected scene at 1.5, got %v", scene.Time)
	}
	if l, ok := scene.Layer(compositor.LayerSubtitle); !ok || l.Subtitle.Text != "hello" {
		t.Errorf("expected subtitle layer, got %v", scene.Kinds())
	}
	if s.Frames() != 1 {
		t.Errorf("expected frame count 1, got %d", s.Frames())
	}
}

func TestTickWithoutPipeline(t *testing.T) {
	clock := &fakeClock{}
	clock.playing.Store(true)
	sink := &recordingSink{}
	s := NewScheduler(zerolog.Nop(), clock, nil, newTestCompositor(), nil)
	s.AddSink(sink)

	if !s.Tick() || sink.count() != 1 {
		t.Error("expected a frame without a segmentation pipeline")
	}
}

func TestSinksInOrderAndRemovable(t *testing.T) {
	clock := &fakeClock{}
	clock.playing.Store(true)
	s := NewScheduler(zerolog.Nop(), clock, nil, newTestCompositor(), nil)

	var order []string
	s.AddSink(SinkFunc(func(compositor.Scene) { order = append(order, "a") }))
	removeB := s.AddSink(SinkFunc(func(compositor.Scene) { order = append(order, "b") }))
	s.AddSink(SinkFunc(func(compositor.Scene) { order = append(order, "c") }))

	s.Tick()
	removeB()
	removeB()
	s.Tick()

	want := []string{"a", "b", "c", "a", "c"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestRefreshWhilePaused(t *testing.T) {
	clock := &fakeClock{}
	clock.set(1.2)
	ticker := &countingTicker{}
	sink := &recordingSink{}
	s := NewScheduler(zerolog.Nop(), clock, ticker, newTestCompositor(), nil)
	s.AddSink(sink)

	scene := s.Refresh()
	if sink.count() != 1 || scene.Time != 1.2 {
		t.Errorf("expected refresh to present the paused position, got %d scenes at %v", sink.count(), scene.Time)
	}
	if ticker.n.Load() != 0 {
		t.Error("refresh must not tick the pipeline")
	}
}

func TestRunPollsAndStops(t *testing.T) {
	clock := &fakeClock{}
	clock.playing.Store(true)
	poller := &countingPoller{}
	sink := &recordingSink{}
	s := NewScheduler(zerolog.Nop(), clock, nil, newTestCompositor(), poller)
	s.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if sink.count() < 3 {
		t.Errorf("expected frames from the loop, got %d", sink.count())
	}
	if poller.n.Load() < 3 {
		t.Errorf("expected the source polled every tick, got %d", poller.n.Load())
	}
}
