package video

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClock() *Clock {
	return NewClock(zerolog.Nop())
}

func recordTicks(c *Clock) *[]float64 {
	var ticks []float64
	c.OnTick(func(t float64) { ticks = append(ticks, t) })
	return &ticks
}

func TestClockStartsPaused(t *testing.T) {
	c := newTestClock()
	if c.State() != Paused || c.Playing() {
		t.Fatalf("expected paused clock, got %v", c.State())
	}
	if c.Now() != 0 {
		t.Errorf("expected position 0, got %v", c.Now())
	}
}

func TestClockTicksOnlyWhilePlaying(t *testing.T) {
	c := newTestClock()
	ticks := recordTicks(c)

	c.Progress(1)
	if len(*ticks) != 0 {
		t.Fatalf("paused clock emitted %v", *ticks)
	}

	c.Play()
	c.Progress(2)
	c.Progress(3)
	c.Pause()
	c.Progress(4)

	if len(*ticks) != 2 || (*ticks)[0] != 2 || (*ticks)[1] != 3 {
		t.Errorf("expected ticks [2 3], got %v", *ticks)
	}
	if c.Now() != 4 {
		t.Errorf("position should still follow progress while paused, got %v", c.Now())
	}
}

func TestClockSeekBackwardEmitsOneTick(t *testing.T) {
	c := newTestClock()
	ticks := recordTicks(c)

	c.Play()
	c.Progress(10)
	c.Seek(2)

	if c.Now() != 2 {
		t.Errorf("expected position 2, got %v", c.Now())
	}
	if got := *ticks; len(got) != 2 || got[1] != 2 {
		t.Errorf("expected a tick at the seek target, got %v", got)
	}

	c.Pause()
	c.Seek(5)
	if len(*ticks) != 2 {
		t.Errorf("seek while paused must not tick, got %v", *ticks)
	}
}

func TestClockEnded(t *testing.T) {
	c := newTestClock()
	ticks := recordTicks(c)

	c.Play()
	c.Progress(8)
	c.End()

	if c.Playing() || c.State() != Ended {
		t.Fatalf("expected ended, got %v", c.State())
	}
	c.Progress(9)
	if len(*ticks) != 1 {
		t.Errorf("ended clock must not tick, got %v", *ticks)
	}

	c.Play()
	if c.Now() != 0 {
		t.Errorf("play from ended should restart at 0, got %v", c.Now())
	}
	if !c.Playing() {
		t.Error("expected playing after restart")
	}
}

func TestClockStateSubscribers(t *testing.T) {
	c := newTestClock()

	var states []State
	cancel := c.OnStateChange(func(s State) { states = append(states, s) })

	c.Play()
	c.Play()
	c.Pause()
	c.End()
	cancel()
	c.Play()

	want := []State{Playing, Paused, Ended}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

func TestClockCancelTick(t *testing.T) {
	c := newTestClock()
	n := 0
	cancel := c.OnTick(func(float64) { n++ })

	c.Play()
	c.Progress(1)
	cancel()
	c.Progress(2)

	if n != 1 {
		t.Errorf("expected 1 tick before cancel, got %d", n)
	}
}

func TestWallSourceAdvancesAndEnds(t *testing.T) {
	c := newTestClock()
	w := NewWallSource(c, 3)

	base := time.Unix(1000, 0)
	now := base
	w.now = func() time.Time { return now }

	w.Poll()
	if c.Now() != 0 {
		t.Fatalf("paused clock should not advance, got %v", c.Now())
	}

	c.Play()
	w.Poll()
	now = now.Add(1500 * time.Millisecond)
	w.Poll()
	if c.Now() != 1.5 {
		t.Errorf("expected 1.5s, got %v", c.Now())
	}

	c.Seek(0.5)
	now = now.Add(time.Second)
	w.Poll()
	if c.Now() != 1.5 {
		t.Errorf("expected poll to continue from seek target, got %v", c.Now())
	}

	now = now.Add(5 * time.Second)
	w.Poll()
	if c.State() != Ended {
		t.Errorf("expected ended at duration, got %v", c.State())
	}
	if c.Now() != 3 {
		t.Errorf("expected position clamped to 3, got %v", c.Now())
	}
}

func TestWallSourcePauseDoesNotAccumulate(t *testing.T) {
	c := newTestClock()
	w := NewWallSource(c, 0)
	now := time.Unix(0, 0)
	w.now = func() time.Time { return now }

	c.Play()
	w.Poll()
	now = now.Add(time.Second)
	w.Poll()

	c.Pause()
	now = now.Add(time.Minute)
	w.Poll()

	c.Play()
	w.Poll()
	now = now.Add(time.Second)
	w.Poll()

	if c.Now() != 2 {
		t.Errorf("expected 2s of play time, got %v", c.Now())
	}
}

type fakeReader struct {
	ready bool
	asked []float64
}

func (f *fakeReader) Ready() bool { return f.ready }

func (f *fakeReader) FrameAt(t float64) (image.Image, error) {
	f.asked = append(f.asked, t)
	if !f.ready {
		return nil, errors.New("not ready")
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func TestClockFramesFollowsClock(t *testing.T) {
	c := newTestClock()
	r := &fakeReader{ready: true}
	frames := NewClockFrames(c, r)

	c.Seek(4.25)
	if !frames.Ready() {
		t.Fatal("expected ready")
	}
	if _, err := frames.Frame(); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if len(r.asked) != 1 || r.asked[0] != 4.25 {
		t.Errorf("expected frame requested at 4.25, got %v", r.asked)
	}
}

func TestClockSubscribersRunInOrder(t *testing.T) {
	c := newTestClock()

	var ticks, states []int
	for i := 0; i < 10; i++ {
		c.OnTick(func(float64) { ticks = append(ticks, i) })
		c.OnStateChange(func(State) { states = append(states, i) })
	}

	c.Play()
	c.Progress(1)

	for i := 0; i < 10; i++ {
		if ticks[i] != i || states[i] != i {
			t.Fatalf("subscribers out of order: ticks %v states %v", ticks, states)
		}
	}
}
