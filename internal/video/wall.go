package video

import (
	"image"
	"sync"
	"time"
)

// WallSource drives a Clock from wall time, standing in for a decoder's
// presentation clock. Each Poll advances the clock by the wall time elapsed
// since the previous poll, so seeks made in between are respected.
type WallSource struct {
	clock    *Clock
	duration float64
	now      func() time.Time

	mu      sync.Mutex
	last    time.Time
	running bool
}

// NewWallSource creates a source for a clip of the given duration in
// seconds. A non-positive duration never ends.
func NewWallSource(clock *Clock, duration float64) *WallSource {
	return &WallSource{
		clock:    clock,
		duration: duration,
		now:      time.Now,
	}
}

// CurrentTime implements Source
func (w *WallSource) CurrentTime() float64 {
	return w.clock.Now()
}

// Duration returns the clip length in seconds
func (w *WallSource) Duration() float64 {
	return w.duration
}

// Poll reports progress to the clock and ends it at the clip duration
func (w *WallSource) Poll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.clock.Playing() {
		w.running = false
		return
	}

	now := w.now()
	t := w.clock.Now()
	if w.running {
		t += now.Sub(w.last).Seconds()
	}
	w.last = now
	w.running = true

	if w.duration > 0 && t >= w.duration {
		w.clock.Progress(w.duration)
		w.clock.End()
		w.running = false
		return
	}
	w.clock.Progress(t)
}

// FrameReader yields the decoded frame for a playback position
type FrameReader interface {
	Ready() bool
	FrameAt(t float64) (image.Image, error)
}

// ClockFrames serves the frame under the clock's current position
type ClockFrames struct {
	clock  *Clock
	reader FrameReader
}

func NewClockFrames(clock *Clock, reader FrameReader) *ClockFrames {
	return &ClockFrames{clock: clock, reader: reader}
}

// Ready reports whether a frame can be drawn
func (f *ClockFrames) Ready() bool {
	return f.reader.Ready()
}

// Frame returns the frame at the clock's position
func (f *ClockFrames) Frame() (image.Image, error) {
	return f.reader.FrameAt(f.clock.Now())
}
