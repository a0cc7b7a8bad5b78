// Package video tracks playback position and adapts decoded frames to it.
package video

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/keagan/slopstudio/pkg/util"
)

// Source reports the current playback position in seconds
type Source interface {
	CurrentTime() float64
}

// State is the playback state of a Clock
type State int

const (
	Paused State = iota
	Playing
	Ended
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Ended:
		return "ended"
	default:
		return "paused"
	}
}

// Clock is the playback clock. Ticks are delivered to subscribers only while
// playing; Ended behaves like Paused except that Play restarts at zero.
type Clock struct {
	logger zerolog.Logger

	mu    sync.Mutex
	state State
	now   float64

	ticks  util.Subscribers[float64]
	states util.Subscribers[State]
}

// NewClock creates a paused clock at position zero
func NewClock(logger zerolog.Logger) *Clock {
	return &Clock{
		logger: logger.With().Str("component", "clock").Logger(),
	}
}

// Play starts playback. Playing from Ended rewinds to the start.
func (c *Clock) Play() {
	c.mu.Lock()
	if c.state == Ended {
		c.now = 0
	}
	changed := c.state != Playing
	c.state = Playing
	c.mu.Unlock()

	if changed {
		c.emitState(Playing)
	}
}

// Pause stops tick delivery. Pausing an ended clock is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	changed := c.state == Playing
	if changed {
		c.state = Paused
	}
	c.mu.Unlock()

	if changed {
		c.emitState(Paused)
	}
}

// End marks the clip as finished
func (c *Clock) End() {
	c.mu.Lock()
	changed := c.state != Ended
	c.state = Ended
	c.mu.Unlock()

	if changed {
		c.emitState(Ended)
	}
}

// Seek moves the position, backwards or forwards. Seeking an ended clock
// leaves it paused at the new position.
func (c *Clock) Seek(t float64) {
	if t < 0 {
		t = 0
	}

	c.mu.Lock()
	c.now = t
	reopened := c.state == Ended
	if reopened {
		c.state = Paused
	}
	playing := c.state == Playing
	c.mu.Unlock()

	c.logger.Debug().Float64("t", t).Msg("seek")

	if reopened {
		c.emitState(Paused)
	}
	if playing {
		c.emitTick(t)
	}
}

// Progress records a position update from the video source
func (c *Clock) Progress(t float64) {
	c.mu.Lock()
	c.now = t
	playing := c.state == Playing
	c.mu.Unlock()

	if playing {
		c.emitTick(t)
	}
}

// Playing reports whether ticks are being delivered
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Playing
}

// Now returns the last known position in seconds
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// CurrentTime makes the clock itself a Source
func (c *Clock) CurrentTime() float64 {
	return c.Now()
}

func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTick subscribes fn to playback ticks and returns its cancel func.
// Subscribers are called in subscription order.
func (c *Clock) OnTick(fn func(t float64)) (cancel func()) {
	return c.ticks.Add(fn)
}

// OnStateChange subscribes fn to state transitions and returns its cancel func
func (c *Clock) OnStateChange(fn func(State)) (cancel func()) {
	return c.states.Add(fn)
}

// Subscribers run outside the lock so they may call back into the clock
func (c *Clock) emitTick(t float64) {
	c.ticks.Emit(t)
}

func (c *Clock) emitState(s State) {
	c.logger.Debug().Stringer("state", s).Msg("playback state changed")
	c.states.Emit(s)
}
