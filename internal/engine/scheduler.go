// Package engine ties the playback clock, segmentation pipeline, compositor
// and director service into an editing session.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const statsInterval = 5 * time.Second

// PlaybackClock is the part of video.Clock the scheduler reads
type PlaybackClock interface {
	Playing() bool
	Now() float64
}

// Ticker receives one call per refresh while playing
type Ticker interface {
	Tick()
}

// Poller advances a clock from an external time source
type Poller interface {
	Poll()
}

// FrameSink receives every composed scene
type FrameSink interface {
	Present(scene compositor.Scene)
}

// SinkFunc adapts a function to FrameSink
type SinkFunc func(scene compositor.Scene)

func (f SinkFunc) Present(scene compositor.Scene) { f(scene) }

// Scheduler runs the per-refresh work: poll the time source, tick the
// segmentation pipeline, compose and present.
type Scheduler struct {
	logger     zerolog.Logger
	clock      PlaybackClock
	pipeline   Ticker
	compositor *compositor.Compositor
	poller     Poller

	sinks util.Subscribers[compositor.Scene]

	ticks  atomic.Uint64
	frames atomic.Uint64
}

// NewScheduler creates a scheduler. pipeline and poller may be nil.
func NewScheduler(logger zerolog.Logger, clock PlaybackClock, pipeline Ticker, comp *compositor.Compositor, poller Poller) *Scheduler {
	return &Scheduler{
		logger:     logger.With().Str("component", "scheduler").Logger(),
		clock:      clock,
		pipeline:   pipeline,
		compositor: comp,
		poller:     poller,
	}
}

// AddSink registers a sink; sinks are called in registration order
func (s *Scheduler) AddSink(sink FrameSink) (remove func()) {
	return s.sinks.Add(sink.Present)
}

// Tick does one refresh. It reports false and does nothing while paused.
func (s *Scheduler) Tick() bool {
	s.ticks.Add(1)
	if !s.clock.Playing() {
		return false
	}

	if s.pipeline != nil {
		s.pipeline.Tick()
	}
	s.present(s.compositor.Compose(s.clock.Now()))
	return true
}

// Refresh composes and presents the current position regardless of the
// play state, so a seek while paused still redraws.
func (s *Scheduler) Refresh() compositor.Scene {
	scene := s.compositor.Compose(s.clock.Now())
	s.present(scene)
	return scene
}

func (s *Scheduler) present(scene compositor.Scene) {
	s.sinks.Emit(scene)
	s.frames.Add(1)
}

// Run ticks every refresh interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context, refresh time.Duration) error {
	if refresh <= 0 {
		refresh = time.Second / 60
	}
	s.logger.Debug().Dur("refresh", refresh).Msg("scheduler started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if s.poller != nil {
					s.poller.Poll()
				}
				s.Tick()
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.logger.Debug().
					Uint64("ticks", s.ticks.Load()).
					Uint64("frames", s.frames.Load()).
					Float64("position", s.clock.Now()).
					Msg("scheduler stats")
			}
		}
	})

	err := g.Wait()
	s.logger.Debug().Uint64("frames", s.frames.Load()).Msg("scheduler stopped")
	return err
}

// Frames returns how many scenes have been presented
func (s *Scheduler) Frames() uint64 {
	return s.frames.Load()
}
