package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/keagan/slopstudio/internal/ai"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Capture after Stop
var ErrStopped = errors.New("segmentation pipeline stopped")

// SegmentationPipeline turns playback ticks into foreground mattes. At most
// one inference runs at a time; ticks that arrive while it is busy are
// dropped rather than queued.
type SegmentationPipeline struct {
	logger    zerolog.Logger
	segmenter ai.Segmenter
	frames    FrameSource
	gate      Gate
	matte     *Matte
	inflight  *semaphore.Weighted

	mu     sync.Mutex
	state  State
	stats  Stats
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// cancelled by Stop, ends Capture calls as well as ticks
	stopCtx context.Context
	stopAll context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

// New creates an idle pipeline. Ticks are ignored until Start.
func New(logger zerolog.Logger, segmenter ai.Segmenter, frames FrameSource, gate Gate, matte *Matte) *SegmentationPipeline {
	stopCtx, stopAll := context.WithCancel(context.Background())
	return &SegmentationPipeline{
		logger:    logger.With().Str("component", "segmentation").Logger(),
		segmenter: segmenter,
		frames:    frames,
		gate:      gate,
		matte:     matte,
		inflight:  semaphore.NewWeighted(1),
		stopCtx:   stopCtx,
		stopAll:   stopAll,
	}
}

// Start arms the pipeline; inference contexts derive from ctx
func (p *SegmentationPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Stopped || p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Debug().Msg("segmentation pipeline started")
}

// Tick captures the current frame if playback is running and no inference
// is in flight. It never blocks on inference.
func (p *SegmentationPipeline) Tick() {
	if !p.gate.Playing() || !p.frames.Ready() {
		return
	}

	p.mu.Lock()
	if p.state == Stopped || p.ctx == nil {
		p.mu.Unlock()
		return
	}
	if !p.inflight.TryAcquire(1) {
		p.stats.Drops++
		p.mu.Unlock()
		return
	}
	p.state = CaptureRequested
	p.wg.Add(1)
	ctx := p.ctx
	p.mu.Unlock()

	frame, err := p.frames.Frame()
	if err != nil {
		p.fail(err)
		p.inflight.Release(1)
		p.wg.Done()
		return
	}

	p.mu.Lock()
	p.stats.Captures++
	p.setStateLocked(InferenceInFlight)
	p.mu.Unlock()

	go p.infer(ctx, frame)
}

// Capture segments frame synchronously and publishes the matte, waiting for
// any in-flight inference first. Offline rendering uses it so every frame
// gets its own matte. Stop cancels a running Capture and waits for it.
func (p *SegmentationPipeline) Capture(ctx context.Context, frame image.Image) error {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	detach := context.AfterFunc(p.stopCtx, cancel)
	defer detach()

	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return p.interrupted(err)
	}
	defer p.inflight.Release(1)

	p.mu.Lock()
	p.stats.Captures++
	p.mu.Unlock()

	res, err := p.segmenter.Segment(ctx, frame)
	if ctx.Err() != nil || p.State() == Stopped {
		return p.interrupted(ctx.Err())
	}
	if err != nil {
		p.fail(err)
		return fmt.Errorf("segment frame: %w", err)
	}
	p.matte.Publish(composeMatte(res))

	p.mu.Lock()
	p.stats.Successes++
	p.mu.Unlock()
	return nil
}

// interrupted maps a cancelled capture to ErrStopped when Stop caused it
func (p *SegmentationPipeline) interrupted(err error) error {
	if p.State() == Stopped {
		return ErrStopped
	}
	return err
}

func (p *SegmentationPipeline) infer(ctx context.Context, frame image.Image) {
	defer p.wg.Done()
	defer p.inflight.Release(1)

	res, err := p.segmenter.Segment(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Debug().Msg("inference cancelled")
			p.setState(Idle)
			return
		}
		p.fail(err)
		return
	}

	p.setState(Composing)
	composed := composeMatte(res)
	if ctx.Err() != nil || p.State() == Stopped {
		p.setState(Idle)
		return
	}
	p.matte.Publish(composed)

	p.mu.Lock()
	p.stats.Successes++
	p.setStateLocked(Idle)
	p.mu.Unlock()
}

// fail records an error and drops the stale matte
func (p *SegmentationPipeline) fail(err error) {
	p.logger.Warn().Err(err).Msg("segmentation failed")
	p.matte.Clear()

	p.mu.Lock()
	p.stats.Failures++
	p.setStateLocked(Idle)
	p.mu.Unlock()
}

// composeMatte keeps source pixels only where the mask is opaque
func composeMatte(res *ai.Result) *image.RGBA {
	bounds := res.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.DrawMask(dst, dst.Bounds(), res.Image, bounds.Min, res.Mask, res.Mask.Bounds().Min, draw.Src)
	return dst
}

func (p *SegmentationPipeline) setState(s State) {
	p.mu.Lock()
	p.setStateLocked(s)
	p.mu.Unlock()
}

func (p *SegmentationPipeline) setStateLocked(s State) {
	if p.state != Stopped {
		p.state = s
	}
}

// Stop cancels any in-flight inference, waits for it, and releases the
// segmenter. Later ticks are no-ops. Safe to call more than once.
func (p *SegmentationPipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.state = Stopped
		cancel := p.cancel
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		p.stopAll()
		p.wg.Wait()
		p.matte.Clear()

		if p.segmenter != nil {
			p.stopErr = p.segmenter.Close()
		}
		stats := p.Stats()
		p.logger.Debug().
			Uint64("captures", stats.Captures).
			Uint64("drops", stats.Drops).
			Uint64("failures", stats.Failures).
			Uint64("successes", stats.Successes).
			Msg("segmentation pipeline stopped")
	})
	return p.stopErr
}

// Wait blocks until no inference is in flight
func (p *SegmentationPipeline) Wait() {
	p.wg.Wait()
}

func (p *SegmentationPipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SegmentationPipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Matte returns the surface the pipeline publishes to
func (p *SegmentationPipeline) Matte() *Matte {
	return p.matte
}
