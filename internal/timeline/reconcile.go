package timeline

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Patch is a partial state update from the director agent.
//
// Every category is replaced wholesale when its field is non-nil and kept
// untouched when nil. An empty, non-nil slice clears the category. There is
// no element-wise merge.
type Patch struct {
	Seq   uint64
	Reply string

	UpdatedStyle      *Style
	UpdatedSubtitles  []SubtitleCue
	UpdatedVisuals    []VisualOverlay
	UpdatedHUD        []HudItem
	UpdatedCamera     []CameraMove
	UpdatedTextLayers []TextLayer
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.UpdatedStyle == nil &&
		p.UpdatedSubtitles == nil &&
		p.UpdatedVisuals == nil &&
		p.UpdatedHUD == nil &&
		p.UpdatedCamera == nil &&
		p.UpdatedTextLayers == nil
}

// Reconciler applies patches to an Index.
//
// Patches carrying a sequence number are applied in monotonic order: a
// patch whose Seq is not greater than the last applied one is discarded,
// so a slow older request can never overwrite a newer result. Seq 0 marks
// an unsequenced patch and is always applied.
type Reconciler struct {
	logger zerolog.Logger
	index  *Index

	mu      sync.Mutex
	lastSeq atomic.Uint64

	// hookMu is taken before mu is released so hooks run in apply order
	hookMu sync.Mutex

	// OnApply, when set, receives the new state and the sequence watermark
	// after each applied patch. Calls never overlap and arrive in the order
	// the patches were applied. A hook must not call Apply.
	OnApply func(state SessionState, seq uint64)
}

// NewReconciler creates a reconciler writing into index
func NewReconciler(logger zerolog.Logger, index *Index) *Reconciler {
	return &Reconciler{
		logger: logger.With().Str("component", "reconciler").Logger(),
		index:  index,
	}
}

// Apply merges a patch and reports whether it was applied
func (r *Reconciler) Apply(p Patch) bool {
	r.mu.Lock()

	if p.Seq != 0 && p.Seq <= r.lastSeq.Load() {
		last := r.lastSeq.Load()
		r.mu.Unlock()
		r.logger.Warn().
			Uint64("seq", p.Seq).
			Uint64("last_applied", last).
			Msg("discarding stale patch")
		return false
	}

	next := r.index.load().Clone()
	if p.UpdatedStyle != nil {
		next.Style = *p.UpdatedStyle
	}
	if p.UpdatedSubtitles != nil {
		next.Subtitles = cloneSlice(p.UpdatedSubtitles)
	}
	if p.UpdatedVisuals != nil {
		next.Visuals = cloneSlice(p.UpdatedVisuals)
	}
	if p.UpdatedHUD != nil {
		next.HUD = cloneSlice(p.UpdatedHUD)
	}
	if p.UpdatedCamera != nil {
		next.Camera = cloneSlice(p.UpdatedCamera)
	}
	if p.UpdatedTextLayers != nil {
		next.TextLayers = SessionState{TextLayers: p.UpdatedTextLayers}.Clone().TextLayers
	}

	r.index.store(next)
	if p.Seq != 0 {
		r.lastSeq.Store(p.Seq)
	}
	seq := r.lastSeq.Load()
	hook := r.OnApply
	if hook != nil {
		r.hookMu.Lock()
	}
	r.mu.Unlock()

	r.logger.Debug().
		Uint64("seq", p.Seq).
		Interface("counts", next.Counts()).
		Msg("patch applied")

	if hook != nil {
		defer r.hookMu.Unlock()
		hook(next.Clone(), seq)
	}
	return true
}

// Reset replaces the whole state and forgets sequencing history
func (r *Reconciler) Reset(state SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index.store(state.Clone())
	r.lastSeq.Store(0)
}

// LastSeq returns the sequence number of the last applied patch
func (r *Reconciler) LastSeq() uint64 {
	return r.lastSeq.Load()
}

// cloneSlice copies s, keeping an empty input non-nil
func cloneSlice[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}
