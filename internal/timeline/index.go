package timeline

import "sync/atomic"

// FirstActive returns the first layer, in sequence order, whose interval
// contains t. Later overlapping layers are shadowed: source order is the
// tie-break, not start time.
func FirstActive[T Timed](layers []T, t float64) (T, bool) {
	for _, l := range layers {
		if l.Span().Contains(t) {
			return l, true
		}
	}
	var zero T
	return zero, false
}

// AllActive returns every layer whose interval contains t, in sequence order
func AllActive[T Timed](layers []T, t float64) []T {
	var active []T
	for _, l := range layers {
		if l.Span().Contains(t) {
			active = append(active, l)
		}
	}
	return active
}

// LastActive returns the last layer, in sequence order, containing t
func LastActive[T Timed](layers []T, t float64) (T, bool) {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i].Span().Contains(t) {
			return layers[i], true
		}
	}
	var zero T
	return zero, false
}

// Resolution is every category resolved for one timestamp
type Resolution struct {
	Time  float64
	Style Style

	Subtitle    *SubtitleCue
	HUD         *HudItem
	TextLayer   *TextLayer
	Camera      *CameraMove
	Visual      *VisualOverlay  // rendered overlay (last active)
	VisualStack []VisualOverlay // full overlapping overlay set
}

// Index resolves active layers for a playback timestamp.
//
// Single-active categories (subtitle, HUD, text layer, camera move) use
// first-match. Visual overlays collect every match and render the last one,
// so the most recently authored overlay wins. The asymmetry is intentional.
//
// The backing state is an immutable snapshot swapped atomically by the
// Reconciler; readers never observe a half-applied patch.
type Index struct {
	state atomic.Pointer[SessionState]
}

// NewIndex creates an index over a copy of state
func NewIndex(state SessionState) *Index {
	idx := &Index{}
	idx.store(state.Clone())
	return idx
}

func (x *Index) store(s SessionState) {
	x.state.Store(&s)
}

func (x *Index) load() *SessionState {
	return x.state.Load()
}

// Subtitle returns the first subtitle cue active at t
func (x *Index) Subtitle(t float64) (SubtitleCue, bool) {
	return FirstActive(x.load().Subtitles, t)
}

// HUD returns the first HUD notice active at t
func (x *Index) HUD(t float64) (HudItem, bool) {
	return FirstActive(x.load().HUD, t)
}

// TextLayer returns the first text layer active at t
func (x *Index) TextLayer(t float64) (TextLayer, bool) {
	return FirstActive(x.load().TextLayers, t)
}

// Camera returns the first camera move active at t
func (x *Index) Camera(t float64) (CameraMove, bool) {
	return FirstActive(x.load().Camera, t)
}

// Visuals returns the full set of overlays active at t
func (x *Index) Visuals(t float64) []VisualOverlay {
	return AllActive(x.load().Visuals, t)
}

// RenderedVisual returns the overlay that is drawn at t: the last active one
func (x *Index) RenderedVisual(t float64) (VisualOverlay, bool) {
	return LastActive(x.load().Visuals, t)
}

// Style returns the current caption style
func (x *Index) Style() Style {
	return x.load().Style
}

// Resolve resolves all categories at t against a single snapshot
func (x *Index) Resolve(t float64) Resolution {
	s := x.load()
	res := Resolution{Time: t, Style: s.Style}

	if v, ok := FirstActive(s.Subtitles, t); ok {
		res.Subtitle = &v
	}
	if v, ok := FirstActive(s.HUD, t); ok {
		res.HUD = &v
	}
	if v, ok := FirstActive(s.TextLayers, t); ok {
		res.TextLayer = &v
	}
	if v, ok := FirstActive(s.Camera, t); ok {
		res.Camera = &v
	}
	res.VisualStack = AllActive(s.Visuals, t)
	if n := len(res.VisualStack); n > 0 {
		v := res.VisualStack[n-1]
		res.Visual = &v
	}
	return res
}

// Snapshot returns a deep copy of the current state
func (x *Index) Snapshot() SessionState {
	return x.load().Clone()
}
