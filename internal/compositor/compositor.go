// Package compositor assembles the layers active at a playback time into a
// z-ordered scene and rasterizes scenes onto video frames.
package compositor

import (
	"fmt"
	"image"

	"github.com/keagan/slopstudio/internal/effects"
	"github.com/keagan/slopstudio/internal/timeline"
	"github.com/rs/zerolog"
)

// Kind identifies a scene layer. Values are in z-order, bottom first.
type Kind int

const (
	LayerVideo Kind = iota
	LayerText
	LayerMatte
	LayerVisual
	LayerHUD
	LayerSubtitle
)

func (k Kind) String() string {
	switch k {
	case LayerVideo:
		return "video"
	case LayerText:
		return "text"
	case LayerMatte:
		return "matte"
	case LayerVisual:
		return "visual"
	case LayerHUD:
		return "hud"
	case LayerSubtitle:
		return "subtitle"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Layer is one drawable entry of a scene. Only the fields for its Kind are
// set.
type Layer struct {
	Kind Kind

	// Start is when the source layer became active; animations run from it
	Start float64

	Camera effects.CameraTransform // LayerVideo
	Matte  *image.RGBA             // LayerMatte

	Text           *timeline.TextLayer
	TextParams     effects.TextParams
	Visual         *timeline.VisualOverlay
	VisualParams   effects.VisualParams
	HUD            *timeline.HudItem
	HUDParams      effects.HUDParams
	Subtitle       *timeline.SubtitleCue
	SubtitleParams effects.SubtitleParams
}

func (l Layer) String() string {
	switch l.Kind {
	case LayerVideo:
		return fmt.Sprintf("video scale=%.2f origin=%s translate=(%.1f,%.1f)",
			l.Camera.Scale, l.Camera.Origin, l.Camera.TranslateX, l.Camera.TranslateY)
	case LayerText:
		return fmt.Sprintf("text %q size=%.0f y=%.2f", l.Text.Text, l.TextParams.Size, l.TextParams.PositionY)
	case LayerMatte:
		return fmt.Sprintf("matte %v", l.Matte.Bounds())
	case LayerVisual:
		return fmt.Sprintf("visual %q %s blend=%s opacity=%.2f",
			l.Visual.Keyword, l.VisualParams.Position.Anchor, l.VisualParams.BlendMode, l.VisualParams.Opacity)
	case LayerHUD:
		return fmt.Sprintf("hud %s %q", l.HUDParams.Label, l.HUD.Title)
	case LayerSubtitle:
		return fmt.Sprintf("subtitle %q", l.Subtitle.Text)
	}
	return l.Kind.String()
}

// Scene is the ordered layer stack for one instant
type Scene struct {
	Time   float64
	Layers []Layer
}

// Layer returns the layer of the given kind, if present
func (s Scene) Layer(kind Kind) (Layer, bool) {
	for _, l := range s.Layers {
		if l.Kind == kind {
			return l, true
		}
	}
	return Layer{}, false
}

// Kinds lists the layer kinds in draw order
func (s Scene) Kinds() []Kind {
	kinds := make([]Kind, len(s.Layers))
	for i, l := range s.Layers {
		kinds[i] = l.Kind
	}
	return kinds
}

// MatteSource exposes the latest segmentation matte. pipeline.Matte
// satisfies it.
type MatteSource interface {
	Current() *image.RGBA
}

// Compositor builds scenes from the timeline index
type Compositor struct {
	logger   zerolog.Logger
	index    *timeline.Index
	resolver *effects.Resolver
	matte    MatteSource
}

// New creates a compositor. matte may be nil when segmentation is off.
func New(logger zerolog.Logger, index *timeline.Index, resolver *effects.Resolver, matte MatteSource) *Compositor {
	return &Compositor{
		logger:   logger.With().Str("component", "compositor").Logger(),
		index:    index,
		resolver: resolver,
		matte:    matte,
	}
}

// Compose returns the scene at t. The video layer is always present and is
// the only one carrying the camera transform; every other layer appears
// only when its category has an active entry.
func (c *Compositor) Compose(t float64) Scene {
	res := c.index.Resolve(t)
	scene := Scene{Time: t, Layers: make([]Layer, 0, 6)}

	video := Layer{Kind: LayerVideo, Camera: c.resolver.Camera(res.Camera)}
	if res.Camera != nil {
		video.Start = res.Camera.Start
	}
	scene.Layers = append(scene.Layers, video)

	if tl := res.TextLayer; tl != nil {
		scene.Layers = append(scene.Layers, Layer{
			Kind:       LayerText,
			Start:      tl.Start,
			Text:       tl,
			TextParams: c.resolver.Text(tl.Props),
		})
	}

	if c.matte != nil {
		if m := c.matte.Current(); m != nil {
			scene.Layers = append(scene.Layers, Layer{Kind: LayerMatte, Start: t, Matte: m})
		}
	}

	if v := res.Visual; v != nil {
		scene.Layers = append(scene.Layers, Layer{
			Kind:         LayerVisual,
			Start:        v.Start,
			Visual:       v,
			VisualParams: c.resolver.Visual(v.Props),
		})
	}

	if h := res.HUD; h != nil {
		scene.Layers = append(scene.Layers, Layer{
			Kind:      LayerHUD,
			Start:     h.Start,
			HUD:       h,
			HUDParams: c.resolver.HUD(*h),
		})
	}

	if s := res.Subtitle; s != nil {
		scene.Layers = append(scene.Layers, Layer{
			Kind:           LayerSubtitle,
			Start:          s.Start,
			Subtitle:       s,
			SubtitleParams: c.resolver.Subtitle(res.Style),
		})
	}

	c.logger.Debug().
		Float64("t", t).
		Int("layers", len(scene.Layers)).
		Int("visual_stack", len(res.VisualStack)).
		Msg("scene composed")
	return scene
}
