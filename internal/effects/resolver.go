// Package effects maps declarative layer descriptors to concrete render
// parameters. Lookups are table driven with explicit fallbacks; the only
// non-deterministic output is camera shake, whose random source is injected.
package effects

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/keagan/slopstudio/internal/timeline"
)

// Defaults applied when a descriptor leaves a field unset
const (
	DefaultPosition       = AnchorCenter
	DefaultAnimation      = "fade"
	DefaultBlendMode      = BlendNormal
	DefaultOpacity        = 1.0
	DefaultTextSize       = 150
	DefaultTextColor      = "white"
	DefaultTextFont       = "sans-serif"
	DefaultTextPositionY  = "center"
	DefaultCameraScale    = 1.4
	ZoomOutScale          = 0.8
	ShakeScale            = 1.1
	ShakeMaxOffset        = 10.0
	DefaultSubtitleFont   = "Arial"
	DefaultSubtitleSize   = 24
	DefaultSubtitleColor  = "white"
	subtitleBottomDefault = 0.10
	subtitleBottomTop     = 0.85
)

var positions = map[Anchor]Geometry{
	AnchorCenter:      {Anchor: AnchorCenter, MaxFraction: 0.8},
	AnchorFullScreen:  {Anchor: AnchorFullScreen},
	AnchorTopRight:    {Anchor: AnchorTopRight, Width: 192, Height: 128, Margin: 16},
	AnchorTopLeft:     {Anchor: AnchorTopLeft, Width: 192, Height: 128, Margin: 16},
	AnchorBottomRight: {Anchor: AnchorBottomRight, Width: 192, Height: 128, Margin: 16},
	AnchorBottomLeft:  {Anchor: AnchorBottomLeft, Width: 192, Height: 128, Margin: 16},
}

var animations = map[string]Animation{
	"fade":  {Name: "fade", Duration: 500 * time.Millisecond, Easing: "ease-in-out"},
	"pop":   {Name: "pop", Duration: 300 * time.Millisecond, Easing: "ease-out"},
	"slide": {Name: "slide", Duration: time.Second, Easing: "bounce", Loop: true},
}

var blendModes = map[BlendMode]bool{
	BlendNormal:     true,
	BlendMultiply:   true,
	BlendScreen:     true,
	BlendOverlay:    true,
	BlendDarken:     true,
	BlendLighten:    true,
	BlendDifference: true,
}

var textPositions = map[string]float64{
	"top":    0.15,
	"center": 0.5,
	"bottom": 0.85,
}

var hudAccents = map[string]HUDParams{
	timeline.HudAlert:   {Accent: ParseColor("#ef4444"), Label: "ALERT"},
	timeline.HudSuccess: {Accent: ParseColor("#22c55e"), Label: "SUCCESS"},
	timeline.HudInfo:    {Accent: ParseColor("#3b82f6"), Label: "INFO"},
}

var (
	identityTransition = Transition{Duration: 500 * time.Millisecond, Easing: "ease-out"}
	shakeTransition    = Transition{Duration: 50 * time.Millisecond, Easing: "linear"}
)

// Resolver turns layer descriptors into render parameters
type Resolver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a resolver drawing shake offsets from src
func NewResolver(src rand.Source) *Resolver {
	return &Resolver{rng: rand.New(src)}
}

// NewDefaultResolver creates a resolver seeded from crypto/rand
func NewDefaultResolver() *Resolver {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return NewResolver(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return NewResolver(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])))
}

// Visual resolves overlay props. Unknown positions use the centre geometry;
// an unset or zero opacity is treated as fully opaque.
func (r *Resolver) Visual(props timeline.VisualProps) VisualParams {
	pos := Anchor(strings.ToLower(props.Position))
	if pos == "" {
		pos = DefaultPosition
	}
	geom, ok := positions[pos]
	if !ok {
		geom = positions[AnchorCenter]
	}

	animName := strings.ToLower(props.Animation)
	if animName == "" {
		animName = DefaultAnimation
	}

	blend := BlendMode(strings.ToLower(props.BlendMode))
	if !blendModes[blend] {
		blend = DefaultBlendMode
	}

	opacity := props.Opacity
	if opacity == 0 {
		opacity = DefaultOpacity
	}

	return VisualParams{
		Position:  geom,
		Animation: animations[animName],
		BlendMode: blend,
		Opacity:   clamp01(opacity),
	}
}

// Text resolves kinetic text props. The shadow is on unless explicitly false.
func (r *Resolver) Text(props timeline.TextProps) TextParams {
	size := props.Size
	if size <= 0 {
		size = DefaultTextSize
	}
	col := props.Color
	if col == "" {
		col = DefaultTextColor
	}
	font := props.Font
	if font == "" {
		font = DefaultTextFont
	}
	posY, ok := textPositions[strings.ToLower(props.PositionY)]
	if !ok {
		posY = textPositions[DefaultTextPositionY]
	}

	return TextParams{
		Size:      float64(size),
		Color:     ParseColor(col),
		Font:      font,
		PositionY: posY,
		Animation: animations[strings.ToLower(props.Animation)],
		Shadow:    props.Shadow == nil || *props.Shadow,
	}
}

// Camera resolves the active camera move, or the identity when move is nil.
// Shake draws a fresh offset on every call, so repeated resolutions within
// one interval jitter.
func (r *Resolver) Camera(move *timeline.CameraMove) CameraTransform {
	if move == nil {
		return CameraTransform{Scale: 1, Origin: OriginCenter, Transition: identityTransition}
	}

	intensity := move.Intensity
	if intensity == 0 {
		intensity = DefaultCameraScale
	}
	ct := CameraTransform{Scale: intensity, Origin: OriginCenter, Transition: identityTransition}

	switch move.Type {
	case timeline.CameraPanLeft:
		ct.Origin = OriginLeft
	case timeline.CameraPanRight:
		ct.Origin = OriginRight
	case timeline.CameraZoomOut:
		ct.Scale = ZoomOutScale
	case timeline.CameraShake:
		r.mu.Lock()
		ct.TranslateX = r.rng.Float64() * ShakeMaxOffset
		ct.TranslateY = r.rng.Float64() * ShakeMaxOffset
		r.mu.Unlock()
		ct.Scale = ShakeScale
		ct.Transition = shakeTransition
	}
	return ct
}

// Subtitle resolves the session caption style
func (r *Resolver) Subtitle(style timeline.Style) SubtitleParams {
	size := style.FontSize
	if size <= 0 {
		size = DefaultSubtitleSize
	}
	col := style.FontColor
	if col == "" {
		col = DefaultSubtitleColor
	}
	font := style.FontFamily
	if font == "" {
		font = DefaultSubtitleFont
	}
	bottom := subtitleBottomDefault
	if strings.EqualFold(style.Position, "top") {
		bottom = subtitleBottomTop
	}
	box := ParseColor("#00000080")
	if c, ok := LookupColor(style.BgColor); ok {
		box = c
	}

	return SubtitleParams{
		Size:   float64(size),
		Color:  ParseColor(col),
		Font:   font,
		Bottom: bottom,
		Box:    box,
		Shadow: true,
	}
}

// HUD resolves the look of a notice; unknown kinds render as info
func (r *Resolver) HUD(item timeline.HudItem) HUDParams {
	p, ok := hudAccents[strings.ToLower(item.Type)]
	if !ok {
		p = hudAccents[timeline.HudInfo]
	}
	p.Panel = ParseColor("#111827e6")
	return p
}
