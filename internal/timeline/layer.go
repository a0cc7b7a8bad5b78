package timeline

import (
	"errors"
	"fmt"
)

var ErrInvalidInterval = errors.New("invalid time interval")

// Interval is a time span in seconds. Both ends are inclusive.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t falls within the interval
func (i Interval) Contains(t float64) bool {
	return t >= i.Start && t <= i.End
}

// Span returns the interval itself so layer types satisfy Timed
func (i Interval) Span() Interval {
	return i
}

// Validate checks that the interval is well formed
func (i Interval) Validate() error {
	if i.Start < 0 || i.End < 0 {
		return fmt.Errorf("%w: negative bound [%.3f, %.3f]", ErrInvalidInterval, i.Start, i.End)
	}
	if i.Start > i.End {
		return fmt.Errorf("%w: start %.3f after end %.3f", ErrInvalidInterval, i.Start, i.End)
	}
	return nil
}

// Timed is any layer bounded by an interval
type Timed interface {
	Span() Interval
}

// Style is the session-global caption style
type Style struct {
	FontColor  string `json:"font_color,omitempty"`
	FontSize   int    `json:"font_size,omitempty"`
	FontFamily string `json:"font_family,omitempty"`
	BgColor    string `json:"bg_color,omitempty"`
	Position   string `json:"position,omitempty"`
}

// DefaultStyle mirrors the style a fresh upload starts with
func DefaultStyle() Style {
	return Style{
		FontColor:  "white",
		FontSize:   24,
		FontFamily: "Arial",
		Position:   "bottom",
	}
}

// SubtitleCue is one caption line
type SubtitleCue struct {
	Interval
	Text string `json:"text"`
}

// VisualProps are the declarative effect settings of an overlay
type VisualProps struct {
	Position  string  `json:"position,omitempty"`
	Animation string  `json:"animation,omitempty"`
	BlendMode string  `json:"blend_mode,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
}

// VisualOverlay is an AI-generated image shown over the video
type VisualOverlay struct {
	Interval
	URL     string      `json:"url"`
	Keyword string      `json:"keyword"`
	Props   VisualProps `json:"props"`
}

// HUD notice kinds
const (
	HudAlert   = "alert"
	HudSuccess = "success"
	HudInfo    = "info"
)

// HudItem is a heads-up notice card
type HudItem struct {
	Interval
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// TextProps are the declarative settings of kinetic text.
// Shadow is a pointer so an explicit false can be told apart from unset.
type TextProps struct {
	Size      int    `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Font      string `json:"font,omitempty"`
	PositionY string `json:"position_y,omitempty"`
	Animation string `json:"animation,omitempty"`
	Shadow    *bool  `json:"shadow,omitempty"`
}

// TextLayer is large kinetic text drawn behind the subject matte
type TextLayer struct {
	Interval
	Text  string    `json:"text"`
	Props TextProps `json:"props"`
}

// Camera move kinds
const (
	CameraPanLeft  = "pan-left"
	CameraPanRight = "pan-right"
	CameraZoomIn   = "zoom-in"
	CameraZoomOut  = "zoom-out"
	CameraShake    = "shake"
)

// CameraMove is a simulated camera motion over the video layer
type CameraMove struct {
	Interval
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity,omitempty"`
}
