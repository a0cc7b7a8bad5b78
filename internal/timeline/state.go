package timeline

import (
	"fmt"
	"slices"
)

// SessionState holds every layer category of one editing session.
// Sequence order is authoring order and is never re-sorted.
type SessionState struct {
	Style      Style           `json:"style"`
	Subtitles  []SubtitleCue   `json:"subtitles"`
	Visuals    []VisualOverlay `json:"visuals"`
	HUD        []HudItem       `json:"hud"`
	Camera     []CameraMove    `json:"camera"`
	TextLayers []TextLayer     `json:"text_layers"`
}

// Clone returns a deep copy
func (s SessionState) Clone() SessionState {
	out := SessionState{
		Style:      s.Style,
		Subtitles:  slices.Clone(s.Subtitles),
		Visuals:    slices.Clone(s.Visuals),
		HUD:        slices.Clone(s.HUD),
		Camera:     slices.Clone(s.Camera),
		TextLayers: make([]TextLayer, len(s.TextLayers)),
	}
	for i, tl := range s.TextLayers {
		if tl.Props.Shadow != nil {
			shadow := *tl.Props.Shadow
			tl.Props.Shadow = &shadow
		}
		out.TextLayers[i] = tl
	}
	if s.TextLayers == nil {
		out.TextLayers = nil
	}
	return out
}

// Validate checks every interval in the state
func (s SessionState) Validate() error {
	check := func(category string, idx int, t Timed) error {
		if err := t.Span().Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", category, idx, err)
		}
		return nil
	}
	for i, v := range s.Subtitles {
		if err := check("subtitles", i, v); err != nil {
			return err
		}
	}
	for i, v := range s.Visuals {
		if err := check("visuals", i, v); err != nil {
			return err
		}
	}
	for i, v := range s.HUD {
		if err := check("hud", i, v); err != nil {
			return err
		}
	}
	for i, v := range s.Camera {
		if err := check("camera", i, v); err != nil {
			return err
		}
	}
	for i, v := range s.TextLayers {
		if err := check("text_layers", i, v); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the number of layers per category, for logging
func (s SessionState) Counts() map[string]int {
	return map[string]int{
		"subtitles":   len(s.Subtitles),
		"visuals":     len(s.Visuals),
		"hud":         len(s.HUD),
		"camera":      len(s.Camera),
		"text_layers": len(s.TextLayers),
	}
}
