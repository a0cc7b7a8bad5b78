// Package director talks to the conversational editing service that authors
// timeline layers.
package director

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/keagan/slopstudio/internal/timeline"
)

// ErrSessionNotFound is returned when the service does not know the session
var ErrSessionNotFound = errors.New("session not found")

// Bootstrap is the response to a video upload
type Bootstrap struct {
	SessionID string                   `json:"session_id"`
	VideoURL  string                   `json:"video_url"`
	Subtitles []timeline.SubtitleCue   `json:"subtitles"`
	Style     *timeline.Style          `json:"style,omitempty"`
	Visuals   []timeline.VisualOverlay `json:"visuals,omitempty"`
}

// State seeds a session state from the bootstrap payload. A missing style
// falls back to the default caption style.
func (b Bootstrap) State() timeline.SessionState {
	style := timeline.DefaultStyle()
	if b.Style != nil {
		style = *b.Style
	}
	return timeline.SessionState{
		Style:     style,
		Subtitles: b.Subtitles,
		Visuals:   b.Visuals,
	}
}

// ChatRequest is one director prompt
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`

	// Seq and RequestID travel as headers
	Seq       uint64 `json:"-"`
	RequestID string `json:"-"`
}

// ChatResponse carries the reply and any replaced layer categories. A nil
// slice means the category was absent; an empty one clears it.
type ChatResponse struct {
	Reply             string                   `json:"reply"`
	UpdatedStyle      *timeline.Style          `json:"updated_style,omitempty"`
	UpdatedSubtitles  []timeline.SubtitleCue   `json:"updated_subtitles,omitempty"`
	UpdatedVisuals    []timeline.VisualOverlay `json:"updated_visuals,omitempty"`
	UpdatedHUD        []timeline.HudItem       `json:"updated_hud,omitempty"`
	UpdatedCamera     []timeline.CameraMove    `json:"updated_camera,omitempty"`
	UpdatedTextLayers []timeline.TextLayer     `json:"updated_text_layers,omitempty"`
}

// Patch converts the response into a reconciler patch tagged with seq
func (r ChatResponse) Patch(seq uint64) timeline.Patch {
	return timeline.Patch{
		Seq:               seq,
		Reply:             r.Reply,
		UpdatedStyle:      r.UpdatedStyle,
		UpdatedSubtitles:  r.UpdatedSubtitles,
		UpdatedVisuals:    r.UpdatedVisuals,
		UpdatedHUD:        r.UpdatedHUD,
		UpdatedCamera:     r.UpdatedCamera,
		UpdatedTextLayers: r.UpdatedTextLayers,
	}
}

// ExportRequest asks the service to render the session
type ExportRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// ExportResponse points at the rendered file
type ExportResponse struct {
	DownloadURL string `json:"download_url"`
}

// StatusError is a non-2xx response from the service
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Is lets a 404 match ErrSessionNotFound
func (e *StatusError) Is(target error) bool {
	return target == ErrSessionNotFound && e.Code == http.StatusNotFound
}

// Sequencer hands out strictly increasing request numbers, starting at 1
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Last returns the most recently issued number, or 0
func (s *Sequencer) Last() uint64 {
	return s.n.Load()
}
