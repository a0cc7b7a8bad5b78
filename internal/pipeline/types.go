package pipeline

import (
	"image"
	"sync"
)

// State is the capture cycle position of the segmentation pipeline
type State int

const (
	Idle State = iota
	CaptureRequested
	InferenceInFlight
	Composing
	Stopped
)

func (s State) String() string {
	switch s {
	case CaptureRequested:
		return "capture-requested"
	case InferenceInFlight:
		return "inference-in-flight"
	case Composing:
		return "composing"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Stats counts what happened to each tick that reached the capture stage
type Stats struct {
	Captures  uint64 // frames handed to the segmenter
	Drops     uint64 // ticks skipped because inference was busy
	Failures  uint64 // captures or inferences that errored
	Successes uint64 // mattes published
}

// FrameSource yields the frame currently under the playhead
type FrameSource interface {
	Ready() bool
	Frame() (image.Image, error)
}

// Gate reports whether playback is running
type Gate interface {
	Playing() bool
}

// Matte is the latest composed foreground. The pipeline writes it and the
// compositor reads it; a published image is never mutated afterwards.
type Matte struct {
	mu      sync.RWMutex
	img     *image.RGBA
	version uint64
}

func NewMatte() *Matte {
	return &Matte{}
}

// Publish replaces the current matte
func (m *Matte) Publish(img *image.RGBA) {
	m.mu.Lock()
	m.img = img
	m.version++
	m.mu.Unlock()
}

// Clear removes the current matte
func (m *Matte) Clear() {
	m.mu.Lock()
	if m.img != nil {
		m.img = nil
		m.version++
	}
	m.mu.Unlock()
}

// Current returns the published matte, or nil after Clear
func (m *Matte) Current() *image.RGBA {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.img
}

// Version increments on every change
func (m *Matte) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}
