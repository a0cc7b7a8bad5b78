package ffmpeg

import "time"

// VideoInfo is what the engine needs to know about a source video
type VideoInfo struct {
	Path     string
	Duration time.Duration
	Width    int
	Height   int
	FPS      float64
	Codec    string
	HasAudio bool
}

// Seconds returns the duration in timeline seconds
func (v *VideoInfo) Seconds() float64 {
	return v.Duration.Seconds()
}

// Progress is one block of `-progress` output
type Progress struct {
	Frame   int
	FPS     float64
	OutTime time.Duration
	Speed   string
	Done    bool
}

// RunOptions configures a one-shot ffmpeg run
type RunOptions struct {
	Args       []string
	OnProgress func(Progress)
	OnLog      func(line string)
}

// Encoding defaults for local renders
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultPixFmt     = "yuv420p"
)
