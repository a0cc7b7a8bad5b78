package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterChain builds a -vf chain. Steps with invalid arguments are skipped
// so callers can chain optional settings.
type FilterChain struct {
	steps []string
}

func NewFilterChain() *FilterChain {
	return &FilterChain{}
}

// FPS resamples to a constant frame rate
func (c *FilterChain) FPS(fps float64) *FilterChain {
	if fps <= 0 {
		return c
	}
	c.steps = append(c.steps, "fps="+strconv.FormatFloat(fps, 'g', -1, 64))
	return c
}

// Scale stretches to exactly width×height
func (c *FilterChain) Scale(width, height int) *FilterChain {
	if width <= 0 || height <= 0 {
		return c
	}
	c.steps = append(c.steps, fmt.Sprintf("scale=%d:%d", width, height))
	return c
}

// Fit scales inside width×height keeping the aspect ratio and pads the
// rest with black, so frames always match the compositor canvas
func (c *FilterChain) Fit(width, height int) *FilterChain {
	if width <= 0 || height <= 0 {
		return c
	}
	c.steps = append(c.steps,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", width, height),
	)
	return c
}

// Format converts the pixel format
func (c *FilterChain) Format(pixFmt string) *FilterChain {
	if pixFmt == "" {
		return c
	}
	c.steps = append(c.steps, "format="+pixFmt)
	return c
}

func (c *FilterChain) String() string {
	return strings.Join(c.steps, ",")
}
