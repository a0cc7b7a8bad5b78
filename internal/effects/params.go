package effects

import (
	"image"
	"image/color"
	"math"
	"time"
)

// Anchor names where an overlay box is attached
type Anchor string

const (
	AnchorCenter      Anchor = "center"
	AnchorFullScreen  Anchor = "full-screen"
	AnchorTopRight    Anchor = "top-right"
	AnchorTopLeft     Anchor = "top-left"
	AnchorBottomRight Anchor = "bottom-right"
	AnchorBottomLeft  Anchor = "bottom-left"
)

// Geometry describes how an overlay is placed inside the frame
type Geometry struct {
	Anchor Anchor

	// MaxFraction bounds a centred overlay to a fraction of the frame
	MaxFraction float64

	// Width, Height and Margin size corner boxes, in pixels
	Width  int
	Height int
	Margin int
}

// Place returns the destination rectangle for content of the given size
func (g Geometry) Place(frame image.Rectangle, content image.Point) image.Rectangle {
	fw, fh := frame.Dx(), frame.Dy()

	switch g.Anchor {
	case AnchorFullScreen:
		return frame
	case AnchorTopLeft:
		return image.Rect(g.Margin, g.Margin, g.Margin+g.Width, g.Margin+g.Height).Add(frame.Min)
	case AnchorTopRight:
		return image.Rect(fw-g.Margin-g.Width, g.Margin, fw-g.Margin, g.Margin+g.Height).Add(frame.Min)
	case AnchorBottomLeft:
		return image.Rect(g.Margin, fh-g.Margin-g.Height, g.Margin+g.Width, fh-g.Margin).Add(frame.Min)
	case AnchorBottomRight:
		return image.Rect(fw-g.Margin-g.Width, fh-g.Margin-g.Height, fw-g.Margin, fh-g.Margin).Add(frame.Min)
	}

	maxW := float64(fw) * g.MaxFraction
	maxH := float64(fh) * g.MaxFraction
	w, h := maxW, maxH
	if content.X > 0 && content.Y > 0 {
		scale := math.Min(maxW/float64(content.X), maxH/float64(content.Y))
		scale = math.Min(scale, 1)
		w, h = float64(content.X)*scale, float64(content.Y)*scale
	}
	x0 := (float64(fw) - w) / 2
	y0 := (float64(fh) - h) / 2
	return image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x0+w)), int(math.Round(y0+h)),
	).Add(frame.Min)
}

// Animation is an entrance or looping effect applied to a layer
type Animation struct {
	Name     string
	Duration time.Duration
	Easing   string
	Loop     bool
}

// AnimationState is the animated appearance of a layer at some instant
type AnimationState struct {
	Alpha   float64 // multiplied into layer opacity
	Scale   float64 // about the layer centre
	OffsetY float64 // fraction of the layer height
}

// At evaluates the animation elapsed seconds after the layer started
func (a Animation) At(elapsed float64) AnimationState {
	st := AnimationState{Alpha: 1, Scale: 1}
	if a.Duration <= 0 || elapsed < 0 {
		return st
	}
	d := a.Duration.Seconds()

	switch a.Name {
	case "fade":
		st.Alpha = easeInOut(clamp01(elapsed / d))
	case "pop":
		p := easeOut(clamp01(elapsed / d))
		st.Alpha = p
		st.Scale = 2 - p
	case "slide":
		phase := math.Mod(elapsed, d) / d
		dist := math.Abs(1 - 2*phase)
		st.OffsetY = -0.25 * dist * dist
	}
	return st
}

// BlendMode selects how overlay pixels combine with the frame
type BlendMode string

const (
	BlendNormal     BlendMode = "normal"
	BlendMultiply   BlendMode = "multiply"
	BlendScreen     BlendMode = "screen"
	BlendOverlay    BlendMode = "overlay"
	BlendDarken     BlendMode = "darken"
	BlendLighten    BlendMode = "lighten"
	BlendDifference BlendMode = "difference"
)

// Channel blends one colour channel; inputs and output are in [0,1]
func (b BlendMode) Channel(dst, src float64) float64 {
	switch b {
	case BlendMultiply:
		return dst * src
	case BlendScreen:
		return 1 - (1-dst)*(1-src)
	case BlendOverlay:
		if dst <= 0.5 {
			return 2 * dst * src
		}
		return 1 - 2*(1-dst)*(1-src)
	case BlendDarken:
		return math.Min(dst, src)
	case BlendLighten:
		return math.Max(dst, src)
	case BlendDifference:
		return math.Abs(dst - src)
	}
	return src
}

// VisualParams are the concrete render parameters of a visual overlay
type VisualParams struct {
	Position  Geometry
	Animation Animation
	BlendMode BlendMode
	Opacity   float64
}

// TextParams are the concrete render parameters of a text layer
type TextParams struct {
	Size      float64
	Color     color.NRGBA
	Font      string
	PositionY float64 // vertical centre as a fraction of frame height
	Animation Animation
	Shadow    bool
}

// SubtitleParams are the concrete render parameters of a caption
type SubtitleParams struct {
	Size   float64
	Color  color.NRGBA
	Font   string
	Bottom float64 // caption baseline offset from the bottom, as a fraction
	Box    color.NRGBA
	Shadow bool
}

// HUDParams are the concrete render parameters of a HUD notice
type HUDParams struct {
	Accent color.NRGBA
	Label  string
	Panel  color.NRGBA
}

// Origin is the fixed point of a camera scale
type Origin string

const (
	OriginCenter Origin = "center"
	OriginLeft   Origin = "left"
	OriginRight  Origin = "right"
)

// Transition describes how the camera eases into a new transform
type Transition struct {
	Duration time.Duration
	Easing   string
}

// CameraTransform is applied to the video layer only
type CameraTransform struct {
	Scale      float64
	Origin     Origin
	TranslateX float64 // pixels
	TranslateY float64 // pixels
	Transition Transition
}

// Identity reports whether the transform leaves the frame untouched
func (c CameraTransform) Identity() bool {
	return c.Scale == 1 && c.TranslateX == 0 && c.TranslateY == 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func easeOut(p float64) float64 {
	return 1 - (1-p)*(1-p)
}

func easeInOut(p float64) float64 {
	if p < 0.5 {
		return 2 * p * p
	}
	return 1 - math.Pow(-2*p+2, 2)/2
}
