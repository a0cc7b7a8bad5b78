package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"

	"github.com/keagan/slopstudio/internal/effects"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	shadowOffset = 3
	hudMargin    = 24
	hudPadding   = 16
	hudAccentBar = 6
	subtitlePadX = 14
	subtitlePadY = 8
)

var (
	shadowColor  = color.NRGBA{A: 160}
	hudTitle     = color.NRGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
	hudBody      = color.NRGBA{R: 0xd1, G: 0xd5, B: 0xdb, A: 0xff}
	frameBacking = image.NewUniform(color.Black)
)

// AssetSource provides decoded overlay images. overlays.Registry satisfies
// it; the rasterizer never fetches.
type AssetSource interface {
	Lookup(url string) (image.Image, bool)
}

// RasterOptions sizes the output canvas
type RasterOptions struct {
	Width          int
	Height         int
	HUDWidth       int
	SubtitleShadow bool
}

// Rasterizer draws scenes onto video frames. Every Draw starts from a fresh
// canvas, so a layer that goes inactive leaves nothing behind.
type Rasterizer struct {
	logger zerolog.Logger
	opts   RasterOptions
	fonts  *FontBook
	assets AssetSource

	// font faces are stateful
	mu sync.Mutex
}

// NewRasterizer creates a rasterizer. A nil fonts uses the Go fonts; with
// nil assets visual overlays are skipped.
func NewRasterizer(logger zerolog.Logger, opts RasterOptions, fonts *FontBook, assets AssetSource) *Rasterizer {
	if opts.HUDWidth <= 0 {
		opts.HUDWidth = 420
	}
	if fonts == nil {
		// Only the embedded Go fonts are parsed here, which cannot fail.
		fonts, _ = NewFontBook(logger, "")
	}
	return &Rasterizer{
		logger: logger.With().Str("component", "rasterizer").Logger(),
		opts:   opts,
		fonts:  fonts,
		assets: assets,
	}
}

// Size returns the output dimensions
func (r *Rasterizer) Size() (int, int) {
	return r.opts.Width, r.opts.Height
}

// Draw renders scene over frame. A nil frame leaves the video area black.
func (r *Rasterizer) Draw(scene Scene, frame image.Image) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	dst := image.NewRGBA(image.Rect(0, 0, r.opts.Width, r.opts.Height))
	draw.Draw(dst, dst.Bounds(), frameBacking, image.Point{}, draw.Src)

	for _, l := range scene.Layers {
		switch l.Kind {
		case LayerVideo:
			r.drawVideo(dst, frame, l.Camera)
		case LayerText:
			r.drawText(dst, scene.Time, l)
		case LayerMatte:
			r.drawMatte(dst, l.Matte)
		case LayerVisual:
			r.drawVisual(dst, scene.Time, l)
		case LayerHUD:
			r.drawHUD(dst, l)
		case LayerSubtitle:
			r.drawSubtitle(dst, l)
		}
	}
	return dst
}

func (r *Rasterizer) drawVideo(dst *image.RGBA, frame image.Image, cam effects.CameraTransform) {
	if frame == nil {
		return
	}
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	s := cam.Scale
	if s <= 0 {
		s = 1
	}

	sw, sh := int(math.Round(float64(w)*s)), int(math.Round(float64(h)*s))
	src := fit(frame, sw, sh)

	ox, oy := cameraOrigin(cam.Origin, w, h)
	at := image.Pt(
		int(math.Round(ox-ox*s+cam.TranslateX)),
		int(math.Round(oy-oy*s+cam.TranslateY)),
	)
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(image.Pt(sw, sh))}, src, src.Bounds().Min, draw.Src)
}

func cameraOrigin(o effects.Origin, w, h int) (float64, float64) {
	switch o {
	case effects.OriginLeft:
		return 0, float64(h) / 2
	case effects.OriginRight:
		return float64(w), float64(h) / 2
	}
	return float64(w) / 2, float64(h) / 2
}

func (r *Rasterizer) drawText(dst *image.RGBA, t float64, l Layer) {
	if l.Text == nil || strings.TrimSpace(l.Text.Text) == "" {
		return
	}
	p := l.TextParams
	st := p.Animation.At(t - l.Start)
	if st.Alpha <= 0 {
		return
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	face := r.fonts.Face(p.Font, p.Size, true)
	lines := wrapText(face, l.Text.Text, w*9/10)
	img := renderText(face, lines, p.Color, p.Shadow)

	cy := int(math.Round(p.PositionY * float64(h)))
	rect := image.Rectangle{Max: img.Bounds().Size()}.Add(image.Pt(w/2-img.Bounds().Dx()/2, cy-img.Bounds().Dy()/2))
	rect = animateRect(rect, st)
	if rect.Empty() {
		return
	}
	blend(dst, rect.Min, fit(img, rect.Dx(), rect.Dy()), st.Alpha, effects.BlendNormal)
}

func (r *Rasterizer) drawMatte(dst *image.RGBA, matte *image.RGBA) {
	if matte == nil {
		return
	}
	src := fit(matte, dst.Bounds().Dx(), dst.Bounds().Dy())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
}

func (r *Rasterizer) drawVisual(dst *image.RGBA, t float64, l Layer) {
	if l.Visual == nil || r.assets == nil {
		return
	}
	img, ok := r.assets.Lookup(l.Visual.URL)
	if !ok {
		r.logger.Debug().Str("url", l.Visual.URL).Msg("overlay not cached yet")
		return
	}

	p := l.VisualParams
	st := p.Animation.At(t - l.Start)
	alpha := p.Opacity * st.Alpha
	if alpha <= 0 {
		return
	}

	rect := animateRect(p.Position.Place(dst.Bounds(), img.Bounds().Size()), st)
	if rect.Empty() {
		return
	}
	blend(dst, rect.Min, fit(img, rect.Dx(), rect.Dy()), alpha, p.BlendMode)
}

func (r *Rasterizer) drawHUD(dst *image.RGBA, l Layer) {
	if l.HUD == nil {
		return
	}
	p := l.HUDParams
	label := r.fonts.Face("", 14, true)
	title := r.fonts.Face("", 22, true)
	body := r.fonts.Face("", 18, false)

	textX := hudMargin + hudAccentBar + hudPadding
	textW := r.opts.HUDWidth - hudAccentBar - 2*hudPadding
	lines := wrapText(body, l.HUD.Content, textW)

	height := hudPadding*2 + lineHeight(label) + lineHeight(title)
	if len(lines) > 0 {
		height += len(lines) * lineHeight(body)
	}
	card := image.Rect(hudMargin, hudMargin, hudMargin+r.opts.HUDWidth, hudMargin+height)
	draw.Draw(dst, card, image.NewUniform(p.Panel), image.Point{}, draw.Over)
	bar := image.Rect(card.Min.X, card.Min.Y, card.Min.X+hudAccentBar, card.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(p.Accent), image.Point{}, draw.Over)

	y := card.Min.Y + hudPadding
	drawString(dst, label, p.Accent, textX, y+ascent(label), p.Label)
	y += lineHeight(label)
	drawString(dst, title, hudTitle, textX, y+ascent(title), l.HUD.Title)
	y += lineHeight(title)
	for _, ln := range lines {
		drawString(dst, body, hudBody, textX, y+ascent(body), ln)
		y += lineHeight(body)
	}
}

func (r *Rasterizer) drawSubtitle(dst *image.RGBA, l Layer) {
	if l.Subtitle == nil || strings.TrimSpace(l.Subtitle.Text) == "" {
		return
	}
	p := l.SubtitleParams
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	face := r.fonts.Face(p.Font, p.Size, false)
	lines := wrapText(face, l.Subtitle.Text, w*8/10)

	lh := lineHeight(face)
	maxW := 0
	for _, ln := range lines {
		maxW = max(maxW, font.MeasureString(face, ln).Ceil())
	}

	boxW, boxH := maxW+2*subtitlePadX, len(lines)*lh+2*subtitlePadY
	bottom := int(math.Round(float64(h) * (1 - p.Bottom)))
	box := image.Rect((w-boxW)/2, bottom-boxH, (w+boxW)/2, bottom)
	draw.Draw(dst, box, image.NewUniform(p.Box), image.Point{}, draw.Over)

	shadow := p.Shadow && r.opts.SubtitleShadow
	for i, ln := range lines {
		x := (w - font.MeasureString(face, ln).Ceil()) / 2
		y := box.Min.Y + subtitlePadY + i*lh + ascent(face)
		if shadow {
			drawString(dst, face, shadowColor, x+1, y+1, ln)
		}
		drawString(dst, face, p.Color, x, y, ln)
	}
}

// fit returns img scaled to exactly w×h
func fit(img image.Image, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rectangle{})
	}
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Bilinear)
}

// animateRect scales r about its centre and shifts it by the animation's
// vertical offset
func animateRect(r image.Rectangle, st effects.AnimationState) image.Rectangle {
	if st.Scale == 1 && st.OffsetY == 0 {
		return r
	}
	w := float64(r.Dx()) * st.Scale
	h := float64(r.Dy()) * st.Scale
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y)/2 + st.OffsetY*float64(r.Dy())
	return image.Rect(
		int(math.Round(cx-w/2)), int(math.Round(cy-h/2)),
		int(math.Round(cx+w/2)), int(math.Round(cy+h/2)),
	)
}

// blend composites src onto dst at `at` using mode, scaled by alpha.
// dst is premultiplied; the blended colour is mixed with the source colour
// by backdrop alpha before source-over.
func blend(dst *image.RGBA, at image.Point, src image.Image, alpha float64, mode effects.BlendMode) {
	sb := src.Bounds()
	area := image.Rectangle{Min: at, Max: at.Add(sb.Size())}.Intersect(dst.Bounds())

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(sb.Min.X+x-at.X, sb.Min.Y+y-at.Y)).(color.NRGBA)
			sa := float64(c.A) / 255 * alpha
			if sa <= 0 {
				continue
			}

			i := dst.PixOffset(x, y)
			d := dst.Pix[i : i+4 : i+4]
			da := float64(d[3]) / 255

			for ch, sv := range [3]uint8{c.R, c.G, c.B} {
				dp := float64(d[ch]) / 255
				dv := 0.0
				if da > 0 {
					dv = dp / da
				}
				s := float64(sv) / 255
				mixed := (1-da)*s + da*mode.Channel(dv, s)
				d[ch] = toByte(mixed*sa + dp*(1-sa))
			}
			d[3] = toByte(sa + da*(1-sa))
		}
	}
}

func toByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(1, v))*255 + 0.5)
}

// renderText draws centred lines onto a transparent image sized to fit
func renderText(face font.Face, lines []string, col color.Color, shadow bool) *image.RGBA {
	lh := lineHeight(face)
	maxW := 0
	for _, ln := range lines {
		maxW = max(maxW, font.MeasureString(face, ln).Ceil())
	}
	pad := 0
	if shadow {
		pad = shadowOffset
	}

	img := image.NewRGBA(image.Rect(0, 0, maxW+pad, lh*len(lines)+pad))
	for i, ln := range lines {
		x := (maxW - font.MeasureString(face, ln).Ceil()) / 2
		y := i*lh + ascent(face)
		if shadow {
			drawString(img, face, shadowColor, x+pad, y+pad, ln)
		}
		drawString(img, face, col, x, y, ln)
	}
	return img
}

func drawString(dst draw.Image, face font.Face, col color.Color, x, baseline int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// wrapText greedily breaks text into lines no wider than maxWidth. A single
// word wider than maxWidth gets a line of its own.
func wrapText(face font.Face, text string, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			candidate := line + " " + w
			if font.MeasureString(face, candidate).Ceil() > maxWidth {
				lines = append(lines, line)
				line = w
				continue
			}
			line = candidate
		}
		lines = append(lines, line)
	}
	return lines
}

func lineHeight(face font.Face) int {
	return face.Metrics().Height.Ceil()
}

func ascent(face font.Face) int {
	return face.Metrics().Ascent.Ceil()
}
