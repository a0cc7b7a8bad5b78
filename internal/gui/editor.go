// Package gui is the desktop preview: the composited video, transport
// controls and the director chat.
package gui

import (
	"context"
	"fmt"
	"image"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/engine"
	"github.com/keagan/slopstudio/internal/store"
	"github.com/keagan/slopstudio/internal/video"
	"github.com/keagan/slopstudio/pkg/util"
)

// Editor shows one session
type Editor struct {
	logger  zerolog.Logger
	session *engine.Session
	raster  *compositor.Rasterizer
	view    *Viewport
}

// NewEditor creates an editor window model. frames may be nil, in which
// case layers are drawn over black.
func NewEditor(logger zerolog.Logger, session *engine.Session, raster *compositor.Rasterizer, frames video.FrameReader) *Editor {
	logger = logger.With().Str("component", "editor").Logger()
	return &Editor{
		logger:  logger,
		session: session,
		raster:  raster,
		view:    NewViewport(logger, raster, frames),
	}
}

// Run opens the window and blocks until it is closed
func (e *Editor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := app.NewWithID("studio.slop")
	w := a.NewWindow("slopstudio · " + e.session.ID())
	w.Resize(fyne.NewSize(1100, 640))

	clock := e.session.Clock()
	w0, h0 := e.raster.Size()

	picture := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, w0, h0)))
	picture.FillMode = canvas.ImageFillContain
	picture.SetMinSize(fyne.NewSize(float32(w0)/2, float32(h0)/2))

	timeLabel := widget.NewLabel(util.FormatClock(0))
	layersLabel := widget.NewLabel("")

	duration := e.session.Duration()
	if duration <= 0 {
		duration = 1
	}
	slider := widget.NewSlider(0, duration)
	slider.Step = 0.01
	slider.OnChangeEnded = func(v float64) {
		clock.Seek(v)
		go e.session.Scheduler().Refresh()
	}

	playButton := widget.NewButton("Play", nil)
	playButton.OnTapped = func() {
		if clock.Playing() {
			clock.Pause()
		} else {
			clock.Play()
		}
	}
	stopState := clock.OnStateChange(func(s video.State) {
		label := "Play"
		if s == video.Playing {
			label = "Pause"
		}
		fyne.Do(func() { playButton.SetText(label) })
	})
	defer stopState()

	// the playhead follows playback ticks; a paused seek is set by the user
	stopTicks := clock.OnTick(func(t float64) {
		fyne.Do(func() {
			slider.Value = t
			slider.Refresh()
		})
	})
	defer stopTicks()

	removeSink := e.session.Scheduler().AddSink(engine.SinkFunc(func(scene compositor.Scene) {
		img := e.view.Render(scene)
		kinds := make([]string, 0, len(scene.Layers))
		for _, k := range scene.Kinds() {
			kinds = append(kinds, k.String())
		}
		fyne.Do(func() {
			picture.Image = img
			picture.Refresh()
			timeLabel.SetText(util.FormatClock(scene.Time) + " / " + util.FormatClock(duration))
			layersLabel.SetText(strings.Join(kinds, " · "))
		})
	}))
	defer removeSink()

	transcript := widget.NewList(
		func() int { return len(e.session.Transcript()) },
		func() fyne.CanvasObject {
			l := widget.NewLabel("")
			l.Wrapping = fyne.TextWrapWord
			return l
		},
		func(id widget.ListItemID, o fyne.CanvasObject) {
			msgs := e.session.Transcript()
			if id < len(msgs) {
				o.(*widget.Label).SetText(formatMessage(msgs[id]))
			}
		},
	)
	stopMessages := e.session.OnMessage(func(store.Message) {
		fyne.Do(func() {
			transcript.Refresh()
			transcript.ScrollToBottom()
		})
	})
	defer stopMessages()

	prompt := widget.NewEntry()
	prompt.SetPlaceHolder("Tell the director what to change…")
	prompt.OnSubmitted = func(text string) {
		if err := e.session.Chat(ctx, text); err != nil {
			dialog.ShowError(err, w)
			return
		}
		prompt.SetText("")
	}

	exportButton := widget.NewButton("Export", func() {
		go func() {
			url, err := e.session.Export(ctx)
			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				dialog.ShowInformation("Export ready", url, w)
			})
		}()
	})

	controls := container.NewBorder(nil, nil,
		container.NewHBox(playButton, timeLabel), exportButton, slider)
	left := container.NewBorder(nil, container.NewVBox(controls, layersLabel), nil, nil, picture)
	right := container.NewBorder(widget.NewLabel("Director"), prompt, nil, nil, transcript)

	split := container.NewHSplit(left, right)
	split.Offset = 0.68
	w.SetContent(split)

	w.SetOnClosed(func() {
		clock.Pause()
		cancel()
	})

	a.Lifecycle().SetOnStarted(func() {
		e.session.Start()
		go e.session.Scheduler().Refresh()
	})
	w.ShowAndRun()
}

func formatMessage(m store.Message) string {
	who := "you"
	if m.Role == store.RoleAI {
		who = "director"
	}
	return fmt.Sprintf("%s  %s\n%s", m.CreatedAt.Format("15:04"), who, m.Content)
}
