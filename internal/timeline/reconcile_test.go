package timeline

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestReconciler(state SessionState) (*Index, *Reconciler) {
	idx := NewIndex(state)
	return idx, NewReconciler(zerolog.Nop(), idx)
}

func TestApplyReplyOnlyKeepsState(t *testing.T) {
	initial := SessionState{
		Style:   DefaultStyle(),
		Visuals: []VisualOverlay{visual(0, 5, "A"), visual(2, 8, "B")},
	}
	idx, rec := newTestReconciler(initial)

	if !rec.Apply(Patch{Reply: "ok"}) {
		t.Fatal("expected reply-only patch to apply")
	}

	got := idx.Snapshot()
	if !reflect.DeepEqual(got.Visuals, initial.Visuals) {
		t.Errorf("visuals changed: %+v", got.Visuals)
	}
	if got.Style != initial.Style {
		t.Errorf("style changed: %+v", got.Style)
	}
}

func TestApplyReplacesWholeCategory(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{
		Subtitles: []SubtitleCue{sub(0, 1, "keep")},
		Visuals:   []VisualOverlay{visual(0, 5, "A"), visual(2, 8, "B")},
	})

	rec.Apply(Patch{UpdatedVisuals: []VisualOverlay{visual(1, 2, "C")}})

	got := idx.Snapshot()
	if len(got.Visuals) != 1 || got.Visuals[0].Keyword != "C" {
		t.Errorf("expected visuals replaced by [C], got %+v", got.Visuals)
	}
	if len(got.Subtitles) != 1 || got.Subtitles[0].Text != "keep" {
		t.Errorf("subtitles should be untouched, got %+v", got.Subtitles)
	}
}

func TestApplyEmptySliceClearsCategory(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{
		HUD: []HudItem{{Interval: Interval{0, 1}, Type: HudInfo}},
	})

	rec.Apply(Patch{UpdatedHUD: []HudItem{}})

	if n := len(idx.Snapshot().HUD); n != 0 {
		t.Errorf("expected HUD cleared, got %d items", n)
	}
}

func TestApplyStyle(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{Style: DefaultStyle()})

	style := Style{FontColor: "yellow", FontSize: 30, Position: "top"}
	rec.Apply(Patch{UpdatedStyle: &style})

	if got := idx.Style(); got != style {
		t.Errorf("expected style %+v, got %+v", style, got)
	}
}

func TestApplyDiscardsStaleSequence(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{})

	if !rec.Apply(Patch{Seq: 2, UpdatedSubtitles: []SubtitleCue{sub(0, 1, "newer")}}) {
		t.Fatal("expected seq 2 to apply")
	}
	if rec.Apply(Patch{Seq: 1, UpdatedSubtitles: []SubtitleCue{sub(0, 1, "older")}}) {
		t.Error("expected seq 1 to be discarded after seq 2")
	}
	if rec.Apply(Patch{Seq: 2, UpdatedSubtitles: []SubtitleCue{sub(0, 1, "dup")}}) {
		t.Error("expected duplicate seq to be discarded")
	}

	cue, _ := idx.Subtitle(0.5)
	if cue.Text != "newer" {
		t.Errorf("expected newer result kept, got %q", cue.Text)
	}
	if rec.LastSeq() != 2 {
		t.Errorf("expected last seq 2, got %d", rec.LastSeq())
	}

	// Unsequenced patches always apply and do not move the watermark.
	if !rec.Apply(Patch{UpdatedSubtitles: []SubtitleCue{sub(0, 1, "manual")}}) {
		t.Error("expected unsequenced patch to apply")
	}
	if rec.LastSeq() != 2 {
		t.Errorf("unsequenced patch moved watermark to %d", rec.LastSeq())
	}
}

func TestApplyHookReceivesState(t *testing.T) {
	_, rec := newTestReconciler(SessionState{})

	var got SessionState
	calls := 0
	var gotSeq uint64
	rec.OnApply = func(s SessionState, seq uint64) {
		calls++
		got = s
		gotSeq = seq
	}

	rec.Apply(Patch{Seq: 1, UpdatedCamera: []CameraMove{{Interval: Interval{0, 1}, Type: CameraZoomOut}}})
	rec.Apply(Patch{Seq: 1})

	if calls != 1 {
		t.Errorf("expected hook called once, got %d", calls)
	}
	if len(got.Camera) != 1 {
		t.Errorf("hook state missing camera move: %+v", got)
	}
	if gotSeq != 1 {
		t.Errorf("expected hook seq 1, got %d", gotSeq)
	}
}

func TestApplyHooksRunInApplyOrder(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var saved []string
	var seqs []uint64
	rec.OnApply = func(s SessionState, seq uint64) {
		if s.Subtitles[0].Text == "old" {
			close(entered)
			<-release
		}
		mu.Lock()
		saved = append(saved, s.Subtitles[0].Text)
		seqs = append(seqs, seq)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.Apply(Patch{Seq: 1, UpdatedSubtitles: []SubtitleCue{sub(0, 1, "old")}})
	}()
	<-entered
	go func() {
		defer wg.Done()
		rec.Apply(Patch{Seq: 2, UpdatedSubtitles: []SubtitleCue{sub(0, 1, "new")}})
	}()

	// the newer patch lands in the index while the older hook is blocked
	deadline := time.Now().Add(2 * time.Second)
	for rec.LastSeq() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.LastSeq() != 2 {
		t.Fatal("second patch never applied")
	}
	close(release)
	wg.Wait()

	if cue, _ := idx.Subtitle(0.5); cue.Text != "new" {
		t.Errorf("index should hold the newer state, got %q", cue.Text)
	}
	if !reflect.DeepEqual(saved, []string{"old", "new"}) {
		t.Errorf("hooks must finish in apply order, got %v", saved)
	}
	if seqs[len(seqs)-1] != 2 {
		t.Errorf("last hook should carry seq 2, got %v", seqs)
	}
}

func TestResetForgetsSequence(t *testing.T) {
	idx, rec := newTestReconciler(SessionState{})
	rec.Apply(Patch{Seq: 9})

	rec.Reset(SessionState{Subtitles: []SubtitleCue{sub(0, 1, "fresh")}})

	if rec.LastSeq() != 0 {
		t.Errorf("expected sequence reset, got %d", rec.LastSeq())
	}
	if !rec.Apply(Patch{Seq: 1}) {
		t.Error("expected seq 1 to apply after reset")
	}
	if cue, _ := idx.Subtitle(0.5); cue.Text != "fresh" {
		t.Errorf("expected reset state, got %q", cue.Text)
	}
}

func TestReadersSeeCompleteState(t *testing.T) {
	// Each patch replaces subtitles and visuals with matching keywords; a
	// reader must never see one category from one patch and the other
	// category from another.
	idx, rec := newTestReconciler(SessionState{
		Subtitles: []SubtitleCue{sub(0, 10, "p0")},
		Visuals:   []VisualOverlay{visual(0, 10, "p0")},
	})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			res := idx.Resolve(5)
			if res.Subtitle == nil || res.Visual == nil {
				t.Error("resolution missing a category")
				return
			}
			if res.Subtitle.Text != res.Visual.Keyword {
				t.Errorf("torn read: subtitle %q visual %q", res.Subtitle.Text, res.Visual.Keyword)
				return
			}
		}
	}()

	names := []string{"p1", "p2", "p3", "p4", "p5"}
	for i := 0; i < 200; i++ {
		name := names[i%len(names)]
		rec.Apply(Patch{
			Seq:              uint64(i + 1),
			UpdatedSubtitles: []SubtitleCue{sub(0, 10, name)},
			UpdatedVisuals:   []VisualOverlay{visual(0, 10, name)},
		})
	}
	close(stop)
	wg.Wait()
}
