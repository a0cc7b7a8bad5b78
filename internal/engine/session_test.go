package engine

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keagan/slopstudio/internal/ai"
	"github.com/keagan/slopstudio/internal/director"
	"github.com/keagan/slopstudio/internal/store"
	"github.com/keagan/slopstudio/internal/timeline"
	"github.com/rs/zerolog"
)

type fakeClient struct {
	boot    director.Bootstrap
	bootErr error
	chat    func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error)

	exportURL string
	exportErr error

	mu       sync.Mutex
	requests []director.ChatRequest
}

func (f *fakeClient) Upload(ctx context.Context, videoPath string) (director.Bootstrap, error) {
	if f.bootErr != nil {
		return director.Bootstrap{}, f.bootErr
	}
	return f.boot, nil
}

func (f *fakeClient) Chat(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.chat == nil {
		return director.ChatResponse{Reply: "ok"}, nil
	}
	return f.chat(ctx, req)
}

func (f *fakeClient) Export(ctx context.Context, sessionID string) (director.ExportResponse, error) {
	if f.exportErr != nil {
		return director.ExportResponse{}, f.exportErr
	}
	return director.ExportResponse{DownloadURL: f.exportURL}, nil
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		boot: director.Bootstrap{
			SessionID: "s1",
			VideoURL:  "http://director/static/s1_clip.mp4",
			Subtitles: []timeline.SubtitleCue{{Interval: timeline.Interval{Start: 0, End: 2}, Text: "hi"}},
		},
		exportURL: "http://director/processed/s1.mp4",
	}
}

type closingSegmenter struct{ closes atomic.Int32 }

func (c *closingSegmenter) Segment(ctx context.Context, frame image.Image) (*ai.Result, error) {
	return nil, errors.New("unused")
}

func (c *closingSegmenter) Close() error {
	c.closes.Add(1)
	return nil
}

func bootstrapTestSession(t *testing.T, client *fakeClient, opts Options) *Session {
	t.Helper()
	s, err := Bootstrap(context.Background(), zerolog.Nop(), client, "clip.mp4", opts)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func subtitlePatch(text string) director.ChatResponse {
	return director.ChatResponse{
		Reply:            "set " + text,
		UpdatedSubtitles: []timeline.SubtitleCue{{Interval: timeline.Interval{Start: 0, End: 5}, Text: text}},
	}
}

func TestBootstrapFailure(t *testing.T) {
	client := newFakeClient()
	client.bootErr = errors.New("connection refused")

	s, err := Bootstrap(context.Background(), zerolog.Nop(), client, "clip.mp4", Options{})
	if err == nil || s != nil {
		t.Fatalf("expected error and no session, got %v %v", s, err)
	}
}

func TestBootstrapSeedsTimeline(t *testing.T) {
	s := bootstrapTestSession(t, newFakeClient(), Options{})

	if s.ID() != "s1" || s.VideoPath() != "clip.mp4" {
		t.Errorf("unexpected session %q %q", s.ID(), s.VideoPath())
	}
	cue, ok := s.Index().Subtitle(1)
	if !ok || cue.Text != "hi" {
		t.Errorf("expected bootstrap subtitle, got %+v %v", cue, ok)
	}
	if s.State().Style != timeline.DefaultStyle() {
		t.Error("expected default style")
	}
	if err := s.Bootstrap(context.Background(), "other.mp4"); err == nil {
		t.Error("expected second bootstrap to fail")
	}
}

func TestChatAppliesPatch(t *testing.T) {
	client := newFakeClient()
	client.chat = func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
		return director.ChatResponse{
			Reply:          "added a fire gif",
			UpdatedVisuals: []timeline.VisualOverlay{{Interval: timeline.Interval{Start: 1, End: 3}, URL: "http://x/fire.gif"}},
		}, nil
	}
	s := bootstrapTestSession(t, client, Options{})

	if err := s.Chat(context.Background(), "  add fire  "); err != nil {
		t.Fatalf("chat: %v", err)
	}
	s.Wait()

	tr := s.Transcript()
	if len(tr) != 2 || tr[0].Role != store.RoleUser || tr[0].Content != "add fire" || tr[1].Role != store.RoleAI {
		t.Fatalf("unexpected transcript %+v", tr)
	}
	if v, ok := s.Index().RenderedVisual(2); !ok || v.URL != "http://x/fire.gif" {
		t.Errorf("expected patched visual, got %+v %v", v, ok)
	}
	if _, ok := s.Index().Subtitle(1); !ok {
		t.Error("absent category must be left alone")
	}
	if len(client.requests) != 1 || client.requests[0].Seq != 1 || client.requests[0].RequestID == "" {
		t.Errorf("unexpected request %+v", client.requests)
	}
	if s.Reconciler().LastSeq() != 1 {
		t.Errorf("expected last seq 1, got %d", s.Reconciler().LastSeq())
	}
}

func TestStaleReplyDiscarded(t *testing.T) {
	release := make(chan struct{})
	client := newFakeClient()
	client.chat = func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
		if req.Seq == 1 {
			<-release
			return subtitlePatch("first"), nil
		}
		return subtitlePatch("second"), nil
	}
	s := bootstrapTestSession(t, client, Options{})

	s.Chat(context.Background(), "one")
	s.Chat(context.Background(), "two")

	deadline := time.Now().Add(2 * time.Second)
	for s.Reconciler().LastSeq() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Reconciler().LastSeq() != 2 {
		t.Fatal("second reply never applied")
	}
	close(release)
	s.Wait()

	cue, _ := s.Index().Subtitle(1)
	if cue.Text != "second" {
		t.Errorf("late reply to an older prompt overwrote newer state: %q", cue.Text)
	}
	if n := len(s.Transcript()); n != 4 {
		t.Errorf("expected both prompts and both replies, got %d messages", n)
	}
}

func TestChatFailureKeepsPrompt(t *testing.T) {
	client := newFakeClient()
	client.chat = func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
		return director.ChatResponse{}, errors.New("502 bad gateway")
	}
	s := bootstrapTestSession(t, client, Options{})
	before := s.State()

	if err := s.Chat(context.Background(), "make it yellow"); err != nil {
		t.Fatalf("chat should not report request failures: %v", err)
	}
	s.Wait()

	if tr := s.Transcript(); len(tr) != 1 || tr[0].Content != "make it yellow" {
		t.Errorf("expected only the prompt, got %+v", tr)
	}
	if len(s.State().Subtitles) != len(before.Subtitles) || s.Reconciler().LastSeq() != 0 {
		t.Error("failed chat must not touch the timeline")
	}
}

func TestChatPreconditions(t *testing.T) {
	s := New(zerolog.Nop(), newFakeClient(), Options{})
	defer s.Close()

	if err := s.Chat(context.Background(), "hi"); !errors.Is(err, ErrNotBootstrapped) {
		t.Errorf("expected ErrNotBootstrapped, got %v", err)
	}
	if _, err := s.Export(context.Background()); !errors.Is(err, ErrNotBootstrapped) {
		t.Errorf("expected ErrNotBootstrapped from export, got %v", err)
	}

	s.Bootstrap(context.Background(), "clip.mp4")
	if err := s.Chat(context.Background(), "   "); err == nil {
		t.Error("expected error for empty prompt")
	}
	if len(s.Transcript()) != 0 {
		t.Error("rejected prompt must not be recorded")
	}
}

func TestExport(t *testing.T) {
	client := newFakeClient()
	s := bootstrapTestSession(t, client, Options{})

	url, err := s.Export(context.Background())
	if err != nil || url != "http://director/processed/s1.mp4" {
		t.Errorf("unexpected export %q %v", url, err)
	}

	client.exportErr = &director.StatusError{Op: "export", Code: 404}
	if _, err := s.Export(context.Background()); !errors.Is(err, director.ErrSessionNotFound) {
		t.Errorf("expected wrapped not-found error, got %v", err)
	}
}

func TestOnMessage(t *testing.T) {
	s := bootstrapTestSession(t, newFakeClient(), Options{})

	var mu sync.Mutex
	var roles []string
	cancel := s.OnMessage(func(m store.Message) {
		mu.Lock()
		roles = append(roles, m.Role)
		mu.Unlock()
	})

	s.Chat(context.Background(), "hi")
	s.Wait()
	cancel()
	s.Chat(context.Background(), "again")
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(roles) != 2 || roles[0] != store.RoleUser || roles[1] != store.RoleAI {
		t.Errorf("unexpected notifications %v", roles)
	}
}

func TestOnMessageSubscriberOrder(t *testing.T) {
	s := bootstrapTestSession(t, newFakeClient(), Options{})

	var order []int
	for i := 0; i < 8; i++ {
		s.OnMessage(func(store.Message) { order = append(order, i) })
	}

	if err := s.Chat(context.Background(), "hi"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	s.Wait()

	// user message then director reply, each to every subscriber in turn
	if len(order) != 16 {
		t.Fatalf("expected 16 notifications, got %d", len(order))
	}
	for i, v := range order {
		if v != i%8 {
			t.Fatalf("subscribers out of order: %v", order)
		}
	}
}

func TestCloseAbandonsPendingChat(t *testing.T) {
	client := newFakeClient()
	client.chat = func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
		<-ctx.Done()
		return director.ChatResponse{}, ctx.Err()
	}
	seg := &closingSegmenter{}
	s, err := Bootstrap(context.Background(), zerolog.Nop(), client, "clip.mp4", Options{Segmenter: seg})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s.Start()
	s.Chat(context.Background(), "never answered")

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a pending chat")
	}

	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if seg.closes.Load() != 1 {
		t.Errorf("expected segmenter closed once, got %d", seg.closes.Load())
	}
	if err := s.Chat(context.Background(), "hello?"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if len(s.Transcript()) != 1 {
		t.Errorf("expected only the abandoned prompt, got %+v", s.Transcript())
	}
}

func TestPersistAndResume(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	client := newFakeClient()
	client.chat = func(ctx context.Context, req director.ChatRequest) (director.ChatResponse, error) {
		return subtitlePatch("persisted"), nil
	}

	s, err := Bootstrap(context.Background(), zerolog.Nop(), client, "clip.mp4", Options{Store: st})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s.Chat(context.Background(), "change the caption")
	s.Wait()
	s.Close()

	r, err := Resume(context.Background(), zerolog.Nop(), client, "s1", Options{Store: st})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer r.Close()

	if r.VideoURL() != client.boot.VideoURL || r.VideoPath() != "clip.mp4" {
		t.Errorf("unexpected resumed session %q %q", r.VideoURL(), r.VideoPath())
	}
	if cue, ok := r.Index().Subtitle(1); !ok || cue.Text != "persisted" {
		t.Errorf("expected patched subtitle after resume, got %+v", cue)
	}
	tr := r.Transcript()
	if len(tr) != 2 || tr[0].Content != "change the caption" || tr[1].Content != "set persisted" {
		t.Errorf("unexpected transcript %+v", tr)
	}

	if _, err := Resume(context.Background(), zerolog.Nop(), client, "missing", Options{Store: st}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := Resume(context.Background(), zerolog.Nop(), client, "s1", Options{}); err == nil {
		t.Error("expected error without a store")
	}
}
