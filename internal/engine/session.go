package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/slopstudio/internal/ai"
	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/director"
	"github.com/keagan/slopstudio/internal/effects"
	"github.com/keagan/slopstudio/internal/overlays"
	"github.com/keagan/slopstudio/internal/pipeline"
	"github.com/keagan/slopstudio/internal/store"
	"github.com/keagan/slopstudio/internal/timeline"
	"github.com/keagan/slopstudio/internal/video"
	"github.com/keagan/slopstudio/pkg/util"
	"github.com/rs/zerolog"
)

var (
	// ErrNotBootstrapped is returned by operations that need a session id
	ErrNotBootstrapped = errors.New("session not bootstrapped")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// Options are the optional collaborators of a session
type Options struct {
	Store     *store.Store       // persists snapshots and transcript
	Segmenter ai.Segmenter       // owned by the session once passed in
	Frames    video.FrameReader  // decoded frames; closed with the session if it is an io.Closer
	Assets    *overlays.Registry // overlay images, prefetched on every patch
	Resolver  *effects.Resolver
	Duration  float64 // clip length in seconds, for the wall clock
	Refresh   time.Duration
}

// Session is one editing session: the timeline state, its chat transcript
// and the playback machinery that renders it.
type Session struct {
	logger zerolog.Logger
	client director.Client
	opts   Options

	index      *timeline.Index
	reconciler *timeline.Reconciler
	seq        director.Sequencer
	clock      *video.Clock
	wall       *video.WallSource
	matte      *pipeline.Matte
	pipeline   *pipeline.SegmentationPipeline
	compositor *compositor.Compositor
	scheduler  *Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
	loop   sync.WaitGroup

	mu         sync.Mutex
	id         string
	videoURL   string
	videoPath  string
	transcript []store.Message
	subs       util.Subscribers[store.Message]
	started    bool
	closed     bool

	closeOnce sync.Once
	closeErr  error
}

// New creates an empty session. Call Bootstrap or Resume before chatting.
func New(logger zerolog.Logger, client director.Client, opts Options) *Session {
	logger = logger.With().Str("component", "session").Logger()
	if opts.Resolver == nil {
		opts.Resolver = effects.NewDefaultResolver()
	}

	s := &Session{
		logger: logger,
		client: client,
		opts:   opts,
		index:  timeline.NewIndex(timeline.SessionState{Style: timeline.DefaultStyle()}),
		clock:  video.NewClock(logger),
		matte:  pipeline.NewMatte(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.reconciler = timeline.NewReconciler(logger, s.index)
	s.reconciler.OnApply = s.onApply
	s.wall = video.NewWallSource(s.clock, opts.Duration)

	var ticker Ticker
	if opts.Segmenter != nil && opts.Frames != nil {
		s.pipeline = pipeline.New(logger, opts.Segmenter, video.NewClockFrames(s.clock, opts.Frames), s.clock, s.matte)
		ticker = s.pipeline
	}

	s.compositor = compositor.New(logger, s.index, opts.Resolver, s.matte)
	s.scheduler = NewScheduler(logger, s.clock, ticker, s.compositor, s.wall)
	return s
}

// Bootstrap uploads the video and creates a session from the response. On
// failure no session is returned and the caller keeps ownership of
// opts.Segmenter.
func Bootstrap(ctx context.Context, logger zerolog.Logger, client director.Client, videoPath string, opts Options) (*Session, error) {
	s := New(logger, client, opts)
	if err := s.Bootstrap(ctx, videoPath); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

// Resume reopens a stored session
func Resume(ctx context.Context, logger zerolog.Logger, client director.Client, id string, opts Options) (*Session, error) {
	s := New(logger, client, opts)
	if err := s.Resume(ctx, id); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

// Bootstrap uploads the video and seeds the timeline from the response
func (s *Session) Bootstrap(ctx context.Context, videoPath string) error {
	if err := s.checkFresh(); err != nil {
		return err
	}

	b, err := s.client.Upload(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	state := b.State()

	s.mu.Lock()
	s.id = b.SessionID
	s.videoURL = b.VideoURL
	s.videoPath = videoPath
	s.mu.Unlock()

	s.reconciler.Reset(state)
	s.logger.Info().
		Str("session", b.SessionID).
		Interface("counts", state.Counts()).
		Msg("session bootstrapped")

	if err := s.persist(ctx, state, 0); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist session")
	}
	s.background(func() { s.prefetch(state) })
	return nil
}

// Resume loads the state and transcript of id from the store
func (s *Session) Resume(ctx context.Context, id string) error {
	if err := s.checkFresh(); err != nil {
		return err
	}
	if s.opts.Store == nil {
		return fmt.Errorf("resume %s: no store configured", id)
	}

	sess, err := s.opts.Store.LoadSession(ctx, id)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	msgs, err := s.opts.Store.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	s.mu.Lock()
	s.id = sess.ID
	s.videoURL = sess.VideoURL
	s.videoPath = sess.VideoPath
	s.transcript = msgs
	s.mu.Unlock()

	s.reconciler.Reset(sess.State)
	s.logger.Info().
		Str("session", id).
		Int("messages", len(msgs)).
		Msg("session resumed")

	s.background(func() { s.prefetch(sess.State) })
	return nil
}

func (s *Session) checkFresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.id != "" {
		return fmt.Errorf("session %s already bootstrapped", s.id)
	}
	return nil
}

// Start arms the segmentation pipeline and runs the scheduler until Close
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	if s.pipeline != nil {
		s.pipeline.Start(s.ctx)
	}
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		if err := s.scheduler.Run(s.ctx, s.opts.Refresh); err != nil {
			s.logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
}

// Chat records the prompt and sends it to the director without waiting
// for the answer. The reply is appended and its patch applied when it
// arrives; a failed request is logged and leaves only the prompt behind.
func (s *Session) Chat(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errors.New("empty prompt")
	}

	s.mu.Lock()
	closed, id := s.closed, s.id
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if id == "" {
		return ErrNotBootstrapped
	}

	s.record(ctx, store.RoleUser, prompt)

	req := director.ChatRequest{
		SessionID: id,
		Prompt:    prompt,
		Seq:       s.seq.Next(),
		RequestID: uuid.NewString(),
	}
	if !s.background(func() { s.send(req) }) {
		return ErrClosed
	}
	return nil
}

func (s *Session) send(req director.ChatRequest) {
	resp, err := s.client.Chat(s.ctx, req)
	if err != nil {
		if s.ctx.Err() != nil {
			s.logger.Debug().Uint64("seq", req.Seq).Msg("chat request abandoned")
			return
		}
		s.logger.Warn().
			Err(err).
			Uint64("seq", req.Seq).
			Str("request_id", req.RequestID).
			Msg("chat request failed")
		return
	}

	if resp.Reply != "" {
		s.record(s.ctx, store.RoleAI, resp.Reply)
	}
	s.reconciler.Apply(resp.Patch(req.Seq))
}

func (s *Session) onApply(state timeline.SessionState, seq uint64) {
	s.prefetch(state)
	if err := s.persist(s.ctx, state, seq); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

func (s *Session) prefetch(state timeline.SessionState) {
	if s.opts.Assets == nil || len(state.Visuals) == 0 {
		return
	}
	urls := make([]string, 0, len(state.Visuals))
	for _, v := range state.Visuals {
		urls = append(urls, v.URL)
	}
	s.opts.Assets.Prefetch(s.ctx, urls)
}

func (s *Session) persist(ctx context.Context, state timeline.SessionState, lastSeq uint64) error {
	if s.opts.Store == nil {
		return nil
	}
	s.mu.Lock()
	sess := store.Session{
		ID:        s.id,
		VideoURL:  s.videoURL,
		VideoPath: s.videoPath,
		State:     state,
		LastSeq:   lastSeq,
	}
	s.mu.Unlock()
	return s.opts.Store.SaveSession(ctx, sess)
}

func (s *Session) record(ctx context.Context, role, content string) {
	s.mu.Lock()
	msg := store.Message{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.transcript = append(s.transcript, msg)
	s.mu.Unlock()

	if s.opts.Store != nil {
		if err := s.opts.Store.AppendMessage(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("role", role).Msg("failed to persist message")
		}
	}
	s.subs.Emit(msg)
}

// background runs fn on a tracked goroutine unless the session is closed
func (s *Session) background(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
	return true
}

// Export asks the director to render the session and returns the download URL
func (s *Session) Export(ctx context.Context) (string, error) {
	s.mu.Lock()
	closed, id := s.closed, s.id
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if id == "" {
		return "", ErrNotBootstrapped
	}

	resp, err := s.client.Export(ctx, id)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	s.logger.Info().Str("session", id).Str("url", resp.DownloadURL).Msg("export ready")
	return resp.DownloadURL, nil
}

// Transcript returns a copy of the chat history
func (s *Session) Transcript() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// OnMessage calls fn for every message recorded from now on, in
// subscription order
func (s *Session) OnMessage(fn func(store.Message)) (cancel func()) {
	return s.subs.Add(fn)
}

// Wait blocks until every pending chat request has been handled
func (s *Session) Wait() {
	s.bg.Wait()
}

// Close abandons pending requests, stops the scheduler and the
// segmentation pipeline and releases the segmenter and frame reader.
// Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.bg.Wait()
		s.loop.Wait()

		var errs []error
		if s.pipeline != nil {
			errs = append(errs, s.pipeline.Stop())
		} else if s.opts.Segmenter != nil {
			errs = append(errs, s.opts.Segmenter.Close())
		}
		if c, ok := s.opts.Frames.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		s.closeErr = errors.Join(errs...)

		s.logger.Debug().Str("session", s.ID()).Msg("session closed")
	})
	return s.closeErr
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) VideoURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoURL
}

func (s *Session) VideoPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoPath
}

// State returns a copy of the current timeline state
func (s *Session) State() timeline.SessionState {
	return s.index.Snapshot()
}

func (s *Session) Clock() *video.Clock {
	return s.clock
}

func (s *Session) Index() *timeline.Index {
	return s.index
}

func (s *Session) Reconciler() *timeline.Reconciler {
	return s.reconciler
}

func (s *Session) Compositor() *compositor.Compositor {
	return s.compositor
}

func (s *Session) Scheduler() *Scheduler {
	return s.scheduler
}

// Matte returns the foreground surface drawn between text and visuals
func (s *Session) Matte() *pipeline.Matte {
	return s.matte
}

// Pipeline returns the segmentation pipeline, or nil when the session has
// no segmenter or no frame source
func (s *Session) Pipeline() *pipeline.SegmentationPipeline {
	return s.pipeline
}

// Frames returns the frame reader the session was opened with, if any
func (s *Session) Frames() video.FrameReader {
	return s.opts.Frames
}

// Duration returns the clip length the wall clock stops at
func (s *Session) Duration() float64 {
	return s.wall.Duration()
}
