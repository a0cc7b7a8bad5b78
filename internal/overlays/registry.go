// Package overlays fetches and caches the images shown by visual overlays.
package overlays

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultNegativeTTL is how long a failed URL is left alone
	DefaultNegativeTTL = 30 * time.Second

	maxImageBytes   = 32 << 20
	prefetchWorkers = 4
)

type failure struct {
	err error
	at  time.Time
}

// Registry maps overlay URLs to decoded images. Each URL is fetched at most
// once at a time; failures are remembered for NegativeTTL.
type Registry struct {
	logger zerolog.Logger
	client *http.Client
	group  singleflight.Group
	now    func() time.Time

	NegativeTTL time.Duration

	mu     sync.RWMutex
	images map[string]image.Image
	failed map[string]failure
}

// NewRegistry creates an empty registry. A nil client uses a 15s timeout.
func NewRegistry(logger zerolog.Logger, client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Registry{
		logger:      logger.With().Str("component", "overlays").Logger(),
		client:      client,
		now:         time.Now,
		NegativeTTL: DefaultNegativeTTL,
		images:      make(map[string]image.Image),
		failed:      make(map[string]failure),
	}
}

// Register adds an already decoded image
func (r *Registry) Register(url string, img image.Image) {
	r.mu.Lock()
	r.images[url] = img
	delete(r.failed, url)
	r.mu.Unlock()
}

// Lookup returns a cached image without fetching
func (r *Registry) Lookup(url string) (image.Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[url]
	return img, ok
}

// Get returns the image for url, fetching it on first use. Supported
// locations are http(s) URLs, file:// URLs and plain paths.
func (r *Registry) Get(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, errors.New("empty overlay url")
	}

	r.mu.RLock()
	img, ok := r.images[url]
	f, failed := r.failed[url]
	r.mu.RUnlock()
	if ok {
		return img, nil
	}
	if failed && r.now().Sub(f.at) < r.NegativeTTL {
		return nil, f.err
	}

	v, err, _ := r.group.Do(url, func() (any, error) {
		if img, ok := r.Lookup(url); ok {
			return img, nil
		}
		img, err := r.load(ctx, url)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.failed[url] = failure{err: err, at: r.now()}
			return nil, err
		}
		r.images[url] = img
		delete(r.failed, url)
		return img, nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("url", url).Msg("overlay fetch failed")
		return nil, err
	}
	return v.(image.Image), nil
}

// Prefetch loads urls concurrently. Failures are logged and cached, not
// returned, so one broken link does not hold up the rest.
func (r *Registry) Prefetch(ctx context.Context, urls []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchWorkers)

	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if _, ok := r.Lookup(u); ok {
			continue
		}
		u := u
		g.Go(func() error {
			r.Get(gctx, u)
			return nil
		})
	}
	g.Wait()
}

// List returns the cached URLs in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	urls := make([]string, 0, len(r.images))
	for u := range r.images {
		urls = append(urls, u)
	}
	r.mu.RUnlock()

	sort.Strings(urls)
	return urls
}

func (r *Registry) load(ctx context.Context, url string) (image.Image, error) {
	var rc io.ReadCloser
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		rc = resp.Body
	default:
		f, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return nil, err
		}
		rc = f
	}
	defer rc.Close()

	img, _, err := image.Decode(io.LimitReader(rc, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	r.logger.Debug().
		Str("url", url).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("overlay cached")
	return img, nil
}
