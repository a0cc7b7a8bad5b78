package overlays

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	body := pngBytes(t, 8, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/cat.png":
			time.Sleep(20 * time.Millisecond)
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
		case "/garbage.png":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetFetchesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	reg := NewRegistry(zerolog.Nop(), srv.Client())
	url := srv.URL + "/cat.png"

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := reg.Get(context.Background(), url)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
				t.Errorf("unexpected bounds %v", img.Bounds())
			}
		}()
	}
	wg.Wait()

	if _, err := reg.Get(context.Background(), url); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected one fetch, got %d", n)
	}
	if _, ok := reg.Lookup(url); !ok {
		t.Error("expected image in cache")
	}
}

func TestGetNegativeCache(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	reg := NewRegistry(zerolog.Nop(), srv.Client())

	now := time.Unix(0, 0)
	reg.now = func() time.Time { return now }
	url := srv.URL + "/missing.png"

	if _, err := reg.Get(context.Background(), url); err == nil {
		t.Fatal("expected 404 error")
	}
	if _, err := reg.Get(context.Background(), url); err == nil {
		t.Fatal("expected cached error")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected failure to be cached, got %d fetches", n)
	}

	now = now.Add(DefaultNegativeTTL + time.Second)
	reg.Get(context.Background(), url)
	if n := hits.Load(); n != 2 {
		t.Errorf("expected retry after ttl, got %d fetches", n)
	}
}

func TestGetRejectsUndecodable(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	reg := NewRegistry(zerolog.Nop(), srv.Client())

	if _, err := reg.Get(context.Background(), srv.URL+"/garbage.png"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGetLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	if err := os.WriteFile(path, pngBytes(t, 3, 3), 0644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(zerolog.Nop(), nil)

	for _, url := range []string{path, "file://" + path} {
		img, err := reg.Get(context.Background(), url)
		if err != nil {
			t.Fatalf("get %s: %v", url, err)
		}
		if img.Bounds().Dx() != 3 {
			t.Errorf("unexpected bounds %v", img.Bounds())
		}
	}
}

func TestPrefetchAndList(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	reg := NewRegistry(zerolog.Nop(), srv.Client())
	reg.Register("local://preset", image.NewRGBA(image.Rect(0, 0, 1, 1)))

	good := srv.URL + "/cat.png"
	reg.Prefetch(context.Background(), []string{good, good, srv.URL + "/missing.png", "", "local://preset"})

	if _, ok := reg.Lookup(good); !ok {
		t.Error("expected prefetched image")
	}
	urls := reg.List()
	if len(urls) != 2 || urls[0] != good || urls[1] != "local://preset" {
		t.Errorf("unexpected cached urls %v", urls)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("expected one fetch per distinct remote url, got %d", n)
	}
}
