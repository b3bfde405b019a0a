package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// createTestLogger creates a logger for testing
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors during tests
	}))
}

func htmlServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad url %q: %v", rawURL, err)
	}
	return u.Hostname()
}

func TestRejectedURLsNeverFetched(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<title>secret</title><meta property="og:image" content="https://example.com/a.jpg">`)
	}))
	defer server.Close()

	e := New(DefaultPolicy(), createTestLogger())
	port := server.URL[strings.LastIndex(server.URL, ":")+1:]
	targets := []string{
		server.URL,
		"http://localhost:" + port,
		"http://[::]:" + port,
		"ftp://127.0.0.1:" + port,
		"file:///etc/passwd",
		"",
		"not a url",
	}

	for _, target := range targets {
		if _, err := e.ExtractTitle(context.Background(), target); KindOf(err) != KindInvalidInput {
			t.Errorf("ExtractTitle(%q) err = %v, want invalid_input", target, err)
		}
		if got := e.ExtractPreviewImage(context.Background(), target); got != nil {
			t.Errorf("ExtractPreviewImage(%q) = %+v, want nil", target, got)
		}
		if _, err := e.ExtractMetadata(context.Background(), target); KindOf(err) != KindInvalidInput {
			t.Errorf("ExtractMetadata(%q) err = %v, want invalid_input", target, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("blocked targets reached the network %d times", hits.Load())
	}
}

func TestExtractPreviewImage(t *testing.T) {
	tests := []struct {
		name       string
		page       string
		want       string // %s is replaced with the server origin
		wantSource FieldKind
	}{
		{
			name: "og before twitter",
			page: `<meta name="twitter:image" content="https://img.example.com/tw.jpg">
				<meta property="og:image" content="https://img.example.com/og.jpg">`,
			want:       "https://img.example.com/og.jpg",
			wantSource: KindOGImage,
		},
		{
			name:       "twitter only",
			page:       `<meta name="twitter:image" content="https://img.example.com/tw.jpg">`,
			want:       "https://img.example.com/tw.jpg",
			wantSource: KindTwitterImage,
		},
		{
			name:       "rooted path resolved against page",
			page:       `<meta property="og:image" content="/images/preview.jpg">`,
			want:       "%s/images/preview.jpg",
			wantSource: KindOGImage,
		},
		{
			name:       "protocol relative inherits scheme",
			page:       `<meta property="og:image" content="//cdn.example.com/image.jpg">`,
			want:       "http://cdn.example.com/image.jpg",
			wantSource: KindOGImage,
		},
		{
			name:       "entities decoded",
			page:       `<meta property="og:image" content="https://example.com/image?param=value&amp;other=test">`,
			want:       "https://example.com/image?param=value&other=test",
			wantSource: KindOGImage,
		},
		{
			name:       "generic image",
			page:       `<meta name="image" content="https://example.com/generic.png">`,
			want:       "https://example.com/generic.png",
			wantSource: KindGenericImage,
		},
	}

	e := New(testPolicy(), createTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := htmlServer(t, tt.page)
			want := tt.want
			if strings.Contains(want, "%s") {
				want = fmt.Sprintf(want, server.URL)
			}

			got := e.ExtractPreviewImage(context.Background(), server.URL+"/recipe-page")
			if got == nil {
				t.Fatal("ExtractPreviewImage() = nil")
			}
			if got.Value != want || got.Source != tt.wantSource {
				t.Errorf("ExtractPreviewImage() = %+v, want %q from %q", got, want, tt.wantSource)
			}
		})
	}
}

func TestExtractPreviewImageNone(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no image tags",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, "<title>Soup</title>")
			},
		},
		{
			name: "image points at metadata service",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, `<meta property="og:image" content="http://169.254.169.254/latest/meta-data/">`)
			},
		},
		{
			name: "image uses javascript scheme",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, `<meta property="og:image" content="javascript:alert(1)">`)
			},
		},
		{
			name: "json response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"og:image": "https://example.com/a.jpg"}`)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `<meta property="og:image" content="https://example.com/a.jpg">`)
			},
		},
		{
			name: "oversized page with early image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, `<meta property="og:image" content="https://example.com/a.jpg">`)
				fmt.Fprint(w, strings.Repeat("x", 4096))
			},
		},
	}

	policy := testPolicy()
	policy.MaxBytes = 1024
	e := New(policy, createTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			if got := e.ExtractPreviewImage(context.Background(), server.URL); got != nil {
				t.Fatalf("ExtractPreviewImage() = %+v, want nil", got)
			}
		})
	}
}

func TestExtractTitle(t *testing.T) {
	server := htmlServer(t, `<title>Fallback</title><meta name="twitter:title" content="Shakshuka &amp; Bread">`)
	e := New(testPolicy(), createTestLogger())

	got, err := e.ExtractTitle(context.Background(), "  "+server.URL+"/recipes/42  ")
	if err != nil {
		t.Fatalf("ExtractTitle returned error: %v", err)
	}
	if got.Value != "Shakshuka & Bread" || got.Source != KindTwitterTitle {
		t.Fatalf("ExtractTitle() = %+v", got)
	}
}

func TestExtractTitleHostnameFallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no title fields",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, "<html><body><h1>No head</h1></body></html>")
			},
		},
		{
			name: "empty title tag",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, "<title>   </title>")
			},
		},
		{
			name: "not found status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, "<title>404</title>")
			},
		},
	}

	e := New(testPolicy(), createTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			got, err := e.ExtractTitle(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("ExtractTitle returned error: %v", err)
			}
			if got.Value != hostOf(t, server.URL) || got.Source != KindHostname {
				t.Fatalf("ExtractTitle() = %+v, want hostname", got)
			}
		})
	}
}

func TestExtractTitleErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
		kind    Kind
	}{
		{
			name: "json content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"title": "nope"}`)
			},
			want: ErrNotHTML,
			kind: KindNotHTML,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, `<meta property="og:title" content="Early Title">`)
				fmt.Fprint(w, strings.Repeat("y", 4096))
			},
			want: ErrPayloadTooLarge,
			kind: KindPayloadTooLarge,
		},
		{
			name: "never completes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				waitForClient(r)
			},
			want: ErrTimeout,
			kind: KindTimeout,
		},
	}

	policy := testPolicy()
	policy.MaxBytes = 1024
	policy.Timeout = 150 * time.Millisecond
	e := New(policy, createTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			got, err := e.ExtractTitle(context.Background(), server.URL)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ExtractTitle() = %+v, %v; want %v", got, err, tt.want)
			}
			if KindOf(err) != tt.kind {
				t.Errorf("KindOf = %q, want %q", KindOf(err), tt.kind)
			}
		})
	}
}

func TestExtractMetadataFetchesOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<title>Pancakes</title><meta name="twitter:image" content="/img/stack.jpg">`)
	}))
	defer server.Close()

	e := New(testPolicy(), createTestLogger())
	md, err := e.ExtractMetadata(context.Background(), server.URL+"/recipes/pancakes")
	if err != nil {
		t.Fatalf("ExtractMetadata returned error: %v", err)
	}
	if md.Title.Value != "Pancakes" || md.Title.Source != KindTitleTag {
		t.Errorf("title = %+v", md.Title)
	}
	if md.Image == nil || md.Image.Value != server.URL+"/img/stack.jpg" || md.Image.Source != KindTwitterImage {
		t.Errorf("image = %+v", md.Image)
	}
	if hits.Load() != 1 {
		t.Fatalf("page fetched %d times, want 1", hits.Load())
	}
}

func TestExtractMetadataFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no fields",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, "<p>nothing here</p>")
			},
		},
		{
			name: "gone status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusGone)
				fmt.Fprint(w, `<title>Gone</title><meta property="og:image" content="https://example.com/a.jpg">`)
			},
		},
	}

	e := New(testPolicy(), createTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			md, err := e.ExtractMetadata(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("ExtractMetadata returned error: %v", err)
			}
			if md.Title.Value != hostOf(t, server.URL) || md.Title.Source != KindHostname {
				t.Errorf("title = %+v, want hostname", md.Title)
			}
			if md.Image != nil {
				t.Errorf("image = %+v, want nil", md.Image)
			}
		})
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			waitForClient(r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<title>page %s</title>", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer server.Close()

	policy := testPolicy()
	policy.Timeout = 300 * time.Millisecond
	e := New(policy, createTestLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.ExtractTitle(context.Background(), server.URL+"/slow"); !errors.Is(err, ErrTimeout) {
				errs <- fmt.Errorf("slow call: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			got, err := e.ExtractTitle(context.Background(), fmt.Sprintf("%s/%d", server.URL, i))
			if err != nil || got.Value != fmt.Sprintf("page %d", i) {
				errs <- fmt.Errorf("fast call %d: %+v %v", i, got, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
