package httpproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
)

type checkerFunc func(ctx context.Context, rawURL string) error

func (f checkerFunc) Check(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

func allowAll(context.Context, string) error { return nil }

// newTestPreprocessor builds an enabled preprocessor that may reach the
// loopback test server.
func newTestPreprocessor(t *testing.T, cfg Config) *Preprocessor {
	t.Helper()
	cfg.Enabled = true
	p := New(cfg, slog.Default())
	p.guard = checkerFunc(allowAll)
	return p
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prompt string
		want   []string
	}{
		{
			name:   "curl first then bare",
			prompt: "see https://b.example/x and run curl -sS \"https://a.example/api?q=1\"",
			want:   []string{"https://a.example/api?q=1", "https://b.example/x"},
		},
		{
			name:   "duplicates collapse",
			prompt: "http://x.test/a http://x.test/a HTTP://x.test/b",
			want:   []string{"http://x.test/a", "HTTP://x.test/b"},
		},
		{
			name:   "stops at brackets and quotes",
			prompt: `link <https://x.test/p>, "https://y.test/q" [https://z.test/r]`,
			want:   []string{"https://x.test/p", "https://y.test/q", "https://z.test/r"},
		},
		{
			name:   "nothing",
			prompt: "draw a cat please",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Detect(tt.prompt)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessDisabledIsPassThrough(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := New(DefaultConfig(), slog.Default())
	p.guard = checkerFunc(allowAll)

	prompt := "fetch " + srv.URL + "/x\x00"
	got, err := p.Process(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got != prompt {
		t.Errorf("Process() = %q, want unchanged prompt", got)
	}
	if hits.Load() != 0 {
		t.Error("disabled preprocessor made a request")
	}
}

func TestProcessInlinesResponse(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{\"ok\":true}\x00\x07")
	}))
	defer srv.Close()

	p := newTestPreprocessor(t, Config{})
	url := srv.URL + "/status"
	got, err := p.Process(context.Background(), "summarize curl -s "+url+" please")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := Note + "summarize \n\n[HTTP Response from " + url + "]\n" +
		"Status: 200 OK\n" +
		"Content-Type: application/json\n" +
		"Content-Length: 11 bytes\n\n" +
		"Response Body:\n{\"ok\":true}\n[End of HTTP Response]\n\n please"
	if got != want {
		t.Errorf("Process() =\n%q\nwant\n%q", got, want)
	}
	if gotUA.Load() != UserAgent {
		t.Errorf("User-Agent = %v, want %s", gotUA.Load(), UserAgent)
	}
}

func TestProcessTruncatesLongBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, strings.Repeat("é", PreviewChars+500))
	}))
	defer srv.Close()

	p := newTestPreprocessor(t, Config{})
	got, err := p.Process(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !strings.Contains(got, "Status: 404 Not Found\n") {
		t.Errorf("missing status line: %q", got[:200])
	}
	if !strings.Contains(got, "Content-Type: text/plain; charset=utf-8\n") {
		t.Error("missing sniffed content type")
	}
	if !strings.Contains(got, strings.Repeat("é", PreviewChars)+"\n... (truncated)\n[End of HTTP Response]") {
		t.Error("body was not cut to the preview length")
	}
	if strings.Contains(got, strings.Repeat("é", PreviewChars+1)) {
		t.Error("preview exceeds the limit")
	}
}

func TestProcessCapsBodySize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	p := newTestPreprocessor(t, Config{MaxBodyBytes: 100})
	got, err := p.Process(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !strings.Contains(got, "Content-Length: 100 bytes") {
		t.Errorf("body was not capped: %q", got)
	}
}

func TestProcessBlockedURLIsNotFetched(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	// The real guard refuses the loopback test server.
	p := New(Config{Enabled: true}, slog.Default())
	got, err := p.Process(context.Background(), "get "+srv.URL+"/secret")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("blocked URL was fetched")
	}
	if !strings.HasPrefix(got, Note) {
		t.Error("note missing for processed URL")
	}
	if !strings.Contains(got, "[HTTP Request Error for "+srv.URL+"/secret]\nError: blocked: ") ||
		!strings.Contains(got, "[End of Error]") {
		t.Errorf("expected error block, got %q", got)
	}
}

func TestProcessRedirectIsChecked(t *testing.T) {
	t.Parallel()

	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "internal")
	}))
	defer final.Close()
	start := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/admin", http.StatusFound)
	}))
	defer start.Close()

	p := newTestPreprocessor(t, Config{})
	p.guard = checkerFunc(func(_ context.Context, rawURL string) error {
		if strings.HasSuffix(rawURL, "/admin") {
			return fmt.Errorf("blocked: redirect target")
		}
		return nil
	})

	got, err := p.Process(context.Background(), start.URL+"/go")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if strings.Contains(got, "internal") {
		t.Error("redirect target was fetched")
	}
	if !strings.Contains(got, "Error: blocked: redirect target") {
		t.Errorf("expected redirect error block, got %q", got)
	}
}

func TestProcessFetchesEachURLOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "pong")
	}))
	defer srv.Close()

	p := newTestPreprocessor(t, Config{})
	u := srv.URL + "/ping"
	if _, err := p.Process(context.Background(), "curl "+u+" then curl "+u+" and "+u); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestProcessWithoutURLs(t *testing.T) {
	t.Parallel()

	p := newTestPreprocessor(t, Config{})
	got, err := p.Process(context.Background(), "make\x00 a song\x1b")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got != "make a song" {
		t.Errorf("Process() = %q", got)
	}
}

func TestProcessCancelled(t *testing.T) {
	t.Parallel()

	p := newTestPreprocessor(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Process(ctx, "http://x.test/"); err == nil {
		t.Error("expected context error")
	}
}

func TestProcessReplacesOriginalText(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			fmt.Fprint(w, "see also "+srv.URL+"/b")
		default:
			fmt.Fprint(w, "body "+r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name   string
		prompt string
		want   []string
	}{
		{
			name:   "body links to a later URL",
			prompt: "first " + srv.URL + "/a then " + srv.URL + "/b end",
			want: []string{
				"first \n\n[HTTP Response from " + srv.URL + "/a]",
				"see also " + srv.URL + "/b\n[End of HTTP Response]\n\n then \n\n[HTTP Response from " + srv.URL + "/b]",
				"body /b\n[End of HTTP Response]\n\n end",
			},
		},
		{
			name:   "URL prefixes a later URL",
			prompt: srv.URL + "/x then " + srv.URL + " end",
			want: []string{
				"[HTTP Response from " + srv.URL + "/x]",
				"body /x\n[End of HTTP Response]\n\n then \n\n[HTTP Response from " + srv.URL + "]",
				"\n[End of HTTP Response]\n\n end",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestPreprocessor(t, Config{})
			got, err := p.Process(context.Background(), tt.prompt)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Process() =\n%q\nmissing\n%q", got, w)
				}
			}
			if n := strings.Count(got, "[HTTP Response from "); n != 2 {
				t.Errorf("got %d response blocks, want 2", n)
			}
		})
	}
}
