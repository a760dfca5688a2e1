package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newCountingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var counter atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "fake")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &counter
}

func postJSON(t *testing.T, client *http.Client, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func TestCachingTransport_SecondCallServedFromCache(t *testing.T) {
	srv, counter := newCountingServer(t, http.StatusOK, `{"result":"ok"}`)
	client := &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)}

	_, first := postJSON(t, client, srv.URL+"/v1/chat", `{"prompt":"hi"}`)
	_, second := postJSON(t, client, srv.URL+"/v1/chat", `{"prompt":"hi"}`)

	if first != `{"result":"ok"}` || second != first {
		t.Errorf("bodies differ: first=%q second=%q", first, second)
	}
	if got := counter.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestCachingTransport_DifferentBodiesMissSeparately(t *testing.T) {
	srv, counter := newCountingServer(t, http.StatusOK, `{"result":"ok"}`)
	client := &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)}

	postJSON(t, client, srv.URL+"/v1/chat", `{"prompt":"a"}`)
	postJSON(t, client, srv.URL+"/v1/chat", `{"prompt":"b"}`)

	if got := counter.Load(); got != 2 {
		t.Errorf("expected 2 upstream calls for distinct bodies, got %d", got)
	}
}

func TestCachingTransport_PreservesStatusAndHeaders(t *testing.T) {
	srv, _ := newCountingServer(t, http.StatusCreated, `{"id":1}`)
	client := &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)}

	postJSON(t, client, srv.URL+"/v1/chat", `{}`)
	resp, _ := postJSON(t, client, srv.URL+"/v1/chat", `{}`)

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("cached status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if got := resp.Header.Get("X-Backend"); got != "fake" {
		t.Errorf("cached header X-Backend = %q, want %q", got, "fake")
	}
}

func TestCachingTransport_ErrorResponsesNotCached(t *testing.T) {
	srv, counter := newCountingServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	client := &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)}

	resp, _ := postJSON(t, client, srv.URL+"/v1/chat", `{}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	postJSON(t, client, srv.URL+"/v1/chat", `{}`)

	if got := counter.Load(); got != 2 {
		t.Errorf("expected both calls to reach upstream, got %d", got)
	}
}

func TestCachingTransport_CorruptEntryFallsThrough(t *testing.T) {
	srv, counter := newCountingServer(t, http.StatusOK, `{"result":"ok"}`)
	dir := t.TempDir()
	client := &http.Client{Transport: NewCachingTransport(dir, nil)}

	url := srv.URL + "/v1/chat"
	body := `{"prompt":"hi"}`
	path := filepath.Join(dir, cacheKey(http.MethodPost, url, []byte(body))+".json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt entry: %v", err)
	}

	_, got := postJSON(t, client, url, body)
	if got != `{"result":"ok"}` {
		t.Errorf("body = %q, want upstream response", got)
	}
	if counter.Load() != 1 {
		t.Errorf("corrupt entry should fall through to upstream, calls = %d", counter.Load())
	}

	// The fall-through refreshes the entry; the next call is a cache hit.
	postJSON(t, client, url, body)
	if counter.Load() != 1 {
		t.Errorf("expected refreshed cache entry to serve second call, calls = %d", counter.Load())
	}
}

func TestCachingTransport_RequestBodyStaysReadable(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)}
	postJSON(t, client, srv.URL, `{"prompt":"hi"}`)

	if !bytes.Equal(received, []byte(`{"prompt":"hi"}`)) {
		t.Errorf("upstream received %q, want original body", received)
	}
}

func TestCachingTransport_EmbedderRoundTrip(t *testing.T) {
	srv, counter := newCountingServer(t, http.StatusOK,
		`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"embed-small","usage":{"prompt_tokens":4,"total_tokens":4}}`)

	e := NewOpenAIEmbedder(EmbedderConfig{
		BaseURL:    srv.URL,
		Model:      "embed-small",
		Dimension:  3,
		HTTPClient: &http.Client{Transport: NewCachingTransport(t.TempDir(), nil)},
	})

	for i := 0; i < 2; i++ {
		vectors, err := e.EmbedPassages(context.Background(), []string{"func main() {}"})
		if err != nil {
			t.Fatalf("embed call %d: %v", i+1, err)
		}
		if len(vectors) != 1 || len(vectors[0]) != 3 {
			t.Fatalf("embed call %d: unexpected vectors %v", i+1, vectors)
		}
	}

	if got := counter.Load(); got != 1 {
		t.Errorf("expected identical embed calls to share one upstream call, got %d", got)
	}
}
