package repo

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPEmbedderEncodeAndMemoize(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/v1/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{3, 4}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(server.URL, "/api/v1/embed", "secret", time.Second, time.Minute)

	vec, err := embedder.Encode(context.Background(), "suspicious login burst")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Responses are re-normalized before use.
	if math.Abs(vec[0]-0.6) > 1e-9 || math.Abs(vec[1]-0.8) > 1e-9 {
		t.Errorf("vector = %v, want normalized [0.6 0.8]", vec)
	}

	if _, err := embedder.Encode(context.Background(), "suspicious login burst"); err != nil {
		t.Fatalf("memoized encode: %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want memoized single call", calls)
	}
}

func TestHTTPEmbedderErrorsWrapUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(server.URL, "", "", time.Second, 0)
	if _, err := embedder.Encode(context.Background(), "text"); !errors.Is(err, ErrEmbedderUnavailable) {
		t.Errorf("err = %v, want wrapped ErrEmbedderUnavailable", err)
	}
}

func TestHTTPEmbedderUnconfigured(t *testing.T) {
	embedder := NewHTTPEmbedder("", "", "", time.Second, 0)
	if _, err := embedder.Encode(context.Background(), "text"); !errors.Is(err, ErrEmbedderUnavailable) {
		t.Errorf("err = %v, want ErrEmbedderUnavailable", err)
	}
}

func TestHTTPEmbedderEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(server.URL, "", "", time.Second, 0)
	if _, err := embedder.Encode(context.Background(), "text"); !errors.Is(err, ErrEmbedderUnavailable) {
		t.Errorf("err = %v, want ErrEmbedderUnavailable for empty vector", err)
	}
}
