package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-correlate/pkg/cache"
)

// ErrEmbedderUnavailable signals that the embedding capability cannot be
// reached. Feedback persistence must not depend on it.
var ErrEmbedderUnavailable = errors.New("embedder unavailable")

// Embedder maps free text to a fixed-length L2-normalized vector.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// HTTPEmbedder calls an external embedding sidecar.
type HTTPEmbedder struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
	memo       *cache.MemoryCache
	memoTTL    time.Duration
}

// NewHTTPEmbedder constructs an embedder client. Repeated texts are memoized
// for memoTTL to spare the sidecar.
func NewHTTPEmbedder(baseURL, path, apiKey string, timeout, memoTTL time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = "/api/v1/embed"
	}
	return &HTTPEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       path,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		memo:       cache.NewMemoryCache(0),
		memoTTL:    memoTTL,
	}
}

// Encode returns the normalized embedding for text.
func (e *HTTPEmbedder) Encode(ctx context.Context, text string) ([]float64, error) {
	if e.baseURL == "" {
		return nil, fmt.Errorf("embedder endpoint not configured: %w", ErrEmbedderUnavailable)
	}

	if cached, ok := e.memo.Get(text); ok {
		if vec, ok := cached.([]float64); ok {
			return append([]float64(nil), vec...), nil
		}
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+e.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed call failed: %w: %v", ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed call status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(data)), ErrEmbedderUnavailable)
	}

	var response struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode embedding: %w: %v", ErrEmbedderUnavailable, err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned: %w", ErrEmbedderUnavailable)
	}

	// Index arithmetic assumes unit-norm vectors regardless of what the
	// sidecar returns.
	vec := Normalize(response.Embedding)
	e.memo.Set(text, append([]float64(nil), vec...), e.memoTTL)
	return vec, nil
}
