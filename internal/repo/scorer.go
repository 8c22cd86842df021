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
)

// ErrScorerUnavailable signals that the outlier-scoring capability cannot be
// reached.
var ErrScorerUnavailable = errors.New("scorer unavailable")

// FitOptions parameterise a model fit.
type FitOptions struct {
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`
}

// Scorer is the external unsupervised outlier-scoring capability. Fit returns
// the serialized model artifact for snapshot publication.
type Scorer interface {
	Fit(ctx context.Context, matrix [][]float64, opts FitOptions) ([]byte, error)
	Score(ctx context.Context, matrix [][]float64) ([]float64, error)
	Predict(ctx context.Context, matrix [][]float64) ([]int, error)
}

// HTTPScorer calls the model sidecar over HTTP.
type HTTPScorer struct {
	baseURL     string
	fitPath     string
	scorePath   string
	predictPath string
	httpClient  *http.Client
}

// NewHTTPScorer constructs a scorer client.
func NewHTTPScorer(baseURL, fitPath, scorePath, predictPath string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if fitPath == "" {
		fitPath = "/api/v1/model/fit"
	}
	if scorePath == "" {
		scorePath = "/api/v1/model/score"
	}
	if predictPath == "" {
		predictPath = "/api/v1/model/predict"
	}
	return &HTTPScorer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		fitPath:     fitPath,
		scorePath:   scorePath,
		predictPath: predictPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Fit trains a fresh model on the feature matrix and returns its artifact.
func (s *HTTPScorer) Fit(ctx context.Context, matrix [][]float64, opts FitOptions) ([]byte, error) {
	payload := map[string]any{
		"matrix":        matrix,
		"contamination": opts.Contamination,
		"seed":          opts.Seed,
	}
	var response struct {
		Model []byte `json:"model"`
	}
	if err := s.post(ctx, s.fitPath, payload, &response); err != nil {
		return nil, err
	}
	if len(response.Model) == 0 {
		return nil, fmt.Errorf("fit returned empty artifact: %w", ErrScorerUnavailable)
	}
	return response.Model, nil
}

// Score returns per-row anomaly scores.
func (s *HTTPScorer) Score(ctx context.Context, matrix [][]float64) ([]float64, error) {
	var response struct {
		Scores []float64 `json:"scores"`
	}
	if err := s.post(ctx, s.scorePath, map[string]any{"matrix": matrix}, &response); err != nil {
		return nil, err
	}
	return response.Scores, nil
}

// Predict returns per-row binary labels (-1 outlier, 1 inlier).
func (s *HTTPScorer) Predict(ctx context.Context, matrix [][]float64) ([]int, error) {
	var response struct {
		Labels []int `json:"labels"`
	}
	if err := s.post(ctx, s.predictPath, map[string]any{"matrix": matrix}, &response); err != nil {
		return nil, err
	}
	return response.Labels, nil
}

func (s *HTTPScorer) post(ctx context.Context, path string, payload, out any) error {
	if s.baseURL == "" {
		return fmt.Errorf("scorer endpoint not configured: %w", ErrScorerUnavailable)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal scorer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scorer call failed: %w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("scorer call status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(data)), ErrScorerUnavailable)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
