package main

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"math"
	"net/http"
	"time"
)

// Deterministic stand-in for the embedding and outlier-model sidecar so the
// engine can be exercised locally without a Python runtime.

const embeddingDim = 16

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/embed", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"embedding": embed(req.Text)})
	})

	mux.HandleFunc("/api/v1/model/fit", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Matrix        [][]float64 `json:"matrix"`
			Contamination float64     `json:"contamination"`
			Seed          int64       `json:"seed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		artifact, _ := json.Marshal(map[string]any{
			"rows":          len(req.Matrix),
			"contamination": req.Contamination,
			"seed":          req.Seed,
			"trained_at":    time.Now().UTC(),
		})
		writeJSON(w, map[string]any{"model": artifact})
	})

	mux.HandleFunc("/api/v1/model/score", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		matrix, ok := decodeMatrix(w, r)
		if !ok {
			return
		}
		scores := make([]float64, len(matrix))
		for i, row := range matrix {
			scores[i] = rowScore(row)
		}
		writeJSON(w, map[string]any{"scores": scores})
	})

	mux.HandleFunc("/api/v1/model/predict", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		matrix, ok := decodeMatrix(w, r)
		if !ok {
			return
		}
		labels := make([]int, len(matrix))
		for i, row := range matrix {
			if rowScore(row) > 0.6 {
				labels[i] = -1
			} else {
				labels[i] = 1
			}
		}
		writeJSON(w, map[string]any{"labels": labels})
	})

	logger := log.New(log.Writer(), "model-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// embed hashes the text into a fixed-dimension unit vector so identical
// comments always map to identical embeddings.
func embed(text string) []float64 {
	vec := make([]float64, embeddingDim)
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(text))
	seed := hasher.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed>>11))/float64(1<<52) - 1
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func rowScore(row []float64) float64 {
	var sum float64
	for _, v := range row {
		sum += math.Abs(v)
	}
	return sum / (sum + 5)
}

func decodeMatrix(w http.ResponseWriter, r *http.Request) ([][]float64, bool) {
	var req struct {
		Matrix [][]float64 `json:"matrix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return req.Matrix, true
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
