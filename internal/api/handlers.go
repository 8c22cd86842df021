package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/retrain"
)

// EngineService is the behaviour the transport layer depends on.
type EngineService interface {
	Correlate(ctx context.Context, req models.CorrelateRequest) (models.CorrelateResponse, error)
	Incidents() ([]models.Incident, error)
	SubmitFeedback(ctx context.Context, req models.FeedbackRequest) (models.FeedbackEntry, bool, error)
	SimilarFeedback(ctx context.Context, text string, k int) ([]models.SimilarFeedback, error)
	Weight(incidentID string) (float64, error)
	Retrain(ctx context.Context) (models.RetrainResult, error)
	Patterns() ([]models.KeyHotspot, error)
}

type handlers struct {
	service EngineService
	logger  *slog.Logger
}

func newHandlers(service EngineService, logger *slog.Logger) *handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &handlers{service: service, logger: logger}
}

func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/correlate", h.correlate)
		v1.GET("/incidents", h.incidents)
		v1.POST("/feedback", h.submitFeedback)
		v1.GET("/feedback/similar", h.similarFeedback)
		v1.GET("/weights/:incident_id", h.weight)
		v1.POST("/retrain", h.retrain)
		v1.GET("/patterns", h.patterns)
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *handlers) correlate(c *gin.Context) {
	var req models.CorrelateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	resp, err := h.service.Correlate(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("correlation failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "correlation failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) incidents(c *gin.Context) {
	incidents, err := h.service.Incidents()
	if err != nil {
		h.logger.Error("incident load failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

func (h *handlers) submitFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, degraded, err := h.service.SubmitFeedback(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrUnknownLabel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("feedback submission failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feedback": entry, "embedding_skipped": degraded})
}

func (h *handlers) similarFeedback(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	k := 0
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
			return
		}
		k = parsed
	}

	matches, err := h.service.SimilarFeedback(c.Request.Context(), query, k)
	if err != nil {
		h.logger.Error("similarity search failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "similarity search unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *handlers) weight(c *gin.Context) {
	incidentID := c.Param("incident_id")
	weight, err := h.service.Weight(incidentID)
	if err != nil {
		h.logger.Error("weight lookup failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read weight"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": incidentID, "weight": weight})
}

func (h *handlers) retrain(c *gin.Context) {
	result, err := h.service.Retrain(c.Request.Context())
	if err != nil {
		if errors.Is(err, retrain.ErrMissingInput) {
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("retraining failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retraining failed"})
		return
	}

	status := http.StatusAccepted
	if result.Status == models.RetrainSkipped {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *handlers) patterns(c *gin.Context) {
	hotspots, err := h.service.Patterns()
	if err != nil {
		h.logger.Error("pattern mining failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mine patterns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": hotspots})
}
