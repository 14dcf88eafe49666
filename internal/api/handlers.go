package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/inference"
	"github.com/Sanidhya1398/uw-decision-support/internal/service"
	"github.com/Sanidhya1398/uw-decision-support/internal/training"
)

// Handler contains all API handlers
type Handler struct {
	config *config.Config
	logger *zap.Logger
	svc    *service.InferenceService
}

// NewHandler creates a new API handler
func NewHandler(cfg *config.Config, logger *zap.Logger, svc *service.InferenceService) *Handler {
	return &Handler{
		config: cfg,
		logger: logger.With(zap.String("component", "api")),
		svc:    svc,
	}
}

// TriggerTrainingRequest asks for a retraining run
type TriggerTrainingRequest struct {
	ModelType string `json:"model_type" binding:"required,oneof=complexity test_yield"`
	Force     bool   `json:"force"`
}

// ReloadRequest selects the version to load. Empty means the configured version.
type ReloadRequest struct {
	Version string `json:"version"`
}

// Root describes the service
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": service.Name,
		"version": service.Version,
		"health":  h.config.Server.APIPrefix + "/health",
	})
}

// Health returns service health and model status
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// GetModelInfo describes every serving model
func (h *Handler) GetModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ModelInfo())
}

// GetLoadedModels reports which models are fitted
func (h *Handler) GetLoadedModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.LoadedModels())
}

// GetVersions lists stored model versions
func (h *Handler) GetVersions(c *gin.Context) {
	versions, err := h.svc.AvailableVersions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list model versions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list model versions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// ReloadModels loads a stored version and swaps it in
func (h *Handler) ReloadModels(c *gin.Context) {
	var req ReloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Version == "" {
		req.Version = c.Query("version")
	}

	loaded, err := h.svc.Reload(c.Request.Context(), req.Version)
	if err != nil {
		h.logger.Error("Failed to reload models", zap.String("version", req.Version), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload models"})
		return
	}
	version := req.Version
	if version == "" {
		version = h.config.ML.CurrentModelVersion
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "models_loaded": loaded})
}

// ClassifyComplexity predicts the complexity tier of a case
func (h *Handler) ClassifyComplexity(c *gin.Context) {
	var req service.ComplexityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.PredictComplexity(c.Request.Context(), req))
}

// PredictTestYield predicts the diagnostic yield of a test
func (h *Handler) PredictTestYield(c *gin.Context) {
	var req service.TestYieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pred, err := h.svc.PredictTestYield(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to predict test yield")
		return
	}
	c.JSON(http.StatusOK, pred)
}

// TriggerTraining queues a retraining job
func (h *Handler) TriggerTraining(c *gin.Context) {
	var req TriggerTrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.svc.TriggerTraining(c.Request.Context(), req.ModelType, req.Force)
	if err != nil {
		h.respondError(c, err, "Failed to submit training job")
		return
	}
	h.logger.Info("Training job submitted", zap.String("job_id", job.ID.String()), zap.String("model_type", req.ModelType))
	c.JSON(http.StatusAccepted, job)
}

// GetTrainingStatus returns a training job
func (h *Handler) GetTrainingStatus(c *gin.Context) {
	job, err := h.svc.TrainingStatus(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve training job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListTrainingJobs returns every known training job
func (h *Handler) ListTrainingJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.svc.ListJobs()})
}

// GetOverrideMetrics summarizes recent underwriter overrides
func (h *Handler) GetOverrideMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.OverrideMetrics(c.Request.Context()))
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var unsupported *inference.UnsupportedTestError
	switch {
	case errors.As(err, &unsupported), errors.Is(err, training.ErrInvalidModelType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, training.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Training job not found"})
	case errors.Is(err, training.ErrQueueFull), errors.Is(err, training.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
