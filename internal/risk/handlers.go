package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/typing"
	"github.com/mbd888/fittrust/internal/validation"
)

// Handler provides HTTP endpoints for signal ingestion and the
// recomputation job.
type Handler struct {
	signals    *SignalService
	recomputer *Recomputer
	store      Store
}

// NewHandler creates a new risk handler.
func NewHandler(signals *SignalService, recomputer *Recomputer, store Store) *Handler {
	return &Handler{signals: signals, recomputer: recomputer, store: store}
}

// RegisterRoutes sets up the caller-authenticated routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/signals", h.IngestSignals)
}

// RegisterBatchRoutes sets up routes that require the batch credential.
func (h *Handler) RegisterBatchRoutes(r *gin.RouterGroup) {
	r.POST("/risk/recompute", h.Recompute)
	r.GET("/risk/features/:userId", validation.UserIDParamMiddleware(), h.GetFeatures)
}

// SignalRequest is the body of POST /v1/signals.
type SignalRequest struct {
	DeviceID string           `json:"deviceId"`
	Typing   *typing.Features `json:"typing"`
}

// IngestSignals handles POST /v1/signals
func (h *Handler) IngestSignals(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	res, err := h.signals.Ingest(c.Request.Context(), SignalInput{
		UserID:   auth.UserID(c),
		RemoteIP: c.ClientIP(),
		DeviceID: req.DeviceID,
		Typing:   req.Typing,
	})
	if err != nil {
		respondError(c, err, "Failed to store signals")
		return
	}

	c.JSON(http.StatusAccepted, res)
}

// Recompute handles POST /v1/internal/risk/recompute
func (h *Handler) Recompute(c *gin.Context) {
	summary, err := h.recomputer.Run(c.Request.Context())
	if err != nil {
		respondError(c, err, "Risk recomputation could not list active users")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetFeatures handles GET /v1/internal/risk/features/:userId
func (h *Handler) GetFeatures(c *gin.Context) {
	f, err := h.store.GetFeatures(c.Request.Context(), c.Param("userId"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No features computed for this user yet",
		})
		return
	}
	if err != nil {
		respondError(c, trusterr.Store("get features", err), "Failed to read features")
		return
	}

	c.JSON(http.StatusOK, f)
}

func respondError(c *gin.Context, err error, fallback string) {
	status, code := trusterr.HTTPStatus(err)
	msg := fallback
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	if trusterr.Retryable(err) {
		c.Header("Retry-After", trusterr.RetryAfterSeconds)
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": msg,
	})
}
