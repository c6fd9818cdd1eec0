package rewards

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/validation"
)

// Handler provides HTTP handlers for reward points.
type Handler struct {
	service *Service
}

// NewHandler creates a new rewards handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the caller-authenticated routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rewards", h.GetBalance)
}

// RegisterBatchRoutes sets up routes that require the batch credential.
func (h *Handler) RegisterBatchRoutes(r *gin.RouterGroup) {
	r.POST("/rewards/daily", h.RecordDaily)
}

// DailyRequest is the body of POST /v1/internal/rewards/daily.
type DailyRequest struct {
	UserID      string   `json:"userId"`
	Date        string   `json:"date"`
	HealthScore *float64 `json:"healthScore"`
}

// GetBalance handles GET /v1/rewards
func (h *Handler) GetBalance(c *gin.Context) {
	b, err := h.service.Balance(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to read reward points")
		return
	}

	c.JSON(http.StatusOK, b)
}

// RecordDaily handles POST /v1/internal/rewards/daily
func (h *Handler) RecordDaily(c *gin.Context) {
	var req DailyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.Required("date", req.Date),
		validation.ValidDate("date", req.Date),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}
	if req.HealthScore == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "healthScore: is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.InRange("healthScore", *req.HealthScore, 0, MaxTotalScore),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	res, err := h.service.RecordDaily(c.Request.Context(), DailyInput{
		UserID:      req.UserID,
		Date:        req.Date,
		HealthScore: *req.HealthScore,
	})
	if err != nil {
		respondError(c, err, "Failed to record reward day")
		return
	}

	c.JSON(http.StatusOK, res)
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
