package verification

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/pagination"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/validation"
)

// Handler provides HTTP handlers for the verification ledger API.
type Handler struct {
	service *Service
}

// NewHandler creates a new verification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the caller-authenticated ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verifications", h.Submit)
	r.GET("/verifications", h.List)
}

// SubmitRequest is the body of POST /v1/verifications.
type SubmitRequest struct {
	EntityType string   `json:"entityType"`
	EntityID   *string  `json:"entityId"`
	Method     string   `json:"method"`
	Status     string   `json:"status"`
	Confidence string   `json:"confidence"`
	Metadata   Metadata `json:"metadata"`
}

// Submit handles POST /v1/verifications
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("entityType", req.EntityType),
		validation.Required("method", req.Method),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	if Method(req.Method) == MethodConsistencyCheck {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "reserved_method",
			"message": "consistency_check events are recorded by the platform",
		})
		return
	}

	ev, err := h.service.RecordEvent(c.Request.Context(), RecordInput{
		UserID:     auth.UserID(c),
		EntityType: EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Method:     Method(req.Method),
		Status:     Status(req.Status),
		Confidence: Confidence(req.Confidence),
		Metadata:   req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"event":      ev,
		"multiplier": ev.Multiplier,
	})
}

// List handles GET /v1/verifications
func (h *Handler) List(c *gin.Context) {
	f := Filter{EntityType: EntityType(c.Query("entityType"))}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_input",
				"message": "limit must be a positive integer",
			})
			return
		}
		f.Limit = n
	}
	if raw := c.Query("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_input",
				"message": "since must be an RFC 3339 timestamp",
			})
			return
		}
		f.Since = ts
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": "cursor is not valid",
		})
		return
	}
	f.Cursor = cursor

	page, err := h.service.ListPage(c.Request.Context(), auth.UserID(c), f)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":     page.Events,
		"count":      len(page.Events),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

func respondError(c *gin.Context, err error) {
	status, code := trusterr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "Ledger temporarily unavailable, retry later"
	}
	if trusterr.Retryable(err) {
		c.Header("Retry-After", trusterr.RetryAfterSeconds)
	}
	c.JSON(status, gin.H{
		"error":     code,
		"message":   msg,
		"retryable": trusterr.Retryable(err),
	})
}
