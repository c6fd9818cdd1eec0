package confidence

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/trusterr"
)

// Handler provides the confidence query endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new confidence handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the caller-authenticated confidence route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/confidence", h.Get)
}

// Get handles GET /v1/confidence
func (h *Handler) Get(c *gin.Context) {
	res, err := h.service.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		status, code := trusterr.HTTPStatus(err)
		if trusterr.Retryable(err) {
			c.Header("Retry-After", trusterr.RetryAfterSeconds)
		}
		c.JSON(status, gin.H{
			"error":   code,
			"message": "Failed to compute confidence",
		})
		return
	}

	c.JSON(http.StatusOK, res)
}
