package consistency

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/trusterr"
)

// Handler exposes the batch trigger for the consistency check.
type Handler struct {
	checker *Checker
}

// NewHandler creates a new consistency handler.
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// RegisterRoutes sets up the batch routes. The group must already enforce
// the batch credential.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/consistency/run", h.Run)
}

// Run handles POST /v1/internal/consistency/run
func (h *Handler) Run(c *gin.Context) {
	report, err := h.checker.Run(c.Request.Context())
	if err != nil {
		status, code := trusterr.HTTPStatus(err)
		if trusterr.Retryable(err) {
			c.Header("Retry-After", trusterr.RetryAfterSeconds)
		}
		c.JSON(status, gin.H{
			"error":   code,
			"message": "Consistency check could not read recent entries",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
