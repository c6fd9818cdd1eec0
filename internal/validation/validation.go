// Package validation provides input validation middleware for the trust API.
package validation

import (
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (256KB)
const MaxRequestSize = 256 << 10

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// DateLayout is the calendar-day format used by daily rows.
const DateLayout = "2006-01-02"

// userIDRegex matches the opaque ids issued by the platform.
var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserID checks that a user id is non-empty and uses a safe charset.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// InRange checks that a finite number lies within [lo, hi].
func InRange(field string, v, lo, hi float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %g and %g", lo, hi)}
		}
		return nil
	}
}

// ValidDate checks a YYYY-MM-DD calendar date. Empty is allowed; use
// Required for required fields.
func ValidDate(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := time.Parse(DateLayout, value); err != nil {
			return &ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
		}
		return nil
	}
}

// UserIDParamMiddleware validates the :userId URL parameter on routes that use it.
func UserIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("userId")
		if id != "" && !IsValidUserID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_input",
				"message": "userId contains unsupported characters",
			})
			return
		}
		c.Next()
	}
}
