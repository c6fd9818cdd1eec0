package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_SetsUserID(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set(DefaultUserHeader, "  user-42 ")

	Middleware("")(c)

	assert.Equal(t, "user-42", UserID(c))
}

func TestMiddleware_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-Member", "m-1")
	c.Request.Header.Set(DefaultUserHeader, "ignored")

	Middleware("X-Member")(c)

	assert.Equal(t, "m-1", UserID(c))
}

func TestMiddleware_OversizedIDIgnored(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set(DefaultUserHeader, strings.Repeat("a", maxUserIDLen+1))

	Middleware("")(c)

	assert.Empty(t, UserID(c))
	assert.False(t, c.IsAborted())
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/test", handlers...)
	return r
}

func TestRequireUser(t *testing.T) {
	r := newRouter(Middleware(""), RequireUser())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/test", nil)
	req.Header.Set(DefaultUserHeader, "u1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireBatchSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"match", "s3cret", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", "s3cret", "bearer s3cret", http.StatusOK},
		{"mismatch", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"prefix of secret", "s3cret", "Bearer s3c", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"no scheme", "s3cret", "s3cret", http.StatusUnauthorized},
		{"unconfigured", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(RequireBatchSecret(tt.secret))
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
