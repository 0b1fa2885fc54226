package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	engine.Use(handlers...)
	return engine
}

func TestAuthMiddleware(t *testing.T) {
	engine := newEngine(AuthMiddleware("secret"))
	engine.PUT("/v1/workers/:id/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"bearer token", "Bearer secret", http.StatusOK},
		{"bare token", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/workers/w1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddleware_DisabledWithoutKey(t *testing.T) {
	engine := newEngine(AuthMiddleware(""))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	engine := newEngine(Recovery())
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "InternalError")
}

func TestTraceID(t *testing.T) {
	var seen string
	engine := newEngine(TraceID())
	engine.GET("/x", func(c *gin.Context) {
		seen = logger.TraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(TraceIDHeader, "abc")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get(TraceIDHeader))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(TraceIDHeader))
	assert.Equal(t, w.Header().Get(TraceIDHeader), seen)
}

func TestLogger_KeepsBodyReadable(t *testing.T) {
	var body string
	engine := newEngine(Logger())
	engine.POST("/x", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		body = string(raw)
		c.Status(http.StatusOK)
	})

	payload := `{ "stageId" : "S1" }`
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(payload)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, body)
}

func TestCompressBody(t *testing.T) {
	assert.Equal(t, "", CompressBody(""))
	assert.Equal(t, `{"a":1,"b":[1,2]}`, CompressBody("{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"))

	long := `{"k":"` + strings.Repeat("x", 2000) + `"}`
	compressed := CompressBody(long)
	assert.True(t, strings.HasSuffix(compressed, "..."))
	assert.Len(t, compressed, maxLoggedBody+3)
}
