package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntpeters/pyvidia/internal/config"
	"github.com/ntpeters/pyvidia/internal/logger"
	"github.com/ntpeters/pyvidia/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(&config.LogConfig{
		Level:  "error",
		Format: "text",
		Output: "stderr",
	}, "test")
	require.NoError(t, err)
	return log
}

func TestRequestIDUnique(t *testing.T) {
	engine := newTestEngine()
	engine.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := performRequest(engine, http.MethodGet, "/")
	second := performRequest(engine, http.MethodGet, "/")

	assert.NotEmpty(t, first.Header().Get("X-Request-ID"))
	assert.NotEqual(t, first.Header().Get("X-Request-ID"), second.Header().Get("X-Request-ID"))
}

func TestCORSMiddlewareAllowAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORSMiddleware([]string{"*"}))
	engine.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareOriginFiltering(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORSMiddleware([]string{"http://allowed.example"}))
	engine.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://allowed.example")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "http://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://other.example")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.Use(RecoveryMiddleware(newTestLogger(t)))
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := performRequest(engine, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestErrorHandlerMapsErrorInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.Use(ErrorHandler(newTestLogger(t)))
	engine.GET("/device", func(c *gin.Context) {
		c.Error(&types.ErrorInfo{Code: types.ErrDeviceNotFound, Message: "no nvidia device detected"})
	})
	engine.GET("/generic", func(c *gin.Context) {
		c.Error(errors.New("something broke"))
	})

	w := performRequest(engine, http.MethodGet, "/device")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrDeviceNotFound))

	w = performRequest(engine, http.MethodGet, "/generic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}
