package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-proposals/pkg/config"
	"github.com/noah-isme/course-proposals/pkg/middleware/requestid"
)

func TestNewAppliesLevelAndFormat(t *testing.T) {
	cfg := &config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "warn", Format: "console"}}
	l, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(&config.Config{Env: config.EnvDevelopment, Log: config.LogConfig{Level: "loud"}})
	require.Error(t, err)

	_, err = New(&config.Config{Env: config.EnvDevelopment, Log: config.LogConfig{Format: "xml"}})
	require.Error(t, err)
}

func newObservedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(requestid.Middleware(), GinMiddleware(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/proposals/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.POST("/v1/callbacks", func(c *gin.Context) {
		_ = c.Error(errors.New("ingest unavailable"))
		c.Status(http.StatusBadGateway)
	})
	return r, logs
}

func TestGinMiddlewareLevels(t *testing.T) {
	r, logs := newObservedRouter(t)

	tests := []struct {
		method string
		path   string
		level  zapcore.Level
		route  string
	}{
		{http.MethodGet, "/health", zapcore.DebugLevel, "/health"},
		{http.MethodGet, "/v1/proposals/RS-20261016-001", zapcore.WarnLevel, "/v1/proposals/:id"},
		{http.MethodPost, "/v1/callbacks", zapcore.ErrorLevel, "/v1/callbacks"},
	}
	for _, tt := range tests {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, len(tests))
	for i, tt := range tests {
		assert.Equal(t, tt.level, entries[i].Level, tt.path)
		fields := entries[i].ContextMap()
		assert.Equal(t, tt.route, fields["path"])
		assert.NotEmpty(t, fields["request_id"])
	}
	assert.Contains(t, entries[2].ContextMap()["errors"], "ingest unavailable")
}

func TestGinMiddlewareUnmatchedPath(t *testing.T) {
	r, logs := newObservedRouter(t)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "/nope", entries[0].ContextMap()["path"])
}
