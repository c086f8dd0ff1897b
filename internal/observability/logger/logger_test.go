package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/micoriza/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestGinMiddlewareEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observeGlobal(t, zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	var seen string
	r.GET("/api/readings", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/readings", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
	assert.Equal(t, "req-123", seen)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/api/readings", entries[0].ContextMap()["route"])
	assert.Equal(t, "api", entries[0].ContextMap()["source"])
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observeGlobal(t, zapcore.InfoLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestWithContextOmitsMissingIdentifiers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithSource(context.Background(), "mqtt")
	WithContext(ctx, base).Info("reading stored")

	ctx = obscontext.WithRequestID(context.Background(), "req-9")
	WithContext(ctx, base).Info("reading stored")

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "mqtt", first["source"])
	assert.NotContains(t, first, "request_id")
	assert.NotContains(t, first, "trace_id")

	second := entries[1].ContextMap()
	assert.Equal(t, "req-9", second["request_id"])
	assert.NotContains(t, second, "source")
}

func TestLogRequestLevels(t *testing.T) {
	cases := []struct {
		name      string
		route     string
		status    int
		errorType string
		want      zapcore.Level
	}{
		{name: "ok", route: "/api/readings/devices", status: 200, want: zapcore.InfoLevel},
		{name: "server error", route: "/api/readings", status: 500, errorType: "internal_error", want: zapcore.ErrorLevel},
		{name: "rejected ingest", route: "/api/readings", status: 400, errorType: "validation_error", want: zapcore.DebugLevel},
		{name: "probe", route: "/metrics", status: 200, want: zapcore.DebugLevel},
		{name: "failing probe", route: "/readyz", status: 503, want: zapcore.DebugLevel},
		{name: "bad query", route: "/api/readings/", status: 400, errorType: "validation_error", want: zapcore.DebugLevel},
		{name: "missing route", route: "unknown", status: 404, errorType: "not_found", want: zapcore.InfoLevel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := requestLevel(tc.route, tc.status, tc.errorType); got != tc.want {
				t.Fatalf("expected level %s, got %s", tc.want, got)
			}
		})
	}
}

func TestGormLoggerParamsFilter(t *testing.T) {
	quiet := NewGormLogger(GormLoggerConfigFor("info", false, 0))
	_, params := quiet.ParamsFilter(context.Background(), "SELECT 1 WHERE a = ?", "x")
	assert.Nil(t, params)
	assert.Equal(t, 200*time.Millisecond, quiet.cfg.SlowThreshold)

	verbose := NewGormLogger(GormLoggerConfigFor("debug", true, time.Second))
	_, params = verbose.ParamsFilter(context.Background(), "SELECT 1 WHERE a = ?", "x")
	assert.Equal(t, []interface{}{"x"}, params)
	assert.Equal(t, gormlogger.Info, verbose.cfg.Level)
	assert.Equal(t, time.Second, verbose.cfg.SlowThreshold)
}

func TestGormLoggerTraceLevels(t *testing.T) {
	logs := observeGlobal(t, zapcore.DebugLevel)
	l := NewGormLogger(GormLoggerConfigFor("info", false, 50*time.Millisecond))
	sql := func() (string, int64) { return `SELECT * FROM "sensor_reading" WHERE device_name = $1`, 3 }

	l.Trace(context.Background(), time.Now(), sql, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), sql, context.Canceled)
	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	l.Trace(context.Background(), time.Now(), sql, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "sensor_reading", entries[2].ContextMap()["table"])
}

func TestTableFromSQL(t *testing.T) {
	assert.Equal(t, "sensor_reading", tableFromSQL(`INSERT INTO "sensor_reading" ("id") VALUES ($1)`))
	assert.Equal(t, "sensor_reading", tableFromSQL("SELECT DISTINCT sensor_name FROM sensor_reading ORDER BY sensor_name"))
	assert.Equal(t, "unknown", tableFromSQL("SELECT 1"))
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("SELECT DISTINCT device_name FROM sensor_reading"))
	assert.Equal(t, "INSERT", operationFromSQL(`INSERT INTO "sensor_reading" ("id") VALUES ($1)`))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
