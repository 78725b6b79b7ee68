package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLogConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultLogConfig().Validate())
	assert.Error(t, LogConfig{Level: "loud", Format: "json"}.Validate())
	assert.Error(t, LogConfig{Level: "info", Format: "xml"}.Validate())

	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console", ServiceName: "catalog"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestTracingConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultTracingConfig().Validate())
	assert.Error(t, TracingConfig{Enabled: true, Exporter: "otlp", ServiceName: "x"}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "x"}.Validate())
	assert.NoError(t, TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "x", SamplingRate: 0.5}.Validate())
}

func TestTraceHeaders_RoundTrip(t *testing.T) {
	_, err := NewTracingManager(DefaultTracingConfig())
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := map[string]string{}
	InjectTraceHeaders(ctx, headers)
	require.Contains(t, headers, "traceparent")

	restored := ExtractTraceContext(context.Background(), headers)
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(restored))
}

func TestTraceID_Empty(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
	assert.Equal(t, context.Background(), ExtractTraceContext(context.Background(), nil))
}

func TestHealthRegistry_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := NewHealthRegistry(0)
	registry.Register(NewFuncHealthCheck("postgres", func(ctx context.Context) error { return nil }))
	registry.Register(NewFuncHealthCheck("broker", func(ctx context.Context) error { return errors.New("not connected") }))

	router := gin.New()
	router.GET("/healthz", registry.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result HealthCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "healthy", result.Checks["postgres"].Status)
	assert.Equal(t, "not connected", result.Checks["broker"].Message)
}
