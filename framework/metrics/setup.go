package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	Enabled       bool
	ExporterType  string
	Path          string
	ResourceAttrs map[string]string
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:      true,
		ExporterType: "prometheus",
		Path:         "/metrics",
	}
}

// Validate проверяет корректность конфигурации
func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ExporterType != "prometheus" {
		return fmt.Errorf("unknown exporter type: %s", c.ExporterType)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with /")
	}
	return nil
}

// Provider MeterProvider вместе с HTTP handler для экспорта
type Provider struct {
	provider *metric.MeterProvider
	handler  http.Handler
}

// SetupMetrics настраивает экспорт метрик и регистрирует глобальный MeterProvider
func SetupMetrics(config MetricsConfig) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return &Provider{handler: http.NotFoundHandler()}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(buildResourceAttributes(config.ResourceAttrs)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Provider{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Handler возвращает HTTP handler для /metrics
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown корректно завершает работу метрик
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

func buildResourceAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, attribute.String(k, v))
	}
	return result
}
