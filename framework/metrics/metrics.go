// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName имя meter, под которым регистрируются инструменты
const MeterName = "stocksync"

// Metrics сборщик метрик приложения
type Metrics struct {
	meter           metric.Meter
	commandsTotal   metric.Int64Counter
	commandDuration metric.Float64Histogram
	activeCommands  metric.Int64UpDownCounter
	eventsConsumed  metric.Int64Counter
	eventDuration   metric.Float64Histogram
	eventsPublished metric.Int64Counter
	transportTotal  metric.Int64Counter
	outboxPublished metric.Int64Counter
	errorsTotal     metric.Int64Counter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{meter: meter}

	var err error
	if m.commandsTotal, err = meter.Int64Counter(
		"commands_total",
		metric.WithDescription("Total number of commands dispatched"),
	); err != nil {
		return nil, err
	}

	if m.commandDuration, err = meter.Float64Histogram(
		"command_duration_seconds",
		metric.WithDescription("Command processing duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.activeCommands, err = meter.Int64UpDownCounter(
		"active_commands",
		metric.WithDescription("Number of commands being processed"),
	); err != nil {
		return nil, err
	}

	if m.eventsConsumed, err = meter.Int64Counter(
		"events_consumed_total",
		metric.WithDescription("Total number of consumed events by outcome"),
	); err != nil {
		return nil, err
	}

	if m.eventDuration, err = meter.Float64Histogram(
		"event_processing_duration_seconds",
		metric.WithDescription("Event consumer duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.eventsPublished, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of published events"),
	); err != nil {
		return nil, err
	}

	if m.transportTotal, err = meter.Int64Counter(
		"transport_operations_total",
		metric.WithDescription("Total number of broker operations"),
	); err != nil {
		return nil, err
	}

	if m.outboxPublished, err = meter.Int64Counter(
		"outbox_published_total",
		metric.WithDescription("Total number of outbox records relayed to the broker"),
	); err != nil {
		return nil, err
	}

	if m.errorsTotal, err = meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand записывает метрику команды
func (m *Metrics) RecordCommand(ctx context.Context, commandName string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("command", commandName),
		attribute.Bool("success", success),
	}

	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "command"),
			attribute.String("command", commandName),
		))
	}
}

// IncrementActiveCommands увеличивает счетчик активных команд
func (m *Metrics) IncrementActiveCommands(ctx context.Context) {
	m.activeCommands.Add(ctx, 1)
}

// DecrementActiveCommands уменьшает счетчик активных команд
func (m *Metrics) DecrementActiveCommands(ctx context.Context) {
	m.activeCommands.Add(ctx, -1)
}

// RecordEventConsumed записывает результат обработки входящего события.
// outcome: applied, already_processed, failed.
func (m *Metrics) RecordEventConsumed(ctx context.Context, eventType, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event", eventType),
		attribute.String("outcome", outcome),
	}

	m.eventsConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.eventDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if outcome == "failed" {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "event"),
			attribute.String("event", eventType),
		))
	}
}

// RecordEventPublished записывает публикацию события
func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string, success bool) {
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventType),
		attribute.Bool("success", success),
	))
}

// RecordTransport записывает метрику брокера
func (m *Metrics) RecordTransport(ctx context.Context, transportName, operation string, success bool) {
	m.transportTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transportName),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "transport"),
			attribute.String("transport", transportName),
		))
	}
}

// RecordOutbox записывает результат одного прохода relay
func (m *Metrics) RecordOutbox(ctx context.Context, published, failed int) {
	if published > 0 {
		m.outboxPublished.Add(ctx, int64(published), metric.WithAttributes(attribute.Bool("success", true)))
	}
	if failed > 0 {
		m.outboxPublished.Add(ctx, int64(failed), metric.WithAttributes(attribute.Bool("success", false)))
	}
}
