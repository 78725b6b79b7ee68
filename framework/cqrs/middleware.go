package cqrs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// TracingCommandMiddleware открывает span на время выполнения команды
func TracingCommandMiddleware(tracerName string) CommandMiddleware {
	tracer := otel.Tracer(tracerName)
	return func(ctx context.Context, cmd transport.Command, next NextFunc) (interface{}, error) {
		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", cmd.CommandName()))
		defer span.End()

		span.SetAttributes(attribute.String("command.name", cmd.CommandName()))

		result, err := next(ctx, cmd)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("command.success", err == nil))
		return result, err
	}
}

// MetricsCommandMiddleware записывает количество и длительность команд
func MetricsCommandMiddleware(m *metrics.Metrics) CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next NextFunc) (interface{}, error) {
		if m == nil {
			return next(ctx, cmd)
		}

		start := time.Now()
		m.IncrementActiveCommands(ctx)
		defer m.DecrementActiveCommands(ctx)

		result, err := next(ctx, cmd)
		m.RecordCommand(ctx, cmd.CommandName(), time.Since(start), err == nil)
		return result, err
	}
}

// TimeoutCommandMiddleware ограничивает время выполнения команды
func TimeoutCommandMiddleware(timeout time.Duration) CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next NextFunc) (interface{}, error) {
		if timeout <= 0 {
			return next(ctx, cmd)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return next(ctx, cmd)
	}
}
