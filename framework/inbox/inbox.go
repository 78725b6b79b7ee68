// Package inbox реализует идемпотентную обработку входящих событий.
//
// Processor выполняет три фазы в одной единице работы: проверку ledger,
// применение эффекта и запись ключа в ledger. Эффект и запись фиксируются
// вместе или не фиксируются вовсе.
package inbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/metrics"
)

const tracerName = "stocksync/inbox"

// Outcome результат обработки сообщения
type Outcome int

const (
	// Applied эффект применен и ключ записан
	Applied Outcome = iota + 1
	// AlreadyProcessed ключ уже был в ledger, эффект не применялся
	AlreadyProcessed
)

// String возвращает имя результата для логов и метрик
func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// Transactor открывает единицу работы над хранилищем.
// Если fn возвращает ошибку, все изменения в tx откатываются.
type Transactor[T any] interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx T) error) error
}

// Ledger хранит ключи уже обработанных сообщений
type Ledger[T any] interface {
	// Seen проверяет, обработан ли ключ
	Seen(ctx context.Context, tx T, key string) (bool, error)
	// Record записывает ключ в той же транзакции, что и эффект.
	// Конфликт ключа должен возвращаться с кодом ALREADY_PROCESSED.
	Record(ctx context.Context, tx T, key string, at time.Time) error
}

// ApplyFunc применяет эффект сообщения внутри транзакции
type ApplyFunc[T any] func(ctx context.Context, tx T) error

// Processor идемпотентный обработчик сообщений
type Processor[T any] struct {
	name       string
	transactor Transactor[T]
	ledger     Ledger[T]
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// Option настройка процессора
type Option[T any] func(*Processor[T])

// WithMetrics включает запись метрик потребления
func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(p *Processor[T]) { p.metrics = m }
}

// WithClock подменяет источник времени записи в ledger
func WithClock[T any](now func() time.Time) Option[T] {
	return func(p *Processor[T]) { p.now = now }
}

// NewProcessor создает процессор с именем потребителя name
func NewProcessor[T any](name string, transactor Transactor[T], ledger Ledger[T], logger *zap.Logger, opts ...Option[T]) *Processor[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor[T]{
		name:       name,
		transactor: transactor,
		ledger:     ledger,
		logger:     logger.Named("inbox").With(zap.String("consumer", name)),
		tracer:     otel.Tracer(tracerName),
		now:        events.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process применяет эффект apply не более одного раза для ключа key.
// Ошибки apply возвращаются без изменений, чтобы брокер доставил сообщение повторно.
func (p *Processor[T]) Process(ctx context.Context, key string, apply ApplyFunc[T]) (Outcome, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "inbox."+p.name, trace.WithAttributes(
		attribute.String("messaging.message.id", key),
		attribute.String("inbox.consumer", p.name),
	))
	defer span.End()

	outcome := Applied
	err := p.transactor.WithinTransaction(ctx, func(ctx context.Context, tx T) error {
		seen, err := p.checkLedger(ctx, tx, key)
		if err != nil {
			return err
		}
		if seen {
			outcome = AlreadyProcessed
			return nil
		}

		if err := p.applyEffect(ctx, tx, apply); err != nil {
			return err
		}

		return p.ledger.Record(ctx, tx, key, p.now())
	})

	if err != nil && core.IsCode(err, core.ErrAlreadyProcessed) {
		// конкурентная доставка успела зафиксировать тот же ключ
		outcome = AlreadyProcessed
		err = nil
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.record(ctx, "failed", start)
		p.logger.Warn("message processing failed",
			zap.String("key", key),
			zap.String("code", core.CodeOf(err)),
			zap.Error(err),
		)
		return 0, err
	}

	span.SetAttributes(attribute.String("inbox.outcome", outcome.String()))
	p.record(ctx, outcome.String(), start)

	if outcome == AlreadyProcessed {
		p.logger.Info("message already processed, skipping", zap.String("key", key))
	} else {
		p.logger.Debug("message applied", zap.String("key", key))
	}
	return outcome, nil
}

func (p *Processor[T]) checkLedger(ctx context.Context, tx T, key string) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "idempotency check")
	defer span.End()

	seen, err := p.ledger.Seen(ctx, tx, key)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("inbox.seen", seen))
	return seen, nil
}

func (p *Processor[T]) applyEffect(ctx context.Context, tx T, apply ApplyFunc[T]) error {
	ctx, span := p.tracer.Start(ctx, "apply effect")
	defer span.End()

	if err := apply(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Processor[T]) record(ctx context.Context, outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordEventConsumed(ctx, p.name, outcome, time.Since(start))
	}
}

// Handler связывает процессор с типизированной подпиской на события.
// Ключом идемпотентности служит идентификатор события.
func Handler[T any, E events.Event](p *Processor[T], apply func(ctx context.Context, tx T, evt E) error) events.Handler[E] {
	return KeyedHandler(p, func(evt E) string { return evt.EventID() }, apply)
}

// KeyedHandler как Handler, но ключ идемпотентности вычисляется функцией key
func KeyedHandler[T any, E events.Event](p *Processor[T], key func(E) string, apply func(ctx context.Context, tx T, evt E) error) events.Handler[E] {
	return func(ctx context.Context, evt E) error {
		_, err := p.Process(ctx, key(evt), func(ctx context.Context, tx T) error {
			return apply(ctx, tx, evt)
		})
		return err
	}
}
