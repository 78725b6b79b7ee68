package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/observability"
	"github.com/akriventsev/stocksync/framework/transport"
)

// Handler типизированный обработчик события
type Handler[E Event] func(ctx context.Context, evt E) error

// Subscribe подписывает типизированный обработчик на subject.
// Ошибка обработчика оставляет сообщение неподтвержденным. Сообщения, которые
// невозможно декодировать, логируются и подтверждаются: повторная доставка их не исправит.
func Subscribe[E Event](ctx context.Context, subscriber transport.Subscriber, subject string, handler Handler[E], logger *zap.Logger) error {
	return subscriber.Subscribe(ctx, subject, MessageHandler(subject, handler, logger))
}

// MessageHandler оборачивает типизированный обработчик в transport.MessageHandler
func MessageHandler[E Event](subject string, handler Handler[E], logger *zap.Logger) transport.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("event-subscriber").With(zap.String("subject", subject))

	return func(ctx context.Context, msg *transport.Message) error {
		ctx = observability.ExtractTraceContext(ctx, msg.Headers)

		evt, err := Decode[E](msg)
		if err != nil {
			logger.Error("dropping malformed event",
				zap.String("event_id", msg.Header(transport.HeaderEventID)),
				zap.ByteString("raw_value", msg.Data),
				zap.Error(err),
			)
			return nil
		}

		if err := handler(ctx, evt); err != nil {
			logger.Warn("event handler failed, message will be redelivered",
				zap.String("event_id", evt.EventID()),
				zap.String("event_type", evt.EventType()),
				zap.Int("attempt", msg.Attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}

// IsMalformed проверяет, что ошибка вызвана некорректным сообщением
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}
