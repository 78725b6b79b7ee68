// Package cqrs предоставляет диспетчер команд с таблицей регистрации обработчиков.
package cqrs

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/transport"
)

// CommandHandler обработчик команды C, возвращающий результат R
type CommandHandler[C transport.Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// NextFunc следующий элемент цепочки обработки команды
type NextFunc func(ctx context.Context, cmd transport.Command) (interface{}, error)

// CommandMiddleware промежуточный обработчик команд.
// Middleware не должен подменять ошибку обработчика.
type CommandMiddleware func(ctx context.Context, cmd transport.Command, next NextFunc) (interface{}, error)

type registration struct {
	handlerName string
	resultType  reflect.Type
	invoke      NextFunc
}

// Dispatcher находит обработчик по типу команды и вызывает его
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   map[reflect.Type]registration
	middleware []CommandMiddleware
	logger     *zap.Logger
}

// NewDispatcher создает диспетчер команд
func NewDispatcher(logger *zap.Logger, middleware ...CommandMiddleware) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers:   make(map[reflect.Type]registration),
		middleware: middleware,
		logger:     logger.Named("dispatcher"),
	}
}

// Use добавляет middleware в конец цепочки
func (d *Dispatcher) Use(middleware ...CommandMiddleware) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, middleware...)
	return d
}

// Registered возвращает имена типов команд, для которых есть обработчик
func (d *Dispatcher) Registered() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}

// Register регистрирует обработчик для типа команды C.
// Повторная регистрация того же типа возвращает ошибку HANDLER_AMBIGUOUS.
func Register[C transport.Command, R any](d *Dispatcher, handler CommandHandler[C, R]) error {
	if handler == nil {
		return core.NewError(core.ErrInvalidConfig, "command handler cannot be nil")
	}

	commandType := typeOf[C]()

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, exists := d.handlers[commandType]; exists {
		return core.Errorf(core.ErrHandlerAmbiguous,
			"handler already registered for command %s: %s", commandType, existing.handlerName)
	}

	d.handlers[commandType] = registration{
		handlerName: reflect.TypeOf(handler).String(),
		resultType:  typeOf[R](),
		invoke: func(ctx context.Context, cmd transport.Command) (interface{}, error) {
			typed, ok := cmd.(C)
			if !ok {
				return nil, core.Errorf(core.ErrHandlerNotFound, "command %T does not match handler for %s", cmd, commandType)
			}
			return handler.Handle(ctx, typed)
		},
	}
	return nil
}

// MustRegister регистрирует обработчик и паникует при ошибке
func MustRegister[C transport.Command, R any](d *Dispatcher, handler CommandHandler[C, R]) {
	if err := Register[C, R](d, handler); err != nil {
		panic(err)
	}
}

// Dispatch отправляет команду единственному зарегистрированному обработчику.
// Ошибка обработчика логируется вместе с командой и возвращается без изменений.
func Dispatch[C transport.Command, R any](ctx context.Context, d *Dispatcher, cmd C) (R, error) {
	var result R

	commandType := typeOf[C]()

	d.mu.RLock()
	reg, exists := d.handlers[commandType]
	middleware := d.middleware
	d.mu.RUnlock()

	if !exists {
		return result, core.Errorf(core.ErrHandlerNotFound, "no handler registered for command %s", commandType)
	}
	if want := typeOf[R](); reg.resultType != want {
		return result, core.Errorf(core.ErrHandlerNotFound,
			"handler for command %s returns %s, not %s", commandType, reg.resultType, want)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	next := reg.invoke
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		prevNext := next
		next = func(ctx context.Context, cmd transport.Command) (interface{}, error) {
			return mw(ctx, cmd, prevNext)
		}
	}

	out, err := next(ctx, cmd)
	if err != nil {
		d.logger.Error("command handler failed",
			zap.String("command_name", cmd.CommandName()),
			zap.Any("command", cmd),
			zap.Error(err),
		)
		return result, err
	}

	if typed, ok := out.(R); ok {
		result = typed
	}
	return result, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
