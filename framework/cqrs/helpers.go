package cqrs

import (
	"context"

	"github.com/akriventsev/stocksync/framework/transport"
)

// CommandHandlerFunc адаптер функции к CommandHandler
type CommandHandlerFunc[C transport.Command, R any] func(ctx context.Context, cmd C) (R, error)

// Handle вызывает функцию
func (f CommandHandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// RegisterFunc регистрирует функцию как обработчик команды C
func RegisterFunc[C transport.Command, R any](d *Dispatcher, fn func(ctx context.Context, cmd C) (R, error)) error {
	return Register[C, R](d, CommandHandlerFunc[C, R](fn))
}
