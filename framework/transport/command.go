// Package transport предоставляет контракты команд и шины сообщений.
package transport

// Command представляет команду CQRS.
// Обработчик команды находится по ее статическому типу, а имя используется
// в логах, метриках и трейсах.
type Command interface {
	CommandName() string
}
