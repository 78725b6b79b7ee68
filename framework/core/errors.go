// Package core предоставляет систему ошибок и базовые контракты компонентов.
package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок
const (
	// ErrValidationFailed некорректный ввод, исправляемый клиентом
	ErrValidationFailed = "VALIDATION_FAILED"
	// ErrNotFound ссылка на отсутствующую сущность
	ErrNotFound = "NOT_FOUND"
	// ErrHandlerNotFound для команды не зарегистрирован обработчик
	ErrHandlerNotFound = "HANDLER_NOT_FOUND"
	// ErrHandlerAmbiguous для команды зарегистрировано больше одного обработчика
	ErrHandlerAmbiguous = "HANDLER_AMBIGUOUS"
	// ErrPersistenceFailed хранилище недоступно или вернуло конфликт
	ErrPersistenceFailed = "PERSISTENCE_FAILED"
	// ErrAlreadyProcessed событие уже записано в журнал обработанных
	ErrAlreadyProcessed = "ALREADY_PROCESSED"
	// ErrInvalidConfig некорректная конфигурация компонента
	ErrInvalidConfig = "INVALID_CONFIG"
)

// FrameworkError ошибка с машинно-читаемым кодом
type FrameworkError struct {
	Code       string
	Message    string
	Cause      error
	StackTrace string
}

// Error реализует интерфейс error
func (e *FrameworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *FrameworkError) Is(target error) bool {
	if t, ok := target.(*FrameworkError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext добавляет префикс к сообщению, сохраняя код и причину
func (e *FrameworkError) WithContext(context string) *FrameworkError {
	return &FrameworkError{
		Code:       e.Code,
		Message:    fmt.Sprintf("%s: %s", context, e.Message),
		Cause:      e.Cause,
		StackTrace: e.StackTrace,
	}
}

// NewError создает новую ошибку
func NewError(code, message string) *FrameworkError {
	return &FrameworkError{
		Code:       code,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Errorf создает ошибку с форматированным сообщением
func Errorf(code, format string, args ...interface{}) *FrameworkError {
	return &FrameworkError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStackTrace(),
	}
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code, message string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// WrapWithCode оборачивает ошибку, используя ее текст как сообщение
func WrapWithCode(err error, code string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{
		Code:       code,
		Message:    err.Error(),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// CodeOf возвращает код первой FrameworkError в цепочке или пустую строку
func CodeOf(err error) string {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode проверяет, содержит ли цепочка ошибку с указанным кодом
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &FrameworkError{Code: code})
}

// MessageOf возвращает сообщение первой FrameworkError без кода и причины
func MessageOf(err error) string {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// первые строки относятся к самой captureStackTrace и конструктору
	lines := strings.Split(stack, "\n")
	if len(lines) > 5 {
		lines = lines[5:]
	}
	return strings.Join(lines, "\n")
}
