package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/observability"
)

// InternalErrorMessage сообщение клиенту при внутренней ошибке
const InternalErrorMessage = "An error occurred processing your request."

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId"`
}

// StatusFor возвращает HTTP статус для ошибки команды.
// Ошибки валидации и отсутствующие сущности считаются ошибками клиента.
func StatusFor(err error) int {
	switch core.CodeOf(err) {
	case core.ErrValidationFailed, core.ErrNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError пишет ответ с ошибкой. Текст внутренних ошибок клиенту не раскрывается.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusFor(err)
	traceID := TraceID(c)

	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("trace_id", traceID),
				zap.String("code", core.CodeOf(err)),
				zap.Error(err),
			)
		}
		c.AbortWithStatusJSON(status, ErrorResponse{Error: InternalErrorMessage, TraceID: traceID})
		return
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: core.MessageOf(err), TraceID: traceID})
}

// WriteStatus пишет ответ с ошибкой и заданным статусом
func WriteStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, TraceID: TraceID(c)})
}

// TraceID возвращает идентификатор трассы запроса, при его отсутствии request id
func TraceID(c *gin.Context) string {
	if id := observability.TraceID(c.Request.Context()); id != "" {
		return id
	}
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}
