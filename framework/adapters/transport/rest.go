// Package transport предоставляет HTTP транспорт сервисов: gin сервер с жизненным
// циклом, отображение ошибок в ответы и валидацию запросов по OpenAPI.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
)

// RequestIDHeader заголовок идентификатора запроса
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RESTConfig конфигурация HTTP сервера
type RESTConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Mode режим gin: debug, release, test
	Mode string
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Mode:            gin.ReleaseMode,
	}
}

// Validate проверяет корректность конфигурации
func (c RESTConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("http port must be within [0, 65535]")
	}
	switch c.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("unknown gin mode: %s", c.Mode)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Addr возвращает адрес прослушивания
func (c RESTConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// RESTServer HTTP сервер на gin с жизненным циклом
type RESTServer struct {
	config RESTConfig
	router *gin.Engine
	server *http.Server
	logger *zap.Logger

	mu      sync.RWMutex
	running bool
}

// NewRESTServer создает сервер с middleware восстановления, request id и логирования
func NewRESTServer(config RESTConfig, logger *zap.Logger) (*RESTServer, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid http config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(config.Mode)

	logger = logger.Named("http")
	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware(), RequestLogger(logger))

	return &RESTServer{
		config: config,
		router: router,
		logger: logger,
	}, nil
}

// Router возвращает gin engine для регистрации маршрутов
func (s *RESTServer) Router() *gin.Engine {
	return s.router
}

// Start начинает прослушивание (реализация core.Lifecycle)
func (s *RESTServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	s.running = true
	s.logger.Info("http server started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop завершает сервер, дожидаясь активных запросов (реализация core.Lifecycle)
func (s *RESTServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// IsRunning проверяет, запущен ли сервер (реализация core.Lifecycle)
func (s *RESTServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Name возвращает имя компонента (реализация core.Component)
func (s *RESTServer) Name() string {
	return "rest-server"
}

// Type возвращает тип компонента (реализация core.Component)
func (s *RESTServer) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// RequestIDMiddleware проставляет X-Request-ID, если клиент его не передал
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger логирует завершенные запросы
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Debug("request completed", fields...)
		}
	}
}
