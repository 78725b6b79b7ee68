// Package repository предоставляет подключения к хранилищам и общие транзакционные утилиты.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
)

// pgUniqueViolation код ошибки PostgreSQL unique_violation
const pgUniqueViolation = "23505"

// PostgresConfig конфигурация пула PostgreSQL
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig возвращает конфигурацию PostgreSQL по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("MaxConns must be greater than 0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("MinConns must be within [0, MaxConns]")
	}
	return nil
}

// PostgresPool пул соединений PostgreSQL с жизненным циклом
type PostgresPool struct {
	config PostgresConfig
	logger *zap.Logger

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewPostgresPool создает пул; подключение выполняется в Start
func NewPostgresPool(config PostgresConfig, logger *zap.Logger) (*PostgresPool, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid postgres config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresPool{config: config, logger: logger.Named("postgres")}, nil
}

// Start открывает пул и проверяет соединение (реализация core.Lifecycle)
func (p *PostgresPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return nil
	}

	poolConfig, err := pgxpool.ParseConfig(p.config.DSN)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to parse postgres DSN")
	}
	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	if p.config.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = p.config.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p.pool = pool
	p.logger.Info("connected to postgres", zap.Int32("max_conns", p.config.MaxConns))
	return nil
}

// Stop закрывает пул (реализация core.Lifecycle)
func (p *PostgresPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// IsRunning проверяет, открыт ли пул (реализация core.Lifecycle)
func (p *PostgresPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool != nil
}

// Name возвращает имя компонента (реализация core.Component)
func (p *PostgresPool) Name() string {
	return "postgres"
}

// Type возвращает тип компонента (реализация core.Component)
func (p *PostgresPool) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Pool возвращает pgxpool; nil до вызова Start
func (p *PostgresPool) Pool() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// Check проверяет доступность базы (health check)
func (p *PostgresPool) Check(ctx context.Context) error {
	pool := p.Pool()
	if pool == nil {
		return fmt.Errorf("postgres pool is not started")
	}
	return pool.Ping(ctx)
}

// Beginner источник транзакций, реализуется pgxpool.Pool и pgx.Conn
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithinTx выполняет fn в транзакции. Ошибка fn или отмена контекста до коммита
// откатывают транзакцию; ошибки PostgreSQL переводятся в коды core.
func WithinTx(ctx context.Context, db Beginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return MapPgError(err, "begin transaction")
	}
	defer func() {
		// после Commit Rollback возвращает pgx.ErrTxClosed, ошибка игнорируется
		_ = tx.Rollback(context.Background())
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return MapPgError(err, "commit transaction")
	}
	return nil
}

// MapPgError переводит ошибку драйвера в FrameworkError.
// unique_violation отображается в ALREADY_PROCESSED, pgx.ErrNoRows в NOT_FOUND.
func MapPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Wrap(err, core.ErrNotFound, op+": no rows")
	}
	if IsUniqueViolation(err) {
		return core.Wrap(err, core.ErrAlreadyProcessed, op+": duplicate key")
	}
	return core.Wrap(err, core.ErrPersistenceFailed, op+" failed")
}

// IsUniqueViolation проверяет, что ошибка вызвана нарушением уникальности
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
