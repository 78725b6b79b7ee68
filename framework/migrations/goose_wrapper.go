// Package migrations предоставляет обертку над goose для управления миграциями схемы базы данных.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	// регистрирует драйвер "pgx" для database/sql
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
)

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Options параметры мигратора
type Options struct {
	// TableName таблица версий goose; у каждого сервиса своя
	TableName string
	Verbose   bool
}

// Migrator применяет SQL миграции из fs.FS к PostgreSQL
type Migrator struct {
	provider *goose.Provider
	db       *sql.DB
	ownsDB   bool
	logger   *zap.Logger
}

// Open открывает соединение по DSN и создает мигратор, владеющий этим соединением
func Open(dsn string, fsys fs.FS, options Options, logger *zap.Logger) (*Migrator, error) {
	if dsn == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "database DSN cannot be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m, err := New(db, fsys, options, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// New создает мигратор поверх существующего соединения
func New(db *sql.DB, fsys fs.FS, options Options, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("migrations")

	opts := []goose.ProviderOption{
		goose.WithLogger(gooseLogger{logger.Sugar()}),
		goose.WithVerbose(options.Verbose),
	}
	if options.TableName != "" {
		opts = append(opts, goose.WithTableName(options.TableName))
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	return &Migrator{provider: provider, db: db, logger: logger}, nil
}

// Up применяет все pending миграции и возвращает количество примененных
func (m *Migrator) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logApplied(results)
	return len(results), nil
}

// UpBy применяет не более steps pending миграций; steps <= 0 применяет все
func (m *Migrator) UpBy(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return m.Up(ctx)
	}

	applied := 0
	for applied < steps {
		result, err := m.provider.UpByOne(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			break
		}
		if err != nil {
			return applied, fmt.Errorf("failed to run migrations: %w", err)
		}
		m.logApplied([]*goose.MigrationResult{result})
		applied++
	}
	return applied, nil
}

// Down откатывает steps последних миграций (минимум одну)
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	rolledBack := 0
	for rolledBack < steps {
		result, err := m.provider.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			break
		}
		if err != nil {
			return rolledBack, fmt.Errorf("failed to rollback migration: %w", err)
		}
		m.logger.Info("migration rolled back",
			zap.Int64("version", result.Source.Version),
			zap.Duration("duration", result.Duration),
		)
		rolledBack++
	}
	return rolledBack, nil
}

// Status возвращает статус всех миграций
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	result := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		status := MigrationStatus{
			Version: s.Source.Version,
			Name:    s.Source.Path,
			Status:  string(s.State),
		}
		if s.State == goose.StateApplied {
			appliedAt := s.AppliedAt
			status.AppliedAt = &appliedAt
		}
		result = append(result, status)
	}
	return result, nil
}

// Version возвращает текущую версию схемы
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Sources возвращает версии миграций, найденные в fs.FS
func (m *Migrator) Sources() []int64 {
	sources := m.provider.ListSources()
	versions := make([]int64, 0, len(sources))
	for _, s := range sources {
		versions = append(versions, s.Version)
	}
	return versions
}

// Close закрывает соединение, если оно было открыто мигратором
func (m *Migrator) Close() error {
	if !m.ownsDB {
		return nil
	}
	return m.db.Close()
}

func (m *Migrator) logApplied(results []*goose.MigrationResult) {
	for _, r := range results {
		m.logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("source", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
}

// gooseLogger направляет вывод goose в zap
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Fatalf не завершает процесс: ошибки goose возвращаются вызывающему коду
func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}
