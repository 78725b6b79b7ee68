// Package pgtest подключает интеграционные тесты к PostgreSQL.
// Каждый тест получает собственную схему; без STOCKSYNC_TEST_POSTGRES_DSN тест пропускается.
package pgtest

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/migrations"
)

// DSNEnv переменная окружения с DSN тестовой базы
const DSNEnv = "STOCKSYNC_TEST_POSTGRES_DSN"

// Open создает временную схему, применяет к ней миграции fsys и возвращает пул,
// search_path которого указывает на эту схему. Схема удаляется после теста.
func Open(t testing.TB, fsys fs.FS) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s is not set", DSNEnv)
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	config.ConnConfig.RuntimeParams["search_path"] = schema
	config.MaxConns = 16

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if fsys != nil {
		migrator, err := migrations.New(stdlib.OpenDBFromPool(pool), fsys, migrations.Options{}, nil)
		require.NoError(t, err)
		_, err = migrator.Up(ctx)
		require.NoError(t, err)
	}
	return pool
}
