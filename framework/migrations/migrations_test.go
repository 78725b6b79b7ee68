package migrations

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func migrationFS() fstest.MapFS {
	return fstest.MapFS{
		"00001_create_products.sql": &fstest.MapFile{Data: []byte(
			"-- +goose Up\nCREATE TABLE products (id UUID PRIMARY KEY);\n-- +goose Down\nDROP TABLE products;\n")},
		"00002_create_processed_events.sql": &fstest.MapFile{Data: []byte(
			"-- +goose Up\nCREATE TABLE processed_events (event_id UUID PRIMARY KEY);\n-- +goose Down\nDROP TABLE processed_events;\n")},
		"README.md": &fstest.MapFile{Data: []byte("not a migration")},
	}
}

func TestNew_CollectsSources(t *testing.T) {
	// sql.Open не подключается к базе, а сбор миграций не обращается к ней
	db, err := sql.Open("pgx", "postgres://localhost:5432/stocksync")
	require.NoError(t, err)
	defer db.Close()

	m, err := New(db, migrationFS(), Options{TableName: "catalog_schema_version"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, m.Sources())
	assert.NoError(t, m.Close(), "borrowed connection must not be closed")
}

func TestNew_EmptyFS(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://localhost:5432/stocksync")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, fstest.MapFS{}, Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, goose.ErrNoMigrations)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open("", migrationFS(), Options{}, nil)
	require.Error(t, err)
}

func TestGooseLogger_DoesNotExit(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	l := gooseLogger{zap.New(core).Sugar()}

	l.Printf("OK   %s", "00001_create_products.sql")
	l.Fatalf("failed: %s", "boom")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "OK   00001_create_products.sql", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}
