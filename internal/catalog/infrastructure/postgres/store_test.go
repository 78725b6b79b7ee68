package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	files, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"00001_create_products.sql",
		"00002_create_processed_events.sql",
		"00003_create_outbox_messages.sql",
		"00004_widen_stock_amount.sql",
		"00005_add_outbox_claims.sql",
	}, files)

	for _, name := range files {
		data, err := fs.ReadFile(Migrations(), name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up", name)
		assert.Contains(t, string(data), "-- +goose Down", name)
	}
}
