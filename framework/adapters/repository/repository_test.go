package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/stocksync/framework/core"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithinTx_Commits(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}

	err := WithinTx(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})

	require.NoError(t, err)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}
	applyErr := core.NewError(core.ErrNotFound, "product not found")

	err := WithinTx(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		return applyErr
	})

	assert.Same(t, applyErr, err)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}

func TestWithinTx_CancelledBeforeCommit(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}
	ctx, cancel := context.WithCancel(context.Background())

	err := WithinTx(ctx, db, func(ctx context.Context, tx pgx.Tx) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}

func TestWithinTx_CommitConflict(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{commitErr: &pgconn.PgError{Code: "23505"}}}

	err := WithinTx(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})

	assert.True(t, core.IsCode(err, core.ErrAlreadyProcessed))
}

func TestWithinTx_BeginFails(t *testing.T) {
	db := &fakeBeginner{err: errors.New("connection refused")}

	err := WithinTx(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.True(t, core.IsCode(err, core.ErrPersistenceFailed))
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), core.ErrAlreadyProcessed},
		{"no rows", pgx.ErrNoRows, core.ErrNotFound},
		{"other pg error", &pgconn.PgError{Code: "40001"}, core.ErrPersistenceFailed},
		{"plain error", errors.New("broken pipe"), core.ErrPersistenceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, core.CodeOf(MapPgError(tt.err, "save")))
		})
	}

	assert.NoError(t, MapPgError(nil, "save"))
	assert.Equal(t, context.Canceled, MapPgError(context.Canceled, "save"))
}

func TestMapMongoError(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}

	assert.Equal(t, core.ErrAlreadyProcessed, core.CodeOf(MapMongoError(dup, "insert")))
	assert.Equal(t, core.ErrNotFound, core.CodeOf(MapMongoError(mongo.ErrNoDocuments, "find")))
	assert.Equal(t, core.ErrPersistenceFailed, core.CodeOf(MapMongoError(errors.New("boom"), "find")))
	assert.NoError(t, MapMongoError(nil, "find"))
}

func TestConfigs_Validate(t *testing.T) {
	pg := DefaultPostgresConfig()
	assert.Error(t, pg.Validate(), "empty DSN")
	pg.DSN = "postgres://localhost/catalog"
	assert.NoError(t, pg.Validate())
	pg.MinConns = pg.MaxConns + 1
	assert.Error(t, pg.Validate())

	assert.NoError(t, DefaultMongoConfig().Validate())
	assert.Error(t, MongoConfig{URI: "mongodb://x", Timeout: 0, Database: "db"}.Validate())

	_, err := NewPostgresPool(PostgresConfig{}, nil)
	assert.True(t, core.IsCode(err, core.ErrInvalidConfig))
}
