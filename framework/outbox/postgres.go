package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akriventsev/stocksync/framework/adapters/repository"
	"github.com/akriventsev/stocksync/framework/core"
)

// TableName таблица outbox в схеме каждого сервиса
const TableName = "outbox_messages"

// Querier общее подмножество pgx.Tx и pgxpool.Pool
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresWriter добавляет записи outbox в транзакции PostgreSQL
type PostgresWriter struct {
	db Querier
}

// NewPostgresWriter создает writer поверх транзакции
func NewPostgresWriter(db Querier) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Append вставляет запись; повторная вставка того же ID дает ALREADY_PROCESSED
func (w *PostgresWriter) Append(ctx context.Context, record Record) error {
	_, err := w.db.Exec(ctx,
		`INSERT INTO `+TableName+` (id, destination, event_type, payload, headers, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.Destination, record.EventType, record.Payload, record.Headers, record.CreatedAt,
	)
	return repository.MapPgError(err, "append outbox record")
}

// DefaultClaimTTL время, на которое FetchPending резервирует записи за relay
const DefaultClaimTTL = 30 * time.Second

// fetchPendingSQL резервирует пачку записей. SKIP LOCKED и claimed_until
// не дают двум relay выбрать одну и ту же запись.
const fetchPendingSQL = `WITH pending AS (
	SELECT id FROM ` + TableName + `
	WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
	ORDER BY created_at, id
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE ` + TableName + ` o
SET claimed_until = now() + make_interval(secs => $2::float8)
FROM pending
WHERE o.id = pending.id
RETURNING o.id, o.destination, o.event_type, o.payload, o.headers, o.created_at`

// PostgresStore хранилище outbox для relay.
// Несколько relay могут работать над одной таблицей: выбранные записи
// резервируются на claimTTL, неопубликованные возвращаются в очередь после его истечения.
type PostgresStore struct {
	db       Querier
	claimTTL time.Duration
}

// NewPostgresStore создает хранилище поверх пула соединений
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db, claimTTL: DefaultClaimTTL}
}

// WithClaimTTL задает время резервирования записей
func (s *PostgresStore) WithClaimTTL(ttl time.Duration) *PostgresStore {
	s.claimTTL = ttl
	return s
}

// FetchPending резервирует и возвращает неопубликованные записи в порядке создания
func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, fetchPendingSQL, limit, s.claimTTL.Seconds())
	if err != nil {
		return nil, repository.MapPgError(err, "fetch outbox records")
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.Destination, &r.EventType, &r.Payload, &r.Headers, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, repository.MapPgError(err, "scan outbox records")
	}

	// RETURNING не сохраняет порядок подзапроса
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// MarkPublished отмечает запись опубликованной
func (s *PostgresStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+TableName+` SET published_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return repository.MapPgError(err, "mark outbox record published")
	}
	if tag.RowsAffected() == 0 {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("outbox record %s not found", id))
	}
	return nil
}
