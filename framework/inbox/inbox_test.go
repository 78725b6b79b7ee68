package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/akriventsev/stocksync/framework/core"
)

type memoryStore struct {
	mu        sync.Mutex
	stock     map[string]int
	processed map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{stock: map[string]int{}, processed: map[string]time.Time{}}
}

type memoryTx struct {
	stock     map[string]int
	processed map[string]time.Time
	failMark  error
}

func (tx *memoryTx) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, ok := tx.processed[eventID]
	return ok, nil
}

func (tx *memoryTx) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	if tx.failMark != nil {
		return tx.failMark
	}
	if _, ok := tx.processed[eventID]; ok {
		return core.NewError(core.ErrAlreadyProcessed, "duplicate event id")
	}
	tx.processed[eventID] = at
	return nil
}

func (tx *memoryTx) increment(productID string, delta int) error {
	current, ok := tx.stock[productID]
	if !ok {
		return core.Errorf(core.ErrNotFound, "product %s not found", productID)
	}
	tx.stock[productID] = current + delta
	return nil
}

type memoryTransactor struct {
	store    *memoryStore
	failMark error
}

func (t *memoryTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx *memoryTx) error) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	tx := &memoryTx{
		stock:     make(map[string]int, len(t.store.stock)),
		processed: make(map[string]time.Time, len(t.store.processed)),
		failMark:  t.failMark,
	}
	for k, v := range t.store.stock {
		tx.stock[k] = v
	}
	for k, v := range t.store.processed {
		tx.processed[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.store.stock = tx.stock
	t.store.processed = tx.processed
	return nil
}

func newTestProcessor(store *memoryStore, logger *zap.Logger) (*Processor[*memoryTx], *memoryTransactor) {
	transactor := &memoryTransactor{store: store}
	return NewProcessor[*memoryTx]("inventory-added", transactor, ProcessedEventsLedger[*memoryTx]{}, logger), transactor
}

func incrementBy(productID string, delta int) ApplyFunc[*memoryTx] {
	return func(ctx context.Context, tx *memoryTx) error {
		return tx.increment(productID, delta)
	}
}

func TestProcessor_AppliesOnce(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 0
	processor, _ := newTestProcessor(store, nil)

	outcome, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 10))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	outcome, err = processor.Process(context.Background(), "evt-1", incrementBy("p-1", 10))
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, outcome)

	assert.Equal(t, 10, store.stock["p-1"])
	assert.Contains(t, store.processed, "evt-1")
}

func TestProcessor_DuplicateIsLogged(t *testing.T) {
	observed, logs := observer.New(zap.InfoLevel)
	store := newMemoryStore()
	store.stock["p-1"] = 0
	processor, _ := newTestProcessor(store, zap.New(observed))

	_, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 1))
	require.NoError(t, err)
	_, err = processor.Process(context.Background(), "evt-1", incrementBy("p-1", 1))
	require.NoError(t, err)

	entries := logs.FilterMessage("message already processed, skipping").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-1", entries[0].ContextMap()["key"])
}

func TestProcessor_NotFoundIsRetryable(t *testing.T) {
	store := newMemoryStore()
	processor, _ := newTestProcessor(store, nil)

	_, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 5))
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrNotFound))
	assert.NotContains(t, store.processed, "evt-1")

	// продукт появился, повторная доставка того же события применяется
	store.stock["p-1"] = 0
	outcome, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 5))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 5, store.stock["p-1"])
}

func TestProcessor_CrashBeforeRecordRollsBack(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 3
	processor, transactor := newTestProcessor(store, nil)
	transactor.failMark = core.NewError(core.ErrPersistenceFailed, "connection reset")

	_, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 7))
	require.Error(t, err)
	assert.Equal(t, 3, store.stock["p-1"])
	assert.Empty(t, store.processed)

	transactor.failMark = nil
	outcome, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 7))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 10, store.stock["p-1"])
}

func TestProcessor_CancelledBeforeCommit(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 0
	processor, _ := newTestProcessor(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := processor.Process(ctx, "evt-1", func(ctx context.Context, tx *memoryTx) error {
		if err := tx.increment("p-1", 4); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.stock["p-1"])
	assert.Empty(t, store.processed)
}

func TestProcessor_ConflictReportsAlreadyProcessed(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 0
	processor, transactor := newTestProcessor(store, nil)
	transactor.failMark = core.NewError(core.ErrAlreadyProcessed, "duplicate key value violates unique constraint")

	outcome, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 2))
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, outcome)
	assert.Equal(t, 0, store.stock["p-1"])
}

func TestProcessor_ApplyErrorIdentityPreserved(t *testing.T) {
	store := newMemoryStore()
	processor, _ := newTestProcessor(store, nil)
	failure := errors.New("disk full")

	_, err := processor.Process(context.Background(), "evt-1", func(ctx context.Context, tx *memoryTx) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)
}

func TestProcessor_ConcurrentDuplicates(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 0
	processor, _ := newTestProcessor(store, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 10))
			assert.NoError(t, err)
			if outcome == Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 10, store.stock["p-1"])
}

type productCreated struct {
	ID        string
	ProductID string
}

func (e productCreated) EventID() string       { return e.ID }
func (e productCreated) EventType() string     { return "ProductCreated" }
func (e productCreated) OccurredAt() time.Time { return time.Time{} }

func TestKeyedHandler_ExistenceLedger(t *testing.T) {
	store := newMemoryStore()
	transactor := &memoryTransactor{store: store}
	ledger := ExistenceLedger[*memoryTx]{Exists: func(ctx context.Context, tx *memoryTx, key string) (bool, error) {
		_, ok := tx.stock[key]
		return ok, nil
	}}
	processor := NewProcessor[*memoryTx]("product-created", transactor, ledger, nil)

	handler := KeyedHandler(processor, func(evt productCreated) string { return evt.ProductID },
		func(ctx context.Context, tx *memoryTx, evt productCreated) error {
			tx.stock[evt.ProductID] = 0
			return nil
		})

	// разные event id для одного продукта дают одну запись
	require.NoError(t, handler(context.Background(), productCreated{ID: "evt-1", ProductID: "p-1"}))
	require.NoError(t, handler(context.Background(), productCreated{ID: "evt-2", ProductID: "p-1"}))

	assert.Len(t, store.stock, 1)
	assert.Empty(t, store.processed)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "already_processed", AlreadyProcessed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

func TestProcessor_RecordsClockTime(t *testing.T) {
	store := newMemoryStore()
	store.stock["p-1"] = 0
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	transactor := &memoryTransactor{store: store}
	processor := NewProcessor[*memoryTx]("inventory-added", transactor, ProcessedEventsLedger[*memoryTx]{}, nil,
		WithClock[*memoryTx](func() time.Time { return at }))

	_, err := processor.Process(context.Background(), "evt-1", incrementBy("p-1", 3))
	require.NoError(t, err)
	assert.Equal(t, at, store.processed["evt-1"])
}
