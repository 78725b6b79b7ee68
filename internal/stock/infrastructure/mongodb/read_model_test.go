package mongodb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

func TestReadModelDocument_BSON(t *testing.T) {
	id := uuid.New()
	syncedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	model := domain.RestoreProductReadModel(id, "Keyboard", syncedAt)

	data, err := bson.Marshal(toDocument(model))
	require.NoError(t, err)

	var raw bson.M
	require.NoError(t, bson.Unmarshal(data, &raw))
	assert.Equal(t, id.String(), raw["_id"])
	assert.Equal(t, "Keyboard", raw["name"])

	var doc readModelDocument
	require.NoError(t, bson.Unmarshal(data, &doc))
	restored, err := doc.toDomain()
	require.NoError(t, err)
	assert.Equal(t, id, restored.ProductID())
	assert.True(t, syncedAt.Equal(restored.SyncedAt()))
}

func TestReadModelDocument_InvalidID(t *testing.T) {
	_, err := readModelDocument{ProductID: "not-a-uuid"}.toDomain()
	assert.True(t, core.IsCode(err, core.ErrPersistenceFailed))
}

func TestIndexes(t *testing.T) {
	indexes := Indexes()
	require.Len(t, indexes, 1)
	assert.Equal(t, "ix_synced_at", *indexes[0].Options.Name)
}
