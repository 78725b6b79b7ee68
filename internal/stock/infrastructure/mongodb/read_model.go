// Package mongodb реализует read model продуктов stock-service на MongoDB.
//
// Документ хранится с _id равным productId, поэтому insertOne одновременно
// применяет эффект события и фиксирует его обработку.
package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/stocksync/framework/adapters/repository"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// CollectionName коллекция read model
const CollectionName = "product_read_models"

type readModelDocument struct {
	ProductID string    `bson:"_id"`
	Name      string    `bson:"name"`
	SyncedAt  time.Time `bson:"synced_at"`
}

func toDocument(m *domain.ProductReadModel) readModelDocument {
	return readModelDocument{
		ProductID: m.ProductID().String(),
		Name:      m.Name(),
		SyncedAt:  m.SyncedAt(),
	}
}

func (d readModelDocument) toDomain() (*domain.ProductReadModel, error) {
	id, err := uuid.Parse(d.ProductID)
	if err != nil {
		return nil, core.Wrap(err, core.ErrPersistenceFailed, "stored product id is not a UUID")
	}
	return domain.RestoreProductReadModel(id, d.Name, d.SyncedAt.UTC()), nil
}

// ReadModelStore read model продуктов в коллекции MongoDB
type ReadModelStore struct {
	collection *mongo.Collection
}

var _ application.ReadModelStore = (*ReadModelStore)(nil)

// NewReadModelStore создает read model в базе db
func NewReadModelStore(db *mongo.Database) *ReadModelStore {
	return &ReadModelStore{collection: db.Collection(CollectionName)}
}

// Indexes индексы коллекции помимо _id
func Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "synced_at", Value: 1}},
			Options: options.Index().SetName("ix_synced_at"),
		},
	}
}

// EnsureIndexes создает индексы коллекции
func (s *ReadModelStore) EnsureIndexes(ctx context.Context) error {
	return repository.EnsureIndexes(ctx, s.collection, Indexes()...)
}

// WithinTransaction выполняет fn. Отдельная транзакция не нужна: запись
// выполняется одной операцией insertOne.
func (s *ReadModelStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.ReadModelTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

// Exists проверяет наличие продукта в read model
func (s *ReadModelStore) Exists(ctx context.Context, productID uuid.UUID) (bool, error) {
	return s.ReadModelExists(ctx, productID)
}

// ReadModelExists проверяет наличие документа с _id = productId
func (s *ReadModelStore) ReadModelExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": productID.String()}, options.Count().SetLimit(1))
	if err != nil {
		return false, repository.MapMongoError(err, "check read model")
	}
	return count > 0, nil
}

// InsertReadModel вставляет документ; дубликат _id дает ALREADY_PROCESSED
func (s *ReadModelStore) InsertReadModel(ctx context.Context, m *domain.ProductReadModel) error {
	_, err := s.collection.InsertOne(ctx, toDocument(m))
	return repository.MapMongoError(err, "insert read model")
}

// GetReadModel возвращает запись или ошибку NOT_FOUND
func (s *ReadModelStore) GetReadModel(ctx context.Context, productID uuid.UUID) (*domain.ProductReadModel, error) {
	var doc readModelDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": productID.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found in read model", productID)
	}
	if err != nil {
		return nil, repository.MapMongoError(err, "get read model")
	}
	return doc.toDomain()
}
