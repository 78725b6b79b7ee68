package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
)

// MongoConfig конфигурация клиента MongoDB
type MongoConfig struct {
	URI         string
	Database    string
	Timeout     time.Duration
	MaxPoolSize uint64
	MinPoolSize uint64
}

// DefaultMongoConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:         "mongodb://localhost:27017",
		Database:    "stocksync",
		Timeout:     10 * time.Second,
		MaxPoolSize: 100,
		MinPoolSize: 10,
	}
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("MinPoolSize must not exceed MaxPoolSize")
	}
	return nil
}

// MongoClient клиент MongoDB с жизненным циклом
type MongoClient struct {
	config MongoConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client *mongo.Client
}

// NewMongoClient создает клиента; подключение выполняется в Start
func NewMongoClient(config MongoConfig, logger *zap.Logger) (*MongoClient, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid mongodb config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoClient{config: config, logger: logger.Named("mongodb")}, nil
}

// Start подключается к MongoDB и проверяет соединение
func (m *MongoClient) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(m.config.URI).
		SetMaxPoolSize(m.config.MaxPoolSize).
		SetMinPoolSize(m.config.MinPoolSize).
		SetTimeout(m.config.Timeout)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.logger.Info("connected to mongodb", zap.String("database", m.config.Database))
	return nil
}

// Stop отключается от MongoDB
func (m *MongoClient) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

// IsRunning проверяет, подключен ли клиент
func (m *MongoClient) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Name возвращает имя компонента
func (m *MongoClient) Name() string {
	return "mongodb"
}

// Type возвращает тип компонента
func (m *MongoClient) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Database возвращает базу данных из конфигурации; nil до вызова Start
func (m *MongoClient) Database() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil
	}
	return m.client.Database(m.config.Database)
}

// Check проверяет доступность MongoDB (health check)
func (m *MongoClient) Check(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("mongodb client is not started")
	}
	return client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes создает индексы коллекции, существующие индексы не пересоздаются
func EnsureIndexes(ctx context.Context, collection *mongo.Collection, models ...mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	if _, err := collection.Indexes().CreateMany(ctx, models); err != nil {
		return MapMongoError(err, "create indexes")
	}
	return nil
}

// MapMongoError переводит ошибку драйвера MongoDB в FrameworkError
func MapMongoError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case err == mongo.ErrNoDocuments:
		return core.Wrap(err, core.ErrNotFound, op+": no documents")
	case mongo.IsDuplicateKeyError(err):
		return core.Wrap(err, core.ErrAlreadyProcessed, op+": duplicate key")
	case mongo.IsTimeout(err):
		return core.Wrap(err, core.ErrPersistenceFailed, op+": timeout")
	default:
		return core.Wrap(err, core.ErrPersistenceFailed, op+" failed")
	}
}
