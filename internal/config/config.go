// Package config загружает конфигурацию сервисов stocksync из файла и переменных окружения.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/akriventsev/stocksync/framework/adapters/messagebus"
	"github.com/akriventsev/stocksync/framework/adapters/repository"
	restapi "github.com/akriventsev/stocksync/framework/adapters/transport"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/observability"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/contracts"
)

// EnvPrefix префикс переменных окружения: STOCKSYNC_HTTP_PORT переопределяет http.port
const EnvPrefix = "STOCKSYNC"

// Драйверы хранилища
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Хранилища read model
const (
	ReadModelPostgres = "postgres"
	ReadModelMongoDB  = "mongodb"
	ReadModelMemory   = "memory"
)

type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	ReadModel  ReadModelConfig  `mapstructure:"readmodel"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
}

type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Version         string        `mapstructure:"version"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HTTPConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	Mode             string        `mapstructure:"mode"`
	ValidateResponse bool          `mapstructure:"validate_response"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	Retry    RetryConfig    `mapstructure:"retry"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	InMemory InMemoryConfig `mapstructure:"inmemory"`
}

type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type NATSConfig struct {
	URL               string        `mapstructure:"url"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	ReconnectWait     time.Duration `mapstructure:"reconnect_wait"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	Token             string        `mapstructure:"token"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	StreamPrefix      string        `mapstructure:"stream_prefix"`
	Durable           string        `mapstructure:"durable"`
	AckWait           time.Duration `mapstructure:"ack_wait"`
}

type KafkaConfig struct {
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	Compression      string        `mapstructure:"compression"`
	BatchSize        int           `mapstructure:"batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	StartOffset      int64         `mapstructure:"start_offset"`
	RequiredAcks     int           `mapstructure:"required_acks"`
	DeadLetterSuffix string        `mapstructure:"dead_letter_suffix"`
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	StreamMaxLen  int64         `mapstructure:"stream_max_len"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
}

type RabbitMQConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Exchange      string `mapstructure:"exchange"`
	QueuePrefix   string `mapstructure:"queue_prefix"`
	ConsumerTag   string `mapstructure:"consumer_tag"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
	// Destinations очереди, объявляемые при подключении до первой подписки
	Destinations []string `mapstructure:"destinations"`
}

type InMemoryConfig struct {
	BufferSize      int           `mapstructure:"buffer_size"`
	WorkerCount     int           `mapstructure:"worker_count"`
	RedeliveryDelay time.Duration `mapstructure:"redelivery_delay"`
	MaxRedeliveries int           `mapstructure:"max_redeliveries"`
}

type OutboxConfig struct {
	// Enabled false переключает публикацию в прямой режим после коммита
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type DispatcherConfig struct {
	// CommandTimeout ограничивает выполнение команды (0 = без ограничения)
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type ReadModelConfig struct {
	Backend string `mapstructure:"backend"`
}

type MongoDBConfig struct {
	URI         string        `mapstructure:"uri"`
	Database    string        `mapstructure:"database"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxPoolSize uint64        `mapstructure:"max_pool_size"`
	MinPoolSize uint64        `mapstructure:"min_pool_size"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MigrationsConfig struct {
	// AutoMigrate применяет миграции при старте сервиса
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	TableName   string `mapstructure:"table_name"`
}

// Load читает конфигурацию сервиса serviceName.
// path может быть пустым: тогда используются значения по умолчанию и окружение.
func Load(serviceName, path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, serviceName)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service.name", serviceName)
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.shutdown_timeout", 30*time.Second)

	rest := restapi.DefaultRESTConfig()
	v.SetDefault("http.host", rest.Host)
	v.SetDefault("http.port", rest.Port)
	v.SetDefault("http.read_timeout", rest.ReadTimeout)
	v.SetDefault("http.write_timeout", rest.WriteTimeout)
	v.SetDefault("http.mode", rest.Mode)
	v.SetDefault("http.validate_response", false)

	pg := repository.DefaultPostgresConfig()
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", pg.MaxConns)
	v.SetDefault("database.min_conns", pg.MinConns)
	v.SetDefault("database.max_conn_lifetime", pg.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", pg.MaxConnIdleTime)
	v.SetDefault("database.connect_timeout", pg.ConnectTimeout)

	retry := messagebus.DefaultRetryConfig()
	v.SetDefault("broker.type", messagebus.TypeRabbitMQ)
	v.SetDefault("broker.retry.initial_delay", retry.InitialDelay)
	v.SetDefault("broker.retry.max_delay", retry.MaxDelay)
	v.SetDefault("broker.retry.multiplier", retry.Multiplier)
	v.SetDefault("broker.retry.max_attempts", retry.MaxAttempts)

	nats := messagebus.DefaultNATSConfig()
	v.SetDefault("broker.nats.url", nats.URL)
	v.SetDefault("broker.nats.max_reconnects", nats.MaxReconnects)
	v.SetDefault("broker.nats.reconnect_wait", nats.ReconnectWait)
	v.SetDefault("broker.nats.connection_timeout", nats.ConnectionTimeout)
	v.SetDefault("broker.nats.token", "")
	v.SetDefault("broker.nats.username", "")
	v.SetDefault("broker.nats.password", "")
	v.SetDefault("broker.nats.stream_prefix", nats.StreamPrefix)
	v.SetDefault("broker.nats.durable", serviceName)
	v.SetDefault("broker.nats.ack_wait", nats.AckWait)

	kafka := messagebus.DefaultKafkaConfig()
	v.SetDefault("broker.kafka.brokers", kafka.Brokers)
	v.SetDefault("broker.kafka.group_id", serviceName)
	v.SetDefault("broker.kafka.compression", kafka.Compression)
	v.SetDefault("broker.kafka.batch_size", kafka.BatchSize)
	v.SetDefault("broker.kafka.flush_interval", kafka.FlushInterval)
	v.SetDefault("broker.kafka.start_offset", kafka.ConsumerConfig.StartOffset)
	v.SetDefault("broker.kafka.required_acks", kafka.ProducerConfig.RequiredAcks)
	v.SetDefault("broker.kafka.dead_letter_suffix", kafka.DeadLetterSuffix)

	redis := messagebus.DefaultRedisConfig()
	v.SetDefault("broker.redis.addr", redis.Addr)
	v.SetDefault("broker.redis.password", "")
	v.SetDefault("broker.redis.db", redis.DB)
	v.SetDefault("broker.redis.pool_size", redis.PoolSize)
	v.SetDefault("broker.redis.stream_prefix", redis.StreamPrefix)
	v.SetDefault("broker.redis.stream_max_len", redis.StreamMaxLen)
	v.SetDefault("broker.redis.consumer_group", serviceName)
	v.SetDefault("broker.redis.block_timeout", redis.BlockTimeout)
	v.SetDefault("broker.redis.claim_min_idle", redis.ClaimMinIdle)

	rabbit := messagebus.DefaultRabbitMQConfig()
	v.SetDefault("broker.rabbitmq.url", rabbit.URL)
	v.SetDefault("broker.rabbitmq.username", "")
	v.SetDefault("broker.rabbitmq.password", "")
	v.SetDefault("broker.rabbitmq.exchange", rabbit.Exchange)
	v.SetDefault("broker.rabbitmq.queue_prefix", rabbit.QueuePrefix)
	v.SetDefault("broker.rabbitmq.consumer_tag", serviceName)
	v.SetDefault("broker.rabbitmq.prefetch_count", rabbit.PrefetchCount)
	v.SetDefault("broker.rabbitmq.destinations", []string{
		contracts.ProductCreatedSubject,
		contracts.ProductInventoryAddedSubject,
	})

	inmemory := messagebus.DefaultInMemoryConfig()
	v.SetDefault("broker.inmemory.buffer_size", inmemory.BufferSize)
	v.SetDefault("broker.inmemory.worker_count", inmemory.WorkerCount)
	v.SetDefault("broker.inmemory.redelivery_delay", inmemory.RedeliveryDelay)
	v.SetDefault("broker.inmemory.max_redeliveries", inmemory.MaxRedeliveries)

	relay := outbox.DefaultRelayConfig()
	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.poll_interval", relay.PollInterval)
	v.SetDefault("outbox.batch_size", relay.BatchSize)

	v.SetDefault("dispatcher.command_timeout", 10*time.Second)

	v.SetDefault("readmodel.backend", ReadModelPostgres)

	mongo := repository.DefaultMongoConfig()
	v.SetDefault("mongodb.uri", mongo.URI)
	v.SetDefault("mongodb.database", mongo.Database)
	v.SetDefault("mongodb.timeout", mongo.Timeout)
	v.SetDefault("mongodb.max_pool_size", mongo.MaxPoolSize)
	v.SetDefault("mongodb.min_pool_size", mongo.MinPoolSize)

	tracing := observability.DefaultTracingConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.exporter", tracing.Exporter)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_rate", tracing.SamplingRate)

	m := metrics.DefaultMetricsConfig()
	v.SetDefault("metrics.enabled", m.Enabled)
	v.SetDefault("metrics.path", m.Path)

	log := observability.DefaultLogConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)

	v.SetDefault("migrations.auto_migrate", false)
	v.SetDefault("migrations.table_name", SchemaTable(serviceName))
}

// SchemaTable возвращает имя таблицы версий схемы сервиса
func SchemaTable(serviceName string) string {
	return strings.ReplaceAll(serviceName, "-", "_") + "_schema_version"
}

// Validate проверяет все секции конфигурации
func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if err := c.HTTP.REST().Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if c.Dispatcher.CommandTimeout < 0 {
		return fmt.Errorf("dispatcher.command_timeout must not be negative")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if err := c.Database.Postgres().Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %s or %s, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	if _, err := c.Broker.AdapterConfig(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if c.Outbox.Enabled {
		if err := c.Outbox.Relay().Validate(); err != nil {
			return fmt.Errorf("outbox: %w", err)
		}
	}
	switch c.ReadModel.Backend {
	case ReadModelPostgres, ReadModelMemory:
	case ReadModelMongoDB:
		if err := c.MongoDB.Mongo().Validate(); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	default:
		return fmt.Errorf("readmodel.backend must be postgres, mongodb or memory, got %q", c.ReadModel.Backend)
	}
	if c.ReadModel.Backend == ReadModelPostgres && c.Database.Driver == DriverMemory {
		return fmt.Errorf("readmodel.backend postgres requires database.driver postgres")
	}
	if err := c.TracingConfig().Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.MetricsConfig().Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := c.LogConfig().Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// REST возвращает конфигурацию HTTP сервера
func (c HTTPConfig) REST() restapi.RESTConfig {
	rest := restapi.DefaultRESTConfig()
	rest.Host = c.Host
	rest.Port = c.Port
	rest.ReadTimeout = c.ReadTimeout
	rest.WriteTimeout = c.WriteTimeout
	rest.Mode = c.Mode
	return rest
}

// Postgres возвращает конфигурацию пула PostgreSQL
func (c DatabaseConfig) Postgres() repository.PostgresConfig {
	return repository.PostgresConfig{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		ConnectTimeout:  c.ConnectTimeout,
	}
}

// Mongo возвращает конфигурацию клиента MongoDB
func (c MongoDBConfig) Mongo() repository.MongoConfig {
	return repository.MongoConfig{
		URI:         c.URI,
		Database:    c.Database,
		Timeout:     c.Timeout,
		MaxPoolSize: c.MaxPoolSize,
		MinPoolSize: c.MinPoolSize,
	}
}

// Relay возвращает конфигурацию outbox relay
func (c OutboxConfig) Relay() outbox.RelayConfig {
	return outbox.RelayConfig{
		PollInterval: c.PollInterval,
		BatchSize:    c.BatchSize,
	}
}

// AdapterConfig возвращает проверенную конфигурацию адаптера для broker.type,
// пригодную для messagebus.Factory.Create
func (c BrokerConfig) AdapterConfig() (interface{}, error) {
	retry := messagebus.RetryConfig{
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		MaxAttempts:  c.Retry.MaxAttempts,
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}

	switch c.Type {
	case messagebus.TypeNATS:
		cfg := messagebus.DefaultNATSConfig()
		cfg.URL = c.NATS.URL
		cfg.MaxReconnects = c.NATS.MaxReconnects
		cfg.ReconnectWait = c.NATS.ReconnectWait
		cfg.ConnectionTimeout = c.NATS.ConnectionTimeout
		cfg.Token = c.NATS.Token
		cfg.Username = c.NATS.Username
		cfg.Password = c.NATS.Password
		cfg.StreamPrefix = c.NATS.StreamPrefix
		cfg.Durable = c.NATS.Durable
		cfg.AckWait = c.NATS.AckWait
		cfg.Retry = retry
		return cfg, cfg.Validate()

	case messagebus.TypeKafka:
		cfg := messagebus.DefaultKafkaConfig()
		cfg.Brokers = c.Kafka.Brokers
		cfg.GroupID = c.Kafka.GroupID
		cfg.Compression = c.Kafka.Compression
		cfg.BatchSize = c.Kafka.BatchSize
		cfg.FlushInterval = c.Kafka.FlushInterval
		cfg.ConsumerConfig.StartOffset = c.Kafka.StartOffset
		cfg.ProducerConfig.RequiredAcks = c.Kafka.RequiredAcks
		cfg.DeadLetterSuffix = c.Kafka.DeadLetterSuffix
		cfg.Retry = retry
		return cfg, cfg.Validate()

	case messagebus.TypeRedis:
		cfg := messagebus.DefaultRedisConfig()
		cfg.Addr = c.Redis.Addr
		cfg.Password = c.Redis.Password
		cfg.DB = c.Redis.DB
		cfg.PoolSize = c.Redis.PoolSize
		cfg.StreamPrefix = c.Redis.StreamPrefix
		cfg.StreamMaxLen = c.Redis.StreamMaxLen
		cfg.ConsumerGroup = c.Redis.ConsumerGroup
		cfg.BlockTimeout = c.Redis.BlockTimeout
		cfg.ClaimMinIdle = c.Redis.ClaimMinIdle
		return cfg, cfg.Validate()

	case messagebus.TypeRabbitMQ:
		cfg := messagebus.DefaultRabbitMQConfig()
		cfg.URL = c.RabbitMQ.URL
		cfg.Username = c.RabbitMQ.Username
		cfg.Password = c.RabbitMQ.Password
		cfg.Exchange = c.RabbitMQ.Exchange
		cfg.QueuePrefix = c.RabbitMQ.QueuePrefix
		cfg.ConsumerTag = c.RabbitMQ.ConsumerTag
		cfg.PrefetchCount = c.RabbitMQ.PrefetchCount
		cfg.Destinations = c.RabbitMQ.Destinations
		cfg.Retry = retry
		return cfg, cfg.Validate()

	case messagebus.TypeInMemory:
		cfg := messagebus.InMemoryConfig{
			BufferSize:      c.InMemory.BufferSize,
			WorkerCount:     c.InMemory.WorkerCount,
			RedeliveryDelay: c.InMemory.RedeliveryDelay,
			MaxRedeliveries: c.InMemory.MaxRedeliveries,
		}
		return cfg, cfg.Validate()

	default:
		return nil, fmt.Errorf("unknown broker type %q", c.Type)
	}
}

// TracingConfig возвращает конфигурацию tracing с именем и версией сервиса
func (c Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:          c.Tracing.Enabled,
		ServiceName:      c.Service.Name,
		ServiceVersion:   c.Service.Version,
		Exporter:         c.Tracing.Exporter,
		ExporterEndpoint: c.Tracing.Endpoint,
		SamplingRate:     c.Tracing.SamplingRate,
		Environment:      c.Service.Environment,
	}
}

// MetricsConfig возвращает конфигурацию метрик
func (c Config) MetricsConfig() metrics.MetricsConfig {
	return metrics.MetricsConfig{
		Enabled:       c.Metrics.Enabled,
		ExporterType:  "prometheus",
		Path:          c.Metrics.Path,
		ResourceAttrs: map[string]string{"service.name": c.Service.Name},
	}
}

// LogConfig возвращает конфигурацию логгера
func (c Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		ServiceName: c.Service.Name,
	}
}
