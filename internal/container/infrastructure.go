// Package container собирает общую инфраструктуру сервисов stocksync:
// логирование, метрики, tracing, хранилища, брокер и HTTP сервер.
package container

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/adapters/messagebus"
	"github.com/akriventsev/stocksync/framework/adapters/repository"
	"github.com/akriventsev/stocksync/framework/adapters/transport"
	lifecycle "github.com/akriventsev/stocksync/framework/container"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/migrations"
	"github.com/akriventsev/stocksync/framework/observability"
	"github.com/akriventsev/stocksync/framework/outbox"
	fwtransport "github.com/akriventsev/stocksync/framework/transport"
	"github.com/akriventsev/stocksync/internal/config"
)

// connectionChecker адаптер брокера, сообщающий о потере соединения
type connectionChecker interface {
	Check(ctx context.Context) error
}

// HealthPath путь проверки здоровья
const HealthPath = "/healthz"

// Infrastructure общие компоненты сервиса
type Infrastructure struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Tracing  *observability.TracingManager
	Health   *observability.HealthRegistry
	Bus      messagebus.Bus
	Postgres *repository.PostgresPool
	Mongo    *repository.MongoClient
	Server   *transport.RESTServer

	metricsProvider *metrics.Provider
	components      *lifecycle.Container
}

// New создает инфраструктуру по конфигурации. Подключения открываются в Start.
func New(cfg config.Config, logger *zap.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tracing, err := observability.NewTracingManager(cfg.TracingConfig())
	if err != nil {
		return nil, err
	}

	provider, err := metrics.SetupMetrics(cfg.MetricsConfig())
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid metrics config")
	}
	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	bus, err := NewMessageBus(cfg.Broker, logger, m)
	if err != nil {
		return nil, err
	}

	server, err := transport.NewRESTServer(cfg.HTTP.REST(), logger)
	if err != nil {
		return nil, err
	}

	infra := &Infrastructure{
		Config:          cfg,
		Logger:          logger,
		Metrics:         m,
		Tracing:         tracing,
		Health:          observability.NewHealthRegistry(0),
		Bus:             bus,
		Server:          server,
		metricsProvider: provider,
		components: lifecycle.NewContainer(&lifecycle.Config{
			ShutdownTimeout: cfg.Service.ShutdownTimeout,
		}, logger),
	}

	if err := infra.components.Add(tracing); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == config.DriverPostgres {
		pool, err := repository.NewPostgresPool(cfg.Database.Postgres(), logger)
		if err != nil {
			return nil, err
		}
		infra.Postgres = pool
		infra.Health.Register(observability.NewFuncHealthCheck(pool.Name(), pool.Check))
		if err := infra.components.Add(pool); err != nil {
			return nil, err
		}
	}

	if cfg.ReadModel.Backend == config.ReadModelMongoDB {
		client, err := repository.NewMongoClient(cfg.MongoDB.Mongo(), logger)
		if err != nil {
			return nil, err
		}
		infra.Mongo = client
		infra.Health.Register(observability.NewFuncHealthCheck(client.Name(), client.Check))
		if err := infra.components.Add(client); err != nil {
			return nil, err
		}
	}

	infra.Health.Register(observability.NewFuncHealthCheck("broker", func(ctx context.Context) error {
		if !bus.IsRunning() {
			return errors.New("message bus is not running")
		}
		if checker, ok := bus.(connectionChecker); ok {
			return checker.Check(ctx)
		}
		return nil
	}))
	if err := infra.components.Add(bus); err != nil {
		return nil, err
	}

	return infra, nil
}

// Start запускает добавленные компоненты. Повторный вызов запускает только новые.
func (i *Infrastructure) Start(ctx context.Context) error {
	return i.components.Start(ctx)
}

// Shutdown останавливает компоненты в обратном порядке и выгружает метрики
func (i *Infrastructure) Shutdown(ctx context.Context) error {
	err := i.components.Shutdown(ctx)
	if metricsErr := i.metricsProvider.Shutdown(ctx); metricsErr != nil {
		err = errors.Join(err, metricsErr)
	}
	_ = i.Logger.Sync()
	return err
}

// Migrate применяет миграции схемы, если включен migrations.auto_migrate
func (i *Infrastructure) Migrate(ctx context.Context, fsys fs.FS) error {
	if !i.Config.Migrations.AutoMigrate || i.Config.Database.Driver != config.DriverPostgres {
		return nil
	}

	migrator, err := migrations.Open(i.Config.Database.DSN, fsys, migrations.Options{
		TableName: i.Config.Migrations.TableName,
	}, i.Logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	applied, err := migrator.Up(ctx)
	if err != nil {
		return err
	}
	i.Logger.Info("schema migrated", zap.Int("applied", applied))
	return nil
}

// Dispatcher создает диспетчер команд с tracing, метриками и ограничением времени
func (i *Infrastructure) Dispatcher() *cqrs.Dispatcher {
	return cqrs.NewDispatcher(i.Logger,
		cqrs.TracingCommandMiddleware(i.Config.Service.Name),
		cqrs.MetricsCommandMiddleware(i.Metrics),
		cqrs.TimeoutCommandMiddleware(i.Config.Dispatcher.CommandTimeout),
	)
}

// EventPublisher возвращает публикатор для прямого режима или nil, если включен outbox
func (i *Infrastructure) EventPublisher() *events.Publisher {
	if i.Config.Outbox.Enabled {
		return nil
	}
	return events.NewPublisher(i.Bus, i.Logger, i.Metrics)
}

// AddRelay добавляет outbox relay, если включен outbox
func (i *Infrastructure) AddRelay(store outbox.Store) error {
	if !i.Config.Outbox.Enabled {
		return nil
	}
	relay, err := outbox.NewRelay(i.Config.Outbox.Relay(), store, i.Bus, i.Logger, i.Metrics)
	if err != nil {
		return err
	}
	return i.components.Add(relay)
}

// AddConsumer добавляет подписку потребителя на subject.
// Подписка живет до остановки сервиса, а не до отмены контекста запуска.
func (i *Infrastructure) AddConsumer(name, subject string, subscribe func(ctx context.Context, subscriber fwtransport.Subscriber) error) error {
	var cancel context.CancelFunc
	hook := lifecycle.NewHook(name, core.ComponentTypeWorker,
		func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			if err := subscribe(ctx, i.Bus); err != nil {
				cancel()
				return err
			}
			return nil
		},
		func(context.Context) error {
			cancel()
			return i.Bus.Unsubscribe(subject)
		},
	)
	return i.components.Add(hook)
}

// MountHTTP регистрирует служебные маршруты, документацию и API сервиса.
// Маршруты API проверяются по OpenAPI документу. HTTP сервер запускается последним.
func (i *Infrastructure) MountHTTP(document []byte, register func(router gin.IRouter)) error {
	options := transport.DefaultValidationOptions()
	options.ValidateResponse = i.Config.HTTP.ValidateResponse
	validator, err := transport.NewOpenAPIValidator(document, options, i.Logger)
	if err != nil {
		return err
	}

	swagger, err := transport.NewSwaggerUI(transport.DefaultSwaggerUIConfig(), document)
	if err != nil {
		return err
	}

	router := i.Server.Router()
	router.Use(observability.HTTPTracingMiddleware(i.Config.Service.Name))

	router.GET(HealthPath, i.Health.Handler())
	if i.Config.Metrics.Enabled {
		router.GET(i.Config.Metrics.Path, gin.WrapH(i.metricsProvider.Handler()))
	}
	swagger.RegisterRoutes(router)
	router.NoRoute(func(c *gin.Context) {
		transport.WriteStatus(c, http.StatusNotFound, "Resource not found")
	})

	register(router.Group("/", validator.Middleware()))

	return i.components.Add(i.Server)
}
