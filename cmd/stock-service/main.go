// stock-service принимает поступления на склад и публикует product-inventory-added.
// Поступление принимается только для продукта из локальной read model,
// которая наполняется событиями product-created.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/framework/observability"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/config"
	"github.com/akriventsev/stocksync/internal/container"
	"github.com/akriventsev/stocksync/internal/contracts"
	"github.com/akriventsev/stocksync/internal/stock/api"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/infrastructure/memory"
	"github.com/akriventsev/stocksync/internal/stock/infrastructure/mongodb"
	"github.com/akriventsev/stocksync/internal/stock/infrastructure/postgres"
)

const serviceName = "stock-service"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(serviceName, configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("service", cfg.Service.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := infra.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	if err := infra.Start(ctx); err != nil {
		return err
	}
	if err := infra.Migrate(ctx, postgres.Migrations()); err != nil {
		return err
	}

	store, pending := openStore(cfg, infra)
	readModels, err := openReadModels(ctx, cfg, infra)
	if err != nil {
		return err
	}

	var publisher application.EventPublisher
	if p := infra.EventPublisher(); p != nil {
		publisher = p
	}

	dispatcher := infra.Dispatcher()
	cqrs.MustRegister[application.AddInventory, uuid.UUID](dispatcher,
		application.NewAddInventoryHandler(store, readModels, publisher, logger))

	consumer := application.NewProductCreatedConsumer(readModels, logger, infra.Metrics)
	if err := infra.AddRelay(pending); err != nil {
		return err
	}
	if err := infra.AddConsumer("product-created-consumer", contracts.ProductCreatedSubject, consumer.Subscribe); err != nil {
		return err
	}

	handler := api.NewHandler(dispatcher, application.NewStockQueries(store, readModels), logger)
	if err := infra.MountHTTP(api.OpenAPIDocument(), handler.Register); err != nil {
		return err
	}

	if err := infra.Start(ctx); err != nil {
		return err
	}
	logger.Info("service started",
		zap.String("addr", cfg.HTTP.REST().Addr()),
		zap.String("readmodel", cfg.ReadModel.Backend),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func openStore(cfg config.Config, infra *container.Infrastructure) (application.Store, outbox.Store) {
	if cfg.Database.Driver == config.DriverPostgres {
		store := postgres.NewStore(infra.Postgres.Pool())
		return store, store.Outbox()
	}
	store := memory.NewStore()
	return store, store.Outbox()
}

func openReadModels(ctx context.Context, cfg config.Config, infra *container.Infrastructure) (application.ReadModelStore, error) {
	switch cfg.ReadModel.Backend {
	case config.ReadModelPostgres:
		return postgres.NewReadModelStore(infra.Postgres.Pool()), nil
	case config.ReadModelMongoDB:
		store := mongodb.NewReadModelStore(infra.Mongo.Database())
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.NewReadModelStore(), nil
	}
}
