// catalog-service хранит каталог продуктов и поддерживает остаток на складе
// по событиям product-inventory-added.
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
	"github.com/akriventsev/stocksync/internal/catalog/api"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/catalog/infrastructure/memory"
	"github.com/akriventsev/stocksync/internal/catalog/infrastructure/postgres"
	"github.com/akriventsev/stocksync/internal/config"
	"github.com/akriventsev/stocksync/internal/container"
	"github.com/akriventsev/stocksync/internal/contracts"
)

const serviceName = "catalog-service"

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

	var publisher application.EventPublisher
	if p := infra.EventPublisher(); p != nil {
		publisher = p
	}

	dispatcher := infra.Dispatcher()
	cqrs.MustRegister[application.CreateProduct, uuid.UUID](dispatcher,
		application.NewCreateProductHandler(store, publisher, logger))

	consumer := application.NewInventoryAddedConsumer(store, logger, infra.Metrics)
	if err := infra.AddRelay(pending); err != nil {
		return err
	}
	if err := infra.AddConsumer("inventory-added-consumer", contracts.ProductInventoryAddedSubject, consumer.Subscribe); err != nil {
		return err
	}

	handler := api.NewHandler(dispatcher, application.NewProductQueries(store), logger)
	if err := infra.MountHTTP(api.OpenAPIDocument(), handler.Register); err != nil {
		return err
	}

	if err := infra.Start(ctx); err != nil {
		return err
	}
	logger.Info("service started", zap.String("addr", cfg.HTTP.REST().Addr()))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// openStore выбирает хранилище по database.driver. Пул PostgreSQL доступен только после первого Start.
func openStore(cfg config.Config, infra *container.Infrastructure) (application.Store, outbox.Store) {
	if cfg.Database.Driver == config.DriverPostgres {
		store := postgres.NewStore(infra.Postgres.Pool())
		return store, store.Outbox()
	}
	store := memory.NewStore()
	return store, store.Outbox()
}
