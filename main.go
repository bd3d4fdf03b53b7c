package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanandflip/marketplace/internal/application"
	appCart "github.com/cleanandflip/marketplace/internal/application/cart"
	appInventory "github.com/cleanandflip/marketplace/internal/application/inventory"
	appOrder "github.com/cleanandflip/marketplace/internal/application/order"
	"github.com/cleanandflip/marketplace/internal/config"
	domcart "github.com/cleanandflip/marketplace/internal/domain/cart"
	dominv "github.com/cleanandflip/marketplace/internal/domain/inventory"
	domorder "github.com/cleanandflip/marketplace/internal/domain/order"
	"github.com/cleanandflip/marketplace/internal/infrastructure/memory"
	infraobs "github.com/cleanandflip/marketplace/internal/infrastructure/observability"
	"github.com/cleanandflip/marketplace/internal/infrastructure/observability/oteltrace"
	"github.com/cleanandflip/marketplace/internal/infrastructure/observability/prometrics"
	"github.com/cleanandflip/marketplace/internal/infrastructure/observability/tracing"
	"github.com/cleanandflip/marketplace/internal/infrastructure/observability/zaplogger"
	"github.com/cleanandflip/marketplace/internal/infrastructure/outbox"
	"github.com/cleanandflip/marketplace/internal/infrastructure/postgres"
	"github.com/cleanandflip/marketplace/internal/infrastructure/realtime"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/cleanandflip/marketplace/internal/pkg/logging"
	httppresentation "github.com/cleanandflip/marketplace/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// storage is the backend-specific part of the wiring.
type storage struct {
	carts     domcart.Repository
	ledger    dominv.Reserver
	assembler domorder.Assembler
	health    httppresentation.HealthCheck
	close     func() error
}

func main() {
	configPath := flag.String("config", getenvDefault("MARKETPLACE_CONFIG", "configs/marketplace.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		File:    cfg.App.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)
	if err := run(cfg, baseLogger, systemLogger); err != nil {
		systemLogger.Error("marketplace_exit", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, baseLogger, systemLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zaplogger.New(baseLogger)
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:  cfg.App.Name,
		Environment:  cfg.App.Env,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			systemLogger.Warn("tracing_shutdown_error", zap.Error(err))
		}
	}()

	tel, err := infraobs.FromRegistry(oteltrace.New(cfg.App.Name), log, prometrics.New(cfg.Telemetry.Namespace, ""))
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			systemLogger.Warn("storage_close_error", zap.Error(err))
		}
	}()

	// In-process event bus; cart_update and order_created fan out from here after commit.
	bus := outbox.NewBus(log)
	bus.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		bus.Stop(stopCtx)
	}()

	if cfg.Redis.Addr != "" {
		rdb, err := realtime.NewClient(ctx, realtime.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		realtime.NewRelay(rdb, cfg.Redis.Channel, tel).Register(bus)
		systemLogger.Info("realtime_relay_enabled",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel", cfg.Redis.Channel),
		)
	}

	emitter := application.NewEmitter(bus, cfg.Events.PublishTimeout, tel)
	cartService := appCart.NewService(store.carts, emitter, tel)
	checkout := appOrder.NewCheckoutUseCase(store.assembler, store.carts, emitter, tel,
		appOrder.WithMaxAttempts(cfg.Checkout.MaxAttempts),
		appOrder.WithRetryBackoff(cfg.Checkout.RetryBackoff),
	)
	reserve := appInventory.NewReserveStockUseCase(store.ledger, tel)

	handler := httppresentation.NewHandler(cartService, checkout, reserve, store.health, tel)
	router := handler.Router()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", zap.Error(err))
			return err
		}
		systemLogger.Info("http_server_stopped")
		return nil
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.Config, tel observability.Observability) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, postgres.Options{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		store := postgres.NewStore(db, postgres.WithLockTimeout(cfg.Postgres.LockTimeout))
		ledger := postgres.NewStockLedger(store, tel.Metrics())
		return &storage{
			carts:     postgres.NewCartRepository(store, ledger),
			ledger:    ledger,
			assembler: postgres.NewOrderAssembler(store, ledger, pricing(cfg)),
			health:    func(r *http.Request) error { return store.Ping(r.Context()) },
			close:     store.Close,
		}, nil

	default:
		store := memory.NewStore(memory.WithLockTimeout(cfg.Memory.LockTimeout))
		for _, p := range cfg.Memory.Seed {
			if err := store.PutProduct(ctx, dominv.Product{
				ID:            p.ID,
				StockQuantity: p.StockQuantity,
				PriceCents:    p.PriceCents,
				Status:        dominv.Status(p.Status),
			}); err != nil {
				return nil, fmt.Errorf("seed product %s: %w", p.ID, err)
			}
		}
		ledger := memory.NewStockLedger(store, tel.Metrics())
		return &storage{
			carts:     memory.NewCartRepository(store, ledger),
			ledger:    ledger,
			assembler: memory.NewOrderAssembler(store, ledger, pricing(cfg)),
			close:     func() error { return nil },
		}, nil
	}
}

func pricing(cfg config.Config) domorder.Pricing {
	return domorder.Pricing{
		TaxRateBPS:                 cfg.Pricing.TaxRateBPS,
		ShippingCents:              cfg.Pricing.ShippingCents,
		FreeShippingThresholdCents: cfg.Pricing.FreeShippingThresholdCents,
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
