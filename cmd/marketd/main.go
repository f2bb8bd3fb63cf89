package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rfblock/hackagotchi/internal/config"
	"github.com/rfblock/hackagotchi/internal/db"
	"github.com/rfblock/hackagotchi/internal/events"
	grpcserver "github.com/rfblock/hackagotchi/internal/grpc"
	"github.com/rfblock/hackagotchi/internal/httpapi"
	"github.com/rfblock/hackagotchi/internal/market"
	"github.com/rfblock/hackagotchi/internal/metrics"
	"github.com/rfblock/hackagotchi/internal/notify"
	"github.com/rfblock/hackagotchi/internal/repo"
	"github.com/rfblock/hackagotchi/internal/store"
	"github.com/rfblock/hackagotchi/internal/store/badgerstore"
	"github.com/rfblock/hackagotchi/internal/store/redisstore"
	"github.com/rfblock/hackagotchi/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var logOpts []logger.Option
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logger.WithFile(logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}))
	}
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel, logOpts...)
	defer log.Sync()

	log.Info("Market service starting", zap.String("store_driver", cfg.StoreDriver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open item store
	log.Info("Opening item store...")
	items, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to open item store", zap.Error(err))
	}
	defer items.Close()

	mt := metrics.New()

	// Notification sinks
	var (
		sinks     []notify.Sink
		publisher grpcserver.HealthChecker
	)
	if cfg.Slack.Token != "" {
		slack, err := notify.NewSlackSink(notify.SlackOptions{
			BaseURL: cfg.Slack.APIURL,
			Token:   cfg.Slack.Token,
			Channel: cfg.Slack.Channel,
			Timeout: cfg.Notify.Timeout,
			Retries: 2,
		}, log)
		if err != nil {
			log.Fatal("Failed to configure Slack", zap.Error(err))
		}
		sinks = append(sinks, slack)
	} else {
		log.Warn("SLACK_TOKEN not set, market log channel disabled")
	}

	if cfg.RabbitMQURL != "" {
		log.Info("Connecting to RabbitMQ")
		pub, err := events.NewPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		publisher = pub
	}

	queue := notify.NewQueue(notify.QueueOptions{
		Size:    cfg.Notify.QueueSize,
		Timeout: cfg.Notify.Timeout,
		Metrics: mt,
	}, log, sinks...)
	queue.Start()

	m := market.New(items, log,
		market.WithNotifier(queue),
		market.WithMetrics(mt),
	)

	// gRPC server for health checks
	grpcServer := grpcserver.NewServer(grpcserver.NewHealthServer(items, publisher, log), log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	// HTTP API
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			MarketHandler: httpapi.NewMarketHandler(m),
			Store:         items,
			Publisher:     publisher,
			Metrics:       mt.Handler(),
			Log:           log,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()

		// Deliver what is already queued before the sinks close
		if err := queue.Close(shutdownCtx); err != nil {
			log.Error("Notification queue shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return
	}
	log.Info("Server stopped")
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, config.DriverPostgres:
		dsn := cfg.PGDSN
		if cfg.StoreDriver == config.DriverSQLite {
			dsn = cfg.SQLitePath
		}
		database, err := db.Connect(cfg.StoreDriver, dsn)
		if err != nil {
			return nil, err
		}

		// Run migrations
		log.Info("Running database migrations...")
		if err := db.RunMigrations(database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return repo.NewItemRepository(database, log), nil

	case config.DriverBadger:
		return badgerstore.Open(badgerstore.OpenOptions{Path: cfg.BadgerDir}, log)

	case config.DriverRedis:
		return redisstore.New(redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
