package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dutylog/internal/auditlog"
	"dutylog/internal/auditlog/publish"
	"dutylog/internal/auditlog/query"
	"dutylog/internal/platform/config"
	"dutylog/internal/platform/httpserver"
	"dutylog/internal/platform/logger"
	"dutylog/internal/platform/metrics"
	"dutylog/internal/token"
	httptransport "dutylog/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	tokens := token.NewService(cfg.IngestSigningKey, "dutylog-agent", "dutylog")
	resolver := auditlog.NewCachedResolver(auditlog.NewStaticResolver(loadAccounts(cfg, log)...), 5*time.Minute)
	engine := query.NewEngine(store, resolver, log)

	producer, worker := buildFanout(cfg, log, m)
	defer producer.Close()

	ingest := httptransport.NewIngestHandler(store, worker, tokens, log, m)
	queries := httptransport.NewQueryHandler(engine, cfg.ReviewerKeyHash, log, m)
	router := httptransport.NewRouter(log, ingest, queries)

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting dutylog", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildStore picks the durable Postgres store when a DSN is configured and
// falls back to the in-memory store for development.
func buildStore(ctx context.Context, cfg config.Server) (auditlog.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return auditlog.NewInMemoryStore(), func() {}, nil
	}

	pg, err := auditlog.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// loadAccounts reads the optional account directory file. Resolution
// degrades to raw-string matching when it is absent.
func loadAccounts(cfg config.Server, log *slog.Logger) []auditlog.Account {
	if cfg.AccountDirectory == "" {
		return nil
	}
	raw, err := os.ReadFile(cfg.AccountDirectory)
	if err != nil {
		log.Warn("account directory unreadable", "path", cfg.AccountDirectory, "error", err)
		return nil
	}
	var accounts []auditlog.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		log.Warn("account directory malformed", "path", cfg.AccountDirectory, "error", err)
		return nil
	}
	return accounts
}

// buildFanout wires the Kafka fan-out when brokers are configured; without
// them records still persist, they just are not re-published.
func buildFanout(cfg config.Server, log *slog.Logger, m *metrics.Metrics) (publish.Producer, *publish.Worker) {
	if cfg.Kafka.Brokers == "" {
		producer := publish.NoopProducer{}
		return producer, publish.NewWorker(producer, log, m)
	}

	producer, err := publish.NewKafkaProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("kafka unavailable, fan-out disabled", "error", err)
		noop := publish.NoopProducer{}
		return noop, publish.NewWorker(noop, log, m)
	}
	return producer, publish.NewWorker(producer, log, m)
}
