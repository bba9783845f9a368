package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/productflow/internal/config"
	httpAdapter "github.com/aretw0/productflow/pkg/adapters/http"
	"github.com/aretw0/productflow/pkg/adapters/dataverse"
	"github.com/aretw0/productflow/pkg/adapters/memory"
	"github.com/aretw0/productflow/pkg/adapters/redis"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/observability"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/persistence/middleware"
	"github.com/aretw0/productflow/pkg/ports"
	"github.com/aretw0/productflow/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// app holds the wired components of a running process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    ports.KeyValueStore
	repo     *session.Repository
	records  ports.RecordStore
	service  *orchestrator.Service
	streams  *httpAdapter.StreamManager
	registry *prometheus.Registry
	closers  []func() error
}

// openStore connects the session store: Redis when an address is configured,
// otherwise a process-local store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.KeyValueStore, func() error, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("No redis address configured, sessions are kept in memory")
		return memory.NewStore(), func() error { return nil }, nil
	}

	store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
	}
	return store, store.Close, nil
}

// openRecords builds the record store selected by records.backend.
func openRecords(cfg *config.Config, logger *slog.Logger) (ports.RecordStore, error) {
	rc := cfg.Records
	switch rc.Backend {
	case config.BackendDataverse:
		opts := []dataverse.Option{
			dataverse.WithHTTPClient(&http.Client{Timeout: rc.Timeout}),
			dataverse.WithEntitySets(rc.EntitySets),
			dataverse.WithLogger(logger),
		}
		if rc.Token != "" {
			opts = append(opts, dataverse.WithToken(rc.Token))
		}
		if rc.RateLimit > 0 {
			opts = append(opts, dataverse.WithRateLimiter(rate.NewLimiter(rate.Limit(rc.RateLimit), rc.Burst)))
		}
		client, err := dataverse.New(rc.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		logger.Warn("Using the in-memory record store, committed records are not persisted")
		return memory.NewRecordStore(memory.WithExternal(rc.Schema.Organizations)), nil
	}
}

// newApp wires the orchestrator and its adapters from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: prometheus.NewRegistry(),
		closers:  []func() error{closeStore},
	}

	records, err := openRecords(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.records = records

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.streams = httpAdapter.NewStreamManager(logger)
	notifier := observability.NewMulti(logger,
		observability.NewLogNotifier(logger),
		observability.NewMetrics(a.registry),
		a.streams,
		// Runs after the streams so the closing event is delivered first.
		observability.NewHooks(domain.LifecycleHooks{
			OnSessionClosed: func(_ context.Context, e *domain.Event) {
				a.streams.Close(e.SessionID)
			},
		}),
	)

	enc, err := cfg.Encryption()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if enc != nil {
		mw, err := middleware.NewEncryptionMiddleware(*enc)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.store = middleware.Chain(store, mw)
	}
	a.repo = session.NewRepository(a.store,
		session.WithLogger(logger),
		session.WithExpiryGrace(cfg.Session.ExpiryGrace),
	)
	a.service = orchestrator.New(a.repo, records,
		orchestrator.WithLogger(logger),
		orchestrator.WithNotifier(notifier),
		orchestrator.WithTTL(cfg.Session.TTL),
		orchestrator.WithCleanupDelay(cfg.Session.CleanupDelay),
		orchestrator.WithRetryPolicy(cfg.RetryPolicy()),
		orchestrator.WithSchema(cfg.Records.Schema),
	)
	return a, nil
}

// Close stops pending cleanups and releases the stores.
func (a *app) Close() error {
	if a.service != nil {
		a.service.Close()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bootstrap loads the configuration and wires the application for cmd.
func bootstrap(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, newLogger(cfg))
}
