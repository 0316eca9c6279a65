package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gxo-labs/ruleflow/internal/catalog"
	"github.com/gxo-labs/ruleflow/internal/config"
	"github.com/gxo-labs/ruleflow/internal/engine"
	"github.com/gxo-labs/ruleflow/internal/events"
	"github.com/gxo-labs/ruleflow/internal/execlog"
	"github.com/gxo-labs/ruleflow/internal/metrics"
	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/secrets"
	"github.com/gxo-labs/ruleflow/internal/tracing"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

const shutdownGrace = 5 * time.Second

// services is the engine and everything wired around it for one process.
// store and dataSource are nil when their settings are disabled.
type services struct {
	log        rflog.Logger
	bus        *events.ChannelEventBus
	busDone    chan struct{}
	metrics    *metrics.PrometheusRegistryProvider
	tracer     *tracing.OtelTracerProvider
	store      *execlog.SQLStore
	dataSource *sql.DB
	catalog    *catalog.MemoryCatalog
	engine     *engine.Engine
}

func newServices(ctx context.Context, s *config.Settings, catalogPath string, log rflog.Logger) (_ *services, err error) {
	svc := &services{log: log}
	defer func() {
		if err != nil {
			svc.close()
		}
	}()

	svc.bus = events.NewChannelEventBus(s.Events.BufferSize, log)
	svc.metrics = metrics.NewProcessRegistryProvider()
	metricsListener, err := events.NewMetricsEventListener(svc.metrics.Registry(), log)
	if err != nil {
		return nil, failure(fmt.Errorf("failed to create metrics listener: %w", err))
	}
	svc.bus.Subscribe(metricsListener)

	if svc.tracer, err = tracing.NewProviderFromEnv(ctx, log); err != nil {
		return nil, usageError(fmt.Errorf("failed to configure tracing: %w", err))
	}

	if s.ExecLog.Enabled() {
		if svc.store, err = execlog.Open(ctx, s.ExecLog.Driver, s.ExecLog.DSN); err != nil {
			return nil, failure(err)
		}
		if err = svc.store.Migrate(); err != nil {
			return nil, failure(fmt.Errorf("failed to migrate execution log: %w", err))
		}
		listener, err := events.NewExecutionLogListener(svc.store, log)
		if err != nil {
			return nil, failure(err)
		}
		svc.bus.Subscribe(listener)
		log.Infof("Execution log enabled (%s).", s.ExecLog.Driver)
	}

	if s.DataSource.Enabled() {
		db, err := sql.Open(s.DataSource.Driver, s.DataSource.DSN)
		if err != nil {
			return nil, usageError(fmt.Errorf("failed to open data source: %w", err))
		}
		svc.dataSource = db
		if err = db.PingContext(ctx); err != nil {
			return nil, failure(fmt.Errorf("failed to reach data source: %w", err))
		}
	}

	cat, err := config.LoadCatalogFromFile(catalogPath, module.DefaultRegistry)
	if err != nil {
		return nil, usageError(err)
	}
	if svc.catalog, err = catalog.New(cat, svc.bus, log); err != nil {
		return nil, usageError(err)
	}

	opts, err := engineOptions(s, cat)
	if err != nil {
		return nil, usageError(err)
	}
	opts = append(opts,
		rfv1.WithCatalog(svc.catalog),
		rfv1.WithEventBus(svc.bus),
		rfv1.WithMetricsRegistryProvider(svc.metrics),
		rfv1.WithTracerProvider(svc.tracer),
	)
	if svc.dataSource != nil {
		opts = append(opts, rfv1.WithDataSource(svc.dataSource, s.DataSource.Driver))
	}
	if svc.engine, err = engine.NewEngine(log, opts...); err != nil {
		return nil, usageError(err)
	}
	return svc, nil
}

// engineOptions applies the service settings first and the catalog's
// policy block, when present, on top.
func engineOptions(s *config.Settings, cat *config.Catalog) ([]rfv1.EngineOption, error) {
	mode, err := rfv1.ParseDependencyMode(s.Engine.DependencyMode)
	if err != nil {
		return nil, err
	}
	provider := secrets.NewEnvProvider()
	if s.Secrets.EnvPrefix != "" {
		provider = secrets.NewEnvProviderWithPrefix(s.Secrets.EnvPrefix)
	}
	opts := []rfv1.EngineOption{
		rfv1.WithWorkerPoolSize(s.Engine.WorkerPoolSize),
		rfv1.WithStepTimeout(s.Engine.StepTimeout),
		rfv1.WithDefaultRuleTimeout(s.Engine.DefaultRuleTimeout),
		rfv1.WithDependencyMode(mode),
		rfv1.WithRedactedKeywords(s.Engine.RedactedKeywords),
		rfv1.WithSecretsProvider(provider),
	}
	if cat.Policy != nil {
		policy, err := cat.Policy.ExecutionPolicy()
		if err != nil {
			return nil, err
		}
		opts = append(opts, policy.Options()...)
	}
	return opts, nil
}

// start dispatches bus events until close. The bus outlives ctx so that
// events of in-flight steps still reach the execution log on shutdown.
func (svc *services) start(ctx context.Context) {
	svc.busDone = make(chan struct{})
	go func() {
		defer close(svc.busDone)
		svc.bus.Run(context.WithoutCancel(ctx))
	}()
}

func (svc *services) close() {
	if svc.bus != nil {
		svc.bus.Close()
		if svc.busDone != nil {
			<-svc.busDone
		}
		if n := svc.bus.Dropped(); n > 0 {
			svc.log.Warnf("%d events were dropped because the event buffer was full.", n)
		}
	}
	if svc.store != nil {
		if err := svc.store.Close(); err != nil {
			svc.log.Warnf("Failed to close execution log: %v", err)
		}
	}
	if svc.dataSource != nil {
		if err := svc.dataSource.Close(); err != nil {
			svc.log.Warnf("Failed to close data source: %v", err)
		}
	}
	if svc.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := svc.tracer.Shutdown(ctx); err != nil {
			svc.log.Warnf("Failed to flush traces: %v", err)
		}
	}
}
