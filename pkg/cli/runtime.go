package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/repokit/pkg/config"
	"github.com/nimburion/repokit/pkg/eventbus"
	"github.com/nimburion/repokit/pkg/eventbus/factory"
	"github.com/nimburion/repokit/pkg/events"
	"github.com/nimburion/repokit/pkg/health"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/metrics"
	"github.com/nimburion/repokit/pkg/observability/tracing"
	"github.com/nimburion/repokit/pkg/store"
	"github.com/nimburion/repokit/pkg/uow"
	"github.com/nimburion/repokit/pkg/version"
)

// Runtime holds everything a command needs to open units of work against
// the configured store.
type Runtime struct {
	Config   *config.Config
	Logger   logger.Logger
	Metrics  *metrics.Registry
	Backend  *store.Backend
	Mediator *events.Mediator
	Manager  *uow.Manager

	producer eventbus.Producer
	tracer   *tracing.TracerProvider
}

// NewRuntime wires store, publisher, metrics and tracing from cfg. The caller
// must Close the returned runtime.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: log, Metrics: metrics.NewRegistry()}

	build := version.Current(cfg.Service.Name)
	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: build.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	rt.tracer = tp

	storeMetrics, err := metrics.NewStoreMetrics(rt.Metrics.Registerer(), cfg.Observability.MetricsNamespace)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("register store metrics: %w", err)
	}
	uowMetrics, err := uow.NewMetrics(rt.Metrics.Registerer(), cfg.Observability.MetricsNamespace)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("register unit of work metrics: %w", err)
	}

	backend, err := store.New(cfg.Database, log)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("create store: %w", err)
	}
	rt.Backend = backend

	publisher, producer, err := factory.NewPublisher(cfg, log)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	rt.producer = producer

	rt.Mediator = events.NewMediator(log)
	var dispatch uow.Publisher = rt.Mediator
	if publisher != nil {
		dispatch = events.Chain(rt.Mediator, publisher)
	}

	rt.Manager = uow.NewManager(
		storeMetrics.Instrument(backend.Store, backend.Type),
		uow.WithPublisher(dispatch),
		uow.WithLogger(log),
		uow.WithMetrics(uowMetrics),
		uow.WithSoftDeleteFilter(cfg.Persistence.SoftDeleteFilterEnabled),
	)

	log.Info("runtime ready",
		"build", build.String(),
		"database", backend.Type,
		"eventbus", cfg.EventBus.Type,
		"soft_delete_filter", cfg.Persistence.SoftDeleteFilterEnabled,
		"tracing", tp.Enabled(),
	)
	return rt, nil
}

// Health returns checks for the store and, when it supports probing, the
// event bus producer.
func (r *Runtime) Health(timeout time.Duration) *health.Registry {
	reg := health.NewRegistry()
	reg.Register("store", r.Backend, timeout)
	if checkable, ok := r.producer.(health.Checkable); ok {
		reg.Register("eventbus", checkable, timeout)
	}
	return reg
}

// Close releases the producer, the store connection and the tracer provider,
// then flushes the logger.
// It is safe to call on a partially built runtime.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.producer != nil {
		if err := r.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}
	if r.Backend != nil {
		if err := r.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if r.tracer != nil {
		if err := r.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	// stderr rejects fsync on most terminals, so a Sync error is not reported.
	if s, ok := r.Logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	return errors.Join(errs...)
}
