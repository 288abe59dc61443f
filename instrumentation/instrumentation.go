package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "mcp-gateway"

	// DefaultServiceVersion is used when Config.ServiceVersion is empty
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/mcp-gateway/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name reported in the resource attributes
	ServiceName string

	// ServiceVersion is the version reported in the resource attributes
	ServiceVersion string

	// Enabled switches between SDK providers and no-op providers
	Enabled bool

	// SpanExporter receives finished spans in batches. Optional; without it
	// spans are created for context propagation but not exported.
	SpanExporter sdktrace.SpanExporter

	// Registerer receives the Prometheus collectors. Optional; a private
	// registry is created when nil.
	Registerer *prometheus.Registry
}

// Instrumentation owns the meter and tracer providers
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res, err := resource.New(
		context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds the Prometheus-backed meter provider and the
// SDK tracer provider.
func (i *Instrumentation) initializeProviders() error {
	i.registry = i.config.Registerer
	if i.registry == nil {
		i.registry = prometheus.NewRegistry()
	}

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(i.registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(exporter),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}
	if i.config.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(i.config.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown flushes and stops the providers. Only the first call does work.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a named meter for the given scope ("http", "server", "session", "storage").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope. A nil Instrumentation
// returns a no-op tracer.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	if i == nil {
		return tracenoop.NewTracerProvider().Tracer(scopePrefix + scope)
	}
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values. The
// Record methods are no-ops on the nil holder of a nil Instrumentation.
func (i *Instrumentation) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

// Enabled reports whether SDK providers are active.
func (i *Instrumentation) Enabled() bool {
	return i.config.Enabled
}

// MetricsHandler serves the Prometheus exposition format. It responds 404
// when instrumentation is disabled.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// GaugeCallback reports the current value of an observable gauge.
type GaugeCallback func() int64

// RegisterActiveSessionsCallback reports live protocol sessions through the
// mcp.session.active gauge.
func (i *Instrumentation) RegisterActiveSessionsCallback(active GaugeCallback) error {
	return i.registerGauge("session", i.metrics.SessionsActive, active)
}

// RegisterRateLimiterCallback reports tracked rate limiter identifiers.
func (i *Instrumentation) RegisterRateLimiterCallback(entries GaugeCallback) error {
	return i.registerGauge("security", i.metrics.RateLimiterEntries, entries)
}

func (i *Instrumentation) registerGauge(scope string, gauge metric.Int64ObservableGauge, cb GaugeCallback) error {
	if cb == nil {
		return fmt.Errorf("gauge callback is required")
	}
	_, err := i.Meter(scope).RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			observer.ObserveInt64(gauge, cb())
			return nil
		},
		gauge,
	)
	return err
}
