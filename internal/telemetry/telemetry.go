// Package telemetry wraps the OpenTelemetry metrics setup for the mirror.
// When disabled, every instrument is a no-op with zero overhead.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MeterName is the instrumentation scope name for fleetview metrics.
const MeterName = "fleetview"

// Version is reported in telemetry resource attributes.
const Version = "v0.1-dev"

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "stdout" (default) — the mirror has no collector of its own
	ServiceName string `yaml:"service_name"`
}

// Provider wraps the meter provider with cleanup.
type Provider struct {
	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	shutdown      func(context.Context) error
}

// Init sets up metrics export per the config. Returns a Provider that must
// be Shutdown() on exit; when disabled the provider is a no-op.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		return &Provider{
			MeterProvider: mp,
			Meter:         mp.Meter(MeterName),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fleetview"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("fleetview.version", Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)

	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName),
		shutdown:      mp.Shutdown,
	}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Metrics holds the mirror's metric instruments.
type Metrics struct {
	MessagesReceived metric.Int64Counter
	PayloadsDropped  metric.Int64Counter
	Reconnects       metric.Int64Counter
	UpsertsApplied   metric.Int64Counter
}

// NewMetrics creates all instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MessagesReceived, err = meter.Int64Counter("fleetview.transport.messages",
		metric.WithDescription("Inbound push payloads received"),
	)
	if err != nil {
		return nil, err
	}

	m.PayloadsDropped, err = meter.Int64Counter("fleetview.transport.dropped",
		metric.WithDescription("Malformed or unrecognized payloads dropped"),
	)
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter("fleetview.transport.reconnects",
		metric.WithDescription("Connection attempts after a transport loss"),
	)
	if err != nil {
		return nil, err
	}

	m.UpsertsApplied, err = meter.Int64Counter("fleetview.store.upserts",
		metric.WithDescription("Normalized updates applied to the entity store"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
