// Package telemetry builds the OTel MeterProvider the services record
// metrics on and serves it in Prometheus text format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Provider owns a MeterProvider whose readings are exported to a private
// Prometheus registry
type Provider struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// NewPrometheus creates a Provider for serviceName
func NewPrometheus(serviceName string) (*Provider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)

	return &Provider{
		provider: provider,
		registry: registry,
	}, nil
}

// Meter returns a meter for the named instrumentation scope
func (p *Provider) Meter(name string) metric.Meter {
	return p.provider.Meter(name)
}

// SetGlobal installs the provider as the global OTel MeterProvider
func (p *Provider) SetGlobal() {
	otel.SetMeterProvider(p.provider)
}

// Handler serves the collected metrics
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
