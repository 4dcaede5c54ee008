package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewPrometheusMetricsHandler installs a Prometheus-backed global
// MeterProvider and returns the scrape handler for it. Every counter/
// histogram ClueMetrics records after this call runs (via otel.Meter, the
// same global provider) shows up under the returned handler; call it once,
// before the first ClueMetrics instrument is recorded, and mount the
// handler at /metrics.
func NewPrometheusMetricsHandler() (http.Handler, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: new prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	return promhttp.Handler(), nil
}
