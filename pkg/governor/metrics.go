package governor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// metrics wraps the otel gauges the cycle publishes: the spectral
// threshold and the live spectral estimate, per §4.12 steps 1 and 4.
// Grounded on the teacher's pkg/observability/observability.go meter
// setup; narrowed here to the two gauges the governor core itself
// needs rather than the teacher's full request/error/duration set.
type metrics struct {
	enabled     bool
	rhoGauge    metric.Float64Gauge
	rhoMaxGauge metric.Float64Gauge
}

// newMetrics builds gauges against meter. A nil meter yields a metrics
// value whose publish calls are no-ops, so callers that don't wire
// OpenTelemetry still get a working Governor.
func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		return &metrics{}, nil
	}
	rho, err := meter.Float64Gauge("governor.spectral_radius",
		metric.WithDescription("latest power-iteration spectral radius estimate"))
	if err != nil {
		return nil, err
	}
	rhoMax, err := meter.Float64Gauge("governor.rho_max",
		metric.WithDescription("configured spectral radius hard limit"))
	if err != nil {
		return nil, err
	}
	return &metrics{enabled: true, rhoGauge: rho, rhoMaxGauge: rhoMax}, nil
}

func (m *metrics) publishRhoMax(ctx context.Context, v float64) {
	if m == nil || !m.enabled {
		return
	}
	m.rhoMaxGauge.Record(ctx, v)
}

func (m *metrics) publishRho(ctx context.Context, v float64) {
	if m == nil || !m.enabled {
		return
	}
	m.rhoGauge.Record(ctx, v)
}
