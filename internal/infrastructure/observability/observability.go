package observability

import (
	"errors"
	"fmt"

	"github.com/cleanandflip/marketplace/internal/infrastructure/observability/prometrics"
	"github.com/cleanandflip/marketplace/internal/observability"
)

type telemetry struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics instruments
}

// instruments resolves metric keys to the instruments registered for the marketplace.
type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (i instruments) Counter(key observability.MetricKey) observability.Counter {
	if c, ok := i.counters[key]; ok {
		return c
	}
	return observability.NopCounter()
}

func (i instruments) Histogram(key observability.MetricKey) observability.Histogram {
	if h, ok := i.histograms[key]; ok {
		return h
	}
	return observability.NopHistogram()
}

// FromRegistry registers every metric in observability.CounterSpecs and HistogramSpecs on reg
// and assembles the provider handed to use cases and stores.
func FromRegistry(tracer observability.Tracer, logger observability.Logger, reg prometrics.Registry) (observability.Observability, error) {
	counters, histograms := prometrics.RegisterAll(reg)
	return New(tracer, logger, counters, histograms)
}

// New fails when an instrument listed in the metric specs is missing, so a stock ledger or
// checkout counter can never degrade into a silent no-op.
func New(
	tracer observability.Tracer,
	logger observability.Logger,
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) (observability.Observability, error) {
	var missing []error
	for _, spec := range observability.CounterSpecs {
		if counters[spec.Key] == nil {
			missing = append(missing, fmt.Errorf("counter %s not registered", spec.Key))
		}
	}
	for _, spec := range observability.HistogramSpecs {
		if histograms[spec.Key] == nil {
			missing = append(missing, fmt.Errorf("histogram %s not registered", spec.Key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("observability: %w", errors.Join(missing...))
	}

	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &telemetry{
		tracer: tracer,
		logger: logger,
		metrics: instruments{
			counters:   counters,
			histograms: histograms,
		},
	}, nil
}

func (t *telemetry) Tracer() observability.Tracer   { return t.tracer }
func (t *telemetry) Logger() observability.Logger   { return t.logger }
func (t *telemetry) Metrics() observability.Metrics { return t.metrics }
