package observability

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrMetricConflict is returned when a tschsim_* family is already registered
// as a different metric type.
var ErrMetricConflict = errors.New("metric registered with a different type")

// adopt registers c, or returns the collector a previous SimCollector
// registered under the same name. Controllers rebuilt on reset and CLI
// commands run from tests share one registry this way.
func adopt[C prometheus.Collector](reg prometheus.Registerer, name string, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var zero C
	var dup prometheus.AlreadyRegisteredError
	if !errors.As(err, &dup) {
		return zero, fmt.Errorf("register %s: %w", name, err)
	}
	existing, ok := dup.ExistingCollector.(C)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMetricConflict, name)
	}
	return existing, nil
}

func counter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	return adopt(reg, name, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
}

func gauge(reg prometheus.Registerer, name, help string) (prometheus.Gauge, error) {
	return adopt(reg, name, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
}
