// Package linkmodel converts node geometry into radio link quality.
//
// Two models are provided: a probabilistic logistic-loss model, where the
// frame success probability is a logistic sigmoid of the RSSI, and a simpler
// unit-disk threshold model. Both expose an Estimator so links can be
// re-evaluated when node positions change.
package linkmodel

import (
	"math"

	"github.com/signalsfoundry/tsch-simulator/model"
)

// MinDistance is the distance floor used to avoid a singular log(0).
const MinDistance = 0.01

// Quality is the result of evaluating a link at one instant.
type Quality struct {
	SuccessRate float64
	RSSI        float64
	Active      bool
}

// Estimator evaluates the quality of a directed link between two positions.
type Estimator interface {
	Evaluate(from, to model.Position) Quality
}

// EstimatorFunc adapts a plain function to the Estimator interface.
type EstimatorFunc func(from, to model.Position) Quality

// Evaluate calls f(from, to).
func (f EstimatorFunc) Evaluate(from, to model.Position) Quality { return f(from, to) }

// Fixed returns an estimator with a constant success rate, regardless of
// distance. A zero rate yields an inactive link.
func Fixed(successRate, rssi float64) Estimator {
	q := Quality{SuccessRate: clamp01(successRate), RSSI: rssi}
	q.Active = q.SuccessRate > 0
	return EstimatorFunc(func(model.Position, model.Position) Quality { return q })
}

// Tracker keeps a running average of the success rates a link has been
// evaluated at, which is what live snapshots report as link strength.
type Tracker struct {
	sum     float64
	samples int
}

// Observe adds one success-rate sample.
func (t *Tracker) Observe(successRate float64) {
	t.sum += successRate
	t.samples++
}

// Average returns the mean of all observed samples, or 0 when empty.
func (t *Tracker) Average() float64 {
	if t.samples == 0 {
		return 0
	}
	return t.sum / float64(t.samples)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
