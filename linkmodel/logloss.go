package linkmodel

import (
	"math"

	"github.com/signalsfoundry/tsch-simulator/model"
)

// LogisticLossParams configures the logistic-loss model. All power values
// are in dBm and distances in metres.
type LogisticLossParams struct {
	TxPowerDBm           float64 `yaml:"TX_POWER_DBM" json:"TX_POWER_DBM"`
	PathLossExponent     float64 `yaml:"LOGLOSS_PATH_LOSS_EXPONENT" json:"LOGLOSS_PATH_LOSS_EXPONENT"`
	RxSensitivityDBm     float64 `yaml:"LOGLOSS_RX_SENSITIVITY_DBM" json:"LOGLOSS_RX_SENSITIVITY_DBM"`
	InflectionPointDBm   float64 `yaml:"LOGLOSS_RSSI_INFLECTION_POINT_DBM" json:"LOGLOSS_RSSI_INFLECTION_POINT_DBM"`
	TransmitRangeM       float64 `yaml:"LOGLOSS_TRANSMIT_RANGE_M" json:"LOGLOSS_TRANSMIT_RANGE_M"`
	MinActiveSuccessRate float64 `yaml:"LOGLOSS_MIN_ACTIVE_SUCCESS_RATE" json:"LOGLOSS_MIN_ACTIVE_SUCCESS_RATE"`
}

// DefaultLogisticLossParams returns the parameters used when a config does
// not override them.
func DefaultLogisticLossParams() LogisticLossParams {
	return LogisticLossParams{
		TxPowerDBm:           0,
		PathLossExponent:     3.0,
		RxSensitivityDBm:     -100,
		InflectionPointDBm:   -96,
		TransmitRangeM:       100,
		MinActiveSuccessRate: 0.01,
	}
}

// LogisticLoss is the probabilistic radio model: log-distance path loss
// followed by a logistic sigmoid of the RSSI.
type LogisticLoss struct {
	Params LogisticLossParams
}

// NewLogisticLoss constructs a model from the given parameters.
func NewLogisticLoss(p LogisticLossParams) *LogisticLoss {
	return &LogisticLoss{Params: p}
}

// Distance returns the distance between two positions.
func (m *LogisticLoss) Distance(a, b model.Position) float64 {
	return a.DistanceTo(b)
}

// RSSI returns the received signal strength at distance d. At or beyond the
// transmit range the sensitivity floor is returned.
func (m *LogisticLoss) RSSI(d float64) float64 {
	p := m.Params
	if d <= MinDistance {
		d = MinDistance
	} else if d >= p.TransmitRangeM {
		return p.RxSensitivityDBm
	}
	pathLoss := -p.RxSensitivityDBm + 10*p.PathLossExponent*math.Log10(d/p.TransmitRangeM)
	return p.TxPowerDBm - pathLoss
}

// SuccessRate returns the frame success probability at distance d, along
// with the RSSI it was derived from.
func (m *LogisticLoss) SuccessRate(d float64) (float64, float64) {
	rssi := m.RSSI(d)
	x := rssi - m.Params.InflectionPointDBm
	return clamp01(1.0 / (1.0 + math.Exp(-x))), rssi
}

// DistanceFromRSSI inverts RSSI. Values at or below the sensitivity floor
// map to the transmit range.
func (m *LogisticLoss) DistanceFromRSSI(rssi float64) float64 {
	p := m.Params
	if rssi <= p.RxSensitivityDBm {
		return p.TransmitRangeM
	}
	pathLoss := p.TxPowerDBm - rssi
	exponent := (pathLoss + p.RxSensitivityDBm) / (10 * p.PathLossExponent)
	d := math.Pow(10, exponent) * p.TransmitRangeM
	switch {
	case d < MinDistance:
		return MinDistance
	case d > p.TransmitRangeM:
		return p.TransmitRangeM
	default:
		return d
	}
}

// DistanceFromSuccessRate inverts SuccessRate: it returns the distance at
// which a link has success probability q.
func (m *LogisticLoss) DistanceFromSuccessRate(q float64) float64 {
	const eps = 1e-12
	q = math.Min(math.Max(q, eps), 1-eps)
	logit := math.Log(q / (1 - q))
	return m.DistanceFromRSSI(logit + m.Params.InflectionPointDBm)
}

// Evaluate implements Estimator.
func (m *LogisticLoss) Evaluate(from, to model.Position) Quality {
	sr, rssi := m.SuccessRate(m.Distance(from, to))
	return Quality{
		SuccessRate: sr,
		RSSI:        rssi,
		Active:      rssi > m.Params.RxSensitivityDBm && sr >= m.Params.MinActiveSuccessRate,
	}
}
