package linkmodel

import "github.com/signalsfoundry/tsch-simulator/model"

// UnitDiskParams configures the threshold ("unit disk graph") model.
type UnitDiskParams struct {
	TransmitRangeM      float64 `yaml:"UDGM_TRANSMIT_RANGE_M" json:"UDGM_TRANSMIT_RANGE_M"`
	RxSuccess           float64 `yaml:"UDGM_RX_SUCCESS" json:"UDGM_RX_SUCCESS"`
	InterferenceSuccess float64 `yaml:"UDGM_INTERFERENCE_SUCCESS" json:"UDGM_INTERFERENCE_SUCCESS"`
	// RSSI reported for in-range links; the model does not derive RSSI from distance.
	RSSIDBm float64 `yaml:"UDGM_RSSI_DBM" json:"UDGM_RSSI_DBM"`
}

// DefaultUnitDiskParams returns the default threshold model parameters.
func DefaultUnitDiskParams() UnitDiskParams {
	return UnitDiskParams{
		TransmitRangeM:      50,
		RxSuccess:           1.0,
		InterferenceSuccess: 0,
		RSSIDBm:             -70,
	}
}

// UnitDisk grades a link purely by distance against the configured range.
type UnitDisk struct {
	Params UnitDiskParams
}

// NewUnitDisk constructs a threshold model.
func NewUnitDisk(p UnitDiskParams) *UnitDisk {
	return &UnitDisk{Params: p}
}

// InRange reports whether distance d is inside the transmit range.
func (m *UnitDisk) InRange(d float64) bool {
	return d <= m.Params.TransmitRangeM
}

// SuccessRate returns the graded success rate at distance d.
func (m *UnitDisk) SuccessRate(d float64) float64 {
	if m.InRange(d) {
		return clamp01(m.Params.RxSuccess)
	}
	return clamp01(m.Params.InterferenceSuccess)
}

// Evaluate implements Estimator.
func (m *UnitDisk) Evaluate(from, to model.Position) Quality {
	d := from.DistanceTo(to)
	in := m.InRange(d)
	q := Quality{SuccessRate: m.SuccessRate(d), Active: in}
	if in {
		q.RSSI = m.Params.RSSIDBm
	}
	return q
}
