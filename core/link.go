package core

import (
	"fmt"

	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
)

// LinkStatus says which of its origin's collections a link lives in.
type LinkStatus int

const (
	LinkStatusUnknown   LinkStatus = iota // Default/unset
	LinkStatusPotential                   // Known, but below the activation threshold
	LinkStatusActive                      // Usable by the MAC
)

func (s LinkStatus) String() string {
	switch s {
	case LinkStatusPotential:
		return "potential"
	case LinkStatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// LinkKey identifies a directed link.
type LinkKey struct {
	From model.NodeID
	To   model.NodeID
}

func (k LinkKey) String() string { return fmt.Sprintf("%d#%d", k.From, k.To) }

// Link is a directed radio link between two nodes. Its quality is evaluated
// against the current node positions whenever it is read.
type Link struct {
	From       *Node
	To         *Node
	Connection model.Connection
	Estimator  linkmodel.Estimator

	// Active is refreshed by Update; the Network moves a link between its
	// origin's collections when it changes.
	Active bool

	tracker linkmodel.Tracker
}

// NewLink creates a link and evaluates its initial state.
func NewLink(from, to *Node, conn model.Connection, est linkmodel.Estimator) *Link {
	l := &Link{From: from, To: to, Connection: conn, Estimator: est}
	l.Update()
	return l
}

// Key returns the link's map key.
func (l *Link) Key() LinkKey { return LinkKey{From: l.From.ID, To: l.To.ID} }

// Quality evaluates the link at the nodes' current positions.
func (l *Link) Quality() linkmodel.Quality {
	if l.Estimator == nil {
		return linkmodel.Quality{}
	}
	return l.Estimator.Evaluate(l.From.Pos, l.To.Pos)
}

// SuccessRate is the current frame success probability.
func (l *Link) SuccessRate() float64 { return l.Quality().SuccessRate }

// RSSI is the current received signal strength.
func (l *Link) RSSI() float64 { return l.Quality().RSSI }

// Update re-evaluates the link, refreshes Active and records the success
// rate in the running average.
func (l *Link) Update() {
	q := l.Quality()
	l.Active = q.Active
	l.tracker.Observe(q.SuccessRate)
}

// AverageSuccessRate is the mean success rate over every Update.
func (l *Link) AverageSuccessRate() float64 { return l.tracker.Average() }

// Status maps Active onto a LinkStatus.
func (l *Link) Status() LinkStatus {
	if l.Active {
		return LinkStatusActive
	}
	return LinkStatusPotential
}
