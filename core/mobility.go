package core

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnknownMobility = errors.New("unknown mobility model")

// MobilityModel moves nodes before a slot is scheduled.
type MobilityModel interface {
	UpdatePositions(net *Network, asn uint64)
}

// StaticMobility leaves every node in place.
type StaticMobility struct{}

// UpdatePositions for static mobility does nothing.
func (StaticMobility) UpdatePositions(*Network, uint64) {}

// WaypointMobility applies pre-recorded moves when their ASN is reached.
type WaypointMobility struct {
	Waypoints map[uint64][]PositionUpdate
}

// UpdatePositions applies the moves recorded for asn.
func (m *WaypointMobility) UpdatePositions(net *Network, asn uint64) {
	if moves, ok := m.Waypoints[asn]; ok {
		net.UpdatePositions(context.Background(), moves)
	}
}

// NewMobilityModel picks a model by name. Static and unset names yield nil,
// so the engine skips the mobility phase.
func NewMobilityModel(name string, waypoints map[uint64][]PositionUpdate) (MobilityModel, error) {
	switch name {
	case "", "Static":
		return nil, nil
	case "Waypoint":
		return &WaypointMobility{Waypoints: waypoints}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMobility, name)
	}
}
