package core

import "github.com/signalsfoundry/tsch-simulator/model"

// Cell is a scheduled slotframe cell.
type Cell struct {
	ChannelOffset int
	Tx            bool
	Rx            bool
	// Shared cells are contended and use backoff after a failed transmission.
	Shared bool
}

// Scheduler decides which cell, if any, a node uses at an ASN.
type Scheduler interface {
	Name() string
	Initialize(net *Network) error
	Cell(n *Node, asn uint64) (Cell, bool)
}

// RouteStats are the routing counters reported for one node.
type RouteStats struct {
	NumTx         int
	NumRx         int
	JoinTimeSec   *float64
	ParentChanges int
}

// Router provides next hops for application traffic.
type Router interface {
	Name() string
	Initialize(net *Network, nowSec float64) error
	// Refresh recomputes routes; it runs on the periodic bookkeeping timer.
	Refresh(net *Network, nowSec float64)
	NextHop(n *Node, dst model.NodeID) (model.NodeID, bool)
	Parent(id model.NodeID) (model.NodeID, bool)
	Stats(id model.NodeID) RouteStats
}
