package model

import "strconv"

// NodeID is the externally assigned identity of a simulated node.
type NodeID int

// RootNodeID is the conventional data-collection sink.
const RootNodeID NodeID = 1

func (id NodeID) String() string { return strconv.Itoa(int(id)) }

// LinkModelKind selects how a connection evaluates its success rate.
type LinkModelKind string

const (
	LinkModelLogisticLoss LinkModelKind = "LogisticLoss"
	LinkModelUDGM         LinkModelKind = "UDGM"
	LinkModelFixed        LinkModelKind = "Fixed"
)

// Connection carries the parameters attached to a link when it is created.
// Zero values mean "use the simulation defaults".
type Connection struct {
	LinkModel LinkModelKind `yaml:"LINK_MODEL" json:"LINK_MODEL"`

	// RxSuccess is the fixed success rate for LinkModelFixed connections.
	RxSuccess float64 `yaml:"RX_SUCCESS,omitempty" json:"RX_SUCCESS,omitempty"`
	// RSSI is an optional fixed RSSI for LinkModelFixed connections.
	RSSI float64 `yaml:"RSSI,omitempty" json:"RSSI,omitempty"`

	FromID       NodeID `yaml:"FROM_ID,omitempty" json:"FROM_ID,omitempty"`
	ToID         NodeID `yaml:"TO_ID,omitempty" json:"TO_ID,omitempty"`
	NodeType     string `yaml:"NODE_TYPE,omitempty" json:"NODE_TYPE,omitempty"`
	FromNodeType string `yaml:"FROM_NODE_TYPE,omitempty" json:"FROM_NODE_TYPE,omitempty"`
	ToNodeType   string `yaml:"TO_NODE_TYPE,omitempty" json:"TO_NODE_TYPE,omitempty"`
}
