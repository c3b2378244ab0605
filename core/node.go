package core

import (
	"sort"

	"github.com/signalsfoundry/tsch-simulator/model"
)

// NodeConfig is the per-type configuration a node is created with.
type NodeConfig struct {
	TypeName        string
	HoppingSequence []int
	MobilityModel   string
}

// Node is a simulated device. Its behaviour lives in the MAC capability;
// the Network only tracks identity, position and links.
type Node struct {
	ID     model.NodeID
	Index  int
	Pos    model.Position
	Config NodeConfig
	MAC    MAC

	links          map[model.NodeID]*Link
	potentialLinks map[model.NodeID]*Link
	net            *Network
}

func newNode(id model.NodeID, index int, cfg NodeConfig, net *Network) *Node {
	return &Node{
		ID:             id,
		Index:          index,
		Config:         cfg,
		links:          make(map[model.NodeID]*Link),
		potentialLinks: make(map[model.NodeID]*Link),
		net:            net,
	}
}

// Network returns the owning network.
func (n *Node) Network() *Network { return n.net }

// Link returns the active link towards id, if any.
func (n *Node) Link(to model.NodeID) (*Link, bool) {
	l, ok := n.links[to]
	return l, ok
}

// Links returns the active outgoing links ordered by destination id.
func (n *Node) Links() []*Link { return sortedLinks(n.links) }

// PotentialLinks returns the inactive outgoing links ordered by destination id.
func (n *Node) PotentialLinks() []*Link { return sortedLinks(n.potentialLinks) }

// NumLinks is the number of active outgoing links.
func (n *Node) NumLinks() int { return len(n.links) }

// Channel maps a channel offset to a physical channel at asn.
func (n *Node) Channel(asn uint64, offset int) int {
	seq := n.Config.HoppingSequence
	if len(seq) == 0 {
		return offset
	}
	size := len(seq)
	idx := (int(asn%uint64(size)) + offset%size + size) % size
	return seq[idx]
}

// Initialize prepares the node's MAC before the first slot.
func (n *Node) Initialize() error {
	if n.MAC == nil {
		return nil
	}
	return n.MAC.Initialize(n)
}

func sortedLinks(m map[model.NodeID]*Link) []*Link {
	out := make([]*Link, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To.ID < out[j].To.ID })
	return out
}
