// Package core holds the network container and the slot execution engine.
//
// A Network is owned by a single loop: it is not safe for concurrent use,
// and callers that expose it to other goroutines must serialize access.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/model"
)

var (
	ErrDuplicateNode = errors.New("node already exists")
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateLink = errors.New("link already exists")
	ErrUnknownLink   = errors.New("unknown link")
	ErrBadLink       = errors.New("invalid link")
)

// HandlerKey selects a protocol message handler.
type HandlerKey struct {
	Protocol int
	MsgType  int
}

// Handler processes a protocol message received by a node.
type Handler func(n *Node, msg any)

// Network is the container for nodes, links and protocol handlers.
type Network struct {
	nodes    map[model.NodeID]*Node
	order    []*Node
	links    map[LinkKey]*Link
	handlers map[HandlerKey]Handler

	// Mobility, when set, runs before every slot.
	Mobility MobilityModel
	// SubSlots is the number of receive samples per receiver per slot.
	SubSlots int
	// Observer, when set, is told about every executed slot.
	Observer SlotObserver

	log logging.Logger
}

// NewNetwork creates an empty network.
func NewNetwork(subSlots int, log logging.Logger) *Network {
	if subSlots < 1 {
		subSlots = 1
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Network{
		nodes:    make(map[model.NodeID]*Node),
		links:    make(map[LinkKey]*Link),
		handlers: make(map[HandlerKey]Handler),
		SubSlots: subSlots,
		log:      log,
	}
}

//
// ---------- Nodes ----------
//

// AddNode registers a node. Its Index is the number of nodes added before it.
func (net *Network) AddNode(id model.NodeID, cfg NodeConfig) (*Node, error) {
	if _, exists := net.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, id)
	}
	n := newNode(id, len(net.order), cfg, net)
	net.nodes[id] = n
	net.order = append(net.order, n)
	return n, nil
}

// Node returns the node with the given id or ErrUnknownNode.
func (net *Network) Node(id model.NodeID) (*Node, error) {
	n, ok := net.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

// FindNode returns the node with the given id, or nil.
func (net *Network) FindNode(id model.NodeID) *Node {
	return net.nodes[id]
}

// Nodes returns every node in creation order.
func (net *Network) Nodes() []*Node {
	return append([]*Node(nil), net.order...)
}

// Len is the number of nodes.
func (net *Network) Len() int { return len(net.order) }

//
// ---------- Links ----------
//

// AddLink registers a link and files it under its origin by Active.
func (net *Network) AddLink(l *Link) (*Link, error) {
	if l == nil || l.From == nil || l.To == nil {
		return nil, ErrBadLink
	}
	key := l.Key()
	if _, exists := net.links[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, key)
	}
	net.links[key] = l
	if l.Active {
		l.From.links[l.To.ID] = l
	} else {
		l.From.potentialLinks[l.To.ID] = l
	}
	return l, nil
}

// Link returns the link from → to or ErrUnknownLink.
func (net *Network) Link(from, to model.NodeID) (*Link, error) {
	l, ok := net.links[LinkKey{From: from, To: to}]
	if !ok {
		return nil, fmt.Errorf("%w: %d#%d", ErrUnknownLink, from, to)
	}
	return l, nil
}

// FindLink returns the link from → to, or nil.
func (net *Network) FindLink(from, to model.NodeID) *Link {
	return net.links[LinkKey{From: from, To: to}]
}

// Links returns every link ordered by (from, to).
func (net *Network) Links() []*Link {
	out := make([]*Link, 0, len(net.links))
	for _, l := range net.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return out
}

// UpdateNodeLinks re-evaluates the node's potential links and promotes the
// ones that became active. The reverse direction of a promoted link is
// promoted as well, without being re-evaluated. Active links are never
// demoted here.
func (net *Network) UpdateNodeLinks(n *Node) {
	var activated []*Link
	for _, l := range n.PotentialLinks() {
		l.Update()
		if l.Active {
			activated = append(activated, l)
		}
	}
	for _, l := range activated {
		promote(l)
		if reverse, ok := l.To.potentialLinks[l.From.ID]; ok {
			promote(reverse)
		}
	}
}

func promote(l *Link) {
	delete(l.From.potentialLinks, l.To.ID)
	l.Active = true
	l.From.links[l.To.ID] = l
}

// PositionUpdate moves one node.
type PositionUpdate struct {
	ID model.NodeID `json:"ID"`
	X  float64      `json:"X"`
	Y  float64      `json:"Y"`
}

// SetNodePosition moves a node and refreshes its links.
func (net *Network) SetNodePosition(id model.NodeID, pos model.Position) error {
	n, err := net.Node(id)
	if err != nil {
		return err
	}
	n.Pos = pos
	net.UpdateNodeLinks(n)
	return nil
}

// UpdatePositions applies a batch of moves. Unknown ids are logged and
// skipped; the number of applied moves is returned.
func (net *Network) UpdatePositions(ctx context.Context, updates []PositionUpdate) int {
	applied := 0
	for _, u := range updates {
		if err := net.SetNodePosition(u.ID, model.Position{X: u.X, Y: u.Y}); err != nil {
			net.log.Info(ctx, "update positions: cannot find node", logging.Int("node_id", int(u.ID)))
			continue
		}
		applied++
	}
	return applied
}

//
// ---------- Protocol handlers ----------
//

// SetHandler installs fn for (protocol, msgType), replacing any previous one.
func (net *Network) SetHandler(protocol, msgType int, fn Handler) {
	net.handlers[HandlerKey{Protocol: protocol, MsgType: msgType}] = fn
}

// Handler returns the handler for (protocol, msgType), or nil.
func (net *Network) Handler(protocol, msgType int) Handler {
	return net.handlers[HandlerKey{Protocol: protocol, MsgType: msgType}]
}

// CheckInvariants verifies that node indices match creation order and that
// every registered link sits in exactly the collection its state implies.
func (net *Network) CheckInvariants() error {
	var errs []error
	for i, n := range net.order {
		if n.Index != i {
			errs = append(errs, fmt.Errorf("node %d: index %d, created %d", n.ID, n.Index, i))
		}
	}
	for key, l := range net.links {
		_, inActive := l.From.links[key.To]
		_, inPotential := l.From.potentialLinks[key.To]
		switch {
		case inActive && inPotential:
			errs = append(errs, fmt.Errorf("link %s: in both collections", key))
		case !inActive && !inPotential:
			errs = append(errs, fmt.Errorf("link %s: in neither collection", key))
		case inActive != l.Active:
			errs = append(errs, fmt.Errorf("link %s: active=%v but filed as active=%v", key, l.Active, inActive))
		}
	}
	return errors.Join(errs...)
}
