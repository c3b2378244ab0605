package refmac

import (
	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/model"
)

// NullRouting only delivers to direct neighbours.
type NullRouting struct{}

func (NullRouting) Name() string { return "NullRouting" }

func (NullRouting) Initialize(*core.Network, float64) error { return nil }

func (NullRouting) Refresh(*core.Network, float64) {}

func (NullRouting) NextHop(n *core.Node, dst model.NodeID) (model.NodeID, bool) {
	if _, ok := n.Link(dst); ok {
		return dst, true
	}
	return 0, false
}

func (NullRouting) Parent(model.NodeID) (model.NodeID, bool) { return 0, false }

func (NullRouting) Stats(model.NodeID) core.RouteStats { return core.RouteStats{} }

// ShortestPathTree routes upward along a hop-count tree rooted at Root,
// built over links that are active in both directions.
//
// Each refresh is accounted as control traffic: every node in the tree
// broadcasts one advertisement heard by its active neighbours, and a node
// that takes a new parent sends it one announcement.
type ShortestPathTree struct {
	Root model.NodeID

	parents map[model.NodeID]model.NodeID
	// last is the most recent parent of every node that ever had one,
	// including nodes currently cut off from the tree.
	last  map[model.NodeID]model.NodeID
	stats map[model.NodeID]*core.RouteStats
}

// NewShortestPathTree returns a router rooted at root.
func NewShortestPathTree(root model.NodeID) *ShortestPathTree {
	return &ShortestPathTree{
		Root:    root,
		parents: make(map[model.NodeID]model.NodeID),
		last:    make(map[model.NodeID]model.NodeID),
		stats:   make(map[model.NodeID]*core.RouteStats),
	}
}

func (r *ShortestPathTree) Name() string { return "ShortestPathTree" }

func (r *ShortestPathTree) Initialize(net *core.Network, nowSec float64) error {
	r.parents = make(map[model.NodeID]model.NodeID)
	r.last = make(map[model.NodeID]model.NodeID)
	r.stats = make(map[model.NodeID]*core.RouteStats)
	for _, n := range net.Nodes() {
		r.stats[n.ID] = &core.RouteStats{}
	}
	r.Refresh(net, nowSec)
	return nil
}

// Refresh rebuilds the tree by breadth-first search from the root. Nodes
// are visited in id order so ties resolve to the lowest-id parent.
func (r *ShortestPathTree) Refresh(net *core.Network, nowSec float64) {
	root := net.FindNode(r.Root)
	if root == nil {
		return
	}
	r.markJoined(r.Root, nowSec)

	next := make(map[model.NodeID]model.NodeID)
	visited := map[model.NodeID]bool{r.Root: true}
	queue := []*core.Node{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		r.advertise(cur)
		for _, l := range cur.Links() {
			child := l.To
			if visited[child.ID] {
				continue
			}
			if _, up := child.Link(cur.ID); !up {
				continue
			}
			visited[child.ID] = true
			next[child.ID] = cur.ID
			queue = append(queue, child)
		}
	}

	for id, parent := range next {
		st := r.nodeStats(id)
		if last, had := r.last[id]; had && last != parent {
			st.ParentChanges++
		}
		if cur, ok := r.parents[id]; !ok || cur != parent {
			st.NumTx++
			r.nodeStats(parent).NumRx++
		}
		r.last[id] = parent
		r.markJoined(id, nowSec)
	}
	r.parents = next
}

// advertise counts one broadcast from n and its reception by every node
// at the end of an active link.
func (r *ShortestPathTree) advertise(n *core.Node) {
	r.nodeStats(n.ID).NumTx++
	for _, l := range n.Links() {
		r.nodeStats(l.To.ID).NumRx++
	}
}

func (r *ShortestPathTree) nodeStats(id model.NodeID) *core.RouteStats {
	st, ok := r.stats[id]
	if !ok {
		st = &core.RouteStats{}
		r.stats[id] = st
	}
	return st
}

func (r *ShortestPathTree) markJoined(id model.NodeID, nowSec float64) {
	st := r.nodeStats(id)
	if st.JoinTimeSec == nil {
		t := nowSec
		st.JoinTimeSec = &t
	}
}

func (r *ShortestPathTree) NextHop(n *core.Node, dst model.NodeID) (model.NodeID, bool) {
	if _, ok := n.Link(dst); ok {
		return dst, true
	}
	if dst != r.Root {
		return 0, false
	}
	return r.Parent(n.ID)
}

func (r *ShortestPathTree) Parent(id model.NodeID) (model.NodeID, bool) {
	p, ok := r.parents[id]
	return p, ok
}

func (r *ShortestPathTree) Stats(id model.NodeID) core.RouteStats {
	if st, ok := r.stats[id]; ok {
		return *st
	}
	return core.RouteStats{}
}
