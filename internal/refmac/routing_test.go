package refmac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
)

// linkedNetwork builds nodes 1..n joined by perfect bidirectional links.
func linkedNetwork(t *testing.T, n int, edges ...[2]model.NodeID) *core.Network {
	t.Helper()
	net := core.NewNetwork(1, nil)
	for id := model.NodeID(1); id <= model.NodeID(n); id++ {
		_, err := net.AddNode(id, core.NodeConfig{})
		require.NoError(t, err)
	}
	for _, e := range edges {
		a, b := net.FindNode(e[0]), net.FindNode(e[1])
		_, err := net.AddLink(core.NewLink(a, b, model.Connection{}, linkmodel.Fixed(1, -60)))
		require.NoError(t, err)
		_, err = net.AddLink(core.NewLink(b, a, model.Connection{}, linkmodel.Fixed(1, -60)))
		require.NoError(t, err)
	}
	return net
}

func TestShortestPathTreeCountsControlTraffic(t *testing.T) {
	net := linkedNetwork(t, 4, [2]model.NodeID{1, 2}, [2]model.NodeID{2, 3}, [2]model.NodeID{3, 4})
	r := NewShortestPathTree(model.RootNodeID)
	require.NoError(t, r.Initialize(net, 0))

	// One advertisement per tree member plus one announcement per new parent.
	want := map[model.NodeID]core.RouteStats{
		1: {NumTx: 1, NumRx: 2},
		2: {NumTx: 2, NumRx: 3},
		3: {NumTx: 2, NumRx: 3},
		4: {NumTx: 2, NumRx: 1},
	}
	for id, w := range want {
		st := r.Stats(id)
		require.Equal(t, w.NumTx, st.NumTx, "node %d tx", id)
		require.Equal(t, w.NumRx, st.NumRx, "node %d rx", id)
	}

	// A stable tree only re-advertises.
	r.Refresh(net, 60)
	require.Equal(t, 3, r.Stats(4).NumTx)
	require.Equal(t, 2, r.Stats(4).NumRx)
	require.Equal(t, 3, r.Stats(1).NumRx)
	require.Zero(t, r.Stats(4).ParentChanges)
}

func TestMultiHopRunReportsRoutingCounters(t *testing.T) {
	tn := newTestNet(t, 3, map[[2]model.NodeID]float64{{1, 2}: 1, {2, 3}: 1},
		map[model.NodeID][]Source{3: {{Dst: 1, PeriodSec: 1, Size: 64}}},
		Params{QueueSize: 8, MaxRetries: 3},
	)
	tn.run(200)
	tn.router.Refresh(tn.net, 2)

	for id, mac := range tn.macs {
		s := mac.Stats()
		require.Positive(t, s.RoutingNumTx, "node %d", id)
		require.Positive(t, s.RoutingNumRx, "node %d", id)
	}
	g := tn.aggregate().Global
	require.Positive(t, g.Totals.RoutingNumTx)
	require.Positive(t, g.Totals.RoutingNumRx)
}

func TestParentChangeAfterDetach(t *testing.T) {
	r := NewShortestPathTree(model.RootNodeID)
	full := linkedNetwork(t, 4,
		[2]model.NodeID{1, 2}, [2]model.NodeID{1, 3}, [2]model.NodeID{2, 4}, [2]model.NodeID{3, 4})
	require.NoError(t, r.Initialize(full, 0))
	p, ok := r.Parent(4)
	require.True(t, ok)
	require.Equal(t, model.NodeID(2), p)

	detached := linkedNetwork(t, 4, [2]model.NodeID{1, 2}, [2]model.NodeID{1, 3})
	r.Refresh(detached, 60)
	_, ok = r.Parent(4)
	require.False(t, ok)
	require.Zero(t, r.Stats(4).ParentChanges)

	rejoined := linkedNetwork(t, 4, [2]model.NodeID{1, 2}, [2]model.NodeID{1, 3}, [2]model.NodeID{3, 4})
	r.Refresh(rejoined, 120)
	p, ok = r.Parent(4)
	require.True(t, ok)
	require.Equal(t, model.NodeID(3), p)
	require.Equal(t, 1, r.Stats(4).ParentChanges, "rejoining under a different parent is a change")

	r.Refresh(detached, 180)
	r.Refresh(rejoined, 240)
	require.Equal(t, 1, r.Stats(4).ParentChanges, "rejoining the same parent is not")
}
