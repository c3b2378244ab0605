package topology

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tsch-simulator/internal/rng"
	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
)

const tol = 1e-9

func newTestGenerator(p Params, seed uint64) *Generator {
	return NewGenerator(p, nil, nil, rng.New(seed), nil)
}

func TestParseLayoutAliases(t *testing.T) {
	cases := map[string]Layout{
		"Point":            LayoutPoint,
		"Star":             LayoutPoint,
		"line":             LayoutLine,
		"Grid":             LayoutGrid,
		"DalGrid":          LayoutDenseGrid,
		"DalPhyGridMesh":   LayoutDenseGrid,
		"DenseGrid":        LayoutDenseGrid,
		"Mesh":             LayoutMesh,
		"DalPhyRandomMesh": LayoutDenseMesh,
		" DenseMesh ":      LayoutDenseMesh,
	}
	for in, want := range cases {
		got, err := ParseLayout(in)
		if err != nil {
			t.Fatalf("ParseLayout(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLayout(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLayout("Torus"); !errors.Is(err, ErrUnknownLayout) {
		t.Fatalf("ParseLayout(Torus) error = %v, want ErrUnknownLayout", err)
	}
}

func TestGridLayout(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutGrid
	g := newTestGenerator(p, 1)

	got, err := g.Generate(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, got, 9)

	step := g.Model.DistanceFromSuccessRate(p.LinkQuality)
	for i, pos := range got {
		row, column := i/3, i%3
		if math.Abs(pos.X-float64(column)*step) > tol || math.Abs(pos.Y-float64(row)*step) > tol {
			t.Fatalf("node %d at %+v, want (%v, %v)", i, pos, float64(column)*step, float64(row)*step)
		}
	}
}

func TestLineLayoutSpacingClearsThreshold(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutLine
	g := newTestGenerator(p, 1)

	got, err := g.Generate(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	for i := 1; i < len(got); i++ {
		if got[i].Y != 0 {
			t.Fatalf("node %d off axis: %+v", i, got[i])
		}
		sr, _ := g.Model.SuccessRate(got[i].DistanceTo(got[i-1]))
		if math.Abs(sr-p.LinkQuality) > 1e-6 {
			t.Fatalf("neighbour success = %v, want %v", sr, p.LinkQuality)
		}
	}
}

func TestPointLayoutRing(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutPoint
	g := newTestGenerator(p, 1)

	got, err := g.Generate(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 7)

	r := g.Model.DistanceFromSuccessRate(p.LinkQuality)
	centre := got[0]
	require.InDelta(t, r, centre.X, tol)
	require.InDelta(t, r, centre.Y, tol)
	for i := 1; i < len(got); i++ {
		require.InDelta(t, r, got[i].DistanceTo(centre), 1e-6, "node %d", i)
	}

	empty, err := g.Generate(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDenseGridWrapsColumns(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutDenseGrid
	p.NodeDistance = 10
	g := newTestGenerator(p, 1)

	got, err := g.Generate(context.Background(), 5)
	require.NoError(t, err)
	want := []model.Position{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0},
		{X: 0, Y: -10}, {X: 10, Y: -10},
	}
	require.Len(t, got, len(want))
	for i := range want {
		require.InDelta(t, want[i].X, got[i].X, tol, "node %d x", i)
		require.InDelta(t, want[i].Y, got[i].Y, tol, "node %d y", i)
	}
}

func TestMeshReachesAcceptanceBand(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutMesh
	p.TargetDegree = 4
	g := newTestGenerator(p, 42)

	got, err := g.Generate(context.Background(), 16)
	require.NoError(t, err)
	require.Len(t, got, 16)

	good := 0
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			sr, _ := g.Model.SuccessRate(got[i].DistanceTo(got[j]))
			if sr >= p.LinkQuality {
				good++
			}
		}
	}
	degree := 2 * float64(good) / float64(len(got))
	lo, hi := AcceptanceBand(4)
	if degree < lo || degree > hi {
		t.Fatalf("degree = %v, want within [%v, %v]", degree, lo, hi)
	}
}

func TestMeshIsDeterministicForSeed(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutMesh
	p.TargetDegree = 3

	a, err := newTestGenerator(p, 7).Generate(context.Background(), 10)
	require.NoError(t, err)
	b, err := newTestGenerator(p, 7).Generate(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestMeshInfeasibleDegree(t *testing.T) {
	for _, target := range []float64{1.5, 10} {
		p := DefaultParams()
		p.Layout = LayoutMesh
		p.TargetDegree = target
		got, err := newTestGenerator(p, 1).Generate(context.Background(), 10)
		if !errors.Is(err, ErrInfeasibleDegree) {
			t.Fatalf("target %v: error = %v, want ErrInfeasibleDegree", target, err)
		}
		if got != nil {
			t.Fatalf("target %v: got partial layout %v", target, got)
		}
	}
}

func TestMeshIterationCeiling(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutMesh
	p.TargetDegree = 10
	p.AreaRadius = 1e6
	p.MaxIterations = 1

	got, err := newTestGenerator(p, 3).Generate(context.Background(), 20)
	require.ErrorIs(t, err, ErrNotConverged)
	require.Nil(t, got)

	var ce *ConvergenceError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, LayoutMesh, ce.Layout)
	require.Equal(t, 1, ce.Iterations)
	require.Equal(t, 10.0, ce.Target)
}

func TestLayoutSeedLeavesMainStreamUntouched(t *testing.T) {
	seed := uint64(99)
	p := DefaultParams()
	p.Layout = LayoutMesh
	p.TargetDegree = 3
	p.Seed = &seed

	src := rng.New(5)
	ref := rng.New(5)
	g := NewGenerator(p, nil, nil, src, nil)

	first, err := g.Generate(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, ref.Float64(), src.Float64())

	// A different main seed must not change a seeded layout.
	other, err := NewGenerator(p, nil, nil, rng.New(6), nil).Generate(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, first, other)
}

func TestDenseMeshConstraints(t *testing.T) {
	p := DefaultParams()
	p.Layout = LayoutDenseMesh
	p.NodeDistance = 10
	p.DenseMinDegree = 4
	p.DenseDegreeCap = 15
	disk := linkmodel.NewUnitDisk(linkmodel.DefaultUnitDiskParams())
	g := NewGenerator(p, nil, disk, rng.New(11), nil)

	got, err := g.Generate(context.Background(), 12)
	if err != nil {
		require.ErrorIs(t, err, ErrNotConverged)
		return
	}
	require.Len(t, got, 12)

	perNode := make([]int, len(got))
	links := 0
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			if disk.InRange(got[i].DistanceTo(got[j])) {
				perNode[i]++
				perNode[j]++
				links++
			}
		}
	}
	for i, k := range perNode {
		if k == 0 || k > p.DenseDegreeCap {
			t.Fatalf("node %d has %d links", i, k)
		}
	}
	if degree := 2 * float64(links) / float64(len(got)); degree < p.DenseMinDegree {
		t.Fatalf("degree = %v, want >= %v", degree, p.DenseMinDegree)
	}
}

func TestAcceptanceBand(t *testing.T) {
	lo, hi := AcceptanceBand(4)
	if lo != 3.5 || hi != 4.5 {
		t.Fatalf("AcceptanceBand(4) = [%v, %v], want [3.5, 4.5]", lo, hi)
	}
	lo, hi = AcceptanceBand(20)
	if lo != 19 || hi != 21 {
		t.Fatalf("AcceptanceBand(20) = [%v, %v], want [19, 21]", lo, hi)
	}
}

func TestRandomLayoutsWithoutNodes(t *testing.T) {
	cases := []struct {
		layout  Layout
		wantErr error
	}{
		{LayoutDenseMesh, nil},
		{LayoutMesh, ErrInfeasibleDegree},
		{LayoutGrid, nil},
		{LayoutLine, nil},
	}
	for _, c := range cases {
		t.Run(c.layout.String(), func(t *testing.T) {
			p := DefaultParams()
			p.Layout = c.layout
			disk := linkmodel.NewUnitDisk(linkmodel.DefaultUnitDiskParams())
			got, err := NewGenerator(p, nil, disk, rng.New(1), nil).Generate(context.Background(), 0)
			if c.wantErr != nil {
				require.ErrorIs(t, err, c.wantErr)
				return
			}
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestSpreadOverCapStaysInsideSmallRadius(t *testing.T) {
	p := DefaultParams()
	p.DenseDegreeCap = 1
	g := newTestGenerator(p, 2)

	const radius = 0.4
	nodes := []polarNode{{distance: 0.39}, {distance: 0.1}, {distance: 0.2}}
	g.spreadOverCap(nodes, []int{2, 2, 1}, radius)

	require.InDelta(t, radius*0.999, nodes[0].distance, tol)
	require.InDelta(t, 0.11, nodes[1].distance, tol)
	require.InDelta(t, 0.2, nodes[2].distance, tol)
	for i, n := range nodes {
		require.Positive(t, n.distance, "node %d", i)
		require.Less(t, n.distance, radius, "node %d", i)
	}
}
