package topology

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/model"
)

var (
	// ErrInfeasibleDegree is returned when a mesh degree target cannot be met
	// by any placement of N nodes.
	ErrInfeasibleDegree = errors.New("infeasible degree target")
	// ErrNotConverged is wrapped by ConvergenceError.
	ErrNotConverged = errors.New("layout search did not converge")
)

// ConvergenceError reports a random layout search that hit its iteration
// ceiling before satisfying its constraints.
type ConvergenceError struct {
	Layout     Layout
	Iterations int
	Degree     float64
	Target     float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s layout: no convergence after %d iterations (degree %.3f, target %.3f)",
		e.Layout, e.Iterations, e.Degree, e.Target)
}

func (e *ConvergenceError) Unwrap() error { return ErrNotConverged }

// polarNode is a candidate position tracked in polar form around the origin.
type polarNode struct {
	distance float64
	angle    float64
}

func (p polarNode) position() model.Position { return model.Polar(p.distance, p.angle) }

// AcceptanceBand returns the inclusive degree range accepted for a target.
func AcceptanceBand(target float64) (lo, hi float64) {
	lo = math.Min(target-0.5, target*0.95)
	hi = math.Max(target+0.5, target*1.05)
	return lo, hi
}

// DefaultMeshRadius derives the initial area radius from the transmit range.
func DefaultMeshRadius(transmitRange float64, n int, degree float64) float64 {
	return math.Trunc(transmitRange * math.Sqrt(float64(n)) * 4 / degree)
}

func (g *Generator) draw() float64 {
	if g.RNG == nil {
		panic("topology: random layout requested without a random source")
	}
	return g.RNG.Float64()
}

func (g *Generator) initializeRandom(n int, radius float64) []polarNode {
	nodes := make([]polarNode, n)
	for i := range nodes {
		nodes[i] = polarNode{
			distance: g.draw() * radius,
			angle:    g.draw() * 2 * math.Pi,
		}
	}
	return nodes
}

// meshDegree is the average number of logistic-loss links at or above the
// quality threshold per node.
func (g *Generator) meshDegree(nodes []polarNode) float64 {
	if len(nodes) == 0 {
		return 0
	}
	pos := positions(nodes)
	good := 0
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			p, _ := g.Model.SuccessRate(pos[i].DistanceTo(pos[j]))
			if p >= g.Params.LinkQuality {
				good++
			}
		}
	}
	return 2 * float64(good) / float64(len(nodes))
}

// increaseDegree pulls the furthest node to a random distance inside its
// current one, keeping its angle.
func (g *Generator) increaseDegree(nodes []polarNode) {
	furthest := 0
	for j := 1; j < len(nodes); j++ {
		if nodes[j].distance > nodes[furthest].distance {
			furthest = j
		}
	}
	nodes[furthest].distance = g.draw() * nodes[furthest].distance
}

// decreaseDegree grows the radius by 10% and pushes the nearest node to a
// random distance between its current one and the new radius.
func (g *Generator) decreaseDegree(nodes []polarNode, radius float64) float64 {
	radius *= 1.1
	nearest := 0
	for j := 1; j < len(nodes); j++ {
		if nodes[j].distance < nodes[nearest].distance {
			nearest = j
		}
	}
	d := nodes[nearest].distance
	nodes[nearest].distance = d + g.draw()*(radius-d)
	return radius
}

func (g *Generator) mesh(ctx context.Context, n int) ([]model.Position, error) {
	target := g.Params.TargetDegree
	if target == 0 {
		target = math.Sqrt(float64(n))
	}
	g.Log.Info(ctx, "generating a mesh network",
		logging.Int("nodes", n), logging.Float("degree", target))

	if target < 2 {
		return nil, fmt.Errorf("%w: %d nodes with degree %.3f would be disconnected", ErrInfeasibleDegree, n, target)
	}
	if target > float64(n-1) {
		return nil, fmt.Errorf("%w: %d nodes cannot reach degree %.3f", ErrInfeasibleDegree, n, target)
	}

	lo, hi := AcceptanceBand(target)
	radius := g.Params.AreaRadius
	if radius == 0 {
		radius = DefaultMeshRadius(g.Model.Params.TransmitRangeM, n, target)
	}

	nodes := g.initializeRandom(n, radius)
	degree := g.meshDegree(nodes)
	for i := 0; ; i++ {
		if lo <= degree && degree <= hi {
			g.Log.Debug(ctx, "mesh converged",
				logging.Int("iterations", i), logging.Float("degree", degree), logging.Float("radius", radius))
			return positions(nodes), nil
		}
		if i >= g.Params.MaxIterations {
			return nil, &ConvergenceError{Layout: LayoutMesh, Iterations: i, Degree: degree, Target: target}
		}
		if degree < lo {
			g.increaseDegree(nodes)
		} else {
			radius = g.decreaseDegree(nodes, radius)
		}
		degree = g.meshDegree(nodes)
	}
}

// denseCensus is the per-iteration view of a dense mesh candidate.
type denseCensus struct {
	degree       float64
	perNode      []int
	disconnected int
	overCap      int
}

func (g *Generator) denseDegrees(nodes []polarNode) denseCensus {
	pos := positions(nodes)
	c := denseCensus{perNode: make([]int, len(nodes))}
	good := 0
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			q := g.Disk.Evaluate(pos[i], pos[j])
			if q.Active && q.SuccessRate >= g.Disk.Params.RxSuccess {
				good++
			}
			if q.Active {
				c.perNode[i]++
				c.perNode[j]++
			}
		}
	}
	for _, k := range c.perNode {
		if k == 0 {
			c.disconnected++
		}
		if k > g.Params.DenseDegreeCap || k < 0 {
			c.overCap++
		}
	}
	if len(nodes) > 0 {
		c.degree = 2 * float64(good) / float64(len(nodes))
	}
	return c
}

func (g *Generator) denseMesh(ctx context.Context, n int) ([]model.Position, error) {
	if n == 0 {
		return nil, nil
	}
	radius := float64(n) * g.Params.NodeDistance
	g.Log.Info(ctx, "generating a dense mesh network",
		logging.Int("nodes", n), logging.Float("radius", radius))

	nodes := g.initializeRandom(n, radius)
	census := g.denseDegrees(nodes)
	for i := 0; ; i++ {
		if census.degree >= g.Params.DenseMinDegree && census.disconnected == 0 && census.overCap == 0 {
			g.Log.Debug(ctx, "dense mesh converged",
				logging.Int("iterations", i), logging.Float("degree", census.degree))
			return positions(nodes), nil
		}
		if i >= g.Params.MaxIterations {
			return nil, &ConvergenceError{Layout: LayoutDenseMesh, Iterations: i, Degree: census.degree, Target: g.Params.DenseMinDegree}
		}
		switch {
		case census.disconnected > 0:
			for j, k := range census.perNode {
				if k == 0 {
					nodes[j].distance *= 0.9
				}
			}
		case census.overCap > 0:
			g.spreadOverCap(nodes, census.perNode, radius)
		default:
			g.increaseDegree(nodes)
		}
		census = g.denseDegrees(nodes)
	}
}

// spreadOverCap pushes nodes above the degree cap 10% outwards, staying
// strictly inside radius.
func (g *Generator) spreadOverCap(nodes []polarNode, perNode []int, radius float64) {
	for j, k := range perNode {
		if k > g.Params.DenseDegreeCap {
			d := 1.1 * nodes[j].distance
			if d >= radius {
				d = radius * 0.999
			}
			nodes[j].distance = d
		} else if k < 0 {
			nodes[j].distance *= 0.9
		}
	}
}

func positions(nodes []polarNode) []model.Position {
	out := make([]model.Position, len(nodes))
	for i, p := range nodes {
		out[i] = p.position()
	}
	return out
}
