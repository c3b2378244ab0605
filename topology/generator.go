package topology

import (
	"context"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/internal/rng"
	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
)

const tracerName = "github.com/signalsfoundry/tsch-simulator/topology"

// DefaultMaxIterations bounds the mesh repair loops.
const DefaultMaxIterations = 200000

// Params configures a Generator.
type Params struct {
	Layout Layout

	// LinkQuality is the success rate a link must reach to count towards the
	// degree, and the quality deterministic layouts space nodes for.
	LinkQuality float64

	// TargetDegree is the Mesh average degree target; 0 means sqrt(N).
	TargetDegree float64
	// AreaRadius is the initial Mesh radius; 0 derives it from the target.
	AreaRadius float64

	// NodeDistance is the fixed spacing for DenseGrid and the radius scale
	// for DenseMesh.
	NodeDistance float64
	// DenseMinDegree and DenseDegreeCap bound DenseMesh degrees.
	DenseMinDegree float64
	DenseDegreeCap int

	// Seed, when set, gives layout generation its own random stream.
	Seed *uint64

	MaxIterations int
}

// DefaultParams returns the parameters used when the config is silent.
func DefaultParams() Params {
	return Params{
		Layout:         LayoutMesh,
		LinkQuality:    0.5,
		NodeDistance:   10,
		DenseMinDegree: 8,
		DenseDegreeCap: 15,
		MaxIterations:  DefaultMaxIterations,
	}
}

// Generator produces node coordinates for a layout.
type Generator struct {
	Params Params
	Model  *linkmodel.LogisticLoss
	Disk   *linkmodel.UnitDisk
	RNG    *rng.Source
	Log    logging.Logger
}

// NewGenerator wires a generator. Nil models fall back to their defaults.
func NewGenerator(p Params, lossModel *linkmodel.LogisticLoss, disk *linkmodel.UnitDisk, src *rng.Source, log logging.Logger) *Generator {
	if lossModel == nil {
		lossModel = linkmodel.NewLogisticLoss(linkmodel.DefaultLogisticLossParams())
	}
	if disk == nil {
		disk = linkmodel.NewUnitDisk(linkmodel.DefaultUnitDiskParams())
	}
	if log == nil {
		log = logging.Noop()
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	return &Generator{Params: p, Model: lossModel, Disk: disk, RNG: src, Log: log}
}

// Generate returns n positions for the configured layout. Random layouts
// fail with ErrInfeasibleDegree or a *ConvergenceError; no partial layout
// is ever returned.
func (g *Generator) Generate(ctx context.Context, n int) ([]model.Position, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "topology.Generate")
	span.SetAttributes(
		attribute.String("layout", g.Params.Layout.String()),
		attribute.Int("nodes", n),
	)

	var (
		out []model.Position
		err error
	)
	run := func() error {
		out, err = g.generate(ctx, n)
		return err
	}
	if g.Params.Seed != nil && g.RNG != nil {
		err = g.RNG.WithSeed(*g.Params.Seed, run)
	} else {
		err = run()
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) generate(ctx context.Context, n int) ([]model.Position, error) {
	switch g.Params.Layout {
	case LayoutPoint:
		return g.point(ctx, n), nil
	case LayoutLine:
		return g.line(ctx, n), nil
	case LayoutGrid:
		return g.grid(ctx, n), nil
	case LayoutDenseGrid:
		return g.denseGrid(ctx, n), nil
	case LayoutMesh:
		return g.mesh(ctx, n)
	case LayoutDenseMesh:
		return g.denseMesh(ctx, n)
	default:
		return nil, ErrUnknownLayout
	}
}

// step is the largest spacing that still clears the link quality threshold.
func (g *Generator) step() float64 {
	return g.Model.DistanceFromSuccessRate(g.Params.LinkQuality)
}

// point places node 0 at the centre of a ring of the remaining nodes.
func (g *Generator) point(ctx context.Context, n int) []model.Position {
	g.Log.Info(ctx, "generating a star network", logging.Int("nodes", n))
	if n == 0 {
		return nil
	}
	r := g.step()
	out := make([]model.Position, 0, n)
	out = append(out, model.Position{X: r, Y: r})
	for i := 1; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n-1)
		out = append(out, model.Position{
			X: r * (1 + math.Cos(angle)),
			Y: r * (1 + math.Sin(angle)),
		})
	}
	return out
}

func (g *Generator) line(ctx context.Context, n int) []model.Position {
	g.Log.Info(ctx, "generating a line network", logging.Int("nodes", n))
	step := g.step()
	out := make([]model.Position, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Position{X: float64(i) * step})
	}
	return out
}

func (g *Generator) grid(ctx context.Context, n int) []model.Position {
	g.Log.Info(ctx, "generating a grid network", logging.Int("nodes", n))
	step := g.step()
	perRow := GridPerRow(n)
	out := make([]model.Position, 0, n)
	for i := 0; i < n; i++ {
		row := i / perRow
		column := i % perRow
		out = append(out, model.Position{X: float64(column) * step, Y: float64(row) * step})
	}
	return out
}

// GridPerRow is the row width of an N-node grid.
func GridPerRow(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// denseGrid fills rows with the configured spacing. The column coordinate
// cycles modulo the row width and rows grow towards negative y.
func (g *Generator) denseGrid(ctx context.Context, n int) []model.Position {
	g.Log.Info(ctx, "generating a dense grid network",
		logging.Int("nodes", n), logging.Float("spacing", g.Params.NodeDistance))
	if n == 0 {
		return nil
	}
	d := g.Params.NodeDistance
	perRow := GridPerRow(n)
	width := float64(perRow) * d
	out := make([]model.Position, 0, n)
	x, y := 0.0, 0.0
	for len(out) < n {
		for j := 0; j < perRow && len(out) < n; j++ {
			out = append(out, model.Position{X: x, Y: -y})
			x = math.Mod(x+d, width)
		}
		y = math.Mod(y+d, width)
	}
	return out
}
