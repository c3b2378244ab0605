package sim

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/internal/refmac"
	"github.com/signalsfoundry/tsch-simulator/internal/rng"
	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
	"github.com/signalsfoundry/tsch-simulator/topology"
)

// AutoNodeType names the nodes created from POSITIONING_NUM_NODES.
const AutoNodeType = "node"

// ErrUnknownLinkModel is returned for a connection with an unsupported LINK_MODEL.
var ErrUnknownLinkModel = errors.New("unknown link model")

// builder carries the bookkeeping of one Build call.
type builder struct {
	s   *Simulation
	cfg config.Config
	log logging.Logger

	loss *linkmodel.LogisticLoss
	disk *linkmodel.UnitDisk

	typeOrder []string
	typeIDs   map[string][]model.NodeID
	sources   map[model.NodeID][]refmac.Source

	typesOut map[string]bool
	typesIn  map[string]bool
}

// Build constructs a simulation from cfg. Nodes come from NODE_TYPES, or
// POSITIONING_NUM_NODES auto nodes sending to the root; positions come from
// POSITIONS or the topology generator; links come from CONNECTIONS or are
// created between every pair of nodes with the layout's link model.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	s := &Simulation{
		ID:       newInstanceID(),
		Config:   cfg,
		Timeline: core.NewTimeline(cfg.SlotDuration()),
		RNG:      rng.New(cfg.SimulationSeed),
		hooks:    make(map[uint64]Hook),
		sources:  make(map[model.NodeID][]refmac.Source),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	ctx, s.log = logging.WithRunLogger(ctx, s.log, logging.Run{SimID: s.ID, RunID: s.RunID()})

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.Build")
	span.SetAttributes(
		attribute.String("sim.id", s.ID),
		attribute.String("sim.layout", cfg.PositioningLayout),
	)

	if err := build(ctx, s); err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("sim.nodes", s.Network.Len()),
		attribute.Int("sim.links", len(s.Network.Links())),
	)
	observability.EndSpan(span, nil)
	return s, nil
}

func build(ctx context.Context, s *Simulation) error {
	cfg := s.Config
	log := s.log
	log.Info(ctx, fmt.Sprintf("initializing %v seconds long simulation", cfg.SimulationDurationSec))

	s.Timeline.AddTimer(BookkeepingPeriodSec, true, s.bookkeeping)

	sched, err := newScheduler(cfg)
	if err != nil {
		log.Error(ctx, "falling back to the default scheduler",
			logging.Err(err), logging.String("scheduler", DefaultScheduler))
	}
	s.Scheduler = sched

	router, err := newRouter(cfg)
	if err != nil {
		return err
	}
	s.Router = router

	s.Network = core.NewNetwork(cfg.MACMaxSubslots, log)
	if s.metrics != nil {
		s.Network.Observer = s.metrics
	}
	b := &builder{
		s:        s,
		cfg:      cfg,
		log:      log,
		loss:     linkmodel.NewLogisticLoss(cfg.LogisticLossParams),
		disk:     linkmodel.NewUnitDisk(cfg.UnitDiskParams),
		typeIDs:  make(map[string][]model.NodeID),
		sources:  s.sources,
		typesOut: make(map[string]bool),
		typesIn:  make(map[string]bool),
	}
	b.setMobility(ctx, cfg.MobilityModel)

	manualNodes, err := b.createNodes(ctx)
	if err != nil {
		return err
	}
	if err := b.placeNodes(ctx); err != nil {
		return err
	}
	if !manualNodes {
		b.addRootSources()
	}
	manualLinks, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if manualLinks {
		b.warnUnconnectedTypes(ctx)
	} else if err := b.connectAll(ctx); err != nil {
		return err
	}
	b.checkNodes(ctx)

	if err := s.Scheduler.Initialize(s.Network); err != nil {
		return fmt.Errorf("initialize scheduler %s: %w", s.Scheduler.Name(), err)
	}
	b.installMACs()
	return nil
}

func (b *builder) setMobility(ctx context.Context, name string) {
	if b.s.Network.Mobility != nil {
		return
	}
	m, err := core.NewMobilityModel(name, b.s.waypoints)
	if err != nil {
		b.log.Warn(ctx, "using static mobility", logging.Err(err))
		return
	}
	b.s.Network.Mobility = m
}

// createNodes adds the configured node types, or the auto nodes when no
// valid type exists. It reports whether types were used.
func (b *builder) createNodes(ctx context.Context) (bool, error) {
	net := b.s.Network
	manual := false
	var previous model.NodeID
	for _, t := range b.cfg.NodeTypes {
		if !t.Valid() {
			b.log.Warn(ctx, "invalid node type", logging.String("type", t.Name), logging.Int("count", t.Count))
			continue
		}
		b.log.Info(ctx, fmt.Sprintf("creating %d %q nodes", t.Count, t.Name))
		mobility := t.MobilityModel
		if mobility == "" {
			mobility = b.cfg.MobilityModel
		}
		ncfg := core.NodeConfig{
			TypeName:        t.Name,
			HoppingSequence: b.cfg.MACHoppingSequence,
			MobilityModel:   mobility,
		}
		if _, seen := b.typeIDs[t.Name]; !seen {
			b.typeOrder = append(b.typeOrder, t.Name)
		}
		id := previous + 1
		if t.StartID != nil {
			id = *t.StartID
		}
		for i := 0; i < t.Count; i++ {
			if _, err := net.AddNode(id, ncfg); err != nil {
				return false, fmt.Errorf("node type %q: %w", t.Name, err)
			}
			b.typeIDs[t.Name] = append(b.typeIDs[t.Name], id)
			previous = id
			id++
		}
		b.setMobility(ctx, mobility)
		manual = true
	}
	if manual {
		return true, nil
	}

	ncfg := core.NodeConfig{
		TypeName:        AutoNodeType,
		HoppingSequence: b.cfg.MACHoppingSequence,
		MobilityModel:   b.cfg.MobilityModel,
	}
	b.typeOrder = append(b.typeOrder, AutoNodeType)
	for id := model.NodeID(1); int(id) <= b.cfg.PositioningNumNodes; id++ {
		if _, err := net.AddNode(id, ncfg); err != nil {
			return false, err
		}
		b.typeIDs[AutoNodeType] = append(b.typeIDs[AutoNodeType], id)
	}
	return false, nil
}

// placeNodes applies POSITIONS (per type, then global) or, when none are
// given, generated positions in node creation order.
func (b *builder) placeNodes(ctx context.Context) error {
	manual := false
	for _, t := range b.cfg.NodeTypes {
		if !t.Valid() || len(t.Positions) == 0 {
			continue
		}
		manual = true
		for _, p := range t.Positions {
			b.applyPosition(ctx, p)
		}
	}
	if len(b.cfg.Positions) > 0 {
		manual = true
		for _, p := range b.cfg.Positions {
			b.applyPosition(ctx, p)
		}
	}
	if manual {
		return nil
	}

	nodes := b.s.Network.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	params, err := b.cfg.TopologyParams()
	if err != nil {
		return err
	}
	gen := topology.NewGenerator(params, b.loss, b.disk, b.s.RNG, b.log)
	positions, err := gen.Generate(ctx, len(nodes))
	if err != nil {
		return fmt.Errorf("generate %s layout: %w", params.Layout, err)
	}
	for i, n := range nodes {
		n.Pos = positions[i]
		b.log.Debug(ctx, fmt.Sprintf("set position x=%.2f y=%.2f", n.Pos.X, n.Pos.Y), logging.Int("node_id", int(n.ID)))
	}
	return nil
}

func (b *builder) applyPosition(ctx context.Context, p config.PositionSpec) {
	n := b.s.Network.FindNode(p.ID)
	if n == nil {
		b.log.Warn(ctx, "position specified for unknown node", logging.Int("node_id", int(p.ID)))
		return
	}
	if p.X != nil {
		n.Pos.X = b.coordinate(ctx, n.ID, "X", p.X)
	}
	if p.Y != nil {
		n.Pos.Y = b.coordinate(ctx, n.ID, "Y", p.Y)
	}
	b.log.Debug(ctx, fmt.Sprintf("X=%v, Y=%v", n.Pos.X, n.Pos.Y), logging.Int("node_id", int(n.ID)))
}

func (b *builder) coordinate(ctx context.Context, id model.NodeID, axis string, c *config.Coordinate) float64 {
	if c.Valid {
		return c.Value
	}
	b.log.Warn(ctx, fmt.Sprintf("invalid position %s coordinate=%q specified", axis, c.Raw), logging.Int("node_id", int(id)))
	return 0
}

// addRootSources makes every auto node except the root send to the root.
func (b *builder) addRootSources() {
	for _, n := range b.s.Network.Nodes() {
		if n.ID == model.RootNodeID || b.s.Network.FindNode(model.RootNodeID) == nil {
			continue
		}
		b.sources[n.ID] = append(b.sources[n.ID], refmac.Source{
			Dst:       model.RootNodeID,
			PeriodSec: b.cfg.AppPacketPeriodSec,
			Size:      b.cfg.AppPacketSize,
		})
	}
}

// connect creates per-type and global CONNECTIONS and the APP_PACKETS
// sources. It reports whether any connection was configured.
func (b *builder) connect(ctx context.Context) (bool, error) {
	manual := false
	for _, t := range b.cfg.NodeTypes {
		if !t.Valid() {
			continue
		}
		if len(t.Connections) > 0 {
			manual = true
			b.typesOut[t.Name] = true
			for _, conn := range t.Connections {
				to := conn.NodeType
				if to == "" {
					to = conn.ToNodeType
				}
				if _, ok := b.typeIDs[to]; !ok {
					b.log.Warn(ctx, "ignoring connections with unknown node type", logging.String("type", to))
					continue
				}
				b.typesIn[to] = true
				if err := b.linkTypes(ctx, t.Name, to, conn); err != nil {
					return manual, err
				}
			}
		}
		if t.AppPackets != nil {
			b.addTypeSources(ctx, t)
		}
	}

	if len(b.cfg.Connections) > 0 {
		manual = true
		for _, conn := range b.cfg.Connections {
			if err := b.connectGlobal(ctx, conn); err != nil {
				return manual, err
			}
		}
	}
	return manual, nil
}

func (b *builder) connectGlobal(ctx context.Context, conn model.Connection) error {
	from, to := conn.FromNodeType, conn.ToNodeType
	if conn.NodeType != "" || from != "" || to != "" {
		if conn.FromID != 0 || conn.ToID != 0 {
			b.log.Warn(ctx, "ignoring TO_ID/FROM_ID in connection configuration as *NODE_TYPE is specified")
		}
		if conn.NodeType != "" {
			if from != "" {
				b.log.Warn(ctx, "ignoring FROM_NODE_TYPE in connection configuration as NODE_TYPE is specified")
			}
			if to != "" {
				b.log.Warn(ctx, "ignoring TO_NODE_TYPE in connection configuration as NODE_TYPE is specified")
			}
			from, to = conn.NodeType, conn.NodeType
		}
		if _, ok := b.typeIDs[from]; !ok {
			b.log.Warn(ctx, "ignoring connections from unknown node type", logging.String("type", from))
			return nil
		}
		b.typesOut[from] = true
		if _, ok := b.typeIDs[to]; !ok {
			b.log.Warn(ctx, "ignoring connections to unknown node type", logging.String("type", to))
			return nil
		}
		b.typesIn[to] = true
		return b.linkTypes(ctx, from, to, conn)
	}

	net := b.s.Network
	switch {
	case net.FindNode(conn.FromID) == nil:
		b.log.Warn(ctx, "ignoring connection from unknown node", logging.Int("node_id", int(conn.FromID)))
	case net.FindNode(conn.ToID) == nil:
		b.log.Warn(ctx, "ignoring connection to unknown node", logging.Int("node_id", int(conn.ToID)))
	case conn.FromID == conn.ToID:
		b.log.Warn(ctx, "ignoring connection from node to itself", logging.Int("node_id", int(conn.FromID)))
	default:
		return b.addLink(ctx, conn.FromID, conn.ToID, conn)
	}
	return nil
}

func (b *builder) linkTypes(ctx context.Context, fromType, toType string, conn model.Connection) error {
	for _, from := range b.typeIDs[fromType] {
		for _, to := range b.typeIDs[toType] {
			if from == to {
				continue
			}
			if err := b.addLink(ctx, from, to, conn); err != nil {
				return err
			}
		}
	}
	return nil
}

// connectAll links every ordered pair of nodes with the layout's default
// link model.
func (b *builder) connectAll(ctx context.Context) error {
	kind := model.LinkModelLogisticLoss
	if layout, err := b.cfg.Layout(); err == nil && layout.UsesUnitDisk() {
		kind = model.LinkModelUDGM
	}
	b.log.Info(ctx, "creating links between all nodes", logging.String("link_model", string(kind)))
	conn := model.Connection{LinkModel: kind}
	nodes := b.s.Network.Nodes()
	for i, n1 := range nodes {
		for _, n2 := range nodes[i+1:] {
			if err := b.addLink(ctx, n1.ID, n2.ID, conn); err != nil {
				return err
			}
			if err := b.addLink(ctx, n2.ID, n1.ID, conn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) addLink(ctx context.Context, from, to model.NodeID, conn model.Connection) error {
	est, err := b.estimator(conn)
	if err != nil {
		return err
	}
	net := b.s.Network
	l := core.NewLink(net.FindNode(from), net.FindNode(to), conn, est)
	if _, err := net.AddLink(l); err != nil {
		if errors.Is(err, core.ErrDuplicateLink) {
			b.log.Warn(ctx, "ignoring duplicate connection", logging.String("link", l.Key().String()))
			return nil
		}
		return err
	}
	return nil
}

func (b *builder) estimator(conn model.Connection) (linkmodel.Estimator, error) {
	switch conn.LinkModel {
	case "", model.LinkModelLogisticLoss:
		return b.loss, nil
	case model.LinkModelUDGM:
		return b.disk, nil
	case model.LinkModelFixed:
		return linkmodel.Fixed(conn.RxSuccess, conn.RSSI), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLinkModel, conn.LinkModel)
	}
}

// addTypeSources creates the APP_PACKETS sources of a node type, towards
// every node of TO_TYPE or towards TO_ID (the root by default).
func (b *builder) addTypeSources(ctx context.Context, t config.NodeType) {
	app := t.AppPackets
	period := b.cfg.AppPacketPeriodSec
	if app.PeriodSec != nil {
		period = *app.PeriodSec
	}
	size := b.cfg.AppPacketSize
	if app.Size != nil {
		size = *app.Size
	}

	var dsts []model.NodeID
	switch {
	case app.ToType != "":
		ids, ok := b.typeIDs[app.ToType]
		if !ok {
			b.log.Warn(ctx, "application packets: unknown destination type", logging.String("type", app.ToType))
			return
		}
		dsts = ids
	default:
		dst := model.RootNodeID
		if app.ToID != nil {
			dst = *app.ToID
		}
		if b.s.Network.FindNode(dst) == nil {
			b.log.Warn(ctx, "application packets: invalid destination node", logging.Int("node_id", int(dst)))
			return
		}
		dsts = []model.NodeID{dst}
	}

	for _, dst := range dsts {
		for _, src := range b.typeIDs[t.Name] {
			if src == dst {
				continue
			}
			b.sources[src] = append(b.sources[src], refmac.Source{Dst: dst, PeriodSec: period, Size: size})
		}
	}
}

func (b *builder) warnUnconnectedTypes(ctx context.Context) {
	for _, t := range b.typeOrder {
		out, in := b.typesOut[t], b.typesIn[t]
		switch {
		case !out && !in:
			b.log.Warn(ctx, "no connections defined for node type", logging.String("type", t))
		case !out:
			b.log.Warn(ctx, "no outgoing connections defined for node type", logging.String("type", t))
		case !in:
			b.log.Warn(ctx, "no incoming connections defined for node type", logging.String("type", t))
		}
	}
}

func (b *builder) checkNodes(ctx context.Context) {
	for _, n := range b.s.Network.Nodes() {
		if n.NumLinks() == 0 {
			b.log.Warn(ctx, "node has no valid connections",
				logging.Int("node_id", int(n.ID)), logging.String("type", n.Config.TypeName))
		}
		b.log.Debug(ctx, "node links", logging.Int("node_id", int(n.ID)), logging.Int("links", n.NumLinks()))
	}
}

func (b *builder) installMACs() {
	env := refmac.Env{Scheduler: b.s.Scheduler, Router: b.s.Router, RNG: b.s.RNG}
	for _, n := range b.s.Network.Nodes() {
		n.MAC = refmac.New(refmac.Params{
			QueueSize:    b.cfg.MACQueueSize,
			MaxRetries:   b.cfg.MACMaxRetries,
			SubSlots:     b.cfg.MACMaxSubslots,
			SlotDuration: b.cfg.SlotDuration(),
			Sources:      b.sources[n.ID],
		}, env)
	}
}
