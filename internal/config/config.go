// Package config loads and validates simulation configuration. Keys keep the
// upper-case names used by existing TSCH simulation config files; JSON files
// are accepted since they parse as YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/tsch-simulator/linkmodel"
	"github.com/signalsfoundry/tsch-simulator/model"
	"github.com/signalsfoundry/tsch-simulator/topology"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete configuration surface of one simulation run.
type Config struct {
	SimulationDurationSec float64 `yaml:"SIMULATION_DURATION_SEC" json:"SIMULATION_DURATION_SEC"`
	SimulationSeed        uint64  `yaml:"SIMULATION_SEED" json:"SIMULATION_SEED"`
	SimulationRunID       int     `yaml:"SIMULATION_RUN_ID" json:"SIMULATION_RUN_ID"`

	MACSlotDurationUS  int   `yaml:"MAC_SLOT_DURATION_US" json:"MAC_SLOT_DURATION_US"`
	MACMaxSubslots     int   `yaml:"MAC_MAX_SUBSLOTS" json:"MAC_MAX_SUBSLOTS"`
	MACHoppingSequence []int `yaml:"MAC_HOPPING_SEQUENCE" json:"MAC_HOPPING_SEQUENCE"`
	MACMaxRetries      int   `yaml:"MAC_MAX_RETRIES" json:"MAC_MAX_RETRIES"`
	MACQueueSize       int   `yaml:"MAC_QUEUE_SIZE" json:"MAC_QUEUE_SIZE"`
	SlotframeLength    int   `yaml:"SLOTFRAME_LENGTH" json:"SLOTFRAME_LENGTH"`

	SchedulingAlgorithm string `yaml:"SCHEDULING_ALGORITHM" json:"SCHEDULING_ALGORITHM"`
	RoutingAlgorithm    string `yaml:"ROUTING_ALGORITHM" json:"ROUTING_ALGORITHM"`
	MobilityModel       string `yaml:"MOBILITY_MODEL" json:"MOBILITY_MODEL"`

	AppPacketPeriodSec float64 `yaml:"APP_PACKET_PERIOD_SEC" json:"APP_PACKET_PERIOD_SEC"`
	AppPacketSize      int     `yaml:"APP_PACKET_SIZE" json:"APP_PACKET_SIZE"`

	PositioningLayout        string  `yaml:"POSITIONING_LAYOUT" json:"POSITIONING_LAYOUT"`
	PositioningNumNodes      int     `yaml:"POSITIONING_NUM_NODES" json:"POSITIONING_NUM_NODES"`
	PositioningNumDegrees    float64 `yaml:"POSITIONING_NUM_DEGREES" json:"POSITIONING_NUM_DEGREES"`
	PositioningAreaRadius    float64 `yaml:"POSITIONING_AREA_RADIUS" json:"POSITIONING_AREA_RADIUS"`
	PositioningLinkQuality   float64 `yaml:"POSITIONING_LINK_QUALITY" json:"POSITIONING_LINK_QUALITY"`
	PositioningRandomSeed    *uint64 `yaml:"POSITIONING_RANDOM_SEED" json:"POSITIONING_RANDOM_SEED"`
	PositioningMaxIterations int     `yaml:"POSITIONING_MAX_ITERATIONS" json:"POSITIONING_MAX_ITERATIONS"`
	DenseNodeDistance        float64 `yaml:"DAL_NODE_DISTANCE" json:"DAL_NODE_DISTANCE"`
	DenseMinDegree           float64 `yaml:"DENSE_MIN_DEGREE" json:"DENSE_MIN_DEGREE"`
	DenseDegreeCap           int     `yaml:"DENSE_DEGREE_CAP" json:"DENSE_DEGREE_CAP"`

	linkmodel.LogisticLossParams `yaml:",inline"`
	linkmodel.UnitDiskParams     `yaml:",inline"`

	NodeTypes   []NodeType         `yaml:"NODE_TYPES" json:"NODE_TYPES"`
	Positions   []PositionSpec     `yaml:"POSITIONS" json:"POSITIONS"`
	Connections []model.Connection `yaml:"CONNECTIONS" json:"CONNECTIONS"`

	SaveResults bool   `yaml:"SAVE_RESULTS" json:"SAVE_RESULTS"`
	ResultsDir  string `yaml:"RESULTS_DIR" json:"RESULTS_DIR"`
}

// NodeType declares a group of nodes sharing settings.
type NodeType struct {
	Name          string             `yaml:"NAME" json:"NAME"`
	Count         int                `yaml:"COUNT" json:"COUNT"`
	StartID       *model.NodeID      `yaml:"START_ID,omitempty" json:"START_ID,omitempty"`
	MobilityModel string             `yaml:"MOBILITY_MODEL,omitempty" json:"MOBILITY_MODEL,omitempty"`
	Positions     []PositionSpec     `yaml:"POSITIONS,omitempty" json:"POSITIONS,omitempty"`
	Connections   []model.Connection `yaml:"CONNECTIONS,omitempty" json:"CONNECTIONS,omitempty"`
	AppPackets    *AppPackets        `yaml:"APP_PACKETS,omitempty" json:"APP_PACKETS,omitempty"`
}

// Valid reports whether the type has a name and a nonzero count.
func (t NodeType) Valid() bool {
	return t.Name != "" && t.Count > 0
}

// AppPackets configures the application traffic generated by a node type.
// Unset period and size fall back to the global values.
type AppPackets struct {
	PeriodSec *float64      `yaml:"APP_PACKET_PERIOD_SEC,omitempty" json:"APP_PACKET_PERIOD_SEC,omitempty"`
	Size      *int          `yaml:"APP_PACKET_SIZE,omitempty" json:"APP_PACKET_SIZE,omitempty"`
	ToType    string        `yaml:"TO_TYPE,omitempty" json:"TO_TYPE,omitempty"`
	ToID      *model.NodeID `yaml:"TO_ID,omitempty" json:"TO_ID,omitempty"`
}

// PositionSpec pins a node to explicit coordinates.
type PositionSpec struct {
	ID model.NodeID `yaml:"ID" json:"ID"`
	X  *Coordinate  `yaml:"X,omitempty" json:"X,omitempty"`
	Y  *Coordinate  `yaml:"Y,omitempty" json:"Y,omitempty"`
}

// Default returns the configuration used for any key a file leaves unset.
func Default() Config {
	return Config{
		SimulationDurationSec: 3600,
		SimulationSeed:        0,

		MACSlotDurationUS:  10000,
		MACMaxSubslots:     1,
		MACHoppingSequence: []int{15, 25, 26, 20},
		MACMaxRetries:      7,
		MACQueueSize:       8,
		SlotframeLength:    7,

		SchedulingAlgorithm: "6tischMin",
		RoutingAlgorithm:    "ShortestPathTree",
		MobilityModel:       "Static",

		AppPacketPeriodSec: 60,
		AppPacketSize:      64,

		PositioningLayout:        "Mesh",
		PositioningNumNodes:      10,
		PositioningLinkQuality:   0.5,
		PositioningMaxIterations: topology.DefaultMaxIterations,
		DenseNodeDistance:        10,
		DenseMinDegree:           8,
		DenseDegreeCap:           15,

		LogisticLossParams: linkmodel.DefaultLogisticLossParams(),
		UnitDiskParams:     linkmodel.DefaultUnitDiskParams(),

		ResultsDir: "results",
	}
}

// Parse decodes a document over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values the core cannot run without.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.SimulationDurationSec < 0 {
		fail("SIMULATION_DURATION_SEC must not be negative, got %v", c.SimulationDurationSec)
	}
	if c.MACSlotDurationUS <= 0 {
		fail("MAC_SLOT_DURATION_US must be positive, got %d", c.MACSlotDurationUS)
	}
	if c.MACMaxSubslots < 1 {
		fail("MAC_MAX_SUBSLOTS must be at least 1, got %d", c.MACMaxSubslots)
	}
	if len(c.MACHoppingSequence) == 0 {
		fail("MAC_HOPPING_SEQUENCE must not be empty")
	}
	if c.SlotframeLength < 1 {
		fail("SLOTFRAME_LENGTH must be at least 1, got %d", c.SlotframeLength)
	}
	if c.MACQueueSize < 1 {
		fail("MAC_QUEUE_SIZE must be at least 1, got %d", c.MACQueueSize)
	}
	if c.MACMaxRetries < 0 {
		fail("MAC_MAX_RETRIES must not be negative, got %d", c.MACMaxRetries)
	}
	if _, err := topology.ParseLayout(c.PositioningLayout); err != nil {
		errs = append(errs, fmt.Errorf("%w: POSITIONING_LAYOUT: %v", ErrInvalidConfig, err))
	}
	if c.PositioningNumNodes < 0 {
		fail("POSITIONING_NUM_NODES must not be negative, got %d", c.PositioningNumNodes)
	}
	if c.PositioningLinkQuality <= 0 || c.PositioningLinkQuality >= 1 {
		fail("POSITIONING_LINK_QUALITY must be in (0, 1), got %v", c.PositioningLinkQuality)
	}
	if c.LogisticLossParams.TransmitRangeM <= 0 {
		fail("LOGLOSS_TRANSMIT_RANGE_M must be positive, got %v", c.LogisticLossParams.TransmitRangeM)
	}
	if c.PathLossExponent <= 0 {
		fail("LOGLOSS_PATH_LOSS_EXPONENT must be positive, got %v", c.PathLossExponent)
	}
	if c.UnitDiskParams.TransmitRangeM <= 0 {
		fail("UDGM_TRANSMIT_RANGE_M must be positive, got %v", c.UnitDiskParams.TransmitRangeM)
	}
	if c.AppPacketPeriodSec < 0 {
		fail("APP_PACKET_PERIOD_SEC must not be negative, got %v", c.AppPacketPeriodSec)
	}
	return errors.Join(errs...)
}

// Equal reports structural equality; a running simulation is rebuilt when
// its configuration stops being Equal to the active one.
func (c Config) Equal(other Config) bool {
	return reflect.DeepEqual(c, other)
}

// Clone returns a deep copy, so later edits to c do not leak into the copy.
func (c Config) Clone() Config {
	out := c
	out.MACHoppingSequence = append([]int(nil), c.MACHoppingSequence...)
	if c.PositioningRandomSeed != nil {
		seed := *c.PositioningRandomSeed
		out.PositioningRandomSeed = &seed
	}
	out.Positions = clonePositions(c.Positions)
	out.Connections = append([]model.Connection(nil), c.Connections...)
	if c.NodeTypes != nil {
		out.NodeTypes = make([]NodeType, len(c.NodeTypes))
		for i, t := range c.NodeTypes {
			nt := t
			if t.StartID != nil {
				id := *t.StartID
				nt.StartID = &id
			}
			nt.Positions = clonePositions(t.Positions)
			nt.Connections = append([]model.Connection(nil), t.Connections...)
			if t.AppPackets != nil {
				ap := *t.AppPackets
				nt.AppPackets = &ap
			}
			out.NodeTypes[i] = nt
		}
	}
	return out
}

func clonePositions(in []PositionSpec) []PositionSpec {
	if in == nil {
		return nil
	}
	out := make([]PositionSpec, len(in))
	for i, p := range in {
		out[i] = PositionSpec{ID: p.ID}
		if p.X != nil {
			x := *p.X
			out[i].X = &x
		}
		if p.Y != nil {
			y := *p.Y
			out[i].Y = &y
		}
	}
	return out
}

// SlotDuration is the length of one timeslot.
func (c Config) SlotDuration() time.Duration {
	return time.Duration(c.MACSlotDurationUS) * time.Microsecond
}

// Layout returns the parsed positioning layout.
func (c Config) Layout() (topology.Layout, error) {
	return topology.ParseLayout(c.PositioningLayout)
}

// TopologyParams maps the positioning keys onto generator parameters.
func (c Config) TopologyParams() (topology.Params, error) {
	layout, err := c.Layout()
	if err != nil {
		return topology.Params{}, err
	}
	return topology.Params{
		Layout:         layout,
		LinkQuality:    c.PositioningLinkQuality,
		TargetDegree:   c.PositioningNumDegrees,
		AreaRadius:     c.PositioningAreaRadius,
		NodeDistance:   c.DenseNodeDistance,
		DenseMinDegree: c.DenseMinDegree,
		DenseDegreeCap: c.DenseDegreeCap,
		Seed:           c.PositioningRandomSeed,
		MaxIterations:  c.PositioningMaxIterations,
	}, nil
}
