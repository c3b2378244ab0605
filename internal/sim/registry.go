package sim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/refmac"
	"github.com/signalsfoundry/tsch-simulator/model"
)

var (
	// ErrUnknownRouter is returned by Build for an unregistered ROUTING_ALGORITHM.
	ErrUnknownRouter = errors.New("unknown routing algorithm")
	// ErrUnknownScheduler is logged when SCHEDULING_ALGORITHM is not registered.
	ErrUnknownScheduler = errors.New("unknown scheduling algorithm")
)

// DefaultScheduler is used when the configured scheduler is unknown.
const DefaultScheduler = "6tischMin"

// SchedulerFactory builds a scheduler for a configuration.
type SchedulerFactory func(cfg config.Config) core.Scheduler

// RouterFactory builds a router for a configuration.
type RouterFactory func(cfg config.Config) core.Router

var schedulers = map[string]SchedulerFactory{
	DefaultScheduler: func(cfg config.Config) core.Scheduler {
		return refmac.NewMinimalScheduler(cfg.SlotframeLength)
	},
}

var routers = map[string]RouterFactory{
	"ShortestPathTree": func(config.Config) core.Router {
		return refmac.NewShortestPathTree(model.RootNodeID)
	},
	"NullRouting": func(config.Config) core.Router {
		return refmac.NullRouting{}
	},
}

// RegisterScheduler adds or replaces a scheduler factory. It is meant to be
// called from init functions, before any simulation is built.
func RegisterScheduler(name string, f SchedulerFactory) {
	schedulers[name] = f
}

// RegisterRouter adds or replaces a router factory. It is meant to be called
// from init functions, before any simulation is built.
func RegisterRouter(name string, f RouterFactory) {
	routers[name] = f
}

// Schedulers lists the registered scheduler names.
func Schedulers() []string { return sortedKeys(schedulers) }

// Routers lists the registered router names.
func Routers() []string { return sortedKeys(routers) }

func newScheduler(cfg config.Config) (core.Scheduler, error) {
	if f, ok := schedulers[cfg.SchedulingAlgorithm]; ok {
		return f(cfg), nil
	}
	return schedulers[DefaultScheduler](cfg), fmt.Errorf("%w: %q", ErrUnknownScheduler, cfg.SchedulingAlgorithm)
}

func newRouter(cfg config.Config) (core.Router, error) {
	f, ok := routers[cfg.RoutingAlgorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRouter, cfg.RoutingAlgorithm)
	}
	return f(cfg), nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
