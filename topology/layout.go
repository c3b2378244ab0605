// Package topology synthesizes node placements. Deterministic layouts are
// computed in closed form; random mesh layouts are found by local search
// against an average-degree target.
package topology

import (
	"errors"
	"fmt"
	"strings"
)

// Layout selects a placement strategy.
type Layout int

const (
	LayoutUnknown Layout = iota
	LayoutPoint
	LayoutLine
	LayoutGrid
	LayoutDenseGrid
	LayoutMesh
	LayoutDenseMesh
)

var ErrUnknownLayout = errors.New("unknown layout")

var layoutNames = map[Layout]string{
	LayoutPoint:     "Point",
	LayoutLine:      "Line",
	LayoutGrid:      "Grid",
	LayoutDenseGrid: "DenseGrid",
	LayoutMesh:      "Mesh",
	LayoutDenseMesh: "DenseMesh",
}

// aliases accepted from configuration files, including the historical names.
var layoutAliases = map[string]Layout{
	"point":            LayoutPoint,
	"star":             LayoutPoint,
	"line":             LayoutLine,
	"grid":             LayoutGrid,
	"densegrid":        LayoutDenseGrid,
	"dalgrid":          LayoutDenseGrid,
	"dalphygridmesh":   LayoutDenseGrid,
	"mesh":             LayoutMesh,
	"densemesh":        LayoutDenseMesh,
	"dalphyrandommesh": LayoutDenseMesh,
}

func (l Layout) String() string {
	if s, ok := layoutNames[l]; ok {
		return s
	}
	return "Unknown"
}

// ParseLayout maps a configuration string to a Layout.
func ParseLayout(s string) (Layout, error) {
	if l, ok := layoutAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return LayoutUnknown, fmt.Errorf("%w: %q (select one of Point/Line/Grid/DenseGrid/Mesh/DenseMesh)", ErrUnknownLayout, s)
}

// UsesUnitDisk reports whether links for this layout are evaluated with the
// threshold model rather than the logistic-loss model.
func (l Layout) UsesUnitDisk() bool {
	return l == LayoutDenseGrid || l == LayoutDenseMesh
}
