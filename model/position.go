package model

import "math"

// Position is a planar node placement in metres.
type Position struct {
	X, Y float64
}

// DistanceTo returns the straight-line distance between two points.
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Norm returns the distance from the origin.
func (p Position) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y)
}

// Polar builds a position from a distance and an angle. The angle is
// measured from the Y axis, so (d, 0) lands on (0, d).
func Polar(distance, angle float64) Position {
	return Position{
		X: distance * math.Sin(angle),
		Y: distance * math.Cos(angle),
	}
}
