package config

import (
	"encoding/json"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Coordinate is a position component as written in the config file. A value
// that does not parse as a number is kept so the builder can warn about it
// and fall back to 0.
type Coordinate struct {
	Raw   string
	Value float64
	Valid bool
}

// Float returns a valid coordinate.
func Float(v float64) *Coordinate {
	return &Coordinate{Raw: strconv.FormatFloat(v, 'g', -1, 64), Value: v, Valid: true}
}

func (c *Coordinate) UnmarshalYAML(node *yaml.Node) error {
	c.Raw = node.Value
	v, err := strconv.ParseFloat(node.Value, 64)
	c.Value, c.Valid = v, err == nil
	if !c.Valid {
		c.Value = 0
	}
	return nil
}

func (c Coordinate) MarshalYAML() (any, error) {
	if c.Valid {
		return c.Value, nil
	}
	return c.Raw, nil
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	if c.Valid {
		return json.Marshal(c.Value)
	}
	return json.Marshal(c.Raw)
}
