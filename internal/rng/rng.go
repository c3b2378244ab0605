// Package rng holds the single sequential random stream shared by every
// component of a simulation run.
package rng

import (
	"fmt"
	"math/rand/v2"
)

// Source is a seedable generator whose state can be captured and restored.
// It is not safe for concurrent use; a simulation run owns exactly one.
type Source struct {
	pcg *rand.PCG
	r   *rand.Rand
}

// State is an opaque snapshot of a Source.
type State []byte

// New returns a Source seeded with seed.
func New(seed uint64) *Source {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, r: rand.New(pcg)}
}

// Seed resets the stream as if it had been created with New(seed).
func (s *Source) Seed(seed uint64) {
	s.pcg.Seed(seed, seed^0x9e3779b97f4a7c15)
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 { return s.r.Float64() }

// IntN returns a uniform value in [0, n).
func (s *Source) IntN(n int) int { return s.r.IntN(n) }

// Snapshot captures the current generator state.
func (s *Source) Snapshot() State {
	b, err := s.pcg.MarshalBinary()
	if err != nil {
		// PCG marshalling cannot fail.
		panic(fmt.Sprintf("rng: snapshot: %v", err))
	}
	return b
}

// Restore rewinds the generator to a previously captured state.
func (s *Source) Restore(st State) error {
	if err := s.pcg.UnmarshalBinary(st); err != nil {
		return fmt.Errorf("rng: restore: %w", err)
	}
	return nil
}

// WithSeed runs fn against the stream reseeded with seed, then restores the
// previous state so draws made after fn are unaffected by it.
func (s *Source) WithSeed(seed uint64, fn func() error) error {
	saved := s.Snapshot()
	s.Seed(seed)
	fnErr := fn()
	if err := s.Restore(saved); err != nil {
		return err
	}
	return fnErr
}
