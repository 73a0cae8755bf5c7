// Package geometry owns crop shapes and the pointer gesture state machine
// that edits them. All coordinates are image pixels.
package geometry

import (
	"fmt"
	"math"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func (p Point) String() string {
	return fmt.Sprintf("(%.1f,%.1f)", p.X, p.Y)
}

type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Region is a crop region: exactly one of Rect or Quad is set.
type Region struct {
	Rect *Rect `json:"rect,omitempty"`
	Quad *Quad `json:"quad,omitempty"`
}

// Clone returns a deep copy so snapshots never alias the live region.
func (r Region) Clone() Region {
	var out Region
	if r.Rect != nil {
		rc := *r.Rect
		out.Rect = &rc
	}
	if r.Quad != nil {
		qc := *r.Quad
		out.Quad = &qc
	}
	return out
}

func (r Region) Empty() bool { return r.Rect == nil && r.Quad == nil }

func (r Region) String() string {
	switch {
	case r.Rect != nil:
		return r.Rect.String()
	case r.Quad != nil:
		return r.Quad.String()
	}
	return "region(empty)"
}

// Config holds the tunables of the gesture engine.
type Config struct {
	// MinSize is the floor for rect width/height and quad edge length.
	MinSize float64
	// Damping scales pointer deltas while resizing.
	Damping float64
	// HandleRadius is the hit radius of corner handles, in image pixels.
	HandleRadius float64
	// RotateHandleOffset is the distance of the quad rotate handle from the top edge.
	RotateHandleOffset float64
	// DefaultFraction is the share of the image covered by a new region.
	DefaultFraction float64
}

func DefaultConfig() Config {
	return Config{
		MinSize:            30,
		Damping:            0.3,
		HandleRadius:       12,
		RotateHandleOffset: 30,
		DefaultFraction:    0.8,
	}
}

// minSizeFor caps the configured floor to what the image can hold.
func (c Config) minSizeFor(bounds Size) float64 {
	return math.Min(c.MinSize, math.Min(bounds.W, bounds.H))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
