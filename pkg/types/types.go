package types

import (
	"math"
	"time"
)

// Position is a 2D location inside the simulation world, in meters.
type Position struct {
	X float64
	Y float64
}

// DistanceTo returns the Euclidean distance to another position.
func (p Position) DistanceTo(o Position) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// Clamp bounds the position into the world rectangle [0,w] x [0,h].
func (p Position) Clamp(w, h float64) Position {
	return Position{
		X: math.Min(math.Max(p.X, 0), w),
		Y: math.Min(math.Max(p.Y, 0), h),
	}
}

// RouteView is a read-only view of one routing table entry, exposed to the
// observation sink.
type RouteView struct {
	Dest    int
	NextHop int
	Cost    int
	Changed bool
}

// NodeSnapshot captures the externally visible state of one node at a
// snapshot instant.
type NodeSnapshot struct {
	ID        int
	Pos       Position
	Neighbors []int
	Routes    []RouteView
}

// PathRecord is one completed data delivery: the ordered list of node ids the
// packet visited and the virtual time it arrived.
type PathRecord struct {
	Path []int
	At   time.Duration
}
