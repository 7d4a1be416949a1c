package routing

import (
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"fanet-sim/pkg/types"
)

// Inf is the unreachable-cost sentinel. Costs above the table's hop ceiling
// collapse to Inf on ingress.
const Inf = 1 << 30

// DefaultMaxHops bounds advertised costs; it only needs to cover the network
// diameter of expected configurations.
const DefaultMaxHops = 16

// Route is one routing table entry.
type Route struct {
	Cost      int
	NextHop   int
	UpdatedAt time.Duration
	Changed   bool

	// poisonedAt records when Cost became Inf, so withdrawn entries survive
	// long enough for the poison to be advertised before garbage collection.
	poisonedAt time.Duration
}

// Neighbor is one entry of the node's neighbor set, refreshed on every Hello.
type Neighbor struct {
	LastHeard time.Duration
	Pos       types.Position
	HelloSeq  int
}

// Table is a per-node distance-vector routing table plus the neighbor set
// that backs it. It is mutated only from the owning node's tasks; the
// cooperative scheduler serializes those, so no locking is needed.
type Table struct {
	self       int
	maxHops    int
	logChanges bool
	routes     map[int]*Route
	neighbors  map[int]*Neighbor
}

// NewTable creates a table for node self with the self-route installed.
func NewTable(self, maxHops int, logChanges bool) *Table {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	t := &Table{
		self:       self,
		maxHops:    maxHops,
		logChanges: logChanges,
		routes:     make(map[int]*Route),
		neighbors:  make(map[int]*Neighbor),
	}
	t.routes[self] = &Route{Cost: 0, NextHop: self}
	return t
}

// Self returns the owning node id.
func (t *Table) Self() int { return t.self }

// Touch creates or refreshes the neighbor entry for id and reports whether
// the neighbor is new.
func (t *Table) Touch(id int, pos types.Position, helloSeq int, now time.Duration) bool {
	n, ok := t.neighbors[id]
	if !ok {
		t.neighbors[id] = &Neighbor{LastHeard: now, Pos: pos, HelloSeq: helloSeq}
		return true
	}
	n.LastHeard = now
	n.Pos = pos
	n.HelloSeq = helloSeq
	return false
}

// IsNeighbor reports whether id is currently in the neighbor set.
func (t *Table) IsNeighbor(id int) bool {
	_, ok := t.neighbors[id]
	return ok
}

// Neighbors returns the current neighbor ids in ascending order.
func (t *Table) Neighbors() []int {
	ids := make([]int, 0, len(t.neighbors))
	for id := range t.neighbors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NeighborInfo returns the neighbor entry for id.
func (t *Table) NeighborInfo(id int) (Neighbor, bool) {
	n, ok := t.neighbors[id]
	if !ok {
		return Neighbor{}, false
	}
	return *n, true
}

// EnsureDirect installs or restores the one-hop route to a neighbor the node
// just heard from. Idempotent when a one-hop route already exists; the entry
// timestamp is still refreshed.
func (t *Table) EnsureDirect(neighbor int, now time.Duration) {
	r, ok := t.routes[neighbor]
	if ok && r.Cost <= 1 {
		r.UpdatedAt = now
		return
	}
	t.routes[neighbor] = &Route{Cost: 1, NextHop: neighbor, UpdatedAt: now, Changed: true}
	if t.logChanges {
		log.WithFields(log.Fields{"node": t.self, "dest": neighbor}).Debug("Installed direct route")
	}
}

// Relax applies one Bellman-Ford step with the vector advertised by from.
// Updates follow the distance-vector rules: install unknown destinations,
// take strict improvements, and always accept re-advertisements from the
// current next hop, including cost increases.
func (t *Table) Relax(from int, vector map[int]int, now time.Duration) {
	dests := make([]int, 0, len(vector))
	for d := range vector {
		dests = append(dests, d)
	}
	sort.Ints(dests)

	for _, dest := range dests {
		if dest == t.self {
			continue
		}
		cand := vector[dest] + 1
		if vector[dest] >= Inf || cand > t.maxHops {
			cand = Inf
		}

		cur, ok := t.routes[dest]
		switch {
		case !ok:
			if cand == Inf {
				continue
			}
			t.install(dest, cand, from, now)
		case cand < cur.Cost:
			t.install(dest, cand, from, now)
		case cur.NextHop == from && cand != cur.Cost:
			t.install(dest, cand, from, now)
		case cand == cur.Cost && cand < Inf && !t.IsNeighbor(cur.NextHop) && cur.NextHop != t.self:
			// Equal cost keeps the incumbent, unless its next hop is gone.
			t.install(dest, cand, from, now)
		}
	}
}

func (t *Table) install(dest, cost, nextHop int, now time.Duration) {
	r := &Route{Cost: cost, NextHop: nextHop, UpdatedAt: now, Changed: true}
	if cost == Inf {
		r.poisonedAt = now
	}
	t.routes[dest] = r
	if t.logChanges {
		log.WithFields(log.Fields{
			"node":     t.self,
			"dest":     dest,
			"next_hop": nextHop,
			"cost":     costString(cost),
		}).Debug("Route updated")
	}
}

// AgeNeighbors drops neighbors not heard from within timeout and poisons
// every route whose next hop is no longer a neighbor. Poisoned entries are
// garbage-collected once they have been held for at least holdDown, so the
// withdrawal gets advertised before the entry disappears. Returns the ids of
// the removed neighbors in ascending order.
func (t *Table) AgeNeighbors(timeout, holdDown, now time.Duration) []int {
	var removed []int
	for id, n := range t.neighbors {
		if now-n.LastHeard > timeout {
			removed = append(removed, id)
		}
	}
	sort.Ints(removed)
	for _, id := range removed {
		delete(t.neighbors, id)
		if t.logChanges {
			log.WithFields(log.Fields{"node": t.self, "neighbor": id}).Debug("Neighbor timed out")
		}
	}

	for dest, r := range t.routes {
		if dest == t.self {
			continue
		}
		if r.Cost < Inf && !t.IsNeighbor(r.NextHop) {
			r.Cost = Inf
			r.Changed = true
			r.UpdatedAt = now
			r.poisonedAt = now
			if t.logChanges {
				log.WithFields(log.Fields{"node": t.self, "dest": dest}).Debug("Route poisoned")
			}
		}
		if r.Cost == Inf && now-r.poisonedAt > holdDown {
			delete(t.routes, dest)
		}
	}
	return removed
}

// ExportTo builds the vector advertised to one specific neighbor, applying
// split horizon with poisoned reverse: destinations routed through that
// neighbor are exported as Inf. The self entry is never advertised.
// Unreachable entries are included so withdrawals propagate.
func (t *Table) ExportTo(neighbor int) map[int]int {
	vector := make(map[int]int, len(t.routes))
	for dest, r := range t.routes {
		if dest == t.self {
			continue
		}
		if r.NextHop == neighbor {
			vector[dest] = Inf
			continue
		}
		vector[dest] = r.Cost
	}
	return vector
}

// Route returns the next hop toward dst, if the table holds a finite-cost
// entry whose next hop is still a current neighbor.
func (t *Table) Route(dst int) (int, bool) {
	r, ok := t.routes[dst]
	if !ok || r.Cost >= Inf {
		return 0, false
	}
	if !t.IsNeighbor(r.NextHop) {
		return 0, false
	}
	return r.NextHop, true
}

// Lookup returns a copy of the entry for dst.
func (t *Table) Lookup(dst int) (Route, bool) {
	r, ok := t.routes[dst]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Snapshot returns all entries except the self route, sorted by destination.
func (t *Table) Snapshot() []types.RouteView {
	views := make([]types.RouteView, 0, len(t.routes))
	for dest, r := range t.routes {
		if dest == t.self {
			continue
		}
		views = append(views, types.RouteView{Dest: dest, NextHop: r.NextHop, Cost: r.Cost, Changed: r.Changed})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Dest < views[j].Dest })
	return views
}

// ClearChanged resets every entry's changed flag, called after each
// reporting period.
func (t *Table) ClearChanged() {
	for _, r := range t.routes {
		r.Changed = false
	}
}

func costString(cost int) string {
	if cost >= Inf {
		return "inf"
	}
	return strconv.Itoa(cost)
}
