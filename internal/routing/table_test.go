package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanet-sim/pkg/types"
)

func touch(t *Table, id int, now time.Duration) {
	t.Touch(id, types.Position{}, 1, now)
}

func TestTable_New_InstallsSelfRoute(t *testing.T) {
	rt := NewTable(3, DefaultMaxHops, false)
	r, ok := rt.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, 0, r.Cost)
	assert.Equal(t, 3, r.NextHop)
}

func TestTable_ExportTo_NeverAdvertisesSelf(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)

	vector := rt.ExportTo(1)
	_, hasSelf := vector[0]
	assert.False(t, hasSelf)
}

func TestTable_EnsureDirect_InstallsOneHop(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)

	r, ok := rt.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 1, r.Cost)
	assert.Equal(t, 1, r.NextHop)
	assert.True(t, r.Changed)
}

func TestTable_EnsureDirect_OverridesMultiHop(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 2, 0)
	rt.Relax(2, map[int]int{1: 2}, 0)

	r, _ := rt.Lookup(1)
	require.Equal(t, 3, r.Cost)

	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)
	r, _ = rt.Lookup(1)
	assert.Equal(t, 1, r.Cost)
	assert.Equal(t, 1, r.NextHop)
}

func TestTable_EnsureDirect_IdempotentRefreshesTimestamp(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)
	rt.ClearChanged()

	rt.EnsureDirect(1, 5*time.Second)
	r, _ := rt.Lookup(1)
	assert.Equal(t, 1, r.Cost)
	assert.Equal(t, 5*time.Second, r.UpdatedAt)
	assert.False(t, r.Changed)
}

func TestTable_Relax_InstallsNewDestination(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)

	rt.Relax(1, map[int]int{2: 1, 3: 2}, 0)

	r, ok := rt.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, 2, r.Cost)
	assert.Equal(t, 1, r.NextHop)

	r, ok = rt.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, 3, r.Cost)
}

func TestTable_Relax_SkipsSelf(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{0: 5}, 0)

	r, _ := rt.Lookup(0)
	assert.Equal(t, 0, r.Cost)
	assert.Equal(t, 0, r.NextHop)
}

func TestTable_Relax_KeepsBetterRoute(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	touch(rt, 2, 0)
	rt.EnsureDirect(1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0) // cost 2 via 1

	rt.Relax(2, map[int]int{5: 3}, 0) // cost 4 via 2, worse

	r, _ := rt.Lookup(5)
	assert.Equal(t, 2, r.Cost)
	assert.Equal(t, 1, r.NextHop)
}

func TestTable_Relax_AcceptsIncreaseFromCurrentNextHop(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	rt.Relax(1, map[int]int{5: 4}, 0)

	r, _ := rt.Lookup(5)
	assert.Equal(t, 5, r.Cost)
	assert.Equal(t, 1, r.NextHop)
}

func TestTable_Relax_PoisonFromNextHopWithdraws(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	rt.Relax(1, map[int]int{5: Inf}, 0)

	r, ok := rt.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, Inf, r.Cost)
	_, reachable := rt.Route(5)
	assert.False(t, reachable)
}

func TestTable_Relax_CostAboveMaxHopsIsInfinity(t *testing.T) {
	rt := NewTable(0, 4, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{5: 4}, 0) // candidate 5 > max 4

	_, ok := rt.Lookup(5)
	assert.False(t, ok, "unreachable news for unknown destination is not installed")
}

func TestTable_Relax_EqualCostHysteresis(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	touch(rt, 2, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	rt.Relax(2, map[int]int{5: 1}, 0) // same cost via a different neighbor

	r, _ := rt.Lookup(5)
	assert.Equal(t, 1, r.NextHop, "equal cost keeps the incumbent")
}

func TestTable_Route_RequiresCurrentNeighbor(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	next, ok := rt.Route(5)
	require.True(t, ok)
	assert.Equal(t, 1, next)

	// Neighbor ages out: the entry still exists but must not be used.
	rt.AgeNeighbors(time.Second, time.Minute, 10*time.Second)
	_, ok = rt.Route(5)
	assert.False(t, ok)
}

func TestTable_AgeNeighbors_RemovesStaleAndPoisons(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	removed := rt.AgeNeighbors(2*time.Second, time.Minute, 5*time.Second)
	assert.Equal(t, []int{1}, removed)
	assert.False(t, rt.IsNeighbor(1))

	for _, dest := range []int{1, 5} {
		r, ok := rt.Lookup(dest)
		require.True(t, ok, "poisoned entry %d persists for the hold-down", dest)
		assert.Equal(t, Inf, r.Cost)
		assert.True(t, r.Changed)
	}
}

func TestTable_AgeNeighbors_KeepsFreshNeighbor(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 4*time.Second)
	rt.EnsureDirect(1, 4*time.Second)

	removed := rt.AgeNeighbors(2*time.Second, time.Minute, 5*time.Second)
	assert.Empty(t, removed)
	assert.True(t, rt.IsNeighbor(1))
}

func TestTable_AgeNeighbors_GarbageCollectsAfterHoldDown(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)

	rt.AgeNeighbors(time.Second, 2*time.Second, 3*time.Second) // poison at t=3s
	_, ok := rt.Lookup(5)
	require.True(t, ok)

	rt.AgeNeighbors(time.Second, 2*time.Second, 10*time.Second)
	_, ok = rt.Lookup(5)
	assert.False(t, ok, "poisoned entry collected after hold-down")
}

func TestTable_ExportTo_PoisonedReverse(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	touch(rt, 2, 0)
	rt.EnsureDirect(1, 0)
	rt.EnsureDirect(2, 0)
	rt.Relax(1, map[int]int{5: 1}, 0) // 5 via 1, cost 2

	toOne := rt.ExportTo(1)
	assert.Equal(t, Inf, toOne[5], "route through the receiver is poisoned")
	assert.Equal(t, Inf, toOne[1])

	toTwo := rt.ExportTo(2)
	assert.Equal(t, 2, toTwo[5], "true cost exported to other neighbors")
	assert.Equal(t, 1, toTwo[1])
}

func TestTable_ExportTo_IncludesWithdrawnEntries(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 1, 0)
	touch(rt, 2, 0)
	rt.Relax(1, map[int]int{5: 1}, 0)
	rt.Relax(1, map[int]int{5: Inf}, 0)

	vector := rt.ExportTo(2)
	cost, ok := vector[5]
	require.True(t, ok, "withdrawals must propagate")
	assert.Equal(t, Inf, cost)
}

func TestTable_Snapshot_SortedAndExcludesSelf(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 2, 0)
	touch(rt, 1, 0)
	rt.EnsureDirect(2, 0)
	rt.EnsureDirect(1, 0)

	views := rt.Snapshot()
	require.Len(t, views, 2)
	assert.Equal(t, 1, views[0].Dest)
	assert.Equal(t, 2, views[1].Dest)
}

func TestTable_Neighbors_Sorted(t *testing.T) {
	rt := NewTable(0, DefaultMaxHops, false)
	touch(rt, 3, 0)
	touch(rt, 1, 0)
	touch(rt, 2, 0)
	assert.Equal(t, []int{1, 2, 3}, rt.Neighbors())
}

func TestTable_BoundedCost_Invariant(t *testing.T) {
	rt := NewTable(0, 4, false)
	touch(rt, 1, 0)
	rt.EnsureDirect(1, 0)
	rt.Relax(1, map[int]int{2: 1, 3: 3, 4: 9}, 0)

	for _, v := range rt.Snapshot() {
		ok := (v.Cost >= 0 && v.Cost <= 4) || v.Cost == Inf
		assert.True(t, ok, "cost %d out of bounds for dest %d", v.Cost, v.Dest)
	}
}
