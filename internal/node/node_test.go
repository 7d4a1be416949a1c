package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanet-sim/internal/config"
	"fanet-sim/internal/message"
	"fanet-sim/internal/network"
	"fanet-sim/internal/observe"
	"fanet-sim/internal/session"
	"fanet-sim/internal/stats"
	"fanet-sim/internal/vtime"
	"fanet-sim/pkg/types"
)

// helloFrom builds a flooded Hello envelope from a sender.
func helloFrom(sender int) message.Envelope {
	return message.NewEnvelope(sender, message.Flood, 0, message.Hello{Pos: types.Position{X: 1, Y: 1}, Seq: 1})
}

func testConfig() *config.Config {
	return &config.Config{
		Sim: config.SimConfig{
			NumNodes: 3, WorldWidthM: 200, WorldHeightM: 200, DurationS: 10, Seed: 1,
		},
		Radio: config.RadioConfig{
			CommRangeM: 100, PropSpeedMps: 3e8, BaseDelayS: 0.001, MaxPerHopDelayS: 0.015,
			MACMinBackoffS: 0.001, MACMaxBackoffS: 0.001, MACTxDurationS: 0.003, MACMaxRetries: 8,
		},
		Protocol: config.ProtocolConfig{
			HelloPeriodS: 0.6, DVPeriodS: 1.2, NeighborTimeoutS: 2.0, MaxHops: 16, TTL: 16,
		},
		Mobility: config.MobilityConfig{StepS: 0.2, SpeedMinMps: 5, SpeedMaxMps: 5},
		App:      config.AppConfig{SendPeriodS: 1.6, PairsPerPeriod: 1, PayloadBytes: 8},
		Observe:  config.ObserveConfig{SnapshotPeriodS: 1.0},
		Logging:  config.LoggingConfig{Level: "error"},
	}
}

func newTestNode(t *testing.T, id int, cfg *config.Config) (*Node, *vtime.Scheduler, *stats.Collector) {
	t.Helper()
	sched := vtime.NewScheduler(cfg.Sim.Seed)
	collector := stats.NewCollector()
	ch := network.New(sched, network.Config{
		CommRange:     cfg.Radio.CommRangeM,
		PropSpeed:     cfg.Radio.PropSpeedMps,
		BaseDelay:     cfg.Radio.BaseDelay(),
		MACMinBackoff: cfg.Radio.MACMinBackoff(),
		MACMaxBackoff: cfg.Radio.MACMaxBackoff(),
		MACTxDuration: cfg.Radio.MACTxDuration(),
		MACMaxRetries: cfg.Radio.MACMaxRetries,
	}, collector)
	alloc := session.NewAllocator(1)
	var n *Node
	for i := 0; i < cfg.Sim.NumNodes; i++ {
		m := New(i, cfg.Sim.NumNodes, cfg, sched, ch, alloc, collector, observe.NopSink{})
		ch.Attach(m)
		if i == id {
			n = m
		}
	}
	return n, sched, collector
}

func TestNode_New_PositionInsideWorld(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 0, cfg)
	pos := n.Position()
	assert.GreaterOrEqual(t, pos.X, 0.0)
	assert.LessOrEqual(t, pos.X, cfg.Sim.WorldWidthM)
	assert.GreaterOrEqual(t, pos.Y, 0.0)
	assert.LessOrEqual(t, pos.Y, cfg.Sim.WorldHeightM)
}

func TestNode_Mobility_StaysClamped(t *testing.T) {
	cfg := testConfig()
	cfg.Mobility.SpeedMinMps = 50
	cfg.Mobility.SpeedMaxMps = 50
	n, sched, _ := newTestNode(t, 0, cfg)

	n.Start()
	var out bool
	sched.Every(100*time.Millisecond, func() {
		p := n.Position()
		if p.X < 0 || p.X > cfg.Sim.WorldWidthM || p.Y < 0 || p.Y > cfg.Sim.WorldHeightM {
			out = true
		}
	})
	sched.Run(10 * time.Second)
	assert.False(t, out, "position left the world bounds")
}

func TestNode_Mobility_ZeroSpeedStaysPut(t *testing.T) {
	cfg := testConfig()
	cfg.Mobility.SpeedMinMps = 0
	cfg.Mobility.SpeedMaxMps = 0
	n, sched, _ := newTestNode(t, 0, cfg)
	n.SetPosition(types.Position{X: 60, Y: 60})

	n.Start()
	sched.Run(5 * time.Second)

	assert.Equal(t, types.Position{X: 60, Y: 60}, n.Position())
}

func TestNode_Mobility_ReachesWaypointEventually(t *testing.T) {
	cfg := testConfig()
	cfg.Mobility.SpeedMinMps = 40
	cfg.Mobility.SpeedMaxMps = 40
	n, sched, _ := newTestNode(t, 0, cfg)
	start := n.Position()
	firstWaypoint := n.waypoint

	n.Start()
	sched.Run(30 * time.Second)

	assert.NotEqual(t, start, n.Position(), "node with nonzero speed moved")
	assert.NotEqual(t, firstWaypoint, n.waypoint, "first waypoint reached and a new one drawn")
}

func TestNode_NextDestination_SkipsSelf(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 1, cfg)

	seen := map[int]int{}
	for i := 0; i < 12; i++ {
		dst := n.nextDestination()
		assert.NotEqual(t, 1, dst)
		seen[dst]++
	}
	assert.Equal(t, 2, len(seen), "round-robin cycles through every other node")
	assert.Equal(t, seen[0], seen[2], "destinations exercised evenly")
}

func TestNode_Deliver_HelloCreatesNeighborAndRoute(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 0, cfg)

	n.Deliver(helloFrom(1))

	assert.True(t, n.Table().IsNeighbor(1))
	r, ok := n.Table().Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 1, r.Cost)
}

func TestNode_Deliver_DVForOtherNextHopIgnored(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 0, cfg)
	n.Deliver(helloFrom(1))

	env := message.NewEnvelope(1, 2, 0, message.DV{Vector: map[int]int{5: 1}})
	n.Deliver(env)

	_, ok := n.Table().Lookup(5)
	assert.False(t, ok, "vector addressed to another neighbor is not installed")
}

func TestNode_Deliver_DataAtDestinationRecordsDelivery(t *testing.T) {
	cfg := testConfig()
	n, _, collector := newTestNode(t, 0, cfg)

	data := message.Data{
		Src: 2, Dst: 0, SessionID: 9, TTL: 4,
		Path: []int{2, 1}, OriginTime: 0,
	}
	n.Deliver(message.NewEnvelope(1, 0, 0, data))

	snap := collector.Snapshot()
	assert.Equal(t, uint64(1), snap.Delivered)
	assert.Equal(t, 1, n.Summarize().Delivered)
}

func TestNode_Deliver_DataLoopDropped(t *testing.T) {
	cfg := testConfig()
	n, _, collector := newTestNode(t, 0, cfg)

	data := message.Data{
		Src: 2, Dst: 5, SessionID: 9, TTL: 4,
		Path: []int{2, 0, 1}, OriginTime: 0,
	}
	n.Deliver(message.NewEnvelope(1, 0, 0, data))

	snap := collector.Snapshot()
	assert.Equal(t, uint64(1), snap.LoopDrops)
	assert.Equal(t, uint64(0), snap.Delivered)
}

func TestNode_Deliver_DataTTLExhaustedDropped(t *testing.T) {
	cfg := testConfig()
	n, _, collector := newTestNode(t, 0, cfg)
	n.Deliver(helloFrom(2))

	data := message.Data{
		Src: 1, Dst: 2, SessionID: 9, TTL: 1,
		Path: []int{1}, OriginTime: 0,
	}
	n.Deliver(message.NewEnvelope(1, 0, 0, data))

	assert.Equal(t, uint64(1), collector.Snapshot().TTLDrops)
}

func TestNode_Deliver_SessionReqAtDestinationAcks(t *testing.T) {
	cfg := testConfig()
	n, sched, collector := newTestNode(t, 0, cfg)
	n.Deliver(helloFrom(1))

	req := message.SessionReq{Src: 1, Dst: 0, SessionID: 7, TTL: 8}
	n.Deliver(message.NewEnvelope(1, 0, 0, req))
	sched.Run(time.Second)

	// The ack went back onto the channel toward node 1.
	assert.Equal(t, uint64(1), collector.Snapshot().FramesSent["session_ack"])
}

func TestNode_Deliver_DuplicateReqSuppressed(t *testing.T) {
	cfg := testConfig()
	n, _, collector := newTestNode(t, 0, cfg)
	n.Deliver(helloFrom(1))

	req := message.SessionReq{Src: 1, Dst: 0, SessionID: 7, TTL: 8}
	n.Deliver(message.NewEnvelope(1, 0, 0, req))
	n.Deliver(message.NewEnvelope(1, 0, 0, req))

	assert.Equal(t, uint64(1), collector.Snapshot().Duplicates)
}

func TestNode_Summarize_Empty(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 0, cfg)

	s := n.Summarize()
	assert.Equal(t, 0, s.Generated)
	assert.Equal(t, 0, s.Delivered)
	assert.Equal(t, 0.0, s.AvgLatencyS)
}

func TestNode_Snapshot_CarriesPositionAndRoutes(t *testing.T) {
	cfg := testConfig()
	n, _, _ := newTestNode(t, 0, cfg)
	n.SetPosition(types.Position{X: 10, Y: 20})
	n.Deliver(helloFrom(2))

	snap := n.Snapshot()
	assert.Equal(t, 0, snap.ID)
	assert.Equal(t, types.Position{X: 10, Y: 20}, snap.Pos)
	assert.Equal(t, []int{2}, snap.Neighbors)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, 2, snap.Routes[0].Dest)
}
