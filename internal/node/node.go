package node

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"fanet-sim/internal/config"
	"fanet-sim/internal/message"
	"fanet-sim/internal/network"
	"fanet-sim/internal/observe"
	"fanet-sim/internal/routing"
	"fanet-sim/internal/session"
	"fanet-sim/internal/stats"
	"fanet-sim/internal/vtime"
	"fanet-sim/pkg/types"
)

// Node is one drone: position and waypoint state, neighbor and routing
// tables, session bookkeeping, and the periodic tasks that drive them. All
// state is mutated from scheduler callbacks only, so tasks never interleave
// mid-update.
type Node struct {
	id       int
	numNodes int
	cfg      *config.Config
	sched    *vtime.Scheduler
	channel  *network.Channel
	table    *routing.Table
	book     *session.Book
	alloc    *session.Allocator
	stats    *stats.Collector
	sink     observe.Sink

	pos        types.Position
	waypoint   types.Position
	speed      float64
	pauseUntil time.Duration

	helloSeq int
	appRR    int

	// Per-node data-plane accounting for the end-of-run summary.
	generated  int
	delivered  int
	sumLatency time.Duration
	sumHops    int

	fatal error
}

// New creates a node at a random position with a first waypoint drawn.
func New(id, numNodes int, cfg *config.Config, sched *vtime.Scheduler, ch *network.Channel,
	alloc *session.Allocator, collector *stats.Collector, sink observe.Sink) *Node {

	n := &Node{
		id:       id,
		numNodes: numNodes,
		cfg:      cfg,
		sched:    sched,
		channel:  ch,
		table:    routing.NewTable(id, cfg.Protocol.MaxHops, cfg.Protocol.LogDVChanges),
		book:     session.NewBook(),
		alloc:    alloc,
		stats:    collector,
		sink:     sink,
		appRR:    id, // stagger round-robin cursors so nodes pick different peers
	}
	n.pos = types.Position{
		X: sched.Uniform(0, cfg.Sim.WorldWidthM),
		Y: sched.Uniform(0, cfg.Sim.WorldHeightM),
	}
	n.pickWaypoint()
	return n
}

// ID returns the node id.
func (n *Node) ID() int { return n.id }

// Position returns the current position.
func (n *Node) Position() types.Position { return n.pos }

// SetPosition moves the node, used by scripted scenarios.
func (n *Node) SetPosition(p types.Position) {
	n.pos = p.Clamp(n.cfg.Sim.WorldWidthM, n.cfg.Sim.WorldHeightM)
}

// Table exposes the routing table for tests and snapshots.
func (n *Node) Table() *routing.Table { return n.table }

// Fatal returns the first programmer error hit in dispatch, if any.
func (n *Node) Fatal() error { return n.fatal }

// Start schedules the node's periodic tasks. Receive dispatch is not
// scheduled here: the channel drives it by invoking Deliver per frame.
func (n *Node) Start() {
	n.sched.Every(n.cfg.Mobility.Step(), n.mobilityTick)
	n.sched.Every(n.cfg.Protocol.HelloPeriod(), n.helloTick)
	n.sched.Every(n.cfg.Protocol.DVPeriod(), n.dvTick)
	n.sched.Every(n.cfg.App.SendPeriod(), n.appTick)
	n.sched.Every(n.cfg.Protocol.NeighborTimeout()/2, n.agingTick)
}

// -------- Mobility --------

func (n *Node) pickWaypoint() {
	n.waypoint = types.Position{
		X: n.sched.Uniform(0, n.cfg.Sim.WorldWidthM),
		Y: n.sched.Uniform(0, n.cfg.Sim.WorldHeightM),
	}
	n.speed = n.sched.Uniform(n.cfg.Mobility.SpeedMinMps, n.cfg.Mobility.SpeedMaxMps)
	pause := n.sched.UniformDuration(n.cfg.Mobility.PauseMin(), n.cfg.Mobility.PauseMax())
	n.pauseUntil = n.sched.Now() + pause
}

// mobilityTick advances toward the waypoint by one step, clamped into world
// bounds. Arrival within one step snaps to the target and starts the dwell.
func (n *Node) mobilityTick() {
	if n.sched.Now() < n.pauseUntil {
		return
	}
	dt := n.cfg.Mobility.StepS
	dist := n.pos.DistanceTo(n.waypoint)
	step := n.speed * dt
	if step >= dist {
		n.pos = n.waypoint
		n.pickWaypoint()
		return
	}
	r := step / dist
	n.pos = types.Position{
		X: n.pos.X + r*(n.waypoint.X-n.pos.X),
		Y: n.pos.Y + r*(n.waypoint.Y-n.pos.Y),
	}.Clamp(n.cfg.Sim.WorldWidthM, n.cfg.Sim.WorldHeightM)
}

// -------- Beaconing and routing advertisement --------

func (n *Node) helloTick() {
	n.helloSeq++
	n.channel.Broadcast(n.id, message.Flood, message.Hello{Pos: n.pos, Seq: n.helloSeq})
}

// dvTick advertises one vector per current neighbor, each with split horizon
// and poisoned reverse applied for that neighbor. Every node in range hears
// the frame; only the addressed neighbor installs it.
func (n *Node) dvTick() {
	for _, neighbor := range n.table.Neighbors() {
		vector := n.table.ExportTo(neighbor)
		if len(vector) == 0 {
			continue
		}
		n.channel.Broadcast(n.id, neighbor, message.DV{Vector: vector})
	}
}

// -------- Application / handshake --------

// appTick expires stale handshakes, then initiates up to pairs_per_period
// new ones. Destinations are taken round-robin so every reachable peer gets
// exercised over time.
func (n *Node) appTick() {
	now := n.sched.Now()
	for _, dst := range n.book.ExpirePending(now) {
		n.stats.RecordSessionExpired()
		if n.cfg.Protocol.LogDVChanges {
			log.WithFields(log.Fields{"node": n.id, "dst": dst}).Debug("Session expired")
		}
	}
	n.book.PruneSeen(4*n.cfg.App.SendPeriod(), now)

	if n.numNodes < 2 {
		return
	}
	for i := 0; i < n.cfg.App.PairsPerPeriod; i++ {
		dst := n.nextDestination()
		if n.book.State(dst) != session.StateNone {
			continue
		}
		if _, ok := n.table.Route(dst); !ok {
			continue
		}
		id := n.alloc.Next()
		n.book.Begin(dst, id, now+n.cfg.App.SendPeriod())
		n.stats.RecordSessionStarted()
		req := message.SessionReq{Src: n.id, Dst: dst, SessionID: id, TTL: n.cfg.Protocol.TTL}
		n.forwardReq(req)
	}
}

func (n *Node) nextDestination() int {
	n.appRR++
	dst := n.appRR % n.numNodes
	if dst == n.id {
		n.appRR++
		dst = n.appRR % n.numNodes
	}
	return dst
}

// -------- Receive dispatch --------

// Deliver is the node's rx dispatch, invoked by the channel for every frame
// that reached this node. Frames addressed to another next hop are dropped
// here; the medium is shared, consumption is not.
func (n *Node) Deliver(env message.Envelope) {
	now := n.sched.Now()
	switch p := env.Payload.(type) {
	case message.Hello:
		if n.table.Touch(env.Sender, p.Pos, p.Seq, now) {
			n.sink.OnNeighborChange(n.id, env.Sender, true)
		}
		n.table.EnsureDirect(env.Sender, now)

	case message.DV:
		if env.NextHop != n.id {
			return
		}
		n.table.Relax(env.Sender, p.Vector, now)

	case message.SessionReq:
		if env.NextHop != n.id {
			return
		}
		n.handleReq(p, now)

	case message.SessionAck:
		if env.NextHop != n.id {
			return
		}
		n.handleAck(p, now)

	case message.Data:
		if env.NextHop != n.id {
			return
		}
		n.handleData(p, now)

	default:
		if n.fatal == nil {
			n.fatal = fmt.Errorf("node %d: unknown message kind %v from %d", n.id, env.Kind, env.Sender)
		}
	}
}

func (n *Node) handleReq(p message.SessionReq, now time.Duration) {
	if n.book.SeenBefore(message.KindSessionReq, p.Src, p.SessionID, now) {
		n.stats.RecordDuplicate()
		return
	}

	if p.Dst == n.id {
		n.book.Accept(p.Src, p.SessionID)
		ack := message.SessionAck{Src: p.Src, Dst: p.Dst, SessionID: p.SessionID, TTL: n.cfg.Protocol.TTL}
		n.forwardAck(ack)
		return
	}

	p.TTL--
	if p.TTL <= 0 {
		n.stats.RecordTTLDrop()
		return
	}
	n.forwardReq(p)
}

func (n *Node) forwardReq(p message.SessionReq) {
	next, ok := n.table.Route(p.Dst)
	if !ok {
		n.stats.RecordNoRouteDrop()
		return
	}
	n.channel.Broadcast(n.id, next, p)
}

func (n *Node) handleAck(p message.SessionAck, now time.Duration) {
	if p.Src == n.id {
		// Handshake complete at the initiator: emit the data packet.
		if !n.book.Establish(p.Dst, p.SessionID) {
			n.stats.RecordDuplicate()
			return
		}
		n.stats.RecordSessionEstablished()
		data := message.Data{
			Src:        n.id,
			Dst:        p.Dst,
			SessionID:  p.SessionID,
			Payload:    n.randomPayload(),
			TTL:        n.cfg.Protocol.TTL,
			Path:       []int{n.id},
			OriginTime: now,
		}
		n.stats.RecordAttempt()
		n.generated++
		n.forwardData(data)
		return
	}

	if n.book.SeenBefore(message.KindSessionAck, p.Src, p.SessionID, now) {
		n.stats.RecordDuplicate()
		return
	}
	p.TTL--
	if p.TTL <= 0 {
		n.stats.RecordTTLDrop()
		return
	}
	n.forwardAck(p)
}

// forwardAck routes the ack toward the original initiator.
func (n *Node) forwardAck(p message.SessionAck) {
	next, ok := n.table.Route(p.Src)
	if !ok {
		n.stats.RecordNoRouteDrop()
		return
	}
	n.channel.Broadcast(n.id, next, p)
}

func (n *Node) handleData(p message.Data, now time.Duration) {
	if p.Dst == n.id {
		path := appendHop(p.Path, n.id)
		latency := now - p.OriginTime
		n.stats.RecordDelivery(latency, len(path))
		n.delivered++
		n.sumLatency += latency
		n.sumHops += len(path)
		n.sink.OnPath(path, now)
		return
	}

	for _, hop := range p.Path {
		if hop == n.id {
			n.stats.RecordLoopDrop()
			return
		}
	}
	p.Path = appendHop(p.Path, n.id)
	p.TTL--
	if p.TTL <= 0 {
		n.stats.RecordTTLDrop()
		return
	}
	n.forwardData(p)
}

func (n *Node) forwardData(p message.Data) {
	next, ok := n.table.Route(p.Dst)
	if !ok {
		n.stats.RecordNoRouteDrop()
		return
	}
	n.channel.Broadcast(n.id, next, p)
}

func (n *Node) randomPayload() []byte {
	b := make([]byte, n.cfg.App.PayloadBytes)
	n.sched.Rand().Read(b)
	return b
}

// appendHop extends a path trace without sharing the backing array between
// copies of the packet delivered to different receivers.
func appendHop(path []int, id int) []int {
	out := make([]int, len(path), len(path)+1)
	copy(out, path)
	return append(out, id)
}

// -------- Neighbor aging --------

func (n *Node) agingTick() {
	timeout := n.cfg.Protocol.NeighborTimeout()
	removed := n.table.AgeNeighbors(timeout, n.cfg.Protocol.DVPeriod(), n.sched.Now())
	for _, id := range removed {
		n.sink.OnNeighborChange(n.id, id, false)
	}
}

// -------- Summary --------

// Summary is the per-node report printed at simulation end.
type Summary struct {
	ID          int     `json:"id"`
	Generated   int     `json:"generated"`
	Delivered   int     `json:"delivered"`
	AvgLatencyS float64 `json:"avg_latency_s"`
	AvgHops     float64 `json:"avg_hops"`
	Neighbors   []int   `json:"neighbors"`
}

// Summarize returns the node's data-plane accounting.
func (n *Node) Summarize() Summary {
	s := Summary{
		ID:        n.id,
		Generated: n.generated,
		Delivered: n.delivered,
		Neighbors: n.table.Neighbors(),
	}
	if n.delivered > 0 {
		s.AvgLatencyS = n.sumLatency.Seconds() / float64(n.delivered)
		s.AvgHops = float64(n.sumHops) / float64(n.delivered)
	}
	return s
}

// Snapshot returns the node's state for the observation sink.
func (n *Node) Snapshot() types.NodeSnapshot {
	return types.NodeSnapshot{
		ID:        n.id,
		Pos:       n.pos,
		Neighbors: n.table.Neighbors(),
		Routes:    n.table.Snapshot(),
	}
}
