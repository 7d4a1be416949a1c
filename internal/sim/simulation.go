package sim

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"fanet-sim/internal/config"
	"fanet-sim/internal/network"
	"fanet-sim/internal/node"
	"fanet-sim/internal/observe"
	"fanet-sim/internal/session"
	"fanet-sim/internal/stats"
	"fanet-sim/internal/vtime"
	"fanet-sim/pkg/types"
)

// Simulation wires the channel, the nodes, and the scheduler together and
// drives them to the configured horizon. One Simulation owns one run;
// nothing is shared between instances, so several can coexist in a process.
type Simulation struct {
	cfg       *config.Config
	sched     *vtime.Scheduler
	channel   *network.Channel
	nodes     []*node.Node
	collector *stats.Collector
	sink      observe.Sink
}

// New validates the configuration and builds the node set: channel first,
// then every node with seeded random position and waypoint, attached to the
// channel in id order.
func New(cfg *config.Config, collector *stats.Collector, sink observe.Sink) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = observe.NopSink{}
	}
	if collector == nil {
		collector = stats.NewCollector()
	}

	sched := vtime.NewScheduler(cfg.Sim.Seed)
	channel := network.New(sched, network.Config{
		CommRange:      cfg.Radio.CommRangeM,
		PropSpeed:      cfg.Radio.PropSpeedMps,
		BaseDelay:      cfg.Radio.BaseDelay(),
		MaxPerHopDelay: cfg.Radio.MaxPerHopDelay(),
		JitterMin:      cfg.Radio.JitterMin(),
		JitterMax:      cfg.Radio.JitterMax(),
		MACMinBackoff:  cfg.Radio.MACMinBackoff(),
		MACMaxBackoff:  cfg.Radio.MACMaxBackoff(),
		MACTxDuration:  cfg.Radio.MACTxDuration(),
		MACMaxRetries:  cfg.Radio.MACMaxRetries,
	}, collector)

	s := &Simulation{
		cfg:       cfg,
		sched:     sched,
		channel:   channel,
		collector: collector,
		sink:      sink,
	}

	alloc := session.NewAllocator(1)
	for id := 0; id < cfg.Sim.NumNodes; id++ {
		n := node.New(id, cfg.Sim.NumNodes, cfg, sched, channel, alloc, collector, sink)
		channel.Attach(n)
		s.nodes = append(s.nodes, n)
	}
	return s, nil
}

// SetRecorder installs a frame recorder on the channel (pcap trace).
func (s *Simulation) SetRecorder(r network.Recorder) {
	s.channel.SetRecorder(r)
}

// Scheduler exposes the virtual clock, for observers that report sim time.
func (s *Simulation) Scheduler() *vtime.Scheduler {
	return s.sched
}

// Nodes returns the node set.
func (s *Simulation) Nodes() []*node.Node {
	return s.nodes
}

// Place overrides the seeded node positions, for scripted scenarios.
func (s *Simulation) Place(positions []types.Position) error {
	if len(positions) != len(s.nodes) {
		return fmt.Errorf("expected %d positions, got %d", len(s.nodes), len(positions))
	}
	for i, p := range positions {
		s.nodes[i].SetPosition(p)
	}
	return nil
}

// Run starts every node's tasks plus the snapshot task and advances virtual
// time to the configured duration. Events scheduled past the horizon are
// discarded, which cancels all periodic tasks.
func (s *Simulation) Run() error {
	for _, n := range s.nodes {
		n.Start()
	}
	s.sched.Every(s.cfg.Observe.SnapshotPeriod(), s.snapshotTick)

	start := time.Now()
	dispatched := s.sched.Run(s.cfg.Sim.Duration())
	s.collector.Finish()

	log.WithFields(log.Fields{
		"events":     dispatched,
		"sim_time_s": s.cfg.Sim.DurationS,
		"wall":       time.Since(start).Round(time.Millisecond),
	}).Info("Simulation finished")

	for _, n := range s.nodes {
		if err := n.Fatal(); err != nil {
			return fmt.Errorf("simulation aborted: %w", err)
		}
	}
	return nil
}

// snapshotTick pushes the periodic state of every node to the sink, then
// clears the changed-recently flags for the next reporting period.
func (s *Simulation) snapshotTick() {
	snaps := make([]types.NodeSnapshot, 0, len(s.nodes))
	for _, n := range s.nodes {
		snaps = append(snaps, n.Snapshot())
	}
	s.sink.OnSnapshot(s.sched.Now(), snaps)
	for _, n := range s.nodes {
		n.Table().ClearChanged()
	}
}

// Report computes the final metrics tuple.
func (s *Simulation) Report() stats.Report {
	return s.collector.Report()
}

// Summaries returns the per-node reports.
func (s *Simulation) Summaries() []node.Summary {
	out := make([]node.Summary, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Summarize())
	}
	return out
}
