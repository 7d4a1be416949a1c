package observe

import (
	"time"

	log "github.com/sirupsen/logrus"

	"fanet-sim/pkg/types"
)

// Sink receives structured observations from the simulation core. The core
// calls it synchronously between events and never waits on it, so
// implementations must return promptly; a renderer that needs to aggregate
// or throttle does so on its own side.
type Sink interface {
	// OnPath reports a completed data delivery with its hop trace.
	OnPath(path []int, at time.Duration)
	// OnNeighborChange reports a neighbor added to or removed from a node's
	// neighbor set.
	OnNeighborChange(node, neighbor int, added bool)
	// OnSnapshot reports the periodic state of every node: position,
	// neighbor set, and routing table.
	OnSnapshot(at time.Duration, nodes []types.NodeSnapshot)
}

// NopSink discards every observation.
type NopSink struct{}

func (NopSink) OnPath([]int, time.Duration)                    {}
func (NopSink) OnNeighborChange(int, int, bool)                {}
func (NopSink) OnSnapshot(time.Duration, []types.NodeSnapshot) {}

// LogSink writes observations to the structured log at debug level. It is
// the default sink for headless runs.
type LogSink struct{}

func (LogSink) OnPath(path []int, at time.Duration) {
	log.WithFields(log.Fields{"path": path, "t": at.Seconds()}).Debug("Data delivered")
}

func (LogSink) OnNeighborChange(node, neighbor int, added bool) {
	log.WithFields(log.Fields{"node": node, "neighbor": neighbor, "added": added}).
		Debug("Neighbor change")
}

func (LogSink) OnSnapshot(at time.Duration, nodes []types.NodeSnapshot) {
	log.WithFields(log.Fields{"t": at.Seconds(), "nodes": len(nodes)}).Debug("Snapshot")
}

// MultiSink fans observations out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) OnPath(path []int, at time.Duration) {
	for _, s := range m {
		s.OnPath(path, at)
	}
}

func (m MultiSink) OnNeighborChange(node, neighbor int, added bool) {
	for _, s := range m {
		s.OnNeighborChange(node, neighbor, added)
	}
}

func (m MultiSink) OnSnapshot(at time.Duration, nodes []types.NodeSnapshot) {
	for _, s := range m {
		s.OnSnapshot(at, nodes)
	}
}
