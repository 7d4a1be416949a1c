package stats

import (
	"sync"
	"time"
)

// Collector aggregates the simulation-global counters. Core tasks mutate it
// from the single event-loop goroutine; the mutex exists because the
// periodic reporter and the metrics endpoint read snapshots from other
// goroutines while a run is in flight.
type Collector struct {
	mu sync.Mutex

	StartTime time.Time
	EndTime   time.Time

	// Frames admitted onto the medium, per message kind.
	FramesSent map[string]uint64

	// Drop accounting. Drops are silent on the wire; these counters are the
	// only observability for them.
	MACDrops     uint64
	TTLDrops     uint64
	LoopDrops    uint64
	NoRouteDrops uint64
	Duplicates   uint64

	SessionsStarted     uint64
	SessionsEstablished uint64
	SessionsExpired     uint64

	// Data-plane accumulators. Attempted counts DataMsg emissions at the
	// source, not SessionReqs.
	Attempted  uint64
	Delivered  uint64
	sumLatency time.Duration
	sumHops    uint64
}

// Report is the final metrics tuple.
type Report struct {
	PDR         float64 `json:"pdr"`
	AvgLatencyS float64 `json:"avg_latency_s"`
	AvgHops     float64 `json:"avg_hops"`
	Delivered   uint64  `json:"delivered"`
	Attempted   uint64  `json:"attempted"`
}

// NewCollector creates a collector with the wall clock started.
func NewCollector() *Collector {
	return &Collector{
		StartTime:  time.Now(),
		FramesSent: make(map[string]uint64),
	}
}

// RecordFrame counts a frame admitted onto the medium.
func (c *Collector) RecordFrame(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FramesSent[kind]++
}

// RecordMACDrop counts a frame dropped after exhausting the backoff retries.
func (c *Collector) RecordMACDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MACDrops++
}

// RecordTTLDrop counts a frame dropped for an exhausted TTL.
func (c *Collector) RecordTTLDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TTLDrops++
}

// RecordLoopDrop counts a data packet dropped on loop detection.
func (c *Collector) RecordLoopDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LoopDrops++
}

// RecordNoRouteDrop counts a frame dropped for a missing route.
func (c *Collector) RecordNoRouteDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NoRouteDrops++
}

// RecordDuplicate counts a suppressed duplicate control frame.
func (c *Collector) RecordDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Duplicates++
}

// RecordSessionStarted counts a handshake initiation.
func (c *Collector) RecordSessionStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionsStarted++
}

// RecordSessionEstablished counts a completed handshake at the initiator.
func (c *Collector) RecordSessionEstablished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionsEstablished++
}

// RecordSessionExpired counts a pending handshake that timed out.
func (c *Collector) RecordSessionExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionsExpired++
}

// RecordAttempt counts a DataMsg emitted at its source.
func (c *Collector) RecordAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Attempted++
}

// RecordDelivery counts a DataMsg arriving at its destination.
func (c *Collector) RecordDelivery(latency time.Duration, hops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Delivered++
	c.sumLatency += latency
	c.sumHops += uint64(hops)
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the wall-clock time spent so far.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalFrames returns the total number of frames admitted onto the medium.
func (c *Collector) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, n := range c.FramesSent {
		total += n
	}
	return total
}

// DeliveredCount returns the delivered counter.
func (c *Collector) DeliveredCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Delivered
}

// AttemptedCount returns the attempted counter.
func (c *Collector) AttemptedCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Attempted
}

// Report computes the final metrics tuple.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempted := c.Attempted
	if attempted == 0 {
		attempted = 1
	}
	delivered := c.Delivered
	if delivered == 0 {
		delivered = 1
	}

	return Report{
		PDR:         float64(c.Delivered) / float64(attempted),
		AvgLatencyS: c.sumLatency.Seconds() / float64(delivered),
		AvgHops:     float64(c.sumHops) / float64(delivered),
		Delivered:   c.Delivered,
		Attempted:   c.Attempted,
	}
}

// Snapshot returns a copy of the current statistics.
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:           c.StartTime,
		EndTime:             c.EndTime,
		FramesSent:          make(map[string]uint64, len(c.FramesSent)),
		MACDrops:            c.MACDrops,
		TTLDrops:            c.TTLDrops,
		LoopDrops:           c.LoopDrops,
		NoRouteDrops:        c.NoRouteDrops,
		Duplicates:          c.Duplicates,
		SessionsStarted:     c.SessionsStarted,
		SessionsEstablished: c.SessionsEstablished,
		SessionsExpired:     c.SessionsExpired,
		Attempted:           c.Attempted,
		Delivered:           c.Delivered,
		sumLatency:          c.sumLatency,
		sumHops:             c.sumHops,
	}
	for k, v := range c.FramesSent {
		snap.FramesSent[k] = v
	}
	return snap
}
