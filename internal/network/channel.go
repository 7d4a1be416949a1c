package network

import (
	"time"

	log "github.com/sirupsen/logrus"

	"fanet-sim/internal/message"
	"fanet-sim/internal/stats"
	"fanet-sim/internal/vtime"
	"fanet-sim/pkg/types"
)

// Node is the channel's view of an attached radio.
type Node interface {
	ID() int
	Position() types.Position
	Deliver(env message.Envelope)
}

// Recorder captures frames the moment they are admitted onto the air.
type Recorder interface {
	Record(env message.Envelope, at time.Duration)
}

// Config holds the radio and MAC parameters.
type Config struct {
	CommRange      float64
	PropSpeed      float64
	BaseDelay      time.Duration
	MaxPerHopDelay time.Duration
	JitterMin      time.Duration
	JitterMax      time.Duration
	MACMinBackoff  time.Duration
	MACMaxBackoff  time.Duration
	MACTxDuration  time.Duration
	MACMaxRetries  int
}

// Channel is the in-memory air shared by all nodes. Frames go through a
// CSMA/CA-style admission (sense, backoff, re-sense) before reserving the
// medium for the transmit duration; delivery to each in-range receiver is
// scheduled independently with propagation delay and jitter.
//
// The channel never fails a broadcast: frames that lose the backoff race too
// many times, or receivers out of range, are silently dropped.
type Channel struct {
	sched     *vtime.Scheduler
	cfg       Config
	collector *stats.Collector
	nodes     []Node
	busyUntil time.Duration
	recorder  Recorder
}

// New creates a channel bound to a scheduler.
func New(sched *vtime.Scheduler, cfg Config, collector *stats.Collector) *Channel {
	return &Channel{sched: sched, cfg: cfg, collector: collector}
}

// Attach registers a node with the medium. Nodes must be attached in id
// order; delivery fan-out walks them by index so runs stay deterministic.
func (c *Channel) Attach(n Node) {
	c.nodes = append(c.nodes, n)
}

// SetRecorder installs an optional frame recorder.
func (c *Channel) SetRecorder(r Recorder) {
	c.recorder = r
}

// BusyUntil returns when the medium becomes free.
func (c *Channel) BusyUntil() time.Duration {
	return c.busyUntil
}

// Broadcast schedules p for delivery to every node in range of the sender.
// Returns immediately; the MAC wait and the deliveries run as scheduled
// events.
func (c *Channel) Broadcast(sender, nextHop int, p message.Payload) {
	c.attempt(sender, nextHop, p, 0)
}

// attempt is one round of carrier sense plus backoff. If another transmitter
// reserved the medium during our backoff we retry, up to the configured cap.
func (c *Channel) attempt(sender, nextHop int, p message.Payload, retries int) {
	if retries > c.cfg.MACMaxRetries {
		c.collector.RecordMACDrop()
		log.WithFields(log.Fields{"sender": sender, "kind": message.KindOf(p).String()}).
			Debug("Frame dropped after backoff retries")
		return
	}

	now := c.sched.Now()
	if now < c.busyUntil {
		wait := c.busyUntil - now
		c.sched.After(wait, func() { c.attempt(sender, nextHop, p, retries) })
		return
	}

	backoff := c.sched.UniformDuration(c.cfg.MACMinBackoff, c.cfg.MACMaxBackoff)
	c.sched.After(backoff, func() {
		if c.sched.Now() < c.busyUntil {
			// Lost the race; someone reserved the medium during backoff.
			c.attempt(sender, nextHop, p, retries+1)
			return
		}
		c.transmit(sender, nextHop, p)
	})
}

// transmit reserves the medium and fans the frame out to every receiver in
// range of the sender's position at this instant.
func (c *Channel) transmit(sender, nextHop int, p message.Payload) {
	now := c.sched.Now()
	c.busyUntil = now + c.cfg.MACTxDuration

	env := message.NewEnvelope(sender, nextHop, now, p)
	c.collector.RecordFrame(env.Kind.String())
	if c.recorder != nil {
		c.recorder.Record(env, now)
	}

	src := c.nodes[sender].Position()
	for _, rx := range c.nodes {
		if rx.ID() == sender {
			continue
		}
		dist := src.DistanceTo(rx.Position())
		if dist > c.cfg.CommRange {
			continue
		}
		delay := c.cfg.MACTxDuration + c.propagationDelay(dist)
		target := rx
		c.sched.After(delay, func() { target.Deliver(env) })
	}
}

// propagationDelay is base delay plus distance over propagation speed,
// clamped, plus uniform jitter.
func (c *Channel) propagationDelay(dist float64) time.Duration {
	prop := time.Duration(dist / c.cfg.PropSpeed * float64(time.Second))
	if prop > c.cfg.MaxPerHopDelay {
		prop = c.cfg.MaxPerHopDelay
	}
	jitter := c.sched.UniformDuration(c.cfg.JitterMin, c.cfg.JitterMax)
	return c.cfg.BaseDelay + prop + jitter
}
