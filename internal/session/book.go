package session

import (
	"time"

	"fanet-sim/internal/message"
)

// State is the handshake state kept at the source for one destination.
type State int

const (
	// StateNone means no session is open toward the destination.
	StateNone State = iota
	// StatePendingAck means a SessionReq is in flight.
	StatePendingAck
	// StateEstablished means the ack arrived and data was emitted.
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StatePendingAck:
		return "pending_ack"
	case StateEstablished:
		return "established"
	default:
		return "none"
	}
}

// Peer tracks the handshake toward one destination.
type Peer struct {
	ID       int
	State    State
	Deadline time.Duration
}

type seenKey struct {
	Kind      message.Kind
	Src       int
	SessionID int
}

// Book is one node's session bookkeeping: per-destination handshake state on
// the initiator side, the set of accepted session ids on the responder side,
// and the recently-seen set that suppresses duplicate control frames while
// forwarding.
type Book struct {
	peers    map[int]*Peer
	accepted map[int]map[int]bool
	seen     map[seenKey]time.Duration
}

// NewBook creates empty session bookkeeping.
func NewBook() *Book {
	return &Book{
		peers:    make(map[int]*Peer),
		accepted: make(map[int]map[int]bool),
		seen:     make(map[seenKey]time.Duration),
	}
}

// State returns the handshake state toward dst.
func (b *Book) State(dst int) State {
	p, ok := b.peers[dst]
	if !ok {
		return StateNone
	}
	return p.State
}

// Begin opens a session toward dst: state becomes pending_ack until deadline.
func (b *Book) Begin(dst, id int, deadline time.Duration) {
	b.peers[dst] = &Peer{ID: id, State: StatePendingAck, Deadline: deadline}
}

// Establish moves the session toward dst to established, if id matches the
// pending request. Returns false for stale or duplicate acks.
func (b *Book) Establish(dst, id int) bool {
	p, ok := b.peers[dst]
	if !ok || p.State != StatePendingAck || p.ID != id {
		return false
	}
	p.State = StateEstablished
	return true
}

// ExpirePending reverts every pending session whose deadline has been reached
// back to none, and returns the affected destinations.
func (b *Book) ExpirePending(now time.Duration) []int {
	var expired []int
	for dst, p := range b.peers {
		if p.State == StatePendingAck && now >= p.Deadline {
			p.State = StateNone
			expired = append(expired, dst)
		}
	}
	return expired
}

// Accept records a session id accepted on the responder side. Returns false
// if the id was already accepted from that source.
func (b *Book) Accept(src, id int) bool {
	ids, ok := b.accepted[src]
	if !ok {
		ids = make(map[int]bool)
		b.accepted[src] = ids
	}
	if ids[id] {
		return false
	}
	ids[id] = true
	return true
}

// SeenBefore records a control frame passing through and reports whether the
// same (kind, src, session id) was seen already.
func (b *Book) SeenBefore(kind message.Kind, src, id int, now time.Duration) bool {
	k := seenKey{Kind: kind, Src: src, SessionID: id}
	if _, ok := b.seen[k]; ok {
		return true
	}
	b.seen[k] = now
	return false
}

// PruneSeen drops recently-seen entries older than maxAge so the dedup set
// stays bounded over a long run.
func (b *Book) PruneSeen(maxAge, now time.Duration) {
	for k, at := range b.seen {
		if now-at > maxAge {
			delete(b.seen, k)
		}
	}
}
