// Package discovery maintains a node's table of peers, fed by beacon
// arrivals and pruned by TTL. It is modeled on the shape of
// cluster.Membership from a key-value predecessor of this codebase — a
// mutex-guarded map with Join/Leave/All accessors — but membership here is
// dynamic and expiring rather than configured once at startup.
package discovery

import (
	"net/netip"
	"sync"
	"time"
)

// PeerExpiry is how long a peer may go without a beacon before it is
// reaped. It is deliberately a multiple of beacon.Interval so a single
// dropped packet never evicts a live peer.
const PeerExpiry = 5 * time.Second

// Peer is one entry in the discovery table.
type Peer struct {
	ID        string
	Addr      netip.AddrPort
	ExpiresAt time.Time
}

// EventAction names what happened to a Peer.
type EventAction int

const (
	EventAdd EventAction = iota
	EventUpdate
	EventDelete
)

func (a EventAction) String() string {
	switch a {
	case EventAdd:
		return "add"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is emitted whenever the table's membership changes. PrevAddr is
// set only on EventUpdate, carrying the address the peer was known at
// before, so a caller can disconnect the stale route before dialing the
// new one.
type Event struct {
	Action   EventAction
	Peer     string
	Addr     netip.AddrPort
	PrevAddr netip.AddrPort
}

// Table owns the set of currently-known peers of one role (Workers, as
// seen by a Client; Storages, as seen by a Worker or another Storage).
//
// EnableAddressUpdate gates whether a known id reappearing at a new
// address produces an EventUpdate (which callers typically turn into a
// disconnect+reconnect of their transport layer) or is treated as a
// liveness-only refresh. It defaults to false; see DESIGN.md for why.
type Table struct {
	mu                  sync.RWMutex
	peers               map[string]Peer
	EnableAddressUpdate bool
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{peers: make(map[string]Peer)}
}

// Observe records a beacon sighting from id at addr and returns the
// events it produced (zero or one: Add for a new id, Update for a known
// id whose address changed and EnableAddressUpdate is set, or nothing for
// a plain liveness refresh).
func (t *Table) Observe(id string, addr netip.AddrPort) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	expires := time.Now().Add(PeerExpiry)

	existing, ok := t.peers[id]
	if !ok {
		t.peers[id] = Peer{ID: id, Addr: addr, ExpiresAt: expires}
		return []Event{{Action: EventAdd, Peer: id, Addr: addr}}
	}

	if existing.Addr == addr || !t.EnableAddressUpdate {
		existing.ExpiresAt = expires
		t.peers[id] = existing
		return nil
	}

	t.peers[id] = Peer{ID: id, Addr: addr, ExpiresAt: expires}
	return []Event{{Action: EventUpdate, Peer: id, Addr: addr, PrevAddr: existing.Addr}}
}

// Reap removes every peer whose ExpiresAt is before now and returns a
// Delete event per removal. Callers run this from a 1Hz ticker.
func (t *Table) Reap(now time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	for id, p := range t.peers {
		if p.ExpiresAt.Before(now) {
			delete(t.peers, id)
			events = append(events, Event{Action: EventDelete, Peer: id, Addr: p.Addr})
		}
	}
	return events
}

// All returns a snapshot copy of every currently-known peer.
func (t *Table) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Len reports the current peer count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Get returns the Peer for id, if known.
func (t *Table) Get(id string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}
