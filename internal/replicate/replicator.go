// Package replicate implements a Storage's half of the replication
// protocol: dialing a catch-up request to a newly-discovered peer,
// serving that same request for a peer dialing us, and pumping runtime
// updates out over a broadcast socket.
//
// It is grounded on a predecessor Replicator's fan-out-with-retry shape
// (exponential backoff around a flaky peer send), generalized from N/W/R
// quorum replication to this system's simpler full-replication,
// last-writer-wins model — there is no quorum here because every Storage
// eventually holds every URL; replication is best-effort, not
// consistency-bearing.
package replicate

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/netip"
	"sync"
	"time"

	"crawlmesh/internal/cachestore"
	"crawlmesh/internal/transport"
)

const (
	maxSendRetries = 3
	baseBackoff    = 100 * time.Millisecond

	// catchUpSendDeadline/catchUpRecvDeadline bound the hello round trip
	// against a peer that appeared in discovery but is not answering. The
	// recv side is generous because a full-cache catch-up reply can be
	// large.
	catchUpSendDeadline = 5 * time.Second
	catchUpRecvDeadline = 30 * time.Second
)

// CatchUpReply bundles a full cache snapshot as one message. The spec
// describes the catch-up stream as a sequence of frames terminated by a
// null sentinel; mangos preserves message boundaries, so this
// implementation collapses the sequence into a single JSON array over one
// request/reply round trip instead of many small frames. The sentinel is
// still appended for protocol fidelity even though the array length
// already tells the receiver when it's done.
type CatchUpReply struct {
	Entries []transport.ReplicateEntry `json:"entries"`
}

// Replicator owns one Storage's replication fan-out.
//
// Each discovered peer gets its own dedicated catch-up Requester rather
// than sharing one req socket dialed to every peer: a req socket
// load-balances sends round-robin across all its connected endpoints, which
// is exactly the behavior wanted for the Worker-facing fetch path but
// wrong here — a catch-up Hello must reach the one specific peer that just
// appeared, not whichever peer the socket happens to pick.
type Replicator struct {
	selfID string
	store  *cachestore.Store

	mu        sync.Mutex
	catchUp   map[string]*transport.Requester // addr -> dedicated catch-up socket
	broadcast *transport.Broadcaster          // shared bus socket for incremental spread

	updates chan transport.ReplicateEntry
	done    chan struct{}

	startupUpdateMe bool
}

// New builds a Replicator. startupUpdateMe is this node's own --update
// flag, sent as the "updateme" field of every Hello this node issues.
func New(selfID string, store *cachestore.Store, broadcast *transport.Broadcaster, startupUpdateMe bool) *Replicator {
	r := &Replicator{
		selfID:          selfID,
		store:           store,
		catchUp:         make(map[string]*transport.Requester),
		broadcast:       broadcast,
		updates:         make(chan transport.ReplicateEntry, 256),
		done:            make(chan struct{}),
		startupUpdateMe: startupUpdateMe,
	}
	go r.pump()
	return r
}

// catchUpOffset/broadcastOffset are added to a peer's announced
// Worker-facing base port to reach its catch-up Responder and its
// replication bus, matching cmd/storage's own bind layout (port,
// port+1, port+2).
const (
	catchUpOffset   = 1
	broadcastOffset = 2
)

// offsetAddr returns base with its port shifted by delta.
func offsetAddr(base netip.AddrPort, delta int) netip.AddrPort {
	return netip.AddrPortFrom(base.Addr(), base.Port()+uint16(delta))
}

// OnPeerAdded dials base's catch-up socket (base port+1) and replication
// bus (base port+2), sends a hello, and applies any streamed entries to
// the local store. base is the peer's announced Worker-facing address
// (the bare beacon port). Called from a peer Storage's discovery Add
// event, with the self-address expected to already be filtered out by
// the caller.
func (r *Replicator) OnPeerAdded(base netip.AddrPort) error {
	key := base.String()
	catchUpAddr := offsetAddr(base, catchUpOffset).String()
	broadcastAddr := offsetAddr(base, broadcastOffset).String()

	req, err := transport.NewRequester()
	if err != nil {
		return fmt.Errorf("replicate: new requester for %s: %w", catchUpAddr, err)
	}
	if err := req.SetDeadlines(catchUpSendDeadline, catchUpRecvDeadline); err != nil {
		req.Close()
		return err
	}
	if err := req.AddPeer(catchUpAddr); err != nil {
		req.Close()
		return fmt.Errorf("replicate: dial %s: %w", catchUpAddr, err)
	}

	r.mu.Lock()
	r.catchUp[key] = req
	r.mu.Unlock()

	if err := r.broadcast.AddPeer(broadcastAddr); err != nil {
		return fmt.Errorf("replicate: dial broadcast %s: %w", broadcastAddr, err)
	}

	// The hello goes out on every new connection, not just when this node
	// wants a catch-up: the peer learns who dialed it either way. When
	// UpdateMe is false the reply carries only the sentinel and the apply
	// loop below is a no-op.
	hello := transport.Hello{ID: r.selfID, New: true, UpdateMe: r.startupUpdateMe}
	var reply CatchUpReply
	if err := req.Request(helloKind, hello, &reply); err != nil {
		return fmt.Errorf("replicate: catch-up from %s: %w", catchUpAddr, err)
	}

	for _, e := range reply.Entries {
		if e.URL == nil || e.Content == nil {
			break // sentinel, or a frame too mangled to apply
		}
		if err := r.store.Set(*e.URL, *e.Content); err != nil {
			// File I/O failure on cache set: logged, on-disk update lost.
			log.Printf("replicate: apply %s: %v", *e.URL, err)
			continue
		}
	}
	return nil
}

const helloKind = "hello"

// OnPeerRemoved tears down both replication connections opened against
// base by OnPeerAdded, matching every socket opened against a peer with
// a disconnect.
func (r *Replicator) OnPeerRemoved(base netip.AddrPort) error {
	key := base.String()
	broadcastAddr := offsetAddr(base, broadcastOffset).String()

	r.mu.Lock()
	req, ok := r.catchUp[key]
	delete(r.catchUp, key)
	r.mu.Unlock()

	var err1 error
	if ok {
		err1 = req.Close()
	}
	err2 := r.broadcast.RemovePeer(broadcastAddr)
	if err1 != nil {
		return err1
	}
	return err2
}

// Serve answers an incoming Hello on the catch-up Responder: if the
// requester wants updates, its entire local cache is streamed back
// (collapsed into one CatchUpReply, see above) followed by the sentinel.
func (r *Replicator) Serve(hello transport.Hello) CatchUpReply {
	if !hello.UpdateMe {
		return CatchUpReply{Entries: []transport.ReplicateEntry{transport.EndOfStream}}
	}

	var entries []transport.ReplicateEntry
	r.store.Iterate(func(url, content string) bool {
		entries = append(entries, transport.NewEntry(url, content, false))
		return true
	})
	entries = append(entries, transport.EndOfStream)
	return CatchUpReply{Entries: entries}
}

// RunInbound receives incremental updates broadcast by peer Storages over
// the replication bus and applies each as a local Set. Everything arriving
// here carries spread=false and is applied locally only — never handed to
// Spread — which is what keeps one Worker write from echoing around the
// mesh forever.
func (r *Replicator) RunInbound(ctx context.Context) {
	for {
		var entry transport.ReplicateEntry
		if err := r.broadcast.Recv(&entry); err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				return
			}
			select {
			case <-r.done:
				return
			default:
			}
			log.Printf("replicate: bus recv: %v", err)
			continue
		}
		if entry.IsEnd() || entry.URL == nil || entry.Content == nil {
			continue
		}
		if err := r.store.Set(*entry.URL, *entry.Content); err != nil {
			log.Printf("replicate: apply %s: %v", *entry.URL, err)
		}
	}
}

// Spread enqueues a runtime update for broadcast to every connected peer
// Storage. It must only ever be called for updates the Storage itself
// originated (Worker-sent Update with spread=true) — never for anything
// received over the catch-up or broadcast paths, which is what keeps a
// Storage from ever re-forwarding a spread=false update.
func (r *Replicator) Spread(url, content string) {
	select {
	case r.updates <- transport.NewEntry(url, content, false):
	case <-r.done:
	}
}

// pump drains the update queue and broadcasts each entry with retrying
// exponential backoff, mirroring a predecessor replicator's
// sendReplicateRequest shape (three attempts, waiting 100ms before the
// second and 200ms before the third, then give up).
func (r *Replicator) pump() {
	for {
		select {
		case <-r.done:
			return
		case entry := <-r.updates:
			r.sendWithRetry(entry)
		}
	}
}

func (r *Replicator) sendWithRetry(entry transport.ReplicateEntry) {
	for attempt := 0; attempt < maxSendRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			time.Sleep(delay)
		}
		if err := r.broadcast.Send(entry); err == nil {
			return
		}
	}
}

// Close stops the pump goroutine and releases the underlying sockets.
func (r *Replicator) Close() error {
	close(r.done)

	r.mu.Lock()
	for _, req := range r.catchUp {
		_ = req.Close()
	}
	r.mu.Unlock()

	return r.broadcast.Close()
}
