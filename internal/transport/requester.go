package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"
)

// Requester wraps a req socket dialed out to a dynamic set of peers. A
// req socket load-balances outgoing sends round-robin across whichever
// dialed peers are currently connected and matches each reply back to the
// send that produced it — the Dealer-style "a request may land on any
// peer" behavior the design calls for between Client↔Worker and
// Worker↔Storage.
type Requester struct {
	sock mangos.Socket

	mu      sync.Mutex
	dialers map[string]mangos.Dialer
}

// NewRequester opens an unconnected req socket. Peers are attached with
// AddPeer as discovery events arrive.
func NewRequester() (*Requester, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("transport: new req socket: %w", err)
	}
	return &Requester{sock: sock, dialers: make(map[string]mangos.Dialer)}, nil
}

// SetDeadlines bounds how long a Send or Recv on this socket (and every
// context opened on it) may block. Without deadlines a request issued
// while the only dialed peer is dead would block forever; with them it
// fails and the caller's own timeout machinery takes over.
func (r *Requester) SetDeadlines(send, recv time.Duration) error {
	if err := r.sock.SetOption(mangos.OptionSendDeadline, send); err != nil {
		return fmt.Errorf("transport: set send deadline: %w", err)
	}
	if err := r.sock.SetOption(mangos.OptionRecvDeadline, recv); err != nil {
		return fmt.Errorf("transport: set recv deadline: %w", err)
	}
	return nil
}

// AddPeer dials addr ("host:port"). Re-adding an already-connected peer
// is a no-op.
func (r *Requester) AddPeer(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dialers[addr]; ok {
		return nil
	}

	d, err := r.sock.NewDialer("tcp://"+addr, nil)
	if err != nil {
		return fmt.Errorf("transport: new dialer for %s: %w", addr, err)
	}
	if err := d.Dial(); err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	r.dialers[addr] = d
	return nil
}

// RemovePeer disconnects addr, if connected. Called on a peer's delete
// discovery event so every socket opened against a peer is paired with a
// matching teardown.
func (r *Requester) RemovePeer(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialers[addr]
	if !ok {
		return nil
	}
	delete(r.dialers, addr)
	return d.Close()
}

// PeerCount reports how many peers are currently dialed.
func (r *Requester) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dialers)
}

// Request sends a tagged request and decodes the reply into reply.
func (r *Requester) Request(kind string, payload any, reply any) error {
	buf, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}
	if err := r.sock.Send(buf); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	msg, err := r.sock.Recv()
	if err != nil {
		return fmt.Errorf("transport: recv: %w", err)
	}
	return json.Unmarshal(msg, reply)
}

// Close releases the underlying socket and all dialers.
func (r *Requester) Close() error {
	return r.sock.Close()
}

// RequesterContext is one independent request slot opened on a
// Requester's socket, the req-side mirror of transport.Context. A bare
// Requester can have only one request outstanding at a time; a pool of
// Contexts lets a Client's dispatch goroutines issue several concurrent
// fetches, each still load-balanced round-robin across whichever Worker
// peers are currently dialed, the same way Worker's client-facing socket
// serves many concurrent Contexts off one Responder.
type RequesterContext struct {
	ctx mangos.Context
}

// OpenContext allocates a new concurrent request slot on the Requester's
// socket.
func (r *Requester) OpenContext() (*RequesterContext, error) {
	ctx, err := r.sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("transport: open context: %w", err)
	}
	return &RequesterContext{ctx: ctx}, nil
}

// Request sends a tagged request on this context and decodes the reply.
func (c *RequesterContext) Request(kind string, payload any, reply any) error {
	buf, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}
	if err := c.ctx.Send(buf); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	msg, err := c.ctx.Recv()
	if err != nil {
		return fmt.Errorf("transport: recv: %w", err)
	}
	return json.Unmarshal(msg, reply)
}

// Close releases the context without closing the underlying socket.
func (c *RequesterContext) Close() error {
	return c.ctx.Close()
}
