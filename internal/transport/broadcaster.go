package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/bus"
)

// Broadcaster wraps a bus socket: every connected peer receives every
// Send, and nothing is ever echoed back to its sender or forwarded a
// second time by a receiver. Storage↔Storage replication spread uses
// exactly this fan-out — a Storage that receives a spread=false update
// never re-broadcasts it.
type Broadcaster struct {
	sock mangos.Socket

	mu      sync.Mutex
	dialers map[string]mangos.Dialer
}

// NewBroadcaster binds addr and returns a Broadcaster ready to accept
// peer connections and send to them.
func NewBroadcaster(addr string) (*Broadcaster, error) {
	sock, err := bus.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("transport: new bus socket: %w", err)
	}
	if err := sock.Listen("tcp://" + addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Broadcaster{sock: sock, dialers: make(map[string]mangos.Dialer)}, nil
}

// AddPeer dials out to another Storage's bus address.
func (b *Broadcaster) AddPeer(addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.dialers[addr]; ok {
		return nil
	}
	d, err := b.sock.NewDialer("tcp://"+addr, nil)
	if err != nil {
		return fmt.Errorf("transport: new dialer for %s: %w", addr, err)
	}
	if err := d.Dial(); err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	b.dialers[addr] = d
	return nil
}

// RemovePeer disconnects addr, if connected.
func (b *Broadcaster) RemovePeer(addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.dialers[addr]
	if !ok {
		return nil
	}
	delete(b.dialers, addr)
	return d.Close()
}

// Send fans v out to every connected peer.
func (b *Broadcaster) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.sock.Send(data)
}

// Recv blocks for the next message from any connected peer.
func (b *Broadcaster) Recv(v any) error {
	msg, err := b.sock.Recv()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}

// Close releases the underlying socket.
func (b *Broadcaster) Close() error {
	return b.sock.Close()
}
