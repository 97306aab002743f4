package transport

import (
	"encoding/json"
	"fmt"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// Responder binds a rep socket and serves requests from a single sender
// role at a time — Client-facing (one Worker), Worker-facing (one
// Storage), or Storage's catch-up socket. It plays the Router half of the
// design's Router/Dealer vocabulary.
type Responder struct {
	sock mangos.Socket
}

// NewResponder binds addr ("host:port") and returns a Responder ready to
// accept requests.
func NewResponder(addr string) (*Responder, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("transport: new rep socket: %w", err)
	}
	if err := sock.Listen("tcp://" + addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Responder{sock: sock}, nil
}

// Recv blocks for the next request and returns its envelope.
func (r *Responder) Recv() (Envelope, error) {
	msg, err := r.sock.Recv()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("transport: malformed envelope: %w", err)
	}
	return env, nil
}

// Reply answers the request most recently returned by Recv. It must be
// called exactly once per Recv — the rep socket's state machine requires
// strict alternation.
func (r *Responder) Reply(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.sock.Send(data)
}

// Close releases the underlying socket.
func (r *Responder) Close() error {
	return r.sock.Close()
}

// Context is one independent request/reply slot opened on a Responder's
// socket. A bare Responder can only have one request outstanding at a
// time (Recv, then exactly one Reply, in lockstep); Context lets several
// requests be in flight together, which the Worker's client-facing socket
// and the Storage's Worker-facing socket need since the request state
// machine tracks many (client_id, url) pairs concurrently. A Context is the opaque routing
// token a caller holds onto between receiving a request and eventually
// replying to it.
type Context struct {
	ctx mangos.Context
}

// OpenContext allocates a new concurrent request slot on the Responder's
// socket.
func (r *Responder) OpenContext() (*Context, error) {
	ctx, err := r.sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("transport: open context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Recv blocks for the next request addressed to this context.
func (c *Context) Recv() (Envelope, error) {
	msg, err := c.ctx.Recv()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("transport: malformed envelope: %w", err)
	}
	return env, nil
}

// Reply answers the request most recently received on this context.
func (c *Context) Reply(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ctx.Send(data)
}

// Close releases the context without closing the underlying socket.
func (c *Context) Close() error {
	return c.ctx.Close()
}
