package transport

import (
	"encoding/json"
	"errors"

	"go.nanomsg.org/mangos/v3"
)

// Envelope tags a payload so one rep/req socket can carry more than one
// request shape — the Storage-facing socket accepts both FetchRequest and
// UpdateRequest frames from a Worker.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

const (
	KindFetch  = "fetch"
	KindUpdate = "update"
)

// Ack is the trivial reply sent for requests that carry no application
// payload back (Worker→Storage Update). mangos REP sockets must send
// exactly one reply per receive to stay in sync, even when the spec's
// application-level protocol calls the exchange one-way; Ack is that
// reply frame.
type Ack struct {
	OK bool `json:"ok"`
}

// IsClosed reports whether err means the underlying socket was closed —
// the signal a receive loop uses to exit instead of retrying.
func IsClosed(err error) bool {
	return errors.Is(err, mangos.ErrClosed)
}

func encodeEnvelope(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: data})
}
