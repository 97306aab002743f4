// Package beacon implements the 12-byte UDP multicast heartbeat that every
// node role — Client, Worker, Storage — uses to announce itself and to
// discover peers.
//
// Wire format: a single datagram "<f> <id> <p>", always exactly BeaconSize
// bytes. The fixed width is what lets a receiver treat one read() as one
// beacon with no length prefix: flag is one byte, id is space-padded or
// truncated to 4 bytes, and port is space-padded to fill the rest of the
// frame.
package beacon

import (
	"fmt"
	"strconv"
	"strings"
)

// BeaconSize is the exact number of bytes every encoded beacon occupies.
const BeaconSize = 12

// idWidth is the fixed width of the id field on the wire.
const idWidth = 4

// Flag identifies which role emitted a beacon.
type Flag byte

const (
	Worker  Flag = 'w'
	Storage Flag = 's'
)

func (f Flag) String() string {
	switch f {
	case Worker:
		return "worker"
	case Storage:
		return "storage"
	default:
		return fmt.Sprintf("Flag(%q)", byte(f))
	}
}

func (f Flag) valid() bool {
	return f == Worker || f == Storage
}

// Beacon is the decoded form of one heartbeat datagram.
type Beacon struct {
	Flag Flag
	ID   string
	Port int
}

// Encode produces the fixed-width wire frame for b. ID longer than 4
// characters is truncated; shorter is right-padded with spaces. Port is
// rendered decimal and right-padded with spaces so the whole frame is
// exactly BeaconSize bytes.
func Encode(b Beacon) ([]byte, error) {
	if !b.Flag.valid() {
		return nil, fmt.Errorf("beacon: invalid flag %q", byte(b.Flag))
	}
	if b.Port <= 0 || b.Port > 65535 {
		return nil, fmt.Errorf("beacon: port %d out of range", b.Port)
	}

	id := b.ID
	if len(id) > idWidth {
		id = id[:idWidth]
	} else {
		id = id + strings.Repeat(" ", idWidth-len(id))
	}

	portStr := strconv.Itoa(b.Port)
	// "<f>"(1) + " "(1) + id(4) + " "(1) + port(rest)
	fixed := 1 + 1 + idWidth + 1
	portField := portStr
	if pad := BeaconSize - fixed - len(portStr); pad > 0 {
		portField = portStr + strings.Repeat(" ", pad)
	} else if pad < 0 {
		return nil, fmt.Errorf("beacon: port %q too wide for frame", portStr)
	}

	frame := fmt.Sprintf("%c %s %s", byte(b.Flag), id, portField)
	if len(frame) != BeaconSize {
		return nil, fmt.Errorf("beacon: encoded frame is %d bytes, want %d", len(frame), BeaconSize)
	}
	return []byte(frame), nil
}

// Decode is the left inverse of Encode: it rejects any frame that is not
// exactly BeaconSize bytes, and any flag other than 'w'/'s'.
func Decode(frame []byte) (Beacon, error) {
	if len(frame) != BeaconSize {
		return Beacon{}, fmt.Errorf("beacon: frame is %d bytes, want %d", len(frame), BeaconSize)
	}

	s := string(frame)
	if s[1] != ' ' || s[1+1+idWidth] != ' ' {
		return Beacon{}, fmt.Errorf("beacon: malformed frame %q", s)
	}

	flag := Flag(s[0])
	if !flag.valid() {
		return Beacon{}, fmt.Errorf("beacon: unknown flag %q", s[0])
	}

	id := strings.TrimRight(s[2:2+idWidth], " ")
	portStr := strings.TrimSpace(s[2+idWidth+1:])
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Beacon{}, fmt.Errorf("beacon: bad port field %q: %w", portStr, err)
	}

	return Beacon{Flag: flag, ID: id, Port: port}, nil
}
