package beacon

import (
	"context"
	"log"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
)

// listenConfig sets SO_REUSEADDR before bind so multiple beacon receivers
// (e.g. Worker and Client colocated on one host) can each join the same
// multicast group/port without "address already in use". Go's net
// package doesn't expose this option portably, so it's set directly via
// the raw socket control hook.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Receiver joins a multicast group and decodes beacons matching an
// expected flag, handing them to the node's main loop over a channel.
type Receiver struct {
	want Flag
	conn *ipv4.PacketConn
	pc   net.PacketConn
}

// NewReceiver joins group on the interface identified by ifaceIP (empty
// selects any interface) and filters decoded beacons to those whose flag
// equals want.
func NewReceiver(want Flag, ifaceIP string, group *net.UDPAddr) (*Receiver, error) {
	pc, err := listenConfig.ListenPacket(context.Background(), "udp4", group.String())
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(pc)

	var iface *net.Interface
	if ifaceIP != "" {
		iface, _ = interfaceForIP(ifaceIP)
	}

	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
		pc.Close()
		return nil, err
	}
	if err := pconn.SetMulticastTTL(multicastTTL); err != nil {
		pc.Close()
		return nil, err
	}

	return &Receiver{want: want, conn: pconn, pc: pc}, nil
}

// Sighting pairs a decoded beacon with the address it actually arrived
// from, since the wire frame itself carries only the sender's chosen ID
// and port, never its IP.
type Sighting struct {
	Beacon Beacon
	From   netip.Addr
}

// Run reads beacons until ctx is cancelled, decoding each datagram and
// sending matching sightings on the returned channel. Malformed frames and
// frames carrying the wrong flag are silently dropped — per the
// network-transient error class, these never escalate above a debug log.
func (r *Receiver) Run(ctx context.Context) <-chan Sighting {
	out := make(chan Sighting, 32)

	go func() {
		defer close(out)
		defer r.pc.Close()

		buf := make([]byte, 256)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_ = r.pc.SetReadDeadline(deadlineFromCtx(ctx))
			n, _, src, err := r.conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if isTimeout(err) {
					continue
				}
				log.Printf("beacon receiver: read: %v", err)
				continue
			}

			b, err := Decode(buf[:n])
			if err != nil {
				continue // malformed: silently dropped per spec
			}
			if b.Flag != r.want {
				continue
			}

			from, ok := srcAddr(src)
			if !ok {
				continue
			}

			select {
			case out <- Sighting{Beacon: b, From: from}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Close releases the receiver's socket.
func (r *Receiver) Close() error {
	return r.pc.Close()
}
