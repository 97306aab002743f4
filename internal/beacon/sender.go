package beacon

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Interval is how often a Sender emits a beacon. Every peer's liveness
// window (discovery.PeerExpiry) is a multiple of this.
const Interval = 1 * time.Second

// multicastTTL bounds how many router hops a beacon may cross. 2 keeps
// beacons on the local segment plus one hop, matching a typical lab/VPC
// topology without flooding a wider network.
const multicastTTL = 2

// Sender periodically multicasts this node's beacon.
type Sender struct {
	flag  Flag
	id    string
	port  int
	group *net.UDPAddr

	conn *ipv4.PacketConn
	raw  *net.UDPConn
}

// NewSender builds a Sender that announces (flag, id, port) to group over
// the interface bound to ifaceIP. ifaceIP may be empty to let the kernel
// pick the outgoing interface.
func NewSender(flag Flag, id string, port int, ifaceIP string, group *net.UDPAddr) (*Sender, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(ifaceIP)}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("beacon sender: listen: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(multicastTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("beacon sender: set ttl: %w", err)
	}

	return &Sender{
		flag:  flag,
		id:    id,
		port:  port,
		group: group,
		conn:  pconn,
		raw:   conn,
	}, nil
}

// Run emits a beacon every Interval until ctx is cancelled. Encoding errors
// are fatal to the loop (they indicate a misconfigured id/port and would
// otherwise recur forever); send errors are logged and retried next tick,
// matching the network-transient error class.
func (s *Sender) Run(ctx context.Context) error {
	frame, err := Encode(Beacon{Flag: s.flag, ID: s.id, Port: s.port})
	if err != nil {
		return fmt.Errorf("beacon sender: %w", err)
	}

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.raw.Close()
		case <-ticker.C:
			if _, err := s.conn.WriteTo(frame, nil, s.group); err != nil {
				log.Printf("beacon sender: write to %s: %v", s.group, err)
			}
		}
	}
}

// Close releases the sender's socket.
func (s *Sender) Close() error {
	return s.raw.Close()
}
