package beacon

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// readPollInterval bounds how long a single ReadFrom blocks so Run can
// notice ctx cancellation promptly instead of hanging until the next
// beacon arrives.
const readPollInterval = 500 * time.Millisecond

func deadlineFromCtx(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < readPollInterval {
		return dl
	}
	return time.Now().Add(readPollInterval)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func interfaceForIP(ip string) (*net.Interface, error) {
	target := net.ParseIP(ip)
	if target == nil {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(target) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, nil
}

// srcAddr extracts the sender's IP from a net.Addr returned by
// ipv4.PacketConn.ReadFrom, which is always a *net.UDPAddr in practice.
func srcAddr(a net.Addr) (netip.Addr, bool) {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
