package discovery

import (
	"net/netip"
	"testing"
	"time"
)

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

func TestObserveFirstSightingEmitsAdd(t *testing.T) {
	tbl := NewTable()
	addr := mustAddr(t, "10.0.0.2:6000")

	events := tbl.Observe("abcd", addr)
	if len(events) != 1 || events[0].Action != EventAdd {
		t.Fatalf("got %+v, want single Add event", events)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

func TestObserveRefreshWithoutAddressChangeIsQuiet(t *testing.T) {
	tbl := NewTable()
	addr := mustAddr(t, "10.0.0.2:6000")

	tbl.Observe("abcd", addr)
	events := tbl.Observe("abcd", addr)
	if len(events) != 0 {
		t.Fatalf("got %+v, want no events on plain refresh", events)
	}
}

func TestObserveAddressChangeGatedByFlag(t *testing.T) {
	tbl := NewTable()
	a1 := mustAddr(t, "10.0.0.2:6000")
	a2 := mustAddr(t, "10.0.0.3:6000")

	tbl.Observe("abcd", a1)

	// Default: address-update is disabled, so a new address is a no-op.
	events := tbl.Observe("abcd", a2)
	if len(events) != 0 {
		t.Fatalf("got %+v, want no events with EnableAddressUpdate=false", events)
	}
	p, _ := tbl.Get("abcd")
	if p.Addr != a1 {
		t.Fatalf("peer address changed despite EnableAddressUpdate=false: %v", p.Addr)
	}

	tbl.EnableAddressUpdate = true
	events = tbl.Observe("abcd", a2)
	if len(events) != 1 || events[0].Action != EventUpdate {
		t.Fatalf("got %+v, want single Update event once enabled", events)
	}
	if events[0].Addr != a2 || events[0].PrevAddr != a1 {
		t.Fatalf("update event carries %v (prev %v), want %v (prev %v)",
			events[0].Addr, events[0].PrevAddr, a2, a1)
	}
}

func TestReapRemovesExpiredPeers(t *testing.T) {
	tbl := NewTable()
	tbl.Observe("abcd", mustAddr(t, "10.0.0.2:6000"))

	events := tbl.Reap(time.Now())
	if len(events) != 0 {
		t.Fatalf("got %+v, want no reaps before expiry", events)
	}

	events = tbl.Reap(time.Now().Add(PeerExpiry + time.Second))
	if len(events) != 1 || events[0].Action != EventDelete || events[0].Peer != "abcd" {
		t.Fatalf("got %+v, want single Delete event for abcd", events)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after reap", tbl.Len())
	}
}
