package feed

import (
	"testing"
	"time"
)

func TestFeedPopsFIFOOrder(t *testing.T) {
	f := New()
	f.Seed("http://a.com")
	f.Enqueue("http://b.com", 1)

	url, depth, ok := f.Feed()
	if !ok || url != "http://a.com" || depth != 0 {
		t.Fatalf("got (%q, %d, %v), want (http://a.com, 0, true)", url, depth, ok)
	}

	url, depth, ok = f.Feed()
	if !ok || url != "http://b.com" || depth != 1 {
		t.Fatalf("got (%q, %d, %v), want (http://b.com, 1, true)", url, depth, ok)
	}
}

func TestFeedOnEmptyReturnsNotOK(t *testing.T) {
	f := New()
	if _, _, ok := f.Feed(); ok {
		t.Fatal("expected ok=false on empty feeder")
	}
}

func TestDoneRemovesFromPendant(t *testing.T) {
	f := New()
	f.Seed("http://a.com")
	f.Feed()

	if f.Empty() {
		t.Fatal("feeder should not be empty while a URL is pendant")
	}

	f.Done("http://a.com")
	if !f.Empty() {
		t.Fatal("feeder should be empty once its only URL is done")
	}
}

func TestEnqueueSkipsDuplicates(t *testing.T) {
	f := New()
	f.Seed("http://a.com")
	f.Enqueue("http://a.com", 1)

	f.Feed()
	if _, _, ok := f.Feed(); ok {
		t.Fatal("duplicate enqueue should not have produced a second entry")
	}
}

func TestEnqueueSkipsURLAlreadyPendant(t *testing.T) {
	f := New()
	f.Seed("http://a.com")
	f.Feed() // now pendant

	f.Enqueue("http://a.com", 1) // should be ignored
	if _, _, ok := f.Feed(); ok {
		t.Fatal("enqueue of an already-pendant URL should be a no-op")
	}
}

func TestExpiredPendantIsReclaimed(t *testing.T) {
	f := New()
	f.Seed("http://a.com")
	f.Feed()

	// Force the pendant entry's deadline into the past.
	f.mu.Lock()
	pe := f.pendant["http://a.com"]
	pe.deadline = time.Now().Add(-time.Second)
	f.pendant["http://a.com"] = pe
	f.mu.Unlock()

	url, _, ok := f.Feed()
	if !ok || url != "http://a.com" {
		t.Fatalf("expected expired pendant to be reclaimed, got (%q, %v)", url, ok)
	}
}
