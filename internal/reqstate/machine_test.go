package reqstate

import (
	"context"
	"testing"
	"time"
)

func drainTimeout() time.Duration { return 2 * time.Second }

func TestNoStoragesPromotesDirectlyToScraping(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.SetStoragesKnown() <- 0
	time.Sleep(10 * time.Millisecond)

	key := Key{ClientID: "c1", URL: "http://example.com"}
	m.ClientRequests() <- ClientRequest{Key: key}

	select {
	case job := <-m.ScrapeJobs():
		if job.Key != key {
			t.Fatalf("got job for %+v, want %+v", job.Key, key)
		}
	case <-time.After(drainTimeout()):
		t.Fatal("expected a scrape job when no storages are known")
	}
}

func TestCachingHitReachesReady(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.SetStoragesKnown() <- 1
	time.Sleep(10 * time.Millisecond)

	key := Key{ClientID: "c1", URL: "http://example.com"}
	m.ClientRequests() <- ClientRequest{Key: key}

	var fetch StorageFetch
	select {
	case fetch = <-m.StorageFetches():
	case <-time.After(drainTimeout()):
		t.Fatal("expected a storage fetch to be issued")
	}
	if fetch.Key != key {
		t.Fatalf("fetch for %+v, want %+v", fetch.Key, key)
	}

	m.StorageReplies() <- StorageReply{Key: key, Hit: true, Content: "HI"}

	select {
	case reply := <-m.ClientReplies():
		if !reply.Hit || reply.Content != "HI" {
			t.Fatalf("got reply %+v, want hit=true content=HI", reply)
		}
	case <-time.After(drainTimeout()):
		t.Fatal("expected a client reply on cache hit")
	}

	select {
	case pu := <-m.PendantUpdates():
		if pu.URL != key.URL || pu.Content != "HI" {
			t.Fatalf("got pendant update %+v", pu)
		}
	case <-time.After(drainTimeout()):
		t.Fatal("expected a pendant update after cache hit")
	}
}

func TestCachingMissFallsThroughToScraping(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.SetStoragesKnown() <- 1
	time.Sleep(10 * time.Millisecond)

	key := Key{ClientID: "c1", URL: "http://example.com"}
	m.ClientRequests() <- ClientRequest{Key: key}
	<-m.StorageFetches()

	m.StorageReplies() <- StorageReply{Key: key, Hit: false}

	select {
	case job := <-m.ScrapeJobs():
		if job.Key != key {
			t.Fatalf("got scrape job %+v, want %+v", job.Key, key)
		}
	case <-time.After(drainTimeout()):
		t.Fatal("expected a scrape job on cache miss")
	}
}

func TestScrapeFailureReportsErrorWithoutCaching(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.SetStoragesKnown() <- 0
	time.Sleep(10 * time.Millisecond)

	key := Key{ClientID: "c1", URL: "http://bad.example"}
	m.ClientRequests() <- ClientRequest{Key: key}
	<-m.ScrapeJobs()

	m.ScrapeResults() <- ScrapeResult{Key: key, Err: errDial}

	select {
	case reply := <-m.ClientReplies():
		if reply.Err == "" {
			t.Fatal("expected a non-empty error on scrape failure")
		}
	case <-time.After(drainTimeout()):
		t.Fatal("expected a client reply reporting the scrape error")
	}

	select {
	case pu := <-m.PendantUpdates():
		t.Fatalf("got pendant update %+v after a failed scrape, want none", pu)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateRequestGetsIndependentDeliveries(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.SetStoragesKnown() <- 0
	time.Sleep(10 * time.Millisecond)

	key := Key{ClientID: "c1", URL: "http://example.com"}
	m.ClientRequests() <- ClientRequest{Key: key, Token: "t1"}
	<-m.ScrapeJobs()

	m.ClientRequests() <- ClientRequest{Key: key, Token: "t2"}
	time.Sleep(10 * time.Millisecond) // let the duplicate join the live record

	m.ScrapeResults() <- ScrapeResult{Key: key, Content: "body"}

	tokens := make(map[any]bool)
	for i := 0; i < 2; i++ {
		select {
		case reply := <-m.ClientReplies():
			if reply.Content != "body" {
				t.Fatalf("reply %d carried %q, want body", i, reply.Content)
			}
			tokens[reply.Token] = true
		case <-time.After(drainTimeout()):
			t.Fatalf("got %d deliveries, want 2", i)
		}
	}
	if !tokens["t1"] || !tokens["t2"] {
		t.Fatalf("deliveries reached tokens %v, want both t1 and t2", tokens)
	}
}

var errDial = dialError("connection refused")

type dialError string

func (e dialError) Error() string { return string(e) }
