package feed

import "testing"

func TestOnReplyEnqueuesSameHostLinksUnderDepthBound(t *testing.T) {
	feeder := New()
	driver, err := NewCrawlDriver(feeder, t.TempDir(), 2)
	if err != nil {
		t.Fatalf("NewCrawlDriver: %v", err)
	}

	html := `<a href="http://example.com/x">x</a><a href="http://other.com">other</a>`
	if err := driver.OnReply("http://example.com", 0, html); err != nil {
		t.Fatalf("OnReply: %v", err)
	}

	url, depth, ok := feeder.Feed()
	if !ok {
		t.Fatal("expected the same-host link to have been enqueued")
	}
	if url != "http://example.com/x" || depth != 1 {
		t.Fatalf("got (%q, %d), want (http://example.com/x, 1)", url, depth)
	}

	if _, _, ok := feeder.Feed(); ok {
		t.Fatal("the external-host link must not be enqueued")
	}
}

func TestOnReplyRespectsDepthBound(t *testing.T) {
	feeder := New()
	driver, err := NewCrawlDriver(feeder, t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewCrawlDriver: %v", err)
	}

	html := `<a href="http://example.com/x">x</a>`
	if err := driver.OnReply("http://example.com", 0, html); err != nil {
		t.Fatalf("OnReply: %v", err)
	}

	if _, _, ok := feeder.Feed(); ok {
		t.Fatal("no links should be enqueued once maxDepth is reached")
	}
}

func TestOnReplySkipsLinksAlreadyPersisted(t *testing.T) {
	feeder := New()
	dir := t.TempDir()
	driver, err := NewCrawlDriver(feeder, dir, 2)
	if err != nil {
		t.Fatalf("NewCrawlDriver: %v", err)
	}

	if err := driver.OnReply("http://example.com/x", 0, "leaf page"); err != nil {
		t.Fatalf("OnReply: %v", err)
	}
	feeder.Done("http://example.com/x") // simulate a prior, separate round trip

	html := `<a href="http://example.com/x">already fetched</a>`
	if err := driver.OnReply("http://example.com", 0, html); err != nil {
		t.Fatalf("OnReply: %v", err)
	}

	if _, _, ok := feeder.Feed(); ok {
		t.Fatal("a link already present in the page store must not be re-enqueued")
	}
}

func TestOnReplyMarksURLDone(t *testing.T) {
	feeder := New()
	driver, err := NewCrawlDriver(feeder, t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewCrawlDriver: %v", err)
	}

	feeder.Seed("http://example.com")
	feeder.Feed() // now pendant
	if feeder.Empty() {
		t.Fatal("feeder should not be empty while pendant")
	}

	if err := driver.OnReply("http://example.com", 0, "<html></html>"); err != nil {
		t.Fatalf("OnReply: %v", err)
	}
	if !feeder.Empty() {
		t.Fatal("OnReply should mark the URL done, emptying the feeder")
	}
}
