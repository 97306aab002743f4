package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crawlmesh/internal/reqstate"
)

func TestPoolFetchesAndPublishesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>OK</html>"))
	}))
	defer srv.Close()

	jobs := make(chan reqstate.ScrapeJob, 1)
	results := make(chan reqstate.ScrapeResult, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewPool(jobs, results, 1).Run(ctx)

	key := reqstate.Key{ClientID: "c1", URL: srv.URL}
	jobs <- reqstate.ScrapeJob{Key: key}

	select {
	case res := <-results:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Key != key || res.Content != "<html>OK</html>" {
			t.Fatalf("got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no scrape result published")
	}
}

func TestPoolReportsHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	jobs := make(chan reqstate.ScrapeJob, 1)
	results := make(chan reqstate.ScrapeResult, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewPool(jobs, results, 1).Run(ctx)

	jobs <- reqstate.ScrapeJob{Key: reqstate.Key{ClientID: "c1", URL: srv.URL + "/missing"}}

	select {
	case res := <-results:
		if res.Err == nil {
			t.Fatal("expected an error for a 404 response")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no scrape result published")
	}
}

func TestHasScheme(t *testing.T) {
	cases := map[string]bool{
		"http://example.com":  true,
		"https://example.com": true,
		"example.com":         false,
		"example.com/a:b":     false,
		"example.com?q=x":     false,
	}
	for in, want := range cases {
		if got := hasScheme(in); got != want {
			t.Errorf("hasScheme(%q) = %v, want %v", in, got, want)
		}
	}
}
