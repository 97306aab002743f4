// Package scrape implements the Worker's fallback HTTP fetcher: a small
// pool of goroutines that blockingly GET a URL whenever the request state
// machine moves something into SCRAPING.
//
// The raw HTTP GET is explicitly out of scope for the coordination layer
// this codebase implements — any blocking fetch library would do — so
// this keeps to the plain net/http client idiom used elsewhere in this
// codebase for outbound calls, just pointed at the scraped page instead
// of a peer node.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"crawlmesh/internal/reqstate"
)

// Timeout bounds a single scrape's HTTP round trip.
const Timeout = 10 * time.Second

// maxBodyBytes caps how much of a page body is read, protecting a Worker
// from an adversarial or oversized response.
const maxBodyBytes = 10 << 20 // 10MiB

// Pool runs N goroutines, each pulling a ScrapeJob, performing the fetch,
// and publishing a ScrapeResult.
type Pool struct {
	jobs    <-chan reqstate.ScrapeJob
	results chan<- reqstate.ScrapeResult
	client  *http.Client
	n       int
}

// NewPool builds a Pool reading jobs and writing results on the given
// channels. n <= 0 defaults to GOMAXPROCS.
func NewPool(jobs <-chan reqstate.ScrapeJob, results chan<- reqstate.ScrapeResult, n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		jobs:    jobs,
		results: results,
		client:  &http.Client{Timeout: Timeout},
		n:       n,
	}
}

// Run starts the pool's goroutines and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.n; i++ {
		go p.worker(ctx, done)
	}
	for i := 0; i < p.n; i++ {
		<-done
	}
}

func (p *Pool) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			content, err := p.fetch(ctx, job.Key.URL)
			p.results <- reqstate.ScrapeResult{Key: job.Key, Content: content, Err: err}
		}
	}
}

func (p *Pool) fetch(ctx context.Context, url string) (string, error) {
	target := url
	if !hasScheme(target) {
		target = "http://" + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("scrape: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape: fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("scrape: %s returned HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("scrape: read body of %s: %w", target, err)
	}
	return string(body), nil
}

func hasScheme(url string) bool {
	for i := 0; i < len(url); i++ {
		switch url[i] {
		case ':':
			return i > 0
		case '/', '?', '#':
			return false
		}
	}
	return false
}
