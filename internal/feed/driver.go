package feed

import (
	"crawlmesh/internal/cachestore"
)

// CrawlDriver implements the Client's recursive-crawl logic: on each
// Worker reply it marks the URL done, persists its content, and — while
// under the depth bound — enqueues same-host links not already present
// in the local fetched-pages folder.
//
// Persisted content goes through a cachestore.Store of its own, separate
// from any Storage's cache: the Client's on-disk record of what it has
// fetched follows the same one-file-per-URL contract, but the two
// directories are independent.
type CrawlDriver struct {
	feeder   *Feeder
	pages    *cachestore.Store
	maxDepth int
}

// NewCrawlDriver builds a CrawlDriver writing fetched pages under dir.
func NewCrawlDriver(feeder *Feeder, dir string, maxDepth int) (*CrawlDriver, error) {
	pages, err := cachestore.New(dir)
	if err != nil {
		return nil, err
	}
	return &CrawlDriver{feeder: feeder, pages: pages, maxDepth: maxDepth}, nil
}

// OnReply processes a successful Worker reply for url at depth.
func (d *CrawlDriver) OnReply(url string, depth int, content string) error {
	d.feeder.Done(url)

	if err := d.pages.Set(url, content); err != nil {
		return err
	}

	if depth+1 >= d.maxDepth {
		return nil
	}

	for _, link := range ExtractLinks(content, url) {
		if !SameHost(url, link) {
			continue
		}
		if _, cached := d.pages.Get(link); cached {
			continue
		}
		d.feeder.Enqueue(link, depth+1)
	}
	return nil
}

// LoadSeeds enqueues the first n entries of urls at depth 0. It does no
// filtering of its own: blank and '#' comment lines are expected to have
// been dropped already by whoever read the seed file.
func (d *CrawlDriver) LoadSeeds(urls []string, n int) {
	for i, u := range urls {
		if i >= n {
			break
		}
		d.feeder.Seed(u)
	}
}
