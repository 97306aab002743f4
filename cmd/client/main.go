// cmd/client is the entry point for a Client node: it feeds seed URLs
// from a file into whichever Workers it has discovered, persists the
// content each reply carries, and recursively enqueues same-host links
// up to a depth bound, tracking every dispatched URL as pendant until it
// is answered or its 30s deadline returns it to the buffer.
//
// Example:
//
//	./client --id clt1 --ip 10.0.0.20 --file seeds.txt --n 50 --depth 2
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"crawlmesh/internal/adminapi"
	"crawlmesh/internal/beacon"
	"crawlmesh/internal/discovery"
	"crawlmesh/internal/feed"
	"crawlmesh/internal/transport"
)

var workerGroup = &net.UDPAddr{IP: net.IPv4(224, 1, 1, 1), Port: 4040}

// dispatchPoolSize bounds how many URLs this Client may have in flight
// against Workers at once, matching the contextPoolSize idiom used on
// the Worker and Storage sides.
const dispatchPoolSize = 8

// feedPollInterval is how often an idle dispatch goroutine rechecks the
// feeder for new work and the main loop rechecks for overall completion.
const feedPollInterval = 100 * time.Millisecond

func main() {
	id := flag.String("id", "clt1", "client node id (4 chars on the wire)")
	ip := flag.String("ip", "0.0.0.0", "interface address to bind and beacon-listen from")
	file := flag.String("file", "", "seed URL file, one per line, # comments allowed")
	n := flag.Int("n", 100, "maximum number of seed URLs to load")
	depth := flag.Int("depth", 1, "maximum recursive-crawl depth")
	outDir := flag.String("out", "/tmp/crawlmesh-client", "directory to persist fetched pages, one file per URL")
	adminAddr := flag.String("admin-addr", ":0", "admin HTTP listen address (health/peers/feed)")
	enableAddrUpdate := flag.Bool("enable-address-update", false, "reconnect to a known worker id when its address changes (experimental)")
	flag.Parse()

	logger := log.New(os.Stderr, "[client "+*id+"] ", log.LstdFlags)

	if *file == "" {
		logger.Fatalf("--file is required")
	}
	seeds, err := loadSeedFile(*file)
	if err != nil {
		logger.Fatalf("load seed file: %v", err)
	}

	feeder := feed.New()
	driver, err := feed.NewCrawlDriver(feeder, *outDir, *depth)
	if err != nil {
		logger.Fatalf("open page store: %v", err)
	}
	driver.LoadSeeds(seeds, *n)

	requester, err := transport.NewRequester()
	if err != nil {
		logger.Fatalf("new worker requester: %v", err)
	}
	// Recv is bounded by the pendant timeout: a Worker that has gone quiet
	// for that long has already forfeited the URL back to the buffer.
	if err := requester.SetDeadlines(2*time.Second, feed.Timeout); err != nil {
		logger.Fatalf("set requester deadlines: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver, err := beacon.NewReceiver(beacon.Worker, *ip, workerGroup)
	if err != nil {
		logger.Fatalf("new beacon receiver: %v", err)
	}
	sightings := receiver.Run(ctx)

	workers := discovery.NewTable()
	workers.EnableAddressUpdate = *enableAddrUpdate

	go discoveryLoop(ctx, sightings, workers, requester, logger)
	go reapLoop(ctx, workers, requester, logger)

	startAdmin(*adminAddr, *id, workers, feeder, logger)

	var wg sync.WaitGroup
	for i := 0; i < dispatchPoolSize; i++ {
		rctx, err := requester.OpenContext()
		if err != nil {
			logger.Fatalf("open requester context: %v", err)
		}
		wg.Add(1)
		go dispatchLoop(ctx, &wg, rctx, feeder, driver, *id, logger)
	}

	done := make(chan struct{})
	go func() {
		waitUntilEmpty(ctx, feeder)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		logger.Println("Done")
	case <-quit:
		logger.Println("stop")
	}

	cancel()
	wg.Wait()
	requester.Close()
}

// loadSeedFile reads one URL per non-blank, non-comment line.
func loadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// dispatchLoop repeatedly feeds the next pending URL, requests it from
// whichever Worker the Requester's req socket picks, and routes the
// reply into the crawl driver. It is one of dispatchPoolSize goroutines
// sharing the same Feeder, so URLs dispatched concurrently never
// collide: Feed() hands out each URL to exactly one caller.
func dispatchLoop(ctx context.Context, wg *sync.WaitGroup, rctx *transport.RequesterContext, feeder *feed.Feeder, driver *feed.CrawlDriver, clientID string, logger *log.Logger) {
	defer wg.Done()
	defer rctx.Close()

	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		url, depth, ok := feeder.Feed()
		if !ok {
			continue
		}

		logger.Printf("Requested %s", url)

		var reply transport.FetchReply
		err := rctx.Request(transport.KindFetch, transport.FetchRequest{ID: clientID, URL: url}, &reply)
		if err != nil {
			logger.Printf("request %s: %v", url, err)
			continue // stays pendant; reclaimed on its 30s deadline
		}
		if reply.Error != "" {
			logger.Printf("Worker reported error for %s: %s", url, reply.Error)
			continue // no content to cache; stays pendant for retry
		}

		content := ""
		if reply.Content != nil {
			content = *reply.Content
		}
		logger.Printf("Received %s", url)

		if err := driver.OnReply(url, depth, content); err != nil {
			logger.Printf("persist %s: %v", url, err)
		}
		logger.Printf("%d URLs remaining", feeder.Pending())
	}
}

// waitUntilEmpty blocks until the feeder reports both its buffer and
// pendant set empty, which is the Client's sole termination condition.
func waitUntilEmpty(ctx context.Context, feeder *feed.Feeder) {
	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if feeder.Empty() {
				return
			}
		}
	}
}

func discoveryLoop(ctx context.Context, sightings <-chan beacon.Sighting, workers *discovery.Table, req *transport.Requester, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sightings:
			if !ok {
				return
			}
			b := s.Beacon
			addr := netip.AddrPortFrom(s.From, uint16(b.Port))
			for _, ev := range workers.Observe(b.ID, addr) {
				switch ev.Action {
				case discovery.EventAdd:
					logger.Printf("Added worker %s", ev.Peer)
					if err := req.AddPeer(ev.Addr.String()); err != nil {
						logger.Printf("dial worker %s: %v", ev.Addr, err)
					}
				case discovery.EventUpdate:
					logger.Printf("Updated worker %s -> %s", ev.Peer, ev.Addr)
					_ = req.RemovePeer(ev.PrevAddr.String())
					if err := req.AddPeer(ev.Addr.String()); err != nil {
						logger.Printf("redial worker %s: %v", ev.Addr, err)
					}
				case discovery.EventDelete:
					logger.Printf("Removed worker %s", ev.Peer)
					_ = req.RemovePeer(ev.Addr.String())
				}
			}
		}
	}
}

func reapLoop(ctx context.Context, workers *discovery.Table, req *transport.Requester, logger *log.Logger) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range workers.Reap(now) {
				logger.Printf("Removed worker %s", ev.Peer)
				_ = req.RemovePeer(ev.Addr.String())
			}
		}
	}
}

func startAdmin(addr, id string, workers *discovery.Table, feeder *feed.Feeder, logger *log.Logger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(adminapi.Logger(), adminapi.Recovery())

	h := adminapi.NewHandler("client", id, func() []adminapi.PeerInfo {
		var out []adminapi.PeerInfo
		for _, p := range workers.All() {
			out = append(out, adminapi.PeerInfo{ID: p.ID, Addr: p.Addr.String()})
		}
		return out
	})
	h.ExtraPath = "/feed"
	h.Extra = func() gin.H { return gin.H{"pending": feeder.Pending()} }
	h.Register(router)

	go func() {
		if err := router.Run(addr); err != nil {
			logger.Printf("admin server stopped: %v", err)
		}
	}()
}
