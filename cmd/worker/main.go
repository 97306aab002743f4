// cmd/worker is the entry point for a Worker node: it answers Client
// fetch requests by first trying a Storage's cache and falling back to a
// live HTTP scrape, driving every in-flight (client_id, url) pair through
// the request state machine in internal/reqstate.
//
// Example:
//
//	./worker --id wrk1 --ip 10.0.0.10 --port 6001
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"crawlmesh/internal/adminapi"
	"crawlmesh/internal/beacon"
	"crawlmesh/internal/discovery"
	"crawlmesh/internal/reqstate"
	"crawlmesh/internal/scrape"
	"crawlmesh/internal/transport"
)

var (
	workerGroup  = &net.UDPAddr{IP: net.IPv4(224, 1, 1, 1), Port: 4040}
	storageGroup = &net.UDPAddr{IP: net.IPv4(225, 1, 1, 1), Port: 4041}
)

// contextPoolSize bounds how many Client requests this Worker serves
// concurrently, matching the Storage side's pool.
const contextPoolSize = 32

func main() {
	id := flag.String("id", "wrk1", "worker node id (4 chars on the wire)")
	ip := flag.String("ip", "0.0.0.0", "interface address to bind and beacon from")
	port := flag.Int("port", 6001, "Client-facing request-reply port, announced in this Worker's beacon")
	scrapers := flag.Int("scrapers", 0, "scrape pool size; 0 defaults to GOMAXPROCS")
	adminAddr := flag.String("admin-addr", ":0", "admin HTTP listen address (health/peers/requests)")
	enableAddrUpdate := flag.Bool("enable-address-update", false, "reconnect to a known storage id when its address changes (experimental)")
	flag.Parse()

	logger := log.New(os.Stderr, "[worker "+*id+"] ", log.LstdFlags)

	responder, err := transport.NewResponder(*ip + ":" + strconv.Itoa(*port))
	if err != nil {
		logger.Fatalf("bind client-facing socket: %v", err)
	}

	storageReq, err := transport.NewRequester()
	if err != nil {
		logger.Fatalf("new storage requester: %v", err)
	}
	if err := storageReq.SetDeadlines(reqstate.WorkerReqExpiry, reqstate.WorkerReqExpiry); err != nil {
		logger.Fatalf("set storage requester deadlines: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, err := beacon.NewSender(beacon.Worker, *id, *port, *ip, workerGroup)
	if err != nil {
		logger.Fatalf("new beacon sender: %v", err)
	}
	go func() {
		if err := sender.Run(ctx); err != nil {
			logger.Printf("beacon sender stopped: %v", err)
		}
	}()

	receiver, err := beacon.NewReceiver(beacon.Storage, *ip, storageGroup)
	if err != nil {
		logger.Fatalf("new beacon receiver: %v", err)
	}
	sightings := receiver.Run(ctx)

	storages := discovery.NewTable()
	storages.EnableAddressUpdate = *enableAddrUpdate
	machine := reqstate.New()

	scrapeJobs := make(chan reqstate.ScrapeJob, 256)
	scrapeResults := make(chan reqstate.ScrapeResult, 256)
	pool := scrape.NewPool(scrapeJobs, scrapeResults, *scrapers)

	stats := newRequestStats()

	go machine.Run(ctx)
	go pool.Run(ctx)
	go pumpScrapeJobs(ctx, machine.ScrapeJobs(), scrapeJobs)
	go pumpScrapeResults(ctx, scrapeResults, machine.ScrapeResults())
	go storageDiscoveryLoop(ctx, sightings, storages, storageReq, machine, logger)
	go reapLoop(ctx, storages, storageReq, machine, logger)
	go storageRoundTripLoop(ctx, machine.StorageFetches(), machine.PendantUpdates(), machine.StorageReplies(), storageReq, logger)

	router := newClientRouter(responder, machine, stats, logger)
	for i := 0; i < contextPoolSize; i++ {
		if err := router.spawn(ctx); err != nil {
			logger.Fatalf("open client context: %v", err)
		}
	}
	go clientReplyDispatch(ctx, machine.ClientReplies(), router)

	startAdmin(*adminAddr, *id, storages, stats, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("stop")
	cancel()
	responder.Close()
	storageReq.Close()
}

// requestStats tracks rough request-lifecycle counters for the admin
// surface. The state machine's four queues are private to its actor
// goroutine by design, so this counts arrivals and completions from the
// outside rather than reaching into the Machine.
type requestStats struct {
	received  int64
	completed int64
}

func newRequestStats() *requestStats { return &requestStats{} }

func (s *requestStats) onReceived()  { atomic.AddInt64(&s.received, 1) }
func (s *requestStats) onCompleted() { atomic.AddInt64(&s.completed, 1) }

func (s *requestStats) snapshot() gin.H {
	received := atomic.LoadInt64(&s.received)
	completed := atomic.LoadInt64(&s.completed)
	return gin.H{
		"received":  received,
		"completed": completed,
		"in_flight": received - completed,
	}
}

// clientRouter owns the pool of client-facing request contexts and the
// bookkeeping that lets a reply produced later by the state machine find
// its way back to the context that is waiting to send it. A Context may
// only Reply once for the Recv that produced it, and nothing may Recv
// again on that Context until the Reply happens, so the goroutine that
// received a request is also the one that eventually answers it.
type clientRouter struct {
	responder *transport.Responder
	machine   *reqstate.Machine
	stats     *requestStats
	logger    *log.Logger

	mu      sync.Mutex
	pending map[*transport.Context]chan reqstate.ClientReply
}

func newClientRouter(responder *transport.Responder, machine *reqstate.Machine, stats *requestStats, logger *log.Logger) *clientRouter {
	return &clientRouter{
		responder: responder,
		machine:   machine,
		stats:     stats,
		logger:    logger,
		pending:   make(map[*transport.Context]chan reqstate.ClientReply),
	}
}

func (r *clientRouter) spawn(ctx context.Context) error {
	tctx, err := r.responder.OpenContext()
	if err != nil {
		return err
	}
	go r.serve(ctx, tctx)
	return nil
}

func (r *clientRouter) serve(ctx context.Context, tctx *transport.Context) {
	for {
		env, err := tctx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Printf("recv: %v", err)
			continue
		}

		var req transport.FetchRequest
		if env.Kind != transport.KindFetch {
			_ = tctx.Reply(transport.FetchReply{Error: "unsupported request kind"})
			continue
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			_ = tctx.Reply(transport.FetchReply{Error: "malformed request"})
			continue
		}

		replyCh := make(chan reqstate.ClientReply, 1)
		r.mu.Lock()
		r.pending[tctx] = replyCh
		r.mu.Unlock()

		r.stats.onReceived()
		r.machine.ClientRequests() <- reqstate.ClientRequest{
			Key:   reqstate.Key{ClientID: req.ID, URL: req.URL},
			Token: tctx,
		}

		select {
		case reply := <-replyCh:
			r.reply(tctx, reply)
		case <-ctx.Done():
			return
		}
		r.stats.onCompleted()
	}
}

func (r *clientRouter) reply(tctx *transport.Context, reply reqstate.ClientReply) {
	out := transport.FetchReply{URL: reply.URL, Hit: reply.Hit, Error: reply.Err}
	if reply.Err == "" {
		content := reply.Content
		out.Content = &content
	}
	if err := tctx.Reply(out); err != nil {
		r.logger.Printf("reply: %v", err)
	}
}

// deliver routes one ClientReply, produced by the Machine, to the context
// goroutine that is blocked waiting for it. The machine carries the token
// opaquely; this side knows it is the *transport.Context the request
// arrived on.
func (r *clientRouter) deliver(reply reqstate.ClientReply) {
	tctx, ok := reply.Token.(*transport.Context)
	if !ok || tctx == nil {
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[tctx]
	delete(r.pending, tctx)
	r.mu.Unlock()
	if !ok {
		return
	}
	ch <- reply
}

func clientReplyDispatch(ctx context.Context, replies <-chan reqstate.ClientReply, router *clientRouter) {
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-replies:
			router.deliver(reply)
		}
	}
}

func pumpScrapeJobs(ctx context.Context, in <-chan reqstate.ScrapeJob, out chan<- reqstate.ScrapeJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-in:
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
		}
	}
}

func pumpScrapeResults(ctx context.Context, in <-chan reqstate.ScrapeResult, out chan<- reqstate.ScrapeResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-in:
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func storageDiscoveryLoop(ctx context.Context, sightings <-chan beacon.Sighting, storages *discovery.Table, req *transport.Requester, machine *reqstate.Machine, logger *log.Logger) {
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
			for _, ev := range storages.Observe(b.ID, addr) {
				switch ev.Action {
				case discovery.EventAdd:
					logger.Printf("Added storage %s", ev.Peer)
					if err := req.AddPeer(ev.Addr.String()); err != nil {
						logger.Printf("dial storage %s: %v", ev.Addr, err)
					}
				case discovery.EventUpdate:
					logger.Printf("Updated storage %s -> %s", ev.Peer, ev.Addr)
					_ = req.RemovePeer(ev.PrevAddr.String())
					if err := req.AddPeer(ev.Addr.String()); err != nil {
						logger.Printf("redial storage %s: %v", ev.Addr, err)
					}
				case discovery.EventDelete:
					logger.Printf("Removed storage %s", ev.Peer)
					_ = req.RemovePeer(ev.Addr.String())
				}
			}
			notifyStorageCount(machine, storages)
		}
	}
}

func reapLoop(ctx context.Context, storages *discovery.Table, req *transport.Requester, machine *reqstate.Machine, logger *log.Logger) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range storages.Reap(now) {
				logger.Printf("Removed storage %s", ev.Peer)
				_ = req.RemovePeer(ev.Addr.String())
			}
			notifyStorageCount(machine, storages)
		}
	}
}

func notifyStorageCount(machine *reqstate.Machine, storages *discovery.Table) {
	select {
	case machine.SetStoragesKnown() <- storages.Len():
	default:
	}
}

// storageRoundTripLoop serializes every Worker→Storage exchange (cache
// lookups and write-backs alike) over the single shared Requester: a req
// socket only tolerates one outstanding request at a time, so fetches and
// pendant updates share one dispatch goroutine instead of racing on the
// same socket from two.
func storageRoundTripLoop(ctx context.Context, fetches <-chan reqstate.StorageFetch, pendants <-chan reqstate.PendantUpdate, replies chan<- reqstate.StorageReply, req *transport.Requester, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case f := <-fetches:
			var reply transport.FetchReply
			err := req.Request(transport.KindFetch, transport.FetchRequest{ID: f.Key.ClientID, URL: f.Key.URL}, &reply)
			if err != nil {
				logger.Printf("storage fetch %s: %v", f.Key.URL, err)
				replies <- reqstate.StorageReply{Key: f.Key, Malformed: true}
				continue
			}
			if reply.Hit && reply.Content != nil {
				replies <- reqstate.StorageReply{Key: f.Key, Hit: true, Content: *reply.Content}
			} else {
				replies <- reqstate.StorageReply{Key: f.Key, Hit: false}
			}

		case u := <-pendants:
			var ack transport.Ack
			update := transport.UpdateRequest{URL: u.URL, Content: u.Content, Spread: true}
			if err := req.Request(transport.KindUpdate, update, &ack); err != nil {
				logger.Printf("storage update %s: %v", u.URL, err)
			}
		}
	}
}

func startAdmin(addr, id string, storages *discovery.Table, stats *requestStats, logger *log.Logger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(adminapi.Logger(), adminapi.Recovery())

	h := adminapi.NewHandler("worker", id, func() []adminapi.PeerInfo {
		var out []adminapi.PeerInfo
		for _, p := range storages.All() {
			out = append(out, adminapi.PeerInfo{ID: p.ID, Addr: p.Addr.String()})
		}
		return out
	})
	h.ExtraPath = "/requests"
	h.Extra = stats.snapshot
	h.Register(router)

	go func() {
		if err := router.Run(addr); err != nil {
			logger.Printf("admin server stopped: %v", err)
		}
	}()
}
