// cmd/storage is the entry point for a Storage node: it holds the
// url→content cache, replicates with peer Storages, and serves
// fetch/update requests from Workers.
//
// Example:
//
//	./storage --id stg1 --ip 10.0.0.2 --port 5001 --cache /var/crawlmesh/stg1
//	./storage --id stg2 --ip 10.0.0.3 --port 5001 --cache /var/crawlmesh/stg2 --update
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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"crawlmesh/internal/adminapi"
	"crawlmesh/internal/beacon"
	"crawlmesh/internal/cachestore"
	"crawlmesh/internal/discovery"
	"crawlmesh/internal/replicate"
	"crawlmesh/internal/transport"
)

var (
	workerGroup  = &net.UDPAddr{IP: net.IPv4(224, 1, 1, 1), Port: 4040}
	storageGroup = &net.UDPAddr{IP: net.IPv4(225, 1, 1, 1), Port: 4041}
)

const contextPoolSize = 32

func main() {
	id := flag.String("id", "stg1", "storage node id (4 chars on the wire)")
	ip := flag.String("ip", "0.0.0.0", "interface address to bind and beacon from")
	port := flag.Int("port", 5001, "Worker-facing request-reply port; port+1 is catch-up, port+2 is the replication bus")
	cacheDir := flag.String("cache", "/tmp/crawlmesh-cache", "cache directory, one file per URL")
	update := flag.Bool("update", false, "request a full catch-up from peer Storages on startup")
	adminAddr := flag.String("admin-addr", ":0", "admin HTTP listen address (health/peers/cache stats)")
	flag.Parse()

	logger := log.New(os.Stderr, "[storage "+*id+"] ", log.LstdFlags)

	store, err := cachestore.New(*cacheDir)
	if err != nil {
		logger.Fatalf("open cache: %v", err)
	}

	responder, err := transport.NewResponder(*ip + ":" + strconv.Itoa(*port))
	if err != nil {
		logger.Fatalf("bind worker-facing socket: %v", err)
	}
	catchUpResponder, err := transport.NewResponder(*ip + ":" + strconv.Itoa(*port+1))
	if err != nil {
		logger.Fatalf("bind catch-up socket: %v", err)
	}
	broadcaster, err := transport.NewBroadcaster(*ip + ":" + strconv.Itoa(*port+2))
	if err != nil {
		logger.Fatalf("bind replication bus: %v", err)
	}

	rep := replicate.New(*id, store, broadcaster, *update)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, err := beacon.NewSender(beacon.Storage, *id, *port, *ip, storageGroup)
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
	beacons := receiver.Run(ctx)

	peers := discovery.NewTable()

	go reapLoop(ctx, peers, rep, logger)
	go beaconLoop(ctx, beacons, peers, rep, *id, logger)
	go serveFetchUpdate(ctx, responder, store, rep, logger)
	go serveCatchUp(ctx, catchUpResponder, rep, logger)
	go rep.RunInbound(ctx)

	startAdmin(*adminAddr, *id, peers, store, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("stop")
	cancel()
	responder.Close()
	catchUpResponder.Close()
	rep.Close()
}

func beaconLoop(ctx context.Context, beacons <-chan beacon.Sighting, peers *discovery.Table, rep *replicate.Replicator, selfID string, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-beacons:
			if !ok {
				return
			}
			b := s.Beacon
			if b.ID == selfID {
				continue // self-address filtered out before dialing
			}
			addr := netip.AddrPortFrom(s.From, uint16(b.Port))
			for _, ev := range peers.Observe(b.ID, addr) {
				switch ev.Action {
				case discovery.EventAdd:
					logger.Printf("Added storage %s", ev.Peer)
					if err := rep.OnPeerAdded(ev.Addr); err != nil {
						logger.Printf("replicate to %s: %v", ev.Addr, err)
					}
				case discovery.EventDelete:
					logger.Printf("Removed storage %s", ev.Peer)
					_ = rep.OnPeerRemoved(ev.Addr)
				}
			}
		}
	}
}

func reapLoop(ctx context.Context, peers *discovery.Table, rep *replicate.Replicator, logger *log.Logger) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range peers.Reap(now) {
				logger.Printf("Removed storage %s", ev.Peer)
				_ = rep.OnPeerRemoved(ev.Addr)
			}
		}
	}
}

func serveFetchUpdate(ctx context.Context, responder *transport.Responder, store *cachestore.Store, rep *replicate.Replicator, logger *log.Logger) {
	for i := 0; i < contextPoolSize; i++ {
		tctx, err := responder.OpenContext()
		if err != nil {
			logger.Fatalf("open context: %v", err)
		}
		go func() {
			for {
				env, err := tctx.Recv()
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Printf("recv: %v", err)
					continue
				}

				switch env.Kind {
				case transport.KindFetch:
					var req transport.FetchRequest
					if err := json.Unmarshal(env.Payload, &req); err != nil {
						logger.Printf("malformed fetch request, dropping: %v", err)
						_ = tctx.Reply(transport.FetchReply{Error: "malformed request"})
						continue
					}
					content, hit := store.Get(req.URL)
					var cp *string
					if hit {
						cp = &content
					}
					_ = tctx.Reply(transport.FetchReply{ID: req.ID, URL: req.URL, Hit: hit, Content: cp})

				case transport.KindUpdate:
					var upd transport.UpdateRequest
					if err := json.Unmarshal(env.Payload, &upd); err != nil {
						logger.Printf("malformed update request, dropping: %v", err)
						_ = tctx.Reply(transport.Ack{OK: false})
						continue
					}
					if err := store.Set(upd.URL, upd.Content); err != nil {
						logger.Printf("cache set %s: %v", upd.URL, err)
					}
					if upd.Spread {
						rep.Spread(upd.URL, upd.Content)
					}
					_ = tctx.Reply(transport.Ack{OK: true})

				default:
					logger.Printf("unknown request kind %q, dropping", env.Kind)
					_ = tctx.Reply(transport.Ack{OK: false})
				}
			}
		}()
	}
	<-ctx.Done()
}

func serveCatchUp(ctx context.Context, responder *transport.Responder, rep *replicate.Replicator, logger *log.Logger) {
	for {
		env, err := responder.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Printf("catch-up recv: %v", err)
			continue
		}

		var hello transport.Hello
		if err := json.Unmarshal(env.Payload, &hello); err != nil {
			logger.Printf("malformed hello, dropping: %v", err)
			_ = responder.Reply(replicate.CatchUpReply{})
			continue
		}
		_ = responder.Reply(rep.Serve(hello))
	}
}

func startAdmin(addr, id string, peers *discovery.Table, store *cachestore.Store, logger *log.Logger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(adminapi.Logger(), adminapi.Recovery())

	h := adminapi.NewHandler("storage", id, func() []adminapi.PeerInfo {
		var out []adminapi.PeerInfo
		for _, p := range peers.All() {
			out = append(out, adminapi.PeerInfo{ID: p.ID, Addr: p.Addr.String()})
		}
		return out
	})
	h.ExtraPath = "/cache/stats"
	h.Extra = func() gin.H { return gin.H{"entries": store.Len()} }
	h.Register(router)

	go func() {
		if err := router.Run(addr); err != nil {
			logger.Printf("admin server stopped: %v", err)
		}
	}()
}
