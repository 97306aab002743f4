package reqstate

import (
	"context"
	"log"
	"time"
)

// queueCap bounds the inbound/outbound channels so a fast Worker applies
// backpressure to its Client instead of growing memory unbounded — per
// the design's own open question ("no backpressure exists... consider
// bounded channels").
const queueCap = 256

// Machine is the Worker's request state machine, run as a single actor
// goroutine. All four state queues are private to the goroutine running
// Run; every interaction happens over the channels below.
type Machine struct {
	clientReqs  chan ClientRequest
	storageReps chan StorageReply
	scrapeRes   chan ScrapeResult
	peerCountCh chan int

	clientReplies  chan ClientReply
	scrapeJobs     chan ScrapeJob
	storageFetches chan StorageFetch
	pendantUpdates chan PendantUpdate

	// state, owned exclusively by Run's goroutine
	newQ          []Key
	caching       map[Key]*Request
	scraping      map[Key]*Request
	ready         []*Request
	all           map[Key]*Request // every live request, any state, for lookup by Key
	storagesKnown int
}

// New constructs an idle Machine. Call Run to start the actor loop.
func New() *Machine {
	return &Machine{
		clientReqs:     make(chan ClientRequest, queueCap),
		storageReps:    make(chan StorageReply, queueCap),
		scrapeRes:      make(chan ScrapeResult, queueCap),
		peerCountCh:    make(chan int, 1),
		clientReplies:  make(chan ClientReply, queueCap),
		scrapeJobs:     make(chan ScrapeJob, queueCap),
		storageFetches: make(chan StorageFetch, queueCap),
		pendantUpdates: make(chan PendantUpdate, queueCap),
		caching:        make(map[Key]*Request),
		scraping:       make(map[Key]*Request),
		all:            make(map[Key]*Request),
	}
}

// ClientRequests is the inbound channel for newly-arrived client requests.
func (m *Machine) ClientRequests() chan<- ClientRequest { return m.clientReqs }

// StorageReplies is the inbound channel for Storage fetch responses.
func (m *Machine) StorageReplies() chan<- StorageReply { return m.storageReps }

// ScrapeResults is the inbound channel for scraper pool completions.
func (m *Machine) ScrapeResults() chan<- ScrapeResult { return m.scrapeRes }

// SetStoragesKnown reports how many Storage peers are currently known,
// driving rule 2 (direct NEW→SCRAPING promotion when none are known).
func (m *Machine) SetStoragesKnown() chan<- int { return m.peerCountCh }

// ClientReplies is the outbound channel of answers ready to send back to
// clients.
func (m *Machine) ClientReplies() <-chan ClientReply { return m.clientReplies }

// ScrapeJobs is the outbound channel of fetch jobs for the scraper pool.
func (m *Machine) ScrapeJobs() <-chan ScrapeJob { return m.scrapeJobs }

// StorageFetches is the outbound channel of cache lookups to issue
// against a Storage.
func (m *Machine) StorageFetches() <-chan StorageFetch { return m.storageFetches }

// PendantUpdates is the outbound channel of cache write-backs to push to
// Storage once a request reaches READY.
func (m *Machine) PendantUpdates() <-chan PendantUpdate { return m.pendantUpdates }

// Run is the single-select actor loop. It implements the six main-loop
// decision rules of the Worker design: drain discovery-driven availability
// changes, promote NEW→SCRAPING when no Storages are known, apply Storage
// replies, prune expired CACHING requests, dispatch the next NEW request,
// and deliver READY requests. Each pass handles whichever one inbound
// event the select picks (no event kind takes priority over another),
// then dispatches at most one NEW request and delivers every READY one.
func (m *Machine) Run(ctx context.Context) {
	pruneTicker := time.NewTicker(PruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n := <-m.peerCountCh:
			m.storagesKnown = n
			if n == 0 {
				m.promoteAllNewToScraping()
			}

		case cr := <-m.clientReqs:
			m.admit(cr)

		case rep := <-m.storageReps:
			m.applyStorageReply(rep)

		case res := <-m.scrapeRes:
			m.applyScrapeResult(res)

		case <-pruneTicker.C:
			m.pruneExpiredCaching()
		}

		m.dispatchNext()
		m.deliverReady()
	}
}

// admit enqueues a freshly-arrived client request as NEW (rule 5). If no
// Storages are known it goes straight to SCRAPING (rule 2's direct path).
// A duplicate arrival of a key still in flight joins the existing record
// instead of starting a second traversal; each arrival keeps its own
// token, so each still gets its own delivery.
func (m *Machine) admit(cr ClientRequest) {
	if existing, ok := m.all[cr.Key]; ok {
		existing.Tokens = append(existing.Tokens, cr.Token)
		return
	}

	req := &Request{Key: cr.Key, Tokens: []any{cr.Token}, State: StateNew}
	m.all[cr.Key] = req

	if m.storagesKnown == 0 {
		m.toScraping(req)
		return
	}
	m.newQ = append(m.newQ, cr.Key)
}

// applyStorageReply implements rule 3: a hit moves CACHING→READY with
// content; a miss moves CACHING→SCRAPING; a malformed reply is logged and
// dropped, leaving the slot for the sender to retry.
func (m *Machine) applyStorageReply(rep StorageReply) {
	if rep.Malformed {
		log.Printf("reqstate: malformed storage reply for %+v, dropping", rep.Key)
		return
	}

	req, ok := m.caching[rep.Key]
	if !ok {
		return // already resolved (e.g. pruned) — reply arrived late
	}
	delete(m.caching, rep.Key)

	if rep.Hit {
		req.Content = rep.Content
		req.Hit = true
		m.toReady(req)
		return
	}
	m.toScraping(req)
}

// applyScrapeResult moves a SCRAPING request to READY on success, or
// reports the failure to the client (content is not cached on failure).
func (m *Machine) applyScrapeResult(res ScrapeResult) {
	req, ok := m.scraping[res.Key]
	if !ok {
		return
	}
	delete(m.scraping, res.Key)

	if res.Err != nil {
		for _, token := range req.Tokens {
			m.clientReplies <- ClientReply{Token: token, URL: res.Key.URL, Err: res.Err.Error()}
		}
		delete(m.all, res.Key)
		return
	}

	req.Content = res.Content
	req.Hit = false
	m.toReady(req)
}

// pruneExpiredCaching implements the 250ms cache-timeout pruner: any
// CACHING request whose expiry has passed falls through to SCRAPING.
func (m *Machine) pruneExpiredCaching() {
	now := time.Now()
	for key, req := range m.caching {
		if req.Expiry.Before(now) {
			delete(m.caching, key)
			m.toScraping(req)
		}
	}
}

// dispatchNext implements rule 4's NEW-draining half: pop one NEW
// request, stamp its expiry, move it to CACHING, and request its fetch.
func (m *Machine) dispatchNext() {
	if len(m.newQ) == 0 {
		return
	}
	key := m.newQ[0]
	m.newQ = m.newQ[1:]

	req, ok := m.all[key]
	if !ok || req.State != StateNew {
		return
	}
	req.State = StateCaching
	req.Expiry = time.Now().Add(WorkerReqExpiry)
	m.caching[key] = req

	select {
	case m.storageFetches <- StorageFetch{Key: key}:
	default:
		// Fetch queue briefly full; the request still sits in CACHING and
		// will fall through to SCRAPING on its own timeout if nobody drains it.
	}
}

// deliverReady implements rule 6: send every READY request back to its
// client and queue its content as a pendant cache write-back.
func (m *Machine) deliverReady() {
	if len(m.ready) == 0 {
		return
	}
	pending := m.ready
	m.ready = nil

	for _, req := range pending {
		for _, token := range req.Tokens {
			m.clientReplies <- ClientReply{
				Token:   token,
				URL:     req.Key.URL,
				Hit:     req.Hit,
				Content: req.Content,
			}
		}
		m.pendantUpdates <- PendantUpdate{URL: req.Key.URL, Content: req.Content}
		delete(m.all, req.Key)
	}
}

func (m *Machine) toScraping(req *Request) {
	req.State = StateScraping
	m.scraping[req.Key] = req
	select {
	case m.scrapeJobs <- ScrapeJob{Key: req.Key}:
	default:
	}
}

func (m *Machine) toReady(req *Request) {
	req.State = StateReady
	m.ready = append(m.ready, req)
}

func (m *Machine) promoteAllNewToScraping() {
	for _, key := range m.newQ {
		if req, ok := m.all[key]; ok && req.State == StateNew {
			m.toScraping(req)
		}
	}
	m.newQ = nil
}
