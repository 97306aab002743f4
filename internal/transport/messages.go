// Package transport wraps go.nanomsg.org/mangos/v3 scalability-protocol
// sockets into the request-reply and broadcast primitives this system's
// nodes use to talk to each other: a rep/req pair stands in for the
// Router/Dealer vocabulary of the design, and a bus socket carries
// Storage-to-Storage replication spread.
package transport

// FetchRequest is sent Client→Worker and, unchanged, Worker→Storage.
type FetchRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FetchReply is the Storage→Worker and Worker→Client cache-lookup answer.
// Content is nil on a miss.
type FetchReply struct {
	ID      string  `json:"id,omitempty"`
	URL     string  `json:"url"`
	Hit     bool    `json:"hit"`
	Content *string `json:"content"`
	Error   string  `json:"error,omitempty"`
}

// UpdateRequest is sent Worker→Storage whenever a scrape result (or a
// cache hit being refreshed) needs to be written through. Spread controls
// whether the receiving Storage rebroadcasts it to its replication peers.
type UpdateRequest struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Spread  bool   `json:"spread"`
}

// Hello is the first frame sent over a freshly-dialed Storage-to-Storage
// replication connection.
type Hello struct {
	ID       string `json:"id"`
	New      bool   `json:"new"`
	UpdateMe bool   `json:"updateme"`
}

// ReplicateEntry is one record in a catch-up stream or an incremental
// spread. The end-of-stream sentinel has both URL and Content as nil —
// represented here by IsEnd.
type ReplicateEntry struct {
	URL     *string `json:"url"`
	Content *string `json:"content"`
	Spread  bool    `json:"spread"`
}

// IsEnd reports whether e is the catch-up stream's terminating sentinel.
func (e ReplicateEntry) IsEnd() bool {
	return e.URL == nil && e.Content == nil
}

// EndOfStream is the sentinel entry terminating a catch-up stream.
var EndOfStream = ReplicateEntry{}

// NewEntry builds a non-terminal replication entry.
func NewEntry(url, content string, spread bool) ReplicateEntry {
	return ReplicateEntry{URL: &url, Content: &content, Spread: spread}
}
