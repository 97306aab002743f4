package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PeerInfo is the introspection-facing shape of one known peer.
type PeerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Handler serves one node's admin surface. ExtraPath/Extra are optional:
// Worker mounts "/requests" (received/completed/in-flight counts), Storage mounts
// "/cache/stats" (entry count), and Client mounts "/feed" (pending count).
type Handler struct {
	Role  string
	ID    string
	Peers func() []PeerInfo

	ExtraPath string
	Extra     func() gin.H
}

// NewHandler builds a Handler for one node.
func NewHandler(role, id string, peers func() []PeerInfo) *Handler {
	return &Handler{Role: role, ID: id, Peers: peers}
}

// Register mounts the admin routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/peers", h.peersList)
	if h.ExtraPath != "" && h.Extra != nil {
		r.GET(h.ExtraPath, h.extra)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"role":       h.Role,
		"id":         h.ID,
		"status":     "ok",
		"peer_count": len(h.Peers()),
	})
}

func (h *Handler) peersList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.Peers()})
}

func (h *Handler) extra(c *gin.Context) {
	c.JSON(http.StatusOK, h.Extra())
}
