// Package adminapi mounts a small Gin HTTP surface on every node for
// operational introspection — health, known peers, and per-role
// counters. It carries over the predecessor's gin wiring (the same
// Logger/Recovery middleware shape) repurposed from serving KV reads and
// writes to read-only node introspection; nothing here sits on the
// crawl data path.
package adminapi

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs every admin request with method, path, client, status and
// latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[admin] %s %s %s | %d | %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Recovery turns a panic inside a handler into a 500 instead of crashing
// the node's admin listener.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[admin] PANIC recovered: %v", err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
