// Package adminhttp is a read-only HTTP introspection surface for a
// running LoopCache node (master or data node): health, the current ring,
// and (on a data node) storage stats. It never touches the binary wire
// protocol or carries any Get/Put/Delete object traffic — that's C4/C6's
// job — it exists purely so an operator can point a browser or curl at a
// node instead of hand-rolling a wire-protocol client.
package adminhttp

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"loopcache/internal/cluster"
	"loopcache/internal/store"
)

// RingProvider exposes the ring a node is currently operating against.
// Implemented by *cluster.Ring (the master passes its authoritative ring)
// and by *datanode.DataNode.
type RingProvider interface {
	Nodes() []*cluster.Node
}

// StatsProvider exposes a data node's storage engine stats. nil on a
// master — a master has no store of its own.
type StatsProvider interface {
	Stats() store.Stats
}

// Handler serves the introspection routes.
type Handler struct {
	role   string // "master" or "data"
	ring   RingProvider
	stats  StatsProvider // nil on a master
	logger *log.Logger
}

// NewHandler builds a Handler. stats may be nil (master mode).
func NewHandler(role string, ring RingProvider, stats StatsProvider, logger *log.Logger) *Handler {
	return &Handler{role: role, ring: ring, stats: stats, logger: logger}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/ring", h.Ring)
	if h.stats != nil {
		r.GET("/stats", h.Stats)
	}
}

// Health reports that the process is up and which role it's serving.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "role": h.role})
}

// Ring reports the current ring's node list.
func (h *Handler) Ring(c *gin.Context) {
	nodes := h.ring.Nodes()
	out := make([]gin.H, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, gin.H{
			"name":      n.Name(),
			"host":      n.HostName,
			"port":      n.Port,
			"maxBytes":  n.MaxBytes,
			"status":    n.Status.String(),
			"locations": len(n.Locations),
		})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out})
}

// Stats reports this data node's storage engine counters. Not mounted on
// a master (see Register).
func (h *Handler) Stats(c *gin.Context) {
	s := h.stats.Stats()
	c.JSON(http.StatusOK, gin.H{
		"numObjects":     s.NumObjects,
		"totalDataBytes": s.TotalDataBytes,
		"latestRAMBytes": s.LatestRAMBytes,
		"ramMultiplier":  s.FormattedMultiplier(),
		"maxBytes":       s.MaxBytes,
	})
}

// NewEngine builds a gin.Engine with Recovery+Logger middleware and h's
// routes mounted, ready to run on its own listener/port (spec's ambient
// introspection surface is deliberately separate from the wire protocol's
// listener).
func NewEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(Recovery(h.logger), Logger(h.logger))
	h.Register(r)
	return r
}
