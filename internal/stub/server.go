// Package stub is a small in-memory backend speaking the same protocol as the
// production service: bulk fetch, mutations, keepalive, and the SSE event
// feed. It backs the stub command and the integration tests; it is not a
// persistence layer.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studyhall/liveview/internal/model"
)

type event struct {
	name string
	data []byte
}

// Server holds the in-memory state and the set of live event subscribers.
type Server struct {
	mu       sync.Mutex
	entries  map[string]model.Entry
	contexts map[string]model.ParentContext
	subs     map[chan event]struct{}

	router *gin.Engine

	// PingInterval is the heartbeat cadence on the event feed.
	PingInterval time.Duration
}

// New creates a Server with empty state.
func New() *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		entries:      map[string]model.Entry{},
		contexts:     map[string]model.ParentContext{},
		subs:         map[chan event]struct{}{},
		PingInterval: 15 * time.Second,
	}
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	v1.GET("/events", s.streamEvents)

	v1.GET("/history", s.listEntries)
	v1.POST("/history", s.createEntry)
	v1.PATCH("/history/:id", s.updateEntry)
	v1.DELETE("/history/:id", s.deleteEntry)

	v1.GET("/contexts", s.listContexts)
	v1.POST("/contexts", s.createContext)
	v1.PATCH("/contexts/:id", s.updateContext)
	v1.DELETE("/contexts/:id", s.deleteContext)

	// Test hook: force every client through the resync path.
	v1.POST("/resync", func(c *gin.Context) {
		s.Broadcast(string(model.FrameResync), gin.H{})
		c.Status(http.StatusAccepted)
	})

	s.router = r
	return s
}

// Handler returns the main API handler.
func (s *Server) Handler() http.Handler { return s.router }

// ManagementHandler serves health and metrics, mirroring the production
// service's management listener.
func (s *Server) ManagementHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Broadcast fans one frame out to every live subscriber. Slow subscribers
// drop frames rather than block the mutation path; a dropped client recovers
// through its keepalive probe and resync.
func (s *Server) Broadcast(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("stub: encode frame", "event", name, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub <- event{name: name, data: data}:
		default:
		}
	}
}

// SeedEntry inserts an entry without emitting a frame; for test setup.
func (s *Server) SeedEntry(e model.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
}

// SeedContext inserts a context without emitting a frame; for test setup.
func (s *Server) SeedContext(pc model.ParentContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[pc.ID] = pc
}

func (s *Server) streamEvents(c *gin.Context) {
	if c.Query("identity") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	sub := make(chan event, 64)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	writeEvent(c, flusher, event{name: string(model.FramePing), data: []byte("{}")})

	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev := <-sub:
			writeEvent(c, flusher, ev)
		case <-ticker.C:
			writeEvent(c, flusher, event{name: string(model.FramePing), data: []byte("{}")})
		}
	}
}

func writeEvent(c *gin.Context, flusher http.Flusher, ev event) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.name, ev.data)
	flusher.Flush()
}

func (s *Server) listEntries(c *gin.Context) {
	s.mu.Lock()
	out := make([]model.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) createEntry(c *gin.Context) {
	var req struct {
		Title           string `json:"title"`
		ParentID        string `json:"parentId"`
		CorrelationHint string `json:"correlationHint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	e := model.Entry{
		ID:              uuid.NewString(),
		Title:           req.Title,
		CreatedAt:       now,
		UpdatedAt:       now,
		ParentID:        req.ParentID,
		CorrelationHint: req.CorrelationHint,
	}
	s.mu.Lock()
	if pc, ok := s.contexts[e.ParentID]; ok {
		e.ParentInfo = pc.Info()
	}
	s.entries[e.ID] = e
	s.mu.Unlock()

	s.Broadcast(string(model.FrameEntryCreated), e)
	c.JSON(http.StatusCreated, e)
}

func (s *Server) updateEntry(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if req.Title != "" {
		e.Title = req.Title
	}
	e.UpdatedAt = time.Now().UTC()
	s.entries[id] = e
	s.mu.Unlock()

	s.Broadcast(string(model.FrameEntryUpdated), e)
	c.JSON(http.StatusOK, e)
}

func (s *Server) deleteEntry(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	s.Broadcast(string(model.FrameEntryDeleted), model.Deletion{ID: id})
	c.Status(http.StatusNoContent)
}

func (s *Server) listContexts(c *gin.Context) {
	s.mu.Lock()
	out := make([]model.ParentContext, 0, len(s.contexts))
	for _, pc := range s.contexts {
		out = append(out, pc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) createContext(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	now := time.Now().UTC()
	pc := model.ParentContext{ID: uuid.NewString(), Name: req.Name, Icon: req.Icon, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.contexts[pc.ID] = pc
	s.mu.Unlock()

	s.Broadcast(string(model.FrameContextCreated), pc)
	c.JSON(http.StatusCreated, pc)
}

func (s *Server) updateContext(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	pc, ok := s.contexts[id]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "context not found"})
		return
	}
	if req.Name != "" {
		pc.Name = req.Name
	}
	if req.Icon != "" {
		pc.Icon = req.Icon
	}
	pc.UpdatedAt = time.Now().UTC()
	s.contexts[id] = pc
	s.mu.Unlock()

	s.Broadcast(string(model.FrameContextUpdated), pc)
	c.JSON(http.StatusOK, pc)
}

func (s *Server) deleteContext(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.contexts[id]
	delete(s.contexts, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "context not found"})
		return
	}
	s.Broadcast(string(model.FrameContextDeleted), model.Deletion{ID: id})
	c.Status(http.StatusNoContent)
}
