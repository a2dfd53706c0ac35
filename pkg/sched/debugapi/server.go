// Package debugapi serves a small, read-only, local introspection API over
// a live *sched.Scheduler: run queue snapshots, individual thread state,
// a liveness probe, prometheus metrics, and a websocket event stream.
// Grounded in the teacher's pkg/api gin-router convention (one engine,
// versionless routes, cors.Default() for local dashboard use).
package debugapi

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/khryptorgraphics/smpsched/pkg/sched"
)

// Server wraps a gin.Engine bound to one scheduler instance.
type Server struct {
	engine *gin.Engine
	sched  *sched.Scheduler
	log    zerolog.Logger

	upgrader websocket.Upgrader

	broadcastMu sync.Mutex
	clients     map[*websocket.Conn]chan sched.Event
}

// New builds a Server. If reg is non-nil, /metrics serves its collectors
// via promhttp (SPEC_FULL.md §3.2); pass nil to omit the metrics route.
func New(s *sched.Scheduler, reg prometheus.Gatherer, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	srv := &Server{
		engine:   gin.New(),
		sched:    s,
		log:      log,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]chan sched.Event),
	}

	srv.engine.Use(gin.Recovery())
	srv.engine.Use(cors.Default())

	srv.engine.GET("/healthz", srv.handleHealthz)
	srv.engine.GET("/runqueues", srv.handleRunQueues)
	srv.engine.GET("/runqueues/:cpu", srv.handleRunQueue)
	srv.engine.GET("/threads/:id", srv.handleThread)
	srv.engine.GET("/ws/events", srv.handleEvents)

	if reg != nil {
		srv.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	go srv.pumpEvents()

	return srv
}

// Handler exposes the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cpus": s.sched.CPUCount()})
}

func (s *Server) handleRunQueues(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Snapshot())
}

func (s *Server) handleRunQueue(c *gin.Context) {
	var cpu int
	if _, err := fmt.Sscanf(c.Param("cpu"), "%d", &cpu); err != nil || cpu < 0 || cpu >= s.sched.CPUCount() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cpu"})
		return
	}
	c.JSON(http.StatusOK, s.sched.RunQueue(sched.CPUID(cpu)).Snapshot())
}

func (s *Server) handleThread(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return
	}
	t, ok := s.sched.ThreadByID(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or reaped thread"})
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// handleEvents upgrades to a websocket and streams every scheduling event
// until the client disconnects — the "live event stream" of SPEC_FULL.md
// §3.4.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := make(chan sched.Event, 64)
	s.broadcastMu.Lock()
	s.clients[conn] = ch
	s.broadcastMu.Unlock()

	defer func() {
		s.broadcastMu.Lock()
		delete(s.clients, conn)
		s.broadcastMu.Unlock()
		conn.Close()
	}()

	for e := range ch {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}

// pumpEvents fans the scheduler's single event channel out to every
// connected websocket client, dropping events for a client whose buffer is
// full rather than ever blocking on a slow reader.
func (s *Server) pumpEvents() {
	for e := range s.sched.Events() {
		s.broadcastMu.Lock()
		for conn, ch := range s.clients {
			select {
			case ch <- e:
			default:
				s.log.Debug().Msg("dropping event for slow websocket client")
				_ = conn
			}
		}
		s.broadcastMu.Unlock()
	}
}
