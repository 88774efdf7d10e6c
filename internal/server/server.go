package server

import (
	"log"
	"net/http"

	"gridvale/internal/admission"
	"gridvale/internal/audit"
	"gridvale/internal/hub"
	"gridvale/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("server")

// Server exposes the websocket entry point and the read-only diagnostic
// endpoints over a gin engine.
type Server struct {
	hub      *hub.Hub
	registry *session.Registry
	gate     *admission.Controller
	auditLog *audit.Store
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(h *hub.Hub, registry *session.Registry, gate *admission.Controller, auditLog *audit.Store) *Server {
	s := &Server{
		hub:      h,
		registry: registry,
		gate:     gate,
		auditLog: auditLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", s.handleWebSocket)
	engine.GET("/status", s.handleStatus)
	engine.GET("/status/history", s.handleStatusHistory)
	engine.GET("/healthz", s.handleHealthz)
	s.engine = engine
	return s
}

// Engine returns the configured gin engine for the http.Server.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// handleWebSocket gates the connection by source address, upgrades it, and
// hands it to the hub under a fresh connection identity. Rejection happens
// before the handshake completes and before any player state exists.
func (s *Server) handleWebSocket(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "server.handleWebSocket", trace.WithAttributes(
		attribute.String("http.url", c.Request.URL.String()),
	))
	defer span.End()

	addr := c.ClientIP()
	span.SetAttributes(attribute.String("conn.addr", addr))

	if err := s.gate.Admit(ctx, addr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Connection rejected at admission")
		if auditErr := s.auditLog.Record(ctx, addr, "", audit.EventRejected); auditErr != nil {
			log.Printf("failed to record rejection for %s: %v", addr, auditErr)
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The quota slot was taken at admission; give it back so a failed
		// handshake never leaks an increment.
		s.gate.Release(addr)
		log.Printf("Failed to upgrade connection: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to upgrade connection")
		return
	}

	connID := uuid.New().String()
	span.SetAttributes(attribute.String("conn.id", connID))

	if err := s.auditLog.Record(ctx, addr, connID, audit.EventAccepted); err != nil {
		log.Printf("failed to record accept for %s: %v", connID, err)
	}

	client := hub.NewClient(connID, addr, conn)
	s.hub.Attach(client)
	go client.WritePump()
	go client.ReadPump(s.hub)
}

// handleStatus reports per-address connection counts, the live player total
// and the active trust list. Operational visibility only; nothing mutates.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": s.gate.Counts(),
		"players":     s.registry.Len(),
		"trustList":   s.gate.TrustList(),
	})
}

func (s *Server) handleStatusHistory(c *gin.Context) {
	limit := 50
	entries, err := s.auditLog.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
