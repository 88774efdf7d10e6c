package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridvale/internal/admission"
	"gridvale/internal/audit"
	"gridvale/internal/events"
	"gridvale/internal/hub"
	"gridvale/internal/logger"
	"gridvale/internal/server"
	"gridvale/internal/session"
	"gridvale/internal/telemetry"

	"github.com/go-redis/redis/v8"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telemetry
	shutdown, err := telemetry.InitOtel()
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()

	logger.Init()

	// Connection trust list; a missing or malformed file falls back to
	// loopback-only trust with the default quotas.
	trustPath := os.Getenv("TRUSTLIST_PATH")
	if trustPath == "" {
		trustPath = "trustlist.yaml"
	}
	gate := admission.NewController(admission.LoadTrustList(trustPath))

	// Redis is optional: without REDIS_CONNSTRING the relay runs standalone
	// and lifecycle events are simply not mirrored.
	var publisher *events.Publisher
	if connstring := os.Getenv("REDIS_CONNSTRING"); connstring != "" {
		opts, err := redis.ParseURL(connstring)
		if err != nil {
			log.Fatalf("failed to parse redis connstring: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		publisher = events.NewPublisher(rdb)
	}

	// Connection audit trail, also optional.
	var auditLog *audit.Store
	if path := os.Getenv("AUDIT_DB_PATH"); path != "" {
		auditLog, err = audit.Open(path)
		if err != nil {
			log.Fatalf("failed to open audit db: %v", err)
		}
		defer auditLog.Close()
	}

	registry := session.NewRegistry()

	h := hub.NewHub(registry, gate, auditLog, publisher)
	go h.Run(ctx)

	srv := server.NewServer(h, registry, gate, auditLog)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Engine(),
	}

	go func() {
		log.Printf("relay server started on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop

	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
