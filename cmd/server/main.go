package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"schoolbus-tracker/internal/config"
	"schoolbus-tracker/internal/core"
	"schoolbus-tracker/internal/httpapi"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/realtime"
	"schoolbus-tracker/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// Metrics setup
	col := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = col.Serve(cfg.MetricsAddr)
	}

	// Realtime fan-out: websocket hub plus NATS bridge, both behind the
	// sequence gate.
	hub := realtime.NewHub(col)
	pub, err := realtime.NewNATSPublisher(cfg.NATSURL, col)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()
	bc := realtime.NewBroadcaster(col, hub, pub)

	// Core components, leaf first
	occ := core.NewOccupancyTracker()
	prov := core.NewTripProvisioner(st, col)
	trips := core.NewTripStateMachine(st, occ, col)
	schedules := core.NewScheduleManager(st, prov, occ, cfg.OpTimeout, col)
	locations := core.NewLocationIngest(st, bc, cfg.OpTimeout, col)

	router := httpapi.NewRouter(&httpapi.Server{
		Schedules: schedules,
		Trips:     trips,
		Locations: locations,
		Fleet:     st,
		Hub:       hub,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Block until context cancelled
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}
