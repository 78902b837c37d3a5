package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horsedraw.org/internal/draw"
	"horsedraw.org/internal/httpapi"
	"horsedraw.org/internal/obs"
	"horsedraw.org/internal/store/pg"
	"horsedraw.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Durable store when a DSN is configured, in-memory otherwise.
	var store draw.Store
	var probe httpapi.ReadyProbe
	var pgStore *pg.Store
	if dsn := os.Getenv("HORSEDRAW_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		store = draw.NewInMemory()
	}

	engine := draw.NewEngine(store)
	notifications := stream.New()

	api := httpapi.New(engine, store, notifications, probe, version)

	addr := os.Getenv("HORSEDRAW_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	// No WriteTimeout: the SSE stream endpoint holds responses open.
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting horsedraw-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
