package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/api"
	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/monitor"
	"github.com/drishti-labs/crowdwatch/internal/session"
)

// runServer mounts the API and monitor routes and serves until ctx is
// cancelled, then shuts down gracefully.
func runServer(ctx context.Context, addr string, manager *session.Manager, tuning *config.TuningConfig, speedUnits string) error {
	mux := http.NewServeMux()

	apiServer := api.NewServer(manager, tuning, speedUnits)
	mux.Handle("/api/", apiServer.ServeMux())

	monitor.NewWebServer(manager).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("crowdwatch listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Print("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
