package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/unitmon/internal/logfields"
	"git.home.luguber.info/inful/unitmon/internal/metrics"
)

// startAdminServer serves /healthz and /metrics on the configured listener.
// The returned stop function shuts the server down and must be called before
// the next engine run rebinds the address.
func (d *Daemon) startAdminServer(ctx context.Context) (stop func(), err error) {
	cfg := d.currentConfig()
	if !cfg.Admin.Enabled {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.healthHandler())
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))

	server := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Admin endpoint listening", slog.String("addr", cfg.Admin.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin server failed", logfields.Error(err))
		}
	}()

	stop = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Admin server shutdown failed", logfields.Error(err))
		}
	}
	return stop, nil
}
