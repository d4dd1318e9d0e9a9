package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raeburn-ai/raeburn/internal/app"
)

// version is stamped by release builds through -ldflags; local builds say dev.
var version = "dev"

func main() {
	// Container health probe mode: the runtime image ships no curl.
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		if err := runHealthCheck(listenAddrFromEnv()); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatalf("raeburnd: %v", err)
	}
}

func listenAddrFromEnv() string {
	if addr := os.Getenv("RAEBURN_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

// runHealthCheck probes the local /healthz endpoint. addr is ":port" or
// "host:port".
func runHealthCheck(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("healthz unreachable: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz status %d", resp.StatusCode)
	}
	return nil
}

func run() error {
	log.Printf("raeburnd version %s", version)

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	srv, err := app.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("assemble server: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
		// No global ReadTimeout: /v1/events holds connections open.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // routing waits on the slowest provider
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("raeburnd listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	go watchReload(srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		_ = srv.Close()
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	case <-ctx.Done():
	}
	// Restore default signal handling so a second interrupt kills us.
	stop()
	log.Printf("shutting down, draining in-flight requests")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("server close: %v", err)
	}
	log.Printf("raeburnd stopped")
	return nil
}

// watchReload re-reads configuration on every SIGHUP. A broken environment
// keeps the running config.
func watchReload(srv *app.Server) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		cfg, err := app.LoadConfig()
		if err != nil {
			log.Printf("config reload rejected: %v", err)
			continue
		}
		log.Printf("SIGHUP: configuration reloaded")
		srv.Reload(cfg)
	}
}
