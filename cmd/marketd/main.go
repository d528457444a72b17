package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskmarket-backend/config"
	"taskmarket-backend/container"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init marketplace: %v", err)
	}
	defer c.Close()

	if cfg.Housekeeping.Interval > 0 {
		c.Market.StartHousekeeping(ctx, cfg.Housekeeping.Interval)
		log.Printf("housekeeping enabled (interval=%s, prune_after_blocks=%d)", cfg.Housekeeping.Interval, cfg.Params.PruneAfterBlocks)
	}
	if c.APIKeys == nil {
		log.Printf("WARNING: api keys disabled, trusting X-Account header")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("task marketplace listening on %s (driver=%s, height=%d)", cfg.Server.Addr, cfg.Store.Driver, c.Market.Height())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}
