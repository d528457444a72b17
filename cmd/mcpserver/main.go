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

	"taskmarket-backend/config"
	"taskmarket-backend/container"
	"taskmarket-backend/mcp"

	"github.com/mark3labs/mcp-go/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to YAML config")
	flag.Parse()

	// stdout carries the MCP protocol on stdio.
	log.SetOutput(os.Stderr)

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
	}

	log.Printf("Task Marketplace MCP server starting (driver=%s, tools=%d)", cfg.Store.Driver, len(c.MCP.Tools()))

	if cfg.Server.MCPAddr != "" {
		mux := http.NewServeMux()
		mcp.NewHTTPMCPServer(c.MCP).RegisterRoutes(mux)
		srv := &http.Server{Addr: cfg.Server.MCPAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		log.Printf("serving MCP over HTTP on %s", cfg.Server.MCPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	// Start the MCP server using stdio transport
	if err := server.ServeStdio(c.MCP.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
