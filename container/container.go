package container

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"taskmarket-backend/config"
	"taskmarket-backend/core/marketplace"
	"taskmarket-backend/mcp"
	"taskmarket-backend/middleware"
	marketmw "taskmarket-backend/middleware/marketplace"
	auth "taskmarket-backend/storage/auth"
	store "taskmarket-backend/storage/marketplace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config

	// Core
	Store    marketplace.Store
	Market   *marketplace.Marketplace
	Height   marketplace.HeightSource
	Registry *prometheus.Registry

	// Auth
	APIKeys    auth.APIKeyValidator
	Authorizer marketplace.Authorizer

	// Transports
	REST *marketmw.Server
	MCP  *mcp.MCPServer

	closers []func()
}

// NewContainer wires stores, the marketplace and its transports from cfg.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	kv, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	c.Store = kv
	c.closers = append(c.closers, kv.Close)

	if !cfg.Auth.TrustAccountHeader {
		keys, err := c.openAPIKeys(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.APIKeys = keys
	}
	c.Authorizer = buildAuthorizer(cfg.Auth)
	c.Height = buildHeight(cfg.Height)

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.Market, err = marketplace.New(marketplace.Options{
		Store:      kv,
		Params:     cfg.Params,
		Authorizer: c.Authorizer,
		Height:     c.Height,
		Registerer: c.Registry,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	metrics := promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
	c.REST = marketmw.NewServer(c.Market, c.APIKeys, metrics)
	c.MCP = mcp.NewMCPServer(c.Market, c.APIKeys, cfg.Server.MCPAPIKey)
	return c, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (marketplace.Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := store.NewPGStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// openAPIKeys keeps API keys next to market state when Postgres is used.
func (c *Container) openAPIKeys(ctx context.Context, cfg *config.Config) (auth.APIKeyValidator, error) {
	type seeder interface {
		auth.APIKeyValidator
		Seed(key, account string) error
	}
	var keys seeder
	if cfg.Store.Driver == "postgres" {
		pg, err := auth.NewPGAPIKeyStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open api key store: %w", err)
		}
		c.closers = append(c.closers, pg.Close)
		keys = pg
	} else {
		keys = auth.NewAPIKeyStore()
	}
	for _, k := range cfg.Auth.APIKeys {
		if err := keys.Seed(k.Key, k.Account); err != nil {
			return nil, fmt.Errorf("seed api key for %s: %w", k.Account, err)
		}
	}
	log.Printf("api keys: %d seeded from config", len(cfg.Auth.APIKeys))
	return keys, nil
}

func buildAuthorizer(cfg config.AuthConfig) marketplace.Authorizer {
	static := marketplace.NewStaticAuthorizer()
	for _, capCfg := range cfg.Capabilities {
		static.Grant(capCfg.Token, capCfg.Principal, capCfg.ParsedActions()...)
	}
	if cfg.JWTSecret == "" {
		return static
	}
	return marketplace.MultiAuthorizer{static, marketplace.NewJWTAuthorizer(cfg.JWTSecret, cfg.JWTIssuer)}
}

func buildHeight(cfg config.HeightConfig) marketplace.HeightSource {
	if cfg.Mode == "manual" {
		return marketplace.NewManualHeight(cfg.Start)
	}
	genesis := cfg.Genesis
	if genesis.IsZero() {
		genesis = time.Now()
	}
	return marketplace.NewClockHeight(genesis, cfg.Interval)
}

// Handler returns the REST API, metrics and MCP HTTP bridge on one mux.
func (c *Container) Handler() http.Handler {
	mux := http.NewServeMux()
	c.REST.RegisterRoutes(mux)
	mcp.NewHTTPMCPServer(c.MCP).RegisterRoutes(mux)
	return middleware.Chain(mux,
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS,
		middleware.RateLimit(c.Config.Server.RateLimit, time.Minute),
	)
}

// Close releases stores in reverse order of opening.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
