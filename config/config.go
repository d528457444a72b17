// Package config defines the marketplace daemon configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"taskmarket-backend/core/marketplace"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Store        StoreConfig        `json:"store" yaml:"store"`
	Auth         AuthConfig         `json:"auth" yaml:"auth"`
	Height       HeightConfig       `json:"height" yaml:"height"`
	Housekeeping HousekeepingConfig `json:"housekeeping" yaml:"housekeeping"`
	Params       marketplace.Params `json:"params" yaml:"params"`
}

// ServerConfig controls the HTTP and MCP listeners.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // REST listen address, e.g. ":3001"
	// MCPAddr serves MCP over HTTP when set; cmd/mcpserver uses stdio otherwise.
	MCPAddr string `json:"mcp_addr" yaml:"mcp_addr"`
	// MCPAPIKey is the default identity for MCP tool calls.
	MCPAPIKey string `json:"mcp_api_key" yaml:"mcp_api_key"`
	// RateLimit is requests per minute per API key or IP; 0 disables.
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory | sqlite | postgres
	DSN    string `json:"dsn" yaml:"dsn"`
}

// AuthConfig binds API keys to accounts and lists privileged capabilities.
type AuthConfig struct {
	APIKeys      []APIKeyConfig     `json:"api_keys" yaml:"api_keys"`
	Capabilities []CapabilityConfig `json:"capabilities" yaml:"capabilities"`
	JWTSecret    string             `json:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer    string             `json:"jwt_issuer" yaml:"jwt_issuer"`
	// TrustAccountHeader accepts X-Account without API keys. Development only.
	TrustAccountHeader bool `json:"trust_account_header" yaml:"trust_account_header"`
}

// APIKeyConfig seeds one API key.
type APIKeyConfig struct {
	Key     string `json:"key" yaml:"key"`
	Account string `json:"account" yaml:"account"`
}

// CapabilityConfig grants a static token some privileged actions.
type CapabilityConfig struct {
	Token     string   `json:"token" yaml:"token"`
	Principal string   `json:"principal" yaml:"principal"`
	Actions   []string `json:"actions" yaml:"actions"`
}

// HeightConfig picks the block height source.
type HeightConfig struct {
	Mode     string        `json:"mode" yaml:"mode"` // manual | clock
	Start    uint64        `json:"start" yaml:"start"`
	Genesis  time.Time     `json:"genesis" yaml:"genesis"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// HousekeepingConfig controls the prune and metrics loop.
type HousekeepingConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"` // 0 disables
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":3001",
			RateLimit: 600,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Auth: AuthConfig{
			JWTIssuer: "taskmarket",
		},
		Height: HeightConfig{
			Mode:     "clock",
			Interval: 6 * time.Second,
		},
		Housekeeping: HousekeepingConfig{
			Interval: time.Minute,
		},
		Params: marketplace.DefaultParams(),
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise starts from DefaultConfig.
// Environment overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from MARKET_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	c.Server.Addr = env("MARKET_ADDR", c.Server.Addr)
	c.Server.MCPAddr = env("MARKET_MCP_ADDR", c.Server.MCPAddr)
	c.Server.MCPAPIKey = env("MARKET_MCP_API_KEY", c.Server.MCPAPIKey)
	c.Store.Driver = env("MARKET_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = env("MARKET_STORE_DSN", c.Store.DSN)
	c.Auth.JWTSecret = env("MARKET_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTIssuer = env("MARKET_JWT_ISSUER", c.Auth.JWTIssuer)
	c.Height.Mode = env("MARKET_HEIGHT_MODE", c.Height.Mode)

	if raw := getenv("MARKET_TRUST_ACCOUNT_HEADER"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("MARKET_TRUST_ACCOUNT_HEADER: %w", err)
		}
		c.Auth.TrustAccountHeader = v
	}
	if raw := getenv("MARKET_RATE_LIMIT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return fmt.Errorf("MARKET_RATE_LIMIT: expected non-negative integer, got %q", raw)
		}
		c.Server.RateLimit = v
	}
	if raw := getenv("MARKET_HEIGHT_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("MARKET_HEIGHT_INTERVAL: %w", err)
		}
		c.Height.Interval = d
	}
	if raw := getenv("MARKET_HOUSEKEEPING_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("MARKET_HOUSEKEEPING_INTERVAL: %w", err)
		}
		c.Housekeeping.Interval = d
	}
	if raw := getenv("MARKET_MIN_REWARD"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("MARKET_MIN_REWARD: %w", err)
		}
		c.Params.MinReward = v
	}
	if raw := getenv("MARKET_MIN_BIDDER_REPUTATION"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("MARKET_MIN_BIDDER_REPUTATION: %w", err)
		}
		c.Params.MinBidderReputation = v
	}
	if raw := getenv("MARKET_PRUNE_AFTER_BLOCKS"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("MARKET_PRUNE_AFTER_BLOCKS: %w", err)
		}
		c.Params.PruneAfterBlocks = v
	}
	// MARKET_API_KEYS=key1:alice,key2:bob
	if raw := getenv("MARKET_API_KEYS"); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			key, acct, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || key == "" || acct == "" {
				return fmt.Errorf("MARKET_API_KEYS: expected key:account, got %q", pair)
			}
			c.Auth.APIKeys = append(c.Auth.APIKeys, APIKeyConfig{Key: key, Account: acct})
		}
	}
	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Height.Mode {
	case "manual":
	case "clock":
		if c.Height.Interval <= 0 {
			return fmt.Errorf("height.interval must be positive")
		}
	default:
		return fmt.Errorf("unknown height mode %q", c.Height.Mode)
	}
	for _, capCfg := range c.Auth.Capabilities {
		if capCfg.Token == "" || capCfg.Principal == "" {
			return fmt.Errorf("capability requires token and principal")
		}
		for _, a := range capCfg.Actions {
			if _, err := ParseAction(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseAction maps a configured action name to a marketplace action.
func ParseAction(name string) (marketplace.Action, error) {
	switch a := marketplace.Action(strings.TrimSpace(name)); a {
	case marketplace.ActionResolveDispute, marketplace.ActionSlashReputation, marketplace.ActionDeposit:
		return a, nil
	}
	return "", fmt.Errorf("unknown capability action %q", name)
}

// ParsedActions returns the known actions of a capability.
func (c CapabilityConfig) ParsedActions() []marketplace.Action {
	out := make([]marketplace.Action, 0, len(c.Actions))
	for _, name := range c.Actions {
		if a, err := ParseAction(name); err == nil {
			out = append(out, a)
		}
	}
	return out
}
