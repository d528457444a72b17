package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskmarket-backend/core/marketplace"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.yaml")
	yamlDoc := `
server:
  addr: ":8080"
store:
  driver: sqlite
  dsn: /tmp/market.db
auth:
  api_keys:
    - key: k1
      account: alice
  capabilities:
    - token: council
      principal: council
      actions: [resolve_dispute, deposit]
height:
  mode: manual
  start: 42
params:
  min_reward: 10
  min_bidder_reputation: 3000
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.Driver != "sqlite" || cfg.Height.Start != 42 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Params.MinReward != 10 || cfg.Params.MinBidderReputation != 3000 {
		t.Fatalf("unexpected params %+v", cfg.Params)
	}
	// Unset params keep their defaults.
	if cfg.Params.MaxDescription != marketplace.DefaultParams().MaxDescription {
		t.Fatalf("expected default max_description, got %d", cfg.Params.MaxDescription)
	}
	if cfg.Housekeeping.Interval != time.Minute {
		t.Fatalf("expected default housekeeping interval, got %s", cfg.Housekeeping.Interval)
	}
	actions := cfg.Auth.Capabilities[0].ParsedActions()
	if len(actions) != 2 || actions[0] != marketplace.ActionResolveDispute {
		t.Fatalf("unexpected actions %v", actions)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MARKET_ADDR":                  ":9000",
		"MARKET_STORE_DRIVER":          "postgres",
		"MARKET_STORE_DSN":             "postgres://localhost/market",
		"MARKET_HEIGHT_INTERVAL":       "2s",
		"MARKET_PRUNE_AFTER_BLOCKS":    "1000",
		"MARKET_API_KEYS":              "k1:alice, k2:bob",
		"MARKET_TRUST_ACCOUNT_HEADER":  "true",
		"MARKET_HOUSEKEEPING_INTERVAL": "30s",
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Store.DSN != "postgres://localhost/market" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Height.Interval != 2*time.Second || cfg.Housekeeping.Interval != 30*time.Second {
		t.Fatalf("unexpected intervals %s %s", cfg.Height.Interval, cfg.Housekeeping.Interval)
	}
	if cfg.Params.PruneAfterBlocks != 1000 || !cfg.Auth.TrustAccountHeader {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1] != (APIKeyConfig{Key: "k2", Account: "bob"}) {
		t.Fatalf("unexpected api keys %+v", cfg.Auth.APIKeys)
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"duration", "MARKET_HEIGHT_INTERVAL", "soon"},
		{"uint", "MARKET_MIN_REWARD", "-3"},
		{"bool", "MARKET_TRUST_ACCOUNT_HEADER", "maybe"},
		{"key pair", "MARKET_API_KEYS", "justakey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.ApplyEnv(func(k string) string {
				if k == tt.key {
					return tt.val
				}
				return ""
			})
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, false},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, false},
		{"bad height mode", func(c *Config) { c.Height.Mode = "lunar" }, false},
		{"zero clock interval", func(c *Config) { c.Height.Interval = 0 }, false},
		{"unknown action", func(c *Config) {
			c.Auth.Capabilities = []CapabilityConfig{{Token: "t", Principal: "p", Actions: []string{"mint"}}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("validate ok=%v, got err=%v", tt.ok, err)
			}
		})
	}
}
