package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tolelom/tolmart/core"
)

// GenesisConfig describes the chain's initial state. Everything here is
// consensus-critical: every replica must start from the same genesis.
type GenesisConfig struct {
	ChainID      string            `json:"chain_id"`
	Alloc        map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
	Admins       []string          `json:"admins"`
	FeeBips      uint16            `json:"fee_bips"`
	FeeRecipient string            `json:"fee_recipient,omitempty"`
	Params       core.Params       `json:"params"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `json:"node_id"`
	DataDir       string        `json:"data_dir"`
	RPCPort       int           `json:"rpc_port"`
	RPCAuthToken  string        `json:"rpc_auth_token,omitempty"` // bearer token required for sendTx; empty disables
	MaxBlockTxs   int           `json:"max_block_txs"`            // max transactions per block; 0 → 500
	BlockInterval string        `json:"block_interval"`           // Go duration, e.g. "2s"
	Validators    []string      `json:"validators"`               // authorised proposer pubkey hexes
	LogLevel      string        `json:"log_level"`
	LogFormat     string        `json:"log_format"` // "text" | "json"
	Genesis       GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		MaxBlockTxs:   500,
		BlockInterval: "2s",
		LogLevel:      "info",
		LogFormat:     "text",
		Genesis: GenesisConfig{
			ChainID: "tolmart-dev",
			Alloc:   map[string]uint64{},
			Params:  *core.DefaultParams(),
		},
	}
}

// Load reads a JSON config file from path. A missing file yields the
// defaults. The environment overlay is applied on top either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overlays MARKET_* environment variables, loading a .env file
// first if one exists. Only node-local settings can be overridden; genesis
// stays in the file so replicas cannot drift apart by environment.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	c.NodeID = getEnv("MARKET_NODE_ID", c.NodeID)
	c.DataDir = getEnv("MARKET_DATA_DIR", c.DataDir)
	c.RPCAuthToken = getEnv("MARKET_RPC_AUTH_TOKEN", c.RPCAuthToken)
	c.BlockInterval = getEnv("MARKET_BLOCK_INTERVAL", c.BlockInterval)
	c.LogLevel = getEnv("MARKET_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("MARKET_LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("MARKET_VALIDATORS"); v != "" {
		c.Validators = strings.Split(v, ",")
	}

	var err error
	if c.RPCPort, err = getEnvInt("MARKET_RPC_PORT", c.RPCPort); err != nil {
		return err
	}
	if c.MaxBlockTxs, err = getEnvInt("MARKET_MAX_BLOCK_TXS", c.MaxBlockTxs); err != nil {
		return err
	}
	return nil
}

// Interval parses BlockInterval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.BlockInterval)
	if err != nil {
		return 0, fmt.Errorf("block_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("block_interval must be positive, got %s", d)
	}
	return d, nil
}

// Validate checks the configuration before the node starts.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	for i, v := range c.Validators {
		if err := core.ValidatePrincipal(fmt.Sprintf("validators[%d]", i), v); err != nil {
			return err
		}
	}
	return c.Genesis.Validate()
}

// Validate checks the genesis section.
func (g *GenesisConfig) Validate() error {
	if g.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	for addr := range g.Alloc {
		if err := core.ValidatePrincipal("genesis.alloc", addr); err != nil {
			return err
		}
	}
	for i, a := range g.Admins {
		if err := core.ValidatePrincipal(fmt.Sprintf("genesis.admins[%d]", i), a); err != nil {
			return err
		}
	}
	if g.FeeRecipient != "" {
		if err := core.ValidatePrincipal("genesis.fee_recipient", g.FeeRecipient); err != nil {
			return err
		}
	}
	if g.FeeBips > 1_000 {
		return fmt.Errorf("genesis.fee_bips %d exceeds 1000", g.FeeBips)
	}
	p := g.Params
	if p.MinStake == 0 {
		return errors.New("genesis.params.min_stake must be > 0")
	}
	if !p.TieBreak.Valid() {
		return fmt.Errorf("genesis.params.tie_break %q is not buyer or seller", p.TieBreak)
	}
	if p.MaxBundleSize <= 0 || p.MaxPackSize <= 0 || p.MaxWishlist <= 0 {
		return errors.New("genesis.params size limits must be > 0")
	}
	if p.MaxDiscountBips > core.BipsDenominator || p.MaxRoyaltyBips > core.BipsDenominator {
		return errors.New("genesis.params bips limits exceed 10000")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}
