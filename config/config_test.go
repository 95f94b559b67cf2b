package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
	"github.com/tolelom/tolmart/internal/testutil"
)

func pubKey(t *testing.T) string {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub.Hex()
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	d, err := cfg.Interval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	cfg := config.DefaultConfig()
	cfg.NodeID = "from-file"
	cfg.RPCPort = 9000
	cfg.Genesis.ChainID = "market-1"
	require.NoError(t, config.Save(cfg, path))

	v1, v2 := pubKey(t), pubKey(t)
	t.Setenv("MARKET_RPC_PORT", "9100")
	t.Setenv("MARKET_LOG_LEVEL", "debug")
	t.Setenv("MARKET_VALIDATORS", v1+","+v2)

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got.NodeID)
	assert.Equal(t, 9100, got.RPCPort)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, []string{v1, v2}, got.Validators)
	assert.Equal(t, "market-1", got.Genesis.ChainID)
	require.NoError(t, got.Validate())
}

func TestLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := config.Load(path)
	assert.Error(t, err)

	t.Setenv("MARKET_MAX_BLOCK_TXS", "lots")
	_, err = config.Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "MARKET_MAX_BLOCK_TXS")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"no data dir", func(c *config.Config) { c.DataDir = "" }},
		{"port", func(c *config.Config) { c.RPCPort = 70_000 }},
		{"interval", func(c *config.Config) { c.BlockInterval = "-1s" }},
		{"validator", func(c *config.Config) { c.Validators = []string{"xyz"} }},
		{"chain id", func(c *config.Config) { c.Genesis.ChainID = "" }},
		{"alloc", func(c *config.Config) { c.Genesis.Alloc["bad"] = 1 }},
		{"fee", func(c *config.Config) { c.Genesis.FeeBips = 1_001 }},
		{"min stake", func(c *config.Config) { c.Genesis.Params.MinStake = 0 }},
		{"tie break", func(c *config.Config) { c.Genesis.Params.TieBreak = "judge" }},
		{"bundle size", func(c *config.Config) { c.Genesis.Params.MaxBundleSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGenesisBlockIsReproducible(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Genesis.Alloc[pub.Hex()] = 1_000
	cfg.Genesis.Admins = []string{pub.Hex()}
	cfg.Genesis.FeeBips = 200

	a, err := config.CreateGenesisBlock(cfg, testutil.NewStateDB(), priv)
	require.NoError(t, err)
	st := testutil.NewStateDB()
	b, err := config.CreateGenesisBlock(cfg, st, priv)
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, int64(0), b.Header.Height)
	assert.Zero(t, b.Header.Timestamp)
	assert.True(t, config.IsGenesisHash(b.Header.PrevHash))
	assert.Equal(t, st.ComputeRoot(), b.Header.StateRoot)

	admin, err := st.GetAdmin()
	require.NoError(t, err)
	assert.Equal(t, &core.AdminState{Admins: []string{pub.Hex()}, FeeBips: 200}, admin)
	acc, err := st.GetAccount(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), acc.Balance)
}
