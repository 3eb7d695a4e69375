package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
storage:
  type: memory
chains:
  - name: Ethereum
    rpc_url: ${TEST_ETH_RPC}
    bridge: "0x2796317b0fF8538F253012862c06787Adfb8cEb6"
    bridge_start_block: 13033669
    pools:
      nusd: "0x1116898DdA4015eD8dDefb84b6e8Bc24528Af2d8"
    tokens:
      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48": 6
  - name: boba
    rpc_url: https://boba.example
    gas_model: l1fee
    max_blocks: 256
`

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ETH_RPC", "https://eth.example/key")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 2)
	eth := cfg.Chains[0]
	assert.Equal(t, "ethereum", eth.Name)
	assert.Equal(t, "https://eth.example/key", eth.RPCURL)
	assert.Equal(t, uint64(13033669), eth.BridgeStartBlock)
	assert.Equal(t, int32(6), eth.Tokens["0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"])
	assert.Equal(t, uint64(256), cfg.Chains[1].MaxBlocks)

	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, float64(3), cfg.Retry.Base)
	assert.Equal(t, 1000, cfg.Retry.UnitMS)
	assert.Equal(t, "logs", cfg.Namespace)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no storage",
			doc:  "chains: [{name: a, rpc_url: x}]",
			want: "unsupported storage type",
		},
		{
			name: "redis without url",
			doc:  "storage: {type: redis}\nchains: [{name: a, rpc_url: x}]",
			want: "storage.redis.url",
		},
		{
			name: "sql without dsn",
			doc:  "storage: {type: memory}\nsql: {driver: postgres}\nchains: [{name: a, rpc_url: x}]",
			want: "sql.dsn",
		},
		{
			name: "unknown sql driver",
			doc:  "storage: {type: memory}\nsql: {driver: mysql, dsn: x}\nchains: [{name: a, rpc_url: x}]",
			want: "unsupported sql driver",
		},
		{
			name: "no chains",
			doc:  "storage: {type: memory}",
			want: "at least one chain",
		},
		{
			name: "duplicate chain",
			doc:  "storage: {type: memory}\nchains: [{name: a, rpc_url: x}, {name: a, rpc_url: y}]",
			want: "defined twice",
		},
		{
			name: "missing rpc",
			doc:  "storage: {type: memory}\nchains: [{name: a}]",
			want: "missing rpc_url",
		},
		{
			name: "bad address",
			doc:  "storage: {type: memory}\nchains: [{name: a, rpc_url: x, bridge: nope}]",
			want: "is not an address",
		},
		{
			name: "bad gas model",
			doc:  "storage: {type: memory}\nchains: [{name: a, rpc_url: x, gas_model: eip1559}]",
			want: "unsupported gas_model",
		},
		{
			name: "unknown field",
			doc:  "storage: {type: memory}\nchains: [{name: a, rpc_url: x, rpc: y}]",
			want: "not found",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"-c", "/etc/bridge.yaml", "--selector", "pools", "--chain", "bsc", "--chain", "boba", "--interval", "30s"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/bridge.yaml", f.ConfigPath)
	assert.Equal(t, "pools", f.Selector)
	assert.Equal(t, []string{"bsc", "boba"}, f.Chains)
	assert.Equal(t, 30*time.Second, f.Interval)
	assert.Equal(t, "info", f.LogLevel)

	_, err = ParseFlags([]string{"--selector", "tokens"})
	assert.Error(t, err)

	_, err = ParseFlags([]string{"--interval", "-1s"})
	assert.Error(t, err)
}

func TestParseFlags_InspectNeedsChain(t *testing.T) {
	_, err := ParseFlags([]string{"--inspect-tx", "0xabc"})
	assert.Error(t, err)

	f, err := ParseFlags([]string{"--inspect-tx", "0xabc", "--chain", "bsc"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", f.InspectTx)
}
