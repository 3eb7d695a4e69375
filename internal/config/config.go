package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	yaml "gopkg.in/yaml.v2"
)

// PoolConfig lists the swap pools monitored on a chain. Keys match the pool
// start-block table: nusd, neth, 3pool.
type PoolConfig struct {
	NUSD      string `yaml:"nusd"`
	NETH      string `yaml:"neth"`
	ThreePool string `yaml:"3pool"`
	// Metapool is layered on the nusd pool. It is only read for admin fees.
	Metapool string `yaml:"metapool"`
}

type ChainConfig struct {
	Name   string `yaml:"name"`
	RPCURL string `yaml:"rpc_url"`
	// Token is the bridged governance token, read for circulating supply.
	Token            string     `yaml:"token"`
	Bridge           string     `yaml:"bridge"`
	BridgeStartBlock uint64     `yaml:"bridge_start_block"`
	Pools            PoolConfig `yaml:"pools"`
	// StartBlocks overrides the built-in first block per pool key.
	StartBlocks map[string]uint64 `yaml:"start_blocks"`
	// MaxBlocks overrides the chain's default eth_getLogs window.
	MaxBlocks uint64 `yaml:"max_blocks"`
	// GasModel overrides the model derived from the chain name.
	GasModel string `yaml:"gas_model"`
	// Tokens maps token address to decimals.
	Tokens map[string]int32 `yaml:"tokens"`
}

type StorageConfig struct {
	Type  string `yaml:"type"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Pebble struct {
		Path string `yaml:"path"`
	} `yaml:"pebble"`
}

type RetryConfig struct {
	Attempts int     `yaml:"attempts"`
	Base     float64 `yaml:"base"`
	UnitMS   int     `yaml:"unit_ms"`
}

type RPCConfig struct {
	CallTimeoutMS    int `yaml:"call_timeout_ms"`
	TransportRetries int `yaml:"transport_retries"`
	// RequestsPerSecond limits calls per chain node; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Config struct {
	Chains  []ChainConfig `yaml:"chains"`
	Storage StorageConfig `yaml:"storage"`
	Retry   RetryConfig   `yaml:"retry"`
	RPC     RPCConfig     `yaml:"rpc"`
	// Namespace prefixes cursor and record keys so independent scans of the
	// same address do not share progress.
	Namespace string `yaml:"namespace"`
	// CSVDir, when set, additionally exports decoded records as CSV files.
	CSVDir string `yaml:"csv_dir"`
	// SQL, when a driver is set, additionally upserts records into a database.
	SQL SQLConfig `yaml:"sql"`
}

type SQLConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite3
	DSN    string `yaml:"dsn"`
}

// Load reads the configuration file located at the given path. ${VAR}
// references are expanded from the environment before parsing, so RPC URLs
// with API keys can stay out of the file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals, validates and defaults a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("rpc.requests_per_second must not be negative")
	}

	switch cfg.Storage.Type {
	case "redis":
		if cfg.Storage.Redis.URL == "" {
			return fmt.Errorf("storage.redis.url is required when storage type is redis")
		}
	case "pebble":
		if cfg.Storage.Pebble.Path == "" {
			return fmt.Errorf("storage.pebble.path is required when storage type is pebble")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %q", cfg.Storage.Type)
	}

	switch cfg.SQL.Driver {
	case "":
	case "postgres", "sqlite3":
		if cfg.SQL.DSN == "" {
			return fmt.Errorf("sql.dsn is required when sql.driver is set")
		}
	default:
		return fmt.Errorf("unsupported sql driver: %q", cfg.SQL.Driver)
	}

	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be defined")
	}

	seen := make(map[string]struct{}, len(cfg.Chains))
	for i, c := range cfg.Chains {
		if c.Name == "" {
			return fmt.Errorf("chain at index %d is missing name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("chain '%s' is defined twice", c.Name)
		}
		seen[c.Name] = struct{}{}

		if c.RPCURL == "" {
			return fmt.Errorf("chain '%s' is missing rpc_url", c.Name)
		}
		for field, addr := range map[string]string{
			"token":          c.Token,
			"bridge":         c.Bridge,
			"pools.nusd":     c.Pools.NUSD,
			"pools.neth":     c.Pools.NETH,
			"pools.3pool":    c.Pools.ThreePool,
			"pools.metapool": c.Pools.Metapool,
		} {
			if addr != "" && !common.IsHexAddress(addr) {
				return fmt.Errorf("chain '%s': %s %q is not an address", c.Name, field, addr)
			}
		}
		for token := range c.Tokens {
			if !common.IsHexAddress(token) {
				return fmt.Errorf("chain '%s': token %q is not an address", c.Name, token)
			}
		}
		switch c.GasModel {
		case "", "standard", "arbitrum", "l1fee":
		default:
			return fmt.Errorf("chain '%s': unsupported gas_model %q", c.Name, c.GasModel)
		}
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 5
	}
	if cfg.Retry.Base == 0 {
		cfg.Retry.Base = 3
	}
	if cfg.Retry.UnitMS == 0 {
		cfg.Retry.UnitMS = 1000
	}
	if cfg.RPC.CallTimeoutMS == 0 {
		cfg.RPC.CallTimeoutMS = 30_000
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "logs"
	}
	for i := range cfg.Chains {
		cfg.Chains[i].Name = strings.ToLower(cfg.Chains[i].Name)
	}
}
