package config

import (
	"errors"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// Flags are the command line options of the ingester.
type Flags struct {
	ConfigPath  string        `long:"config" short:"c" env:"BRIDGE_ETL_CONFIG" description:"Path to configuration file" default:"config.yaml"`
	Selector    string        `long:"selector" env:"BRIDGE_ETL_SELECTOR" description:"Contracts to scan" choice:"bridge" choice:"pools" default:"bridge"`
	Chains      []string      `long:"chain" description:"Only scan this chain (repeatable)"`
	Namespace   string        `long:"namespace" env:"BRIDGE_ETL_NAMESPACE" description:"Overrides the namespace of the configuration file"`
	Interval    time.Duration `long:"interval" env:"BRIDGE_ETL_INTERVAL" description:"Pause between scan cycles; 0 runs a single cycle" default:"0s"`
	MetricsAddr string        `long:"metrics-addr" env:"BRIDGE_ETL_METRICS_ADDR" description:"Listen address of the /metrics endpoint; empty disables it"`
	Report      bool          `long:"report" description:"Log token supply, pool admin fees and scan cursors per chain, then exit"`
	InspectTx   string        `long:"inspect-tx" description:"Decode the input and gas cost of a bridge transaction on the single --chain, then exit"`
	LogLevel    string        `long:"log-level" env:"BRIDGE_ETL_LOG_LEVEL" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
}

func (f Flags) HasError() error {
	if f.ConfigPath == "" {
		return errors.New("config path is required")
	}
	if f.InspectTx != "" && len(f.Chains) != 1 {
		return errors.New("--inspect-tx needs exactly one --chain")
	}
	if f.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	return nil
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	var f Flags
	parser := flags.NewParser(&f, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := f.HasError(); err != nil {
		return nil, err
	}
	return &f, nil
}
