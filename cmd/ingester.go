package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bridge-etl/internal/config"
	"bridge-etl/internal/decoder"
	"bridge-etl/internal/dispatch"
	"bridge-etl/internal/registry"
	"bridge-etl/internal/retry"
	"bridge-etl/internal/rpc"
	"bridge-etl/internal/sink"
	"bridge-etl/internal/store"
	"bridge-etl/internal/units"

	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	opts, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Configure global logger (timestamped).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(opts.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if opts.Namespace != "" {
		cfg.Namespace = opts.Namespace
	}

	// Prepare cancellable context that listens to OS signals (Ctrl+C).
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logrus.Fatalf("failed to open %s store: %v", cfg.Storage.Type, err)
	}
	defer st.Close()

	reg, err := registry.FromConfig(ctx, cfg)
	if err != nil {
		logrus.Fatalf("failed to build chain registry: %v", err)
	}
	dec := decoder.New(nil, decimalsTable(cfg))

	switch {
	case opts.Report:
		report(ctx, reg, st, cfg.Namespace, opts.Chains)
		return
	case opts.InspectTx != "":
		if err := inspect(ctx, reg, dec, opts.Chains[0], common.HexToHash(opts.InspectTx)); err != nil {
			logrus.Fatalf("inspect %s: %v", opts.InspectTx, err)
		}
		return
	}

	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr)
	}

	ex := &retry.Executor{
		Attempts: cfg.Retry.Attempts,
		Base:     cfg.Retry.Base,
		Unit:     time.Duration(cfg.Retry.UnitMS) * time.Millisecond,
	}

	// Cache every record in the store; optionally also export it as CSV.
	var sk sink.Sink = sink.NewStoreSink(st, cfg.Namespace)
	if cfg.CSVDir != "" {
		csvSink, err := sink.NewCSVSink(cfg.CSVDir)
		if err != nil {
			logrus.Fatalf("failed to initialise csv sink: %v", err)
		}
		defer csvSink.Close()
		sk = append(asMulti(sk), csvSink)
	}
	if cfg.SQL.Driver != "" {
		sqlSink, err := sink.NewSQLSink(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			logrus.Fatalf("failed to initialise sql sink: %v", err)
		}
		defer sqlSink.Close()
		sk = append(asMulti(sk), sqlSink)
	}
	sk = sink.NewRetrySink(sk, ex)

	d, err := dispatch.New(reg, sink.Callback(sk), dispatch.Options{
		Selector:  dispatch.Selector(opts.Selector),
		Namespace: cfg.Namespace,
		Chains:    opts.Chains,
		Cursors:   store.NewCursors(st),
		Decoder:   dec,
		Retry:     ex,
	})
	if err != nil {
		logrus.Fatalf("failed to plan scan tasks: %v", err)
	}
	logrus.Infof("Starting ingester | selector=%s tasks=%d interval=%s", opts.Selector, d.Len(), opts.Interval)

	for {
		g := d.Start(ctx)
		if err := g.Wait(); err != nil {
			logrus.WithField("cycle", g.ID).Warnf("cycle finished with failed tasks: %v", err)
		}
		if opts.Interval == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.Interval):
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Type {
	case "redis":
		return store.NewRedis(ctx, cfg.Redis.URL)
	case "pebble":
		return store.NewPebble(cfg.Pebble.Path)
	case "memory":
		logrus.Warn("memory store selected: cursors are lost on exit")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func asMulti(s sink.Sink) sink.Multi {
	if m, ok := s.(sink.Multi); ok {
		return m
	}
	return sink.Multi{s}
}

func decimalsTable(cfg *config.Config) *units.Table {
	src := make(map[string]map[string]int32, len(cfg.Chains))
	for _, c := range cfg.Chains {
		src[c.Name] = c.Tokens
	}
	return units.NewTable(src)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Errorf("metrics server stopped: %v", err)
	}
}

// report logs supply, admin fees and stored cursors of every selected chain.
func report(ctx context.Context, reg *registry.Registry, st store.Store, namespace string, only []string) {
	chains := reg.Chains()
	if len(only) > 0 {
		chains = chains[:0:0]
		for _, name := range only {
			c, err := reg.Chain(name)
			if err != nil {
				logrus.Errorf("report: %v", err)
				continue
			}
			chains = append(chains, c)
		}
	}

	for _, c := range chains {
		log := logrus.WithField("chain", c.Name)

		if supply, err := reg.TotalSupply(ctx, c.Name); err == nil {
			log.Infof("total supply | raw=%s", supply)
		} else if !errors.Is(err, registry.ErrNoContract) {
			log.Warnf("total supply: %v", err)
		}

		if fees, err := reg.AdminFees(ctx, c.Name); err == nil {
			for token, fee := range fees {
				log.Infof("admin fee | token=%s raw=%s", token.Hex(), fee)
			}
		} else if !errors.Is(err, registry.ErrNoContract) {
			log.Warnf("admin fees: %v", err)
		}

		cursors, err := store.GetAll(ctx, st, store.CursorKey(c.Name, namespace, "*"), store.GetAllOptions{Index: []int{2}})
		if err != nil {
			log.Warnf("cursors: %v", err)
			continue
		}
		for addr, block := range cursors {
			log.Infof("cursor | address=%s block=%s", addr, block)
		}
	}
}

// inspect decodes a bridge IN transaction's input and prices its gas.
func inspect(ctx context.Context, reg *registry.Registry, dec *decoder.Decoder, chain string, hash common.Hash) error {
	c, err := reg.Chain(chain)
	if err != nil {
		return err
	}
	client, ok := c.Client.(*rpc.Client)
	if !ok {
		return fmt.Errorf("%s client cannot load transactions", chain)
	}

	input, err := client.TransactionInput(ctx, hash)
	if err != nil {
		return err
	}
	in, err := dec.DecodeTxIn(chain, input)
	if err != nil {
		return err
	}
	gas, err := reg.GasStats(ctx, chain, hash)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"chain": chain,
		"tx":    strings.ToLower(hash.Hex()),
	}).Infof("to=%s token=%s amount=%s fee=%s gasPaid=%s gasPrice=%s",
		in.To.Hex(), in.Token.Hex(), in.Amount.Value, in.Fee.Value, gas.Paid, gas.Price)
	return nil
}
