// Package fetcher scans one monitored address for logs, window by window,
// from its persisted cursor up to the chain head.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bridge-etl/internal/decoder"
	"bridge-etl/internal/metrics"
	"bridge-etl/internal/retry"
	"bridge-etl/internal/rpc"
	"bridge-etl/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxHalvings is how often a refused window is halved before the
	// cycle gives up.
	DefaultMaxHalvings = 8

	// growAfter consecutive successful windows double a shrunk window.
	growAfter = 3
)

// ErrWindowExhausted means the provider kept refusing the query after the
// window could not shrink any further.
var ErrWindowExhausted = errors.New("block window exhausted")

// LogClient is the part of a chain node the fetcher uses.
type LogClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, address common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error)
}

// Callback receives every decoded record, in log order. An error aborts the
// cycle before the cursor moves past the record's window.
type Callback func(ctx context.Context, chain, address string, rec decoder.Record, raw decoder.RawLog) error

// Config describes one scan task.
type Config struct {
	Chain     string
	Address   common.Address
	Namespace string
	// StartBlock is used when no cursor has been stored yet.
	StartBlock uint64
	// MaxBlocks is the largest window requested from the provider.
	MaxBlocks   uint64
	MaxHalvings int
	// Topics restricts topic[0]. Empty fetches every log of Address.
	Topics []common.Hash
}

// Fetcher runs scan cycles for a single task. It is not safe for concurrent
// use; the window it learned carries over between cycles.
type Fetcher struct {
	cfg     Config
	address string

	client  LogClient
	decoder *decoder.Decoder
	cursors *store.Cursors
	retry   *retry.Executor
	cb      Callback

	window uint64
	streak int
	log    *logrus.Entry
}

// New builds a Fetcher. A nil executor uses the default retry policy.
func New(cfg Config, client LogClient, dec *decoder.Decoder, cursors *store.Cursors, ex *retry.Executor, cb Callback) *Fetcher {
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = 1
	}
	if cfg.MaxHalvings <= 0 {
		cfg.MaxHalvings = DefaultMaxHalvings
	}
	address := strings.ToLower(cfg.Address.Hex())
	return &Fetcher{
		cfg:     cfg,
		address: address,
		client:  client,
		decoder: dec,
		cursors: cursors,
		retry:   ex,
		cb:      cb,
		window:  cfg.MaxBlocks,
		log: logrus.WithFields(logrus.Fields{
			"chain":   cfg.Chain,
			"address": address,
		}),
	}
}

// Window is the block window the next query will use.
func (f *Fetcher) Window() uint64 {
	return f.window
}

// Run scans from the block after the stored cursor (or from StartBlock) up
// to the head observed when the cycle starts. The cursor is saved after each
// window whose logs were all delivered; on error it keeps the last such
// window, so the next cycle resumes there.
func (f *Fetcher) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.CycleLatency.WithLabelValues(f.cfg.Chain).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CycleErrors.WithLabelValues(f.cfg.Chain).Inc()
		}
	}()

	from := f.cfg.StartBlock
	cur, ok, err := f.cursors.Load(ctx, f.cfg.Chain, f.cfg.Namespace, f.address)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		from = cur + 1
	}

	latest, err := retry.Do(ctx, f.retry, f.client.LatestBlockNumber, f.cfg.Chain, "eth_blockNumber")
	if err != nil {
		return fmt.Errorf("latest block on %s: %w", f.cfg.Chain, err)
	}
	metrics.LatestBlock.WithLabelValues(f.cfg.Chain).Set(float64(latest))

	if from > latest {
		f.log.Debugf("up to date | cursor=%d latest=%d", from-1, latest)
		return nil
	}
	f.log.Infof("Starting scan | from=%d latest=%d window=%d", from, latest, f.window)

	halvings := 0
	for from <= latest {
		to := latest
		if latest-from >= f.window {
			to = from + f.window - 1
		}

		windowStart := time.Now()
		logs, err := f.getLogs(ctx, from, to)
		if errors.Is(err, rpc.ErrWindowTooLarge) {
			if f.window <= 1 || halvings >= f.cfg.MaxHalvings {
				return fmt.Errorf("%w: %s %s at block %d after %d halvings: %w",
					ErrWindowExhausted, f.cfg.Chain, f.address, from, halvings, err)
			}
			f.shrink()
			halvings++
			f.log.Warnf("provider refused window, retrying | from=%d to=%d window=%d", from, to, f.window)
			continue
		}
		if err != nil {
			return fmt.Errorf("logs %d-%d: %w", from, to, err)
		}
		halvings = 0

		if err := f.deliver(ctx, logs); err != nil {
			return err
		}
		if err := f.cursors.Save(ctx, f.cfg.Chain, f.cfg.Namespace, f.address, to); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		metrics.ScanCursor.WithLabelValues(f.cfg.Chain, f.address).Set(float64(to))
		f.log.Infof("[OK] Block %d → %d | Events: %d | Time: %.2fs", from, to, len(logs), time.Since(windowStart).Seconds())

		from = to + 1
		f.grow()
	}
	return nil
}

func (f *Fetcher) getLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	return retry.Do(ctx, f.retry, func(ctx context.Context) ([]types.Log, error) {
		logs, err := f.client.GetLogs(ctx, f.cfg.Address, f.cfg.Topics, from, to)
		if errors.Is(err, rpc.ErrWindowTooLarge) {
			return nil, retry.Permanent(err)
		}
		return logs, err
	}, f.cfg.Chain, f.address, from, to)
}

// deliver decodes logs in (block, index) order and hands them to the
// callback. Any failure stops delivery.
func (f *Fetcher) deliver(ctx context.Context, logs []types.Log) error {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, lg := range logs {
		raw := decoder.FromLog(lg)
		rec, err := f.decoder.Decode(f.cfg.Chain, raw)
		if err != nil {
			return fmt.Errorf("block %d: %w", lg.BlockNumber, err)
		}
		if f.cb != nil {
			if err := f.cb(ctx, f.cfg.Chain, f.address, rec, raw); err != nil {
				return fmt.Errorf("callback for %s/%d: %w", lg.TxHash.Hex(), lg.Index, err)
			}
		}
		metrics.LogsDecoded.WithLabelValues(f.cfg.Chain, string(rec.Kind())).Inc()
	}
	return nil
}

func (f *Fetcher) shrink() {
	f.window /= 2
	if f.window == 0 {
		f.window = 1
	}
	f.streak = 0
	metrics.WindowShrinks.WithLabelValues(f.cfg.Chain).Inc()
	metrics.WindowSize.WithLabelValues(f.cfg.Chain, f.address).Set(float64(f.window))
}

func (f *Fetcher) grow() {
	if f.window >= f.cfg.MaxBlocks {
		return
	}
	f.streak++
	if f.streak < growAfter {
		return
	}
	f.streak = 0
	f.window *= 2
	if f.window > f.cfg.MaxBlocks {
		f.window = f.cfg.MaxBlocks
	}
	metrics.WindowSize.WithLabelValues(f.cfg.Chain, f.address).Set(float64(f.window))
}
