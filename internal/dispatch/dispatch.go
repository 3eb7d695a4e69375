// Package dispatch fans scan tasks out over every configured chain.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-etl/internal/decoder"
	"bridge-etl/internal/fetcher"
	"bridge-etl/internal/registry"
	"bridge-etl/internal/retry"
	"bridge-etl/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Selector chooses which contracts of a chain are scanned.
type Selector string

const (
	SelectBridge Selector = "bridge"
	SelectPools  Selector = "pools"
)

type Options struct {
	Selector  Selector
	Namespace string
	// Chains limits dispatch to the named chains. Empty means all.
	Chains []string
	// Topics overrides the topic[0] filter of the selector.
	Topics  []common.Hash
	Cursors *store.Cursors
	// Decoder defaults to one that knows every event kind.
	Decoder     *decoder.Decoder
	Retry       *retry.Executor
	MaxHalvings int
	// JoinAll makes Dispatch wait for every task before returning.
	JoinAll bool
}

// Task is one (chain, contract) scan.
type Task struct {
	Chain    string
	Contract registry.Contract

	fetcher *fetcher.Fetcher
	done    chan struct{}
	err     error
}

// Done is closed when the task's cycle has ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err is the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Group is one dispatched cycle. ID tags the cycle's log lines.
type Group struct {
	ID    string
	tasks []*Task
	eg    errgroup.Group
}

// Tasks returns the handles of every task in the group.
func (g *Group) Tasks() []*Task {
	return g.tasks
}

// Wait blocks until every task is done and returns their joined errors.
func (g *Group) Wait() error {
	_ = g.eg.Wait()
	var errs []error
	for _, t := range g.tasks {
		if t.err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", t.Chain, t.Contract.Name, t.err))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher owns the fetchers of a selection so that what they learn about
// provider windows survives from one cycle to the next.
type Dispatcher struct {
	tasks []*Task
}

// New plans one fetcher per selected (chain, contract).
func New(reg *registry.Registry, cb fetcher.Callback, opts Options) (*Dispatcher, error) {
	if opts.Cursors == nil {
		return nil, fmt.Errorf("dispatch: cursor store is required")
	}
	var topics []common.Hash
	switch opts.Selector {
	case SelectBridge:
		topics = decoder.BridgeTopics().Hashes()
	case SelectPools:
		topics = decoder.PoolTopics().Hashes()
	default:
		return nil, fmt.Errorf("dispatch: unknown selector %q", opts.Selector)
	}
	if len(opts.Topics) > 0 {
		topics = opts.Topics
	}
	dec := opts.Decoder
	if dec == nil {
		dec = decoder.New(nil, nil)
	}

	chains := reg.Chains()
	if len(opts.Chains) > 0 {
		chains = chains[:0:0]
		for _, name := range opts.Chains {
			c, err := reg.Chain(name)
			if err != nil {
				return nil, err
			}
			chains = append(chains, c)
		}
	}

	d := &Dispatcher{}
	for _, c := range chains {
		for _, contract := range selectContracts(c, opts.Selector) {
			cfg := fetcher.Config{
				Chain:       c.Name,
				Address:     contract.Address,
				Namespace:   opts.Namespace,
				StartBlock:  contract.StartBlock,
				MaxBlocks:   c.MaxBlocks,
				MaxHalvings: opts.MaxHalvings,
				Topics:      topics,
			}
			d.tasks = append(d.tasks, &Task{
				Chain:    c.Name,
				Contract: contract,
				fetcher:  fetcher.New(cfg, c.Client, dec, opts.Cursors, opts.Retry, cb),
			})
		}
	}
	return d, nil
}

func selectContracts(c *registry.Chain, sel Selector) []registry.Contract {
	if sel == SelectPools {
		return c.Pools
	}
	if c.Bridge == nil {
		return nil
	}
	return []registry.Contract{*c.Bridge}
}

// Len is the number of planned tasks.
func (d *Dispatcher) Len() int {
	return len(d.tasks)
}

// Start runs one cycle of every task concurrently. A failing task is logged
// and does not cancel the others. Start must not be called again before the
// previous group has been waited for.
func (d *Dispatcher) Start(ctx context.Context) *Group {
	g := &Group{ID: uuid.NewString()}
	for _, planned := range d.tasks {
		t := &Task{
			Chain:    planned.Chain,
			Contract: planned.Contract,
			fetcher:  planned.fetcher,
			done:     make(chan struct{}),
		}
		g.tasks = append(g.tasks, t)

		g.eg.Go(func() error {
			defer close(t.done)
			start := time.Now()
			t.err = t.fetcher.Run(ctx)
			log := logrus.WithFields(logrus.Fields{
				"cycle":    g.ID,
				"chain":    t.Chain,
				"contract": t.Contract.Name,
				"address":  t.Contract.Address.Hex(),
			})
			if t.err != nil {
				log.Errorf("scan failed after %.2fs: %v", time.Since(start).Seconds(), t.err)
				return nil
			}
			log.Debugf("scan done in %.2fs", time.Since(start).Seconds())
			return nil
		})
	}
	return g
}

// Dispatch plans and starts one cycle. With JoinAll it waits for every task
// and returns their joined errors along with the group.
func Dispatch(ctx context.Context, reg *registry.Registry, cb fetcher.Callback, opts Options) (*Group, error) {
	d, err := New(reg, cb, opts)
	if err != nil {
		return nil, err
	}
	g := d.Start(ctx)
	if opts.JoinAll {
		return g, g.Wait()
	}
	return g, nil
}
