// Package registry holds the immutable per-chain configuration shared by
// every ingestion task: node client, monitored contracts, start blocks and
// window limits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"bridge-etl/internal/config"
	"bridge-etl/internal/rpc"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownChain = errors.New("unknown chain")
	ErrNoContract   = errors.New("contract not configured")
)

// ContractBridge names the bridge contract among a chain's contracts.
const ContractBridge = "bridge"

// Client is what the registry and the fetchers need from a chain node.
type Client interface {
	bind.ContractCaller
	LatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, address common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error)
}

type gasPricer interface {
	GasStats(ctx context.Context, model rpc.GasModel, hash common.Hash) (rpc.GasStats, error)
}

// Contract is a monitored address and the first block worth scanning.
type Contract struct {
	Name       string
	Address    common.Address
	StartBlock uint64
}

// Chain is one configured chain. It must not be modified once passed to New.
type Chain struct {
	Name   string
	Client Client
	// Token is the bridged token whose supply is reported.
	Token common.Address
	// Bridge is nil when the chain's bridge is not monitored.
	Bridge *Contract
	// Pools are sorted by name.
	Pools []Contract
	// Metapool is zero when the chain has none.
	Metapool  common.Address
	MaxBlocks uint64
	GasModel  rpc.GasModel

	token    *token
	basePool *pool
	metapool *pool
}

// Pool returns the pool registered under name.
func (c *Chain) Pool(name string) (Contract, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return Contract{}, false
}

// Registry is the set of configured chains.
type Registry struct {
	chains map[string]*Chain
	names  []string
}

// New builds a registry from fully populated chains. Missing window sizes
// and gas models fall back to the chain defaults.
func New(chains ...*Chain) (*Registry, error) {
	r := &Registry{chains: make(map[string]*Chain, len(chains))}
	for _, c := range chains {
		if c.Name == "" {
			return nil, fmt.Errorf("chain without name")
		}
		if _, dup := r.chains[c.Name]; dup {
			return nil, fmt.Errorf("chain %s registered twice", c.Name)
		}
		if c.Client == nil {
			return nil, fmt.Errorf("chain %s has no client", c.Name)
		}
		if c.MaxBlocks == 0 {
			c.MaxBlocks = MaxBlocks(c.Name)
		}
		if c.GasModel == "" {
			c.GasModel = GasModel(c.Name)
		}
		sort.Slice(c.Pools, func(i, j int) bool { return c.Pools[i].Name < c.Pools[j].Name })

		if c.Token != (common.Address{}) {
			c.token = newToken(c.Token, c.Client)
		}
		if base, ok := c.Pool(PoolNUSD); ok {
			c.basePool = newPool(base.Address, c.Client)
		}
		if c.Metapool != (common.Address{}) {
			c.metapool = newPool(c.Metapool, c.Client)
		}

		r.chains[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// FromConfig dials every configured chain and builds the registry.
func FromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	opts := rpc.Options{
		CallTimeout:       time.Duration(cfg.RPC.CallTimeoutMS) * time.Millisecond,
		TransportRetries:  cfg.RPC.TransportRetries,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
	}

	chains := make([]*Chain, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		client, err := rpc.Dial(ctx, cc.Name, cc.RPCURL, opts)
		if err != nil {
			return nil, err
		}
		c := chainFromConfig(cc, client)
		chains = append(chains, c)
		logrus.Infof("registered chain | name=%s bridge=%t pools=%d", c.Name, c.Bridge != nil, len(c.Pools))
	}
	return New(chains...)
}

func chainFromConfig(cc config.ChainConfig, client Client) *Chain {
	c := &Chain{
		Name:      cc.Name,
		Client:    client,
		MaxBlocks: cc.MaxBlocks,
		GasModel:  rpc.GasModel(cc.GasModel),
	}
	if cc.Token != "" {
		c.Token = common.HexToAddress(cc.Token)
	}
	if cc.Bridge != "" {
		c.Bridge = &Contract{
			Name:       ContractBridge,
			Address:    common.HexToAddress(cc.Bridge),
			StartBlock: cc.BridgeStartBlock,
		}
	}
	if cc.Pools.Metapool != "" {
		c.Metapool = common.HexToAddress(cc.Pools.Metapool)
	}
	for name, addr := range map[string]string{
		PoolNUSD:  cc.Pools.NUSD,
		PoolNETH:  cc.Pools.NETH,
		Pool3Pool: cc.Pools.ThreePool,
	} {
		if addr == "" {
			continue
		}
		start, ok := cc.StartBlocks[name]
		if !ok {
			start = PoolStartBlock(cc.Name, name)
		}
		c.Pools = append(c.Pools, Contract{Name: name, Address: common.HexToAddress(addr), StartBlock: start})
	}
	return c
}

// Chain returns the chain registered under name.
func (r *Registry) Chain(name string) (*Chain, error) {
	c, ok := r.chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	return c, nil
}

// Chains returns every chain sorted by name.
func (r *Registry) Chains() []*Chain {
	out := make([]*Chain, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.chains[n])
	}
	return out
}

// TotalSupply reads the bridged token's supply on chain.
func (r *Registry) TotalSupply(ctx context.Context, chain string) (*big.Int, error) {
	c, err := r.Chain(chain)
	if err != nil {
		return nil, err
	}
	if c.token == nil {
		return nil, fmt.Errorf("%s token: %w", chain, ErrNoContract)
	}
	return c.token.totalSupply(ctx)
}

// PoolTokens lists the tokens of the chain's base pool, or of its metapool.
func (r *Registry) PoolTokens(ctx context.Context, chain string, metapool bool) ([]common.Address, error) {
	p, err := r.pool(chain, metapool)
	if err != nil {
		return nil, err
	}
	return p.tokens(ctx)
}

// AdminFees returns the admin balance held per token by the base pool and,
// when present, the metapool.
func (r *Registry) AdminFees(ctx context.Context, chain string) (map[common.Address]*big.Int, error) {
	base, err := r.pool(chain, false)
	if err != nil {
		return nil, err
	}
	pools := []*pool{base}
	if mp, err := r.pool(chain, true); err == nil {
		pools = append(pools, mp)
	}

	fees := make(map[common.Address]*big.Int)
	for _, p := range pools {
		tokens, err := p.tokens(ctx)
		if err != nil {
			return nil, err
		}
		for i, tok := range tokens {
			bal, err := p.getAdminBalance(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("getAdminBalance(%d) on %s: %w", i, chain, err)
			}
			fees[tok] = bal
		}
	}
	return fees, nil
}

// GasStats prices the gas paid by a transaction according to the chain's
// gas model.
func (r *Registry) GasStats(ctx context.Context, chain string, hash common.Hash) (rpc.GasStats, error) {
	c, err := r.Chain(chain)
	if err != nil {
		return rpc.GasStats{}, err
	}
	gp, ok := c.Client.(gasPricer)
	if !ok {
		return rpc.GasStats{}, fmt.Errorf("%s client cannot price gas", chain)
	}
	return gp.GasStats(ctx, c.GasModel, hash)
}

func (r *Registry) pool(chain string, metapool bool) (*pool, error) {
	c, err := r.Chain(chain)
	if err != nil {
		return nil, err
	}
	if metapool {
		if c.metapool == nil {
			return nil, fmt.Errorf("%s metapool: %w", chain, ErrNoContract)
		}
		return c.metapool, nil
	}
	if c.basePool == nil {
		return nil, fmt.Errorf("%s base pool: %w", chain, ErrNoContract)
	}
	return c.basePool, nil
}
