package dispatch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"bridge-etl/internal/decoder"
	"bridge-etl/internal/registry"
	"bridge-etl/internal/retry"
	"bridge-etl/internal/store"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logQuery struct {
	address  common.Address
	topics   []common.Hash
	from, to uint64
}

// mockNode is a registry.Client with function fields.
type mockNode struct {
	LatestFn  func(ctx context.Context) (uint64, error)
	GetLogsFn func(ctx context.Context, q logQuery) ([]types.Log, error)

	mu      sync.Mutex
	queries []logQuery
}

func (m *mockNode) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func (m *mockNode) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (m *mockNode) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return m.LatestFn(ctx)
}

func (m *mockNode) GetLogs(ctx context.Context, address common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error) {
	q := logQuery{address: address, topics: topics, from: from, to: to}
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.GetLogsFn == nil {
		return nil, nil
	}
	return m.GetLogsFn(ctx, q)
}

func headAt(n uint64) func(context.Context) (uint64, error) {
	return func(context.Context) (uint64, error) { return n, nil }
}

var (
	ethBridge  = common.HexToAddress("0x2796317b0fF8538F253012862c06787Adfb8cEb6")
	bscBridge  = common.HexToAddress("0xd123f70AE324d34A9E76b67a27bf77593bA8749f")
	avaxBridge = common.HexToAddress("0xC05e61d0E7a63D27546389B7aD62FdFf5A91aACE")
	avaxNUSD   = common.HexToAddress("0xED2a7edd7413021d440b09D654f3b87712abAB66")
	avaxNETH   = common.HexToAddress("0x77a7e60555bC18B4Be44C181b2575eee46212d44")
)

func noSleep() *retry.Executor {
	return &retry.Executor{Attempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	eth := &mockNode{LatestFn: headAt(5000)}
	bsc := &mockNode{LatestFn: func(context.Context) (uint64, error) { return 0, errors.New("rate limited") }}
	avax := &mockNode{LatestFn: headAt(700)}

	reg, err := registry.New(
		&registry.Chain{Name: "ethereum", Client: eth, Bridge: &registry.Contract{Name: registry.ContractBridge, Address: ethBridge, StartBlock: 1000}},
		&registry.Chain{Name: "bsc", Client: bsc, Bridge: &registry.Contract{Name: registry.ContractBridge, Address: bscBridge}},
		&registry.Chain{Name: "avalanche", Client: avax, Bridge: &registry.Contract{Name: registry.ContractBridge, Address: avaxBridge, StartBlock: 500}},
	)
	require.NoError(t, err)

	cursors := store.NewCursors(store.NewMemory())
	g, err := Dispatch(context.Background(), reg, nil, Options{
		Selector:  SelectBridge,
		Namespace: "logs",
		Cursors:   cursors,
		Retry:     noSleep(),
		JoinAll:   true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Contains(t, err.Error(), "bsc bridge")

	require.Len(t, g.Tasks(), 3)
	for _, task := range g.Tasks() {
		select {
		case <-task.Done():
		default:
			t.Fatalf("task %s not done after JoinAll", task.Chain)
		}
		if task.Chain == "bsc" {
			assert.Error(t, task.Err())
		} else {
			assert.NoError(t, task.Err())
		}
	}

	ctx := context.Background()
	n, ok, err := cursors.Load(ctx, "ethereum", "logs", ethBridge.Hex())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5000), n)

	n, _, err = cursors.Load(ctx, "avalanche", "logs", avaxBridge.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(700), n)

	_, ok, err = cursors.Load(ctx, "bsc", "logs", bscBridge.Hex())
	require.NoError(t, err)
	assert.False(t, ok)

	// Chain windows come from the registry defaults.
	require.NotEmpty(t, eth.queries)
	assert.Equal(t, uint64(1000), eth.queries[0].from)
	assert.Equal(t, uint64(2023), eth.queries[0].to)
	assert.Equal(t, decoder.BridgeTopics().Hashes(), eth.queries[0].topics)
}

func TestDispatch_Pools(t *testing.T) {
	avax := &mockNode{LatestFn: headAt(8_000_000)}
	reg, err := registry.New(&registry.Chain{
		Name:   "avalanche",
		Client: avax,
		Bridge: &registry.Contract{Name: registry.ContractBridge, Address: avaxBridge},
		Pools: []registry.Contract{
			{Name: registry.PoolNUSD, Address: avaxNUSD, StartBlock: 7_990_000},
			{Name: registry.PoolNETH, Address: avaxNETH, StartBlock: 7_995_000},
		},
	})
	require.NoError(t, err)

	d, err := New(reg, nil, Options{
		Selector:  SelectPools,
		Namespace: "pools",
		Cursors:   store.NewCursors(store.NewMemory()),
		Retry:     noSleep(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, d.Len())

	g := d.Start(context.Background())
	require.NoError(t, g.Wait())
	assert.NotEmpty(t, g.ID)

	seen := map[common.Address]uint64{}
	for _, q := range avax.queries {
		if _, ok := seen[q.address]; !ok {
			seen[q.address] = q.from
		}
		assert.Equal(t, decoder.PoolTopics().Hashes(), q.topics)
	}
	assert.Equal(t, map[common.Address]uint64{avaxNUSD: 7_990_000, avaxNETH: 7_995_000}, seen)

	// A second cycle starts from the stored cursors and finds nothing new.
	before := len(avax.queries)
	g2 := d.Start(context.Background())
	require.NoError(t, g2.Wait())
	assert.NotEqual(t, g.ID, g2.ID)
	assert.Equal(t, before, len(avax.queries))
}

func TestDispatch_DoesNotJoinByDefault(t *testing.T) {
	release := make(chan struct{})
	node := &mockNode{LatestFn: func(ctx context.Context) (uint64, error) {
		<-release
		return 10, nil
	}}
	reg, err := registry.New(&registry.Chain{
		Name:   "fantom",
		Client: node,
		Bridge: &registry.Contract{Name: registry.ContractBridge, Address: ethBridge},
	})
	require.NoError(t, err)

	g, err := Dispatch(context.Background(), reg, nil, Options{
		Selector: SelectBridge,
		Cursors:  store.NewCursors(store.NewMemory()),
	})
	require.NoError(t, err)
	task := g.Tasks()[0]

	select {
	case <-task.Done():
		t.Fatal("task finished before the node answered")
	default:
	}

	close(release)
	<-task.Done()
	assert.NoError(t, task.Err())
	assert.NoError(t, g.Wait())
}

func TestNew_Validation(t *testing.T) {
	reg, err := registry.New(&registry.Chain{Name: "bsc", Client: &mockNode{}})
	require.NoError(t, err)
	cursors := store.NewCursors(store.NewMemory())

	_, err = New(reg, nil, Options{Selector: "tokens", Cursors: cursors})
	assert.Error(t, err)

	_, err = New(reg, nil, Options{Selector: SelectBridge})
	assert.Error(t, err)

	_, err = New(reg, nil, Options{Selector: SelectBridge, Cursors: cursors, Chains: []string{"terra"}})
	assert.ErrorIs(t, err, registry.ErrUnknownChain)

	d, err := New(reg, nil, Options{Selector: SelectBridge, Cursors: cursors, Chains: []string{"bsc"}})
	require.NoError(t, err)
	assert.Zero(t, d.Len())
}
