package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"bridge-etl/internal/decoder"
	"bridge-etl/internal/retry"
	"bridge-etl/internal/rpc"
	"bridge-etl/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bridgeAddr = common.HexToAddress("0x2796317b0fF8538F253012862c06787Adfb8cEb6")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	recipient  = common.HexToAddress("0x9ec1f3b5a7c6f4cb2b3a7f8d22f8c6a1b0e3d4c5")
)

type call struct{ from, to uint64 }

// mockClient is a LogClient whose behaviour is set per test.
type mockClient struct {
	LatestFn  func() (uint64, error)
	GetLogsFn func(from, to uint64) ([]types.Log, error)

	mu    sync.Mutex
	calls []call
}

func (m *mockClient) LatestBlockNumber(context.Context) (uint64, error) {
	return m.LatestFn()
}

func (m *mockClient) GetLogs(_ context.Context, _ common.Address, _ []common.Hash, from, to uint64) ([]types.Log, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{from, to})
	m.mu.Unlock()
	if m.GetLogsFn == nil {
		return nil, nil
	}
	return m.GetLogsFn(from, to)
}

func latest(n uint64) func() (uint64, error) {
	return func() (uint64, error) { return n, nil }
}

// recordingStore remembers every value written to a key.
type recordingStore struct {
	*store.Memory
	mu     sync.Mutex
	writes map[string][]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory(), writes: map[string][]string{}}
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.writes[key] = append(s.writes[key], string(value))
	s.mu.Unlock()
	return s.Memory.Set(ctx, key, value)
}

func depositLog(block uint64, index uint) types.Log {
	word := func(b []byte) []byte { return common.LeftPadBytes(b, 32) }
	var data []byte
	data = append(data, word(big.NewInt(56).Bytes())...)
	data = append(data, word(usdc.Bytes())...)
	data = append(data, word(big.NewInt(1_000_000).Bytes())...)
	return types.Log{
		Address:     bridgeAddr,
		Topics:      []common.Hash{decoder.TokenDeposit.Topic(), common.BytesToHash(recipient.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

type harness struct {
	client  *mockClient
	store   *recordingStore
	cursors *store.Cursors
	sleeps  []time.Duration
	records []decoder.Record
	cbErr   error
}

func newHarness(client *mockClient) *harness {
	s := newRecordingStore()
	return &harness{client: client, store: s, cursors: store.NewCursors(s)}
}

func (h *harness) fetcher(cfg Config) *Fetcher {
	if cfg.Chain == "" {
		cfg.Chain = "ethereum"
	}
	cfg.Address = bridgeAddr
	if cfg.Namespace == "" {
		cfg.Namespace = "logs"
	}
	ex := &retry.Executor{Sleep: func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}}
	cb := func(_ context.Context, chain, address string, rec decoder.Record, _ decoder.RawLog) error {
		if h.cbErr != nil {
			return h.cbErr
		}
		h.records = append(h.records, rec)
		return nil
	}
	return New(cfg, h.client, decoder.New(nil, nil), h.cursors, ex, cb)
}

func (h *harness) cursor(t *testing.T) (uint64, bool) {
	t.Helper()
	n, ok, err := h.cursors.Load(context.Background(), "ethereum", "logs", bridgeAddr.Hex())
	require.NoError(t, err)
	return n, ok
}

func TestRun_ScansToHeadAndIsIdempotent(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(250),
		GetLogsFn: func(from, to uint64) ([]types.Log, error) {
			if from <= 120 && 120 <= to {
				return []types.Log{depositLog(120, 1), depositLog(120, 0)}, nil
			}
			return nil, nil
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{StartBlock: 100, MaxBlocks: 100})

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []call{{100, 199}, {200, 250}}, client.calls)
	require.Len(t, h.records, 2)
	out := h.records[0].(*decoder.BridgeOut)
	assert.Equal(t, int64(56), out.ChainID.Int64())
	assert.Equal(t, "0x9ec1f3b5a7c6f4cb2b3a7f8d22f8c6a1b0e3d4c5", out.To)

	n, ok := h.cursor(t)
	require.True(t, ok)
	assert.Equal(t, uint64(250), n)

	// A second cycle at the same head neither queries nor writes.
	require.NoError(t, f.Run(context.Background()))
	assert.Len(t, client.calls, 2)
	assert.Len(t, h.records, 2)
	assert.Equal(t, []string{"199", "250"}, h.store.writes[store.CursorKey("ethereum", "logs", bridgeAddr.Hex())])
}

func TestRun_ResumesAfterCursor(t *testing.T) {
	client := &mockClient{LatestFn: latest(1000)}
	h := newHarness(client)
	require.NoError(t, h.cursors.Save(context.Background(), "ethereum", "logs", bridgeAddr.Hex(), 899))

	f := h.fetcher(Config{StartBlock: 10, MaxBlocks: 5000})
	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []call{{900, 1000}}, client.calls)

	n, _ := h.cursor(t)
	assert.Equal(t, uint64(1000), n)
}

func TestRun_EmptyWindowsAdvance(t *testing.T) {
	client := &mockClient{LatestFn: latest(29)}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 10})

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []call{{0, 9}, {10, 19}, {20, 29}}, client.calls)
	assert.Empty(t, h.records)
	assert.Equal(t, []string{"9", "19", "29"}, h.store.writes[store.CursorKey("ethereum", "logs", bridgeAddr.Hex())])
}

func TestRun_ShrinksWindowWithoutAdvancing(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(10_000),
		GetLogsFn: func(from, to uint64) ([]types.Log, error) {
			if to-from+1 > 512 {
				return nil, fmt.Errorf("%w: query returned more than 10000 results", rpc.ErrWindowTooLarge)
			}
			return nil, nil
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{StartBlock: 1000, MaxBlocks: 2048})

	require.NoError(t, f.Run(context.Background()))
	require.GreaterOrEqual(t, len(client.calls), 3)
	assert.Equal(t, []call{{1000, 3047}, {1000, 2023}, {1000, 1511}}, client.calls[:3])

	// Provider refusals are not retried by the executor.
	assert.Empty(t, h.sleeps)

	writes := h.store.writes[store.CursorKey("ethereum", "logs", bridgeAddr.Hex())]
	require.NotEmpty(t, writes)
	assert.Equal(t, "1511", writes[0])
	assert.Equal(t, "10000", writes[len(writes)-1])
}

func TestRun_WindowRegrows(t *testing.T) {
	refuse := true
	client := &mockClient{
		LatestFn: latest(100_000),
		GetLogsFn: func(from, to uint64) ([]types.Log, error) {
			if refuse && to-from+1 > 250 {
				refuse = false
				return nil, rpc.ErrWindowTooLarge
			}
			return nil, nil
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 1000})

	require.NoError(t, f.Run(context.Background()))
	sizes := make([]uint64, 0, 6)
	for _, c := range client.calls[:6] {
		sizes = append(sizes, c.to-c.from+1)
	}
	assert.Equal(t, []uint64{1000, 500, 500, 500, 1000, 1000}, sizes)
	assert.Equal(t, uint64(1000), f.Window())
}

func TestRun_WindowExhausted(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(100),
		GetLogsFn: func(uint64, uint64) ([]types.Log, error) {
			return nil, rpc.ErrWindowTooLarge
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{StartBlock: 50, MaxBlocks: 4})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrWindowExhausted)
	require.ErrorIs(t, err, rpc.ErrWindowTooLarge)
	assert.Equal(t, []call{{50, 53}, {50, 51}, {50, 50}}, client.calls)

	_, ok := h.cursor(t)
	assert.False(t, ok)
}

func TestRun_MaxHalvings(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(100_000),
		GetLogsFn: func(uint64, uint64) ([]types.Log, error) {
			return nil, rpc.ErrWindowTooLarge
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 1024, MaxHalvings: 2})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrWindowExhausted)
	assert.Len(t, client.calls, 3)
	assert.Equal(t, uint64(256), f.Window())
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	failures := 2
	client := &mockClient{
		LatestFn: latest(10),
		GetLogsFn: func(uint64, uint64) ([]types.Log, error) {
			if failures > 0 {
				failures--
				return nil, errors.New("connection reset by peer")
			}
			return nil, nil
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 100})

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, h.sleeps)
	n, _ := h.cursor(t)
	assert.Equal(t, uint64(10), n)
}

func TestRun_ExhaustedRetriesKeepCursor(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(10),
		GetLogsFn: func(uint64, uint64) ([]types.Log, error) {
			return nil, errors.New("502 bad gateway")
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 100})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, retry.ErrExhausted)
	assert.Len(t, client.calls, retry.DefaultAttempts)
	_, ok := h.cursor(t)
	assert.False(t, ok)
}

func TestRun_UnknownTopicDoesNotAdvance(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(300),
		GetLogsFn: func(from, to uint64) ([]types.Log, error) {
			if from == 200 {
				lg := depositLog(250, 0)
				lg.Topics[0] = common.HexToHash("0xdeadbeef")
				return []types.Log{lg}, nil
			}
			return nil, nil
		},
	}
	h := newHarness(client)
	f := h.fetcher(Config{StartBlock: 100, MaxBlocks: 100})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, decoder.ErrUnknownEvent)
	n, ok := h.cursor(t)
	require.True(t, ok)
	assert.Equal(t, uint64(199), n)
}

func TestRun_CallbackErrorDoesNotAdvance(t *testing.T) {
	client := &mockClient{
		LatestFn: latest(50),
		GetLogsFn: func(uint64, uint64) ([]types.Log, error) {
			return []types.Log{depositLog(10, 0)}, nil
		},
	}
	h := newHarness(client)
	h.cbErr = errors.New("store unavailable")
	f := h.fetcher(Config{MaxBlocks: 100})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, h.cbErr)
	_, ok := h.cursor(t)
	assert.False(t, ok)
}

func TestRun_LatestBlockFailure(t *testing.T) {
	client := &mockClient{LatestFn: func() (uint64, error) { return 0, errors.New("dial tcp: refused") }}
	h := newHarness(client)
	f := h.fetcher(Config{MaxBlocks: 100})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, retry.ErrExhausted)
	assert.Empty(t, client.calls)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 9 * time.Second, 27 * time.Second}, h.sleeps)
}
