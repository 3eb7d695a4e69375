package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"bridge-etl/internal/store"
)

// StoreSink caches events as JSON under <chain>:<namespace>:<tx>:<logIndex>.
// Writing the same log twice overwrites it, so replayed windows are harmless.
type StoreSink struct {
	store     store.Store
	namespace string
}

func NewStoreSink(s store.Store, namespace string) *StoreSink {
	return &StoreSink{store: s, namespace: namespace}
}

// EventKey is the store key of a cached event.
func EventKey(chain, namespace, txHash string, logIndex uint) string {
	return store.Key(chain, namespace, txHash, strconv.FormatUint(uint64(logIndex), 10))
}

func (s *StoreSink) Write(ctx context.Context, evt Event) error {
	chain, _ := evt[ColChain].(string)
	tx, _ := evt[ColTxHash].(string)
	idx, ok := evt[ColLogIndex].(uint)
	if chain == "" || tx == "" || !ok {
		return errNoKey
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s/%d: %w", tx, idx, err)
	}
	return s.store.Set(ctx, EventKey(chain, s.namespace, tx, idx), data)
}
