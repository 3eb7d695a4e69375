package sink

import (
	"context"
	"errors"

	"bridge-etl/internal/decoder"
)

// Event is a decoded record flattened into named columns, ready to be
// persisted. Numeric values are kept as decimal strings so every back-end
// stores them without loss.
type Event map[string]interface{}

// Common columns present in every event.
const (
	ColChain     = "chain"
	ColContract  = "contract"
	ColEventName = "event_name"
	ColBlock     = "block_number"
	ColTxHash    = "tx_hash"
	ColLogIndex  = "log_index"
)

// Sink defines the behaviour expected from any storage back-end receiving
// decoded events. Implementations must be safe for concurrent use: every
// scan task writes through the same sink.
type Sink interface {
	Write(ctx context.Context, evt Event) error
}

// Multi writes every event to each sink in order and stops at the first
// failure.
type Multi []Sink

func (m Multi) Write(ctx context.Context, evt Event) error {
	for _, s := range m {
		if err := s.Write(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Callback adapts a sink to the record callback of the fetcher.
func Callback(s Sink) func(ctx context.Context, chain, address string, rec decoder.Record, raw decoder.RawLog) error {
	return func(ctx context.Context, chain, address string, rec decoder.Record, raw decoder.RawLog) error {
		return s.Write(ctx, NewEvent(chain, address, rec, raw))
	}
}

var errNoKey = errors.New("event has no tx_hash or log_index")

// NewEvent flattens a record and the log it was decoded from.
func NewEvent(chain, address string, rec decoder.Record, raw decoder.RawLog) Event {
	evt := Event{
		ColChain:     chain,
		ColContract:  address,
		ColEventName: string(rec.Kind()),
		ColBlock:     raw.BlockNumber,
		ColTxHash:    raw.TxHash.Hex(),
		ColLogIndex:  raw.LogIndex,
	}

	switch r := rec.(type) {
	case *decoder.BridgeIn:
		addBridgeIn(evt, r)
	case *decoder.MintAndSwap:
		addBridgeIn(evt, &r.BridgeIn)
		evt["token_index_to"] = r.TokenIndexTo
		evt["swap_success"] = r.SwapSuccess
	case *decoder.WithdrawAndRemove:
		addBridgeIn(evt, &r.BridgeIn)
		evt["token_index_to"] = r.TokenIndexTo
		evt["swap_success"] = r.SwapSuccess
		evt["legacy"] = r.Legacy
	case *decoder.BridgeOut:
		addBridgeOut(evt, r)
	case *decoder.OutSwap:
		addBridgeOut(evt, &r.BridgeOut)
		evt["token_index_to"] = r.TokenIndexTo
	case *decoder.RedeemAndRemove:
		addBridgeOut(evt, &r.BridgeOut)
		evt["token_index_to"] = r.TokenIndexTo
	case *decoder.PoolSwap:
		evt["buyer"] = r.Buyer.Hex()
		evt["tokens_sold"] = r.TokensSold.String()
		evt["tokens_bought"] = r.TokensBought.String()
		evt["sold_id"] = r.SoldID
		evt["bought_id"] = r.BoughtID
	}
	return evt
}

func addBridgeIn(evt Event, r *decoder.BridgeIn) {
	evt["to"] = r.To.Hex()
	evt["token"] = r.Token.Hex()
	addAmount(evt, "amount_received", r.AmountReceived)
	addAmount(evt, "fee", r.Fee)
}

func addBridgeOut(evt Event, r *decoder.BridgeOut) {
	evt["to"] = r.To
	evt["chain_id"] = r.ChainID.String()
	evt["token"] = r.Token.Hex()
	addAmount(evt, "amount", r.Amount)
}

func addAmount(evt Event, name string, a decoder.Amount) {
	if a.Raw != nil {
		evt[name+"_raw"] = a.Raw.String()
	}
	evt[name] = a.Value.String()
}
