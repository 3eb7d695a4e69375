// Package decoder turns raw bridge logs and transaction inputs into typed
// records. Payloads are read word by word from their hex form; no contract ABI
// is involved, which lets the decoder cope with layouts that changed across
// contract upgrades.
package decoder

import (
	"bridge-etl/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-errors/errors"
)

// RawLog is one log entry as returned by eth_getLogs. Data is 0x-prefixed hex.
type RawLog struct {
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        string         `json:"data"`
}

// FromLog converts a go-ethereum log.
func FromLog(lg types.Log) RawLog {
	return RawLog{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Address:     lg.Address,
		Topics:      lg.Topics,
		Data:        hexutil.Encode(lg.Data),
	}
}

// Decoder resolves the event kind of a log through its topic table and
// scales amounts with the unit table when one is configured.
type Decoder struct {
	topics Topics
	units  *units.Table
}

// New builds a Decoder. A nil topic table means DefaultTopics; a nil unit
// table leaves decimal values at zero.
func New(topics Topics, table *units.Table) *Decoder {
	if topics == nil {
		topics = DefaultTopics()
	}
	return &Decoder{topics: topics, units: table}
}

// Kind returns the event kind identified by topic[0].
func (d *Decoder) Kind(log RawLog) (EventKind, error) {
	if len(log.Topics) == 0 {
		return "", errors.Errorf("%w: log %s/%d has no topics", ErrMalformed, log.TxHash.Hex(), log.LogIndex)
	}
	kind, ok := d.topics[log.Topics[0]]
	if !ok {
		return "", errors.Errorf("%w: %s in tx %s", ErrUnknownEvent, log.Topics[0].Hex(), log.TxHash.Hex())
	}
	return kind, nil
}

// Decode parses a log emitted on chain into its record variant.
func (d *Decoder) Decode(chain string, log RawLog) (Record, error) {
	kind, err := d.Kind(log)
	if err != nil {
		return nil, err
	}

	var rec Record
	switch kind.Direction() {
	case DirectionIn:
		rec, err = ParseLogIn(log, kind)
	case DirectionOut:
		rec, err = ParseLogOut(log, kind)
	case DirectionPool:
		rec, err = ParsePoolSwap(log)
	default:
		return nil, errors.Errorf("%w: %s has no decoder", ErrUnknownEvent, kind)
	}
	if err != nil {
		return nil, errors.Errorf("decode %s in tx %s: %w", kind, log.TxHash.Hex(), err)
	}
	d.scale(chain, rec)
	return rec, nil
}

// DecodeTxIn parses the input of a bridge IN transaction.
func (d *Decoder) DecodeTxIn(chain, input string) (*TxIn, error) {
	res, err := ParseTxIn(input)
	if err != nil {
		return nil, err
	}
	if d.units != nil {
		token := hexAddress(res.Token)
		res.Amount.Value = d.units.Convert(chain, token, res.Amount.Raw)
		res.Fee.Value = d.units.Convert(chain, token, res.Fee.Raw)
	}
	return res, nil
}

func (d *Decoder) scale(chain string, rec Record) {
	if d.units == nil {
		return
	}
	var in *BridgeIn
	var out *BridgeOut
	switch r := rec.(type) {
	case *BridgeIn:
		in = r
	case *MintAndSwap:
		in = &r.BridgeIn
	case *WithdrawAndRemove:
		in = &r.BridgeIn
	case *BridgeOut:
		out = r
	case *OutSwap:
		out = &r.BridgeOut
	case *RedeemAndRemove:
		out = &r.BridgeOut
	}
	if in != nil {
		token := hexAddress(in.Token)
		in.AmountReceived.Value = d.units.Convert(chain, token, in.AmountReceived.Raw)
		in.Fee.Value = d.units.Convert(chain, token, in.Fee.Raw)
	}
	if out != nil {
		out.Amount.Value = d.units.Convert(chain, hexAddress(out.Token), out.Amount.Raw)
	}
}
