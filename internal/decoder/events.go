package decoder

import (
	"bytes"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventKind is the name of a bridge or pool event as emitted on chain.
type EventKind string

const (
	TokenDeposit           EventKind = "TokenDeposit"
	TokenRedeem            EventKind = "TokenRedeem"
	TokenRedeemV2          EventKind = "TokenRedeemV2"
	TokenDepositAndSwap    EventKind = "TokenDepositAndSwap"
	TokenRedeemAndSwap     EventKind = "TokenRedeemAndSwap"
	TokenRedeemAndRemove   EventKind = "TokenRedeemAndRemove"
	TokenMint              EventKind = "TokenMint"
	TokenWithdraw          EventKind = "TokenWithdraw"
	TokenMintAndSwap       EventKind = "TokenMintAndSwap"
	TokenWithdrawAndRemove EventKind = "TokenWithdrawAndRemove"
	TokenSwap              EventKind = "TokenSwap"
)

// Direction tells which side of a cross-chain transfer an event belongs to.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionPool Direction = "pool"
)

type eventInfo struct {
	signature string
	direction Direction
}

var events = map[EventKind]eventInfo{
	TokenDeposit:           {"TokenDeposit(address,uint256,address,uint256)", DirectionOut},
	TokenRedeem:            {"TokenRedeem(address,uint256,address,uint256)", DirectionOut},
	TokenRedeemV2:          {"TokenRedeemV2(bytes32,uint256,address,uint256)", DirectionOut},
	TokenDepositAndSwap:    {"TokenDepositAndSwap(address,uint256,address,uint256,uint8,uint8,uint256,uint256)", DirectionOut},
	TokenRedeemAndSwap:     {"TokenRedeemAndSwap(address,uint256,address,uint256,uint8,uint8,uint256,uint256)", DirectionOut},
	TokenRedeemAndRemove:   {"TokenRedeemAndRemove(address,uint256,address,uint256,uint8,uint256,uint256)", DirectionOut},
	TokenMint:              {"TokenMint(address,address,uint256,uint256,bytes32)", DirectionIn},
	TokenWithdraw:          {"TokenWithdraw(address,address,uint256,uint256,bytes32)", DirectionIn},
	TokenMintAndSwap:       {"TokenMintAndSwap(address,address,uint256,uint256,uint8,uint8,uint256,uint256,bool,bytes32)", DirectionIn},
	TokenWithdrawAndRemove: {"TokenWithdrawAndRemove(address,address,uint256,uint256,uint8,uint256,uint256,bool,bytes32)", DirectionIn},
	TokenSwap:              {"TokenSwap(address,uint256,uint256,uint128,uint128)", DirectionPool},
}

// Direction returns the transfer side of the event, or "" for unknown kinds.
func (k EventKind) Direction() Direction {
	return events[k].direction
}

// Signature returns the canonical event signature used to derive topic[0].
func (k EventKind) Signature() string {
	return events[k].signature
}

// Topic returns keccak256 of the event signature.
func (k EventKind) Topic() common.Hash {
	return crypto.Keccak256Hash([]byte(k.Signature()))
}

func (k EventKind) isSwap() bool {
	return strings.HasSuffix(string(k), "Swap")
}

// Topics maps topic[0] to the event it identifies.
type Topics map[common.Hash]EventKind

// NewTopics builds a topic table for the given kinds.
func NewTopics(kinds ...EventKind) Topics {
	t := make(Topics, len(kinds))
	for _, k := range kinds {
		t[k.Topic()] = k
	}
	return t
}

// BridgeTopics is the table of every bridge event, in and out.
func BridgeTopics() Topics {
	return NewTopics(
		TokenDeposit, TokenRedeem, TokenRedeemV2, TokenDepositAndSwap, TokenRedeemAndSwap,
		TokenRedeemAndRemove, TokenMint, TokenWithdraw, TokenMintAndSwap, TokenWithdrawAndRemove,
	)
}

// PoolTopics is the table of the pool events the ingester understands.
func PoolTopics() Topics {
	return NewTopics(TokenSwap)
}

// DefaultTopics is the full known topic set.
func DefaultTopics() Topics {
	t := BridgeTopics()
	for h, k := range PoolTopics() {
		t[h] = k
	}
	return t
}

// Hashes returns the sorted topic hashes of the table, suitable for a
// topic[0] filter.
func (t Topics) Hashes() []common.Hash {
	out := make([]common.Hash, 0, len(t))
	for h := range t {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
