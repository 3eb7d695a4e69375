package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Amount is a token amount as emitted on chain plus its decimal scaled value.
// Value stays zero when the token's decimals are unknown.
type Amount struct {
	Raw   *big.Int        `json:"raw"`
	Value decimal.Decimal `json:"value"`
}

func rawAmount(n *big.Int) Amount {
	return Amount{Raw: n}
}

// Record is a decoded log. The concrete type depends on the event kind:
//
//	*BridgeIn          TokenMint, TokenWithdraw
//	*MintAndSwap       TokenMintAndSwap
//	*WithdrawAndRemove TokenWithdrawAndRemove
//	*BridgeOut         TokenDeposit, TokenRedeem, TokenRedeemV2
//	*OutSwap           TokenDepositAndSwap, TokenRedeemAndSwap
//	*RedeemAndRemove   TokenRedeemAndRemove
//	*PoolSwap          TokenSwap
type Record interface {
	Kind() EventKind
	record()
}

// TxIn is the argument list of a bridge IN transaction, read from its input.
type TxIn struct {
	To     common.Address `json:"to"`
	Token  common.Address `json:"token"`
	Amount Amount         `json:"amount"`
	Fee    Amount         `json:"fee"`
}

// BridgeIn is a transfer arriving on this chain.
type BridgeIn struct {
	Event          EventKind      `json:"event"`
	To             common.Address `json:"to"`
	Token          common.Address `json:"token"`
	AmountReceived Amount         `json:"amount_received"`
	Fee            Amount         `json:"fee"`
}

func (b *BridgeIn) Kind() EventKind { return b.Event }
func (*BridgeIn) record()           {}

// MintAndSwap is a bridge IN followed by a swap on the destination pool.
type MintAndSwap struct {
	BridgeIn
	TokenIndexTo uint8 `json:"token_index_to"`
	SwapSuccess  bool  `json:"swap_success"`
}

// WithdrawAndRemove is a bridge IN followed by a single-token pool withdrawal.
// Legacy is set when the event carried the pre-upgrade swapTokenAmount word.
type WithdrawAndRemove struct {
	BridgeIn
	TokenIndexTo uint8 `json:"token_index_to"`
	SwapSuccess  bool  `json:"swap_success"`
	Legacy       bool  `json:"legacy,omitempty"`
}

// BridgeOut is a transfer leaving this chain. To is a 0x address for EVM
// destinations and a bech32 address for terra.
type BridgeOut struct {
	Event   EventKind      `json:"event"`
	To      string         `json:"to"`
	ChainID *big.Int       `json:"chain_id"`
	Token   common.Address `json:"token"`
	Amount  Amount         `json:"amount"`
}

func (b *BridgeOut) Kind() EventKind { return b.Event }
func (*BridgeOut) record()           {}

// OutSwap is TokenDepositAndSwap or TokenRedeemAndSwap.
type OutSwap struct {
	BridgeOut
	TokenIndexTo uint8 `json:"token_index_to"`
}

// RedeemAndRemove is TokenRedeemAndRemove.
type RedeemAndRemove struct {
	BridgeOut
	TokenIndexTo uint8 `json:"token_index_to"`
}

// PoolSwap is a TokenSwap emitted by a stable swap pool. Amounts are kept raw,
// token ids index into the pool's token list.
type PoolSwap struct {
	Buyer        common.Address `json:"buyer"`
	TokensSold   *big.Int       `json:"tokens_sold"`
	TokensBought *big.Int       `json:"tokens_bought"`
	SoldID       uint8          `json:"sold_id"`
	BoughtID     uint8          `json:"bought_id"`
}

func (*PoolSwap) Kind() EventKind { return TokenSwap }
func (*PoolSwap) record()         {}
