package decoder

import (
	"math/big"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-errors/errors"
)

// legacySwapIndexThreshold separates the two TokenWithdrawAndRemove layouts.
// Pools hold at most 4 tokens, so a value above 3 in the index slot is the
// swapTokenAmount word that older bridge deployments emitted there.
const legacySwapIndexThreshold = 3

// TerraChainID is the bridge chain id used for terra destinations.
const TerraChainID = 121014925

const terraHRP = "terra"

// ParseTxIn reads to, token, amount and fee from the input of a bridge IN
// transaction. The 4 byte method selector is skipped.
func ParseTxIn(input string) (*TxIn, error) {
	r := newFieldReader(input)
	if err := r.skipBytes(4); err != nil {
		return nil, err
	}

	var (
		res TxIn
		err error
	)
	if res.To, err = r.address(); err != nil {
		return nil, err
	}
	if res.Token, err = r.address(); err != nil {
		return nil, err
	}
	amount, err := r.uint()
	if err != nil {
		return nil, err
	}
	fee, err := r.uint()
	if err != nil {
		return nil, err
	}
	res.Amount, res.Fee = rawAmount(amount), rawAmount(fee)
	return &res, nil
}

// ParseLogIn decodes a bridge IN event. The recipient comes from topic[1].
func ParseLogIn(log RawLog, kind EventKind) (Record, error) {
	to, err := topicAddress(log, 1)
	if err != nil {
		return nil, err
	}

	r := newFieldReader(log.Data)
	in := BridgeIn{Event: kind, To: to}
	if in.Token, err = r.address(); err != nil {
		return nil, err
	}
	received, err := r.uint()
	if err != nil {
		return nil, err
	}
	fee, err := r.uint()
	if err != nil {
		return nil, err
	}
	in.AmountReceived, in.Fee = rawAmount(received), rawAmount(fee)

	switch kind {
	case TokenMint, TokenWithdraw:
		return &in, nil
	case TokenMintAndSwap:
		return parseMintAndSwap(r, in)
	case TokenWithdrawAndRemove:
		return parseWithdrawAndRemove(r, in)
	default:
		return nil, errors.Errorf("%w: %s is not a bridge IN event", ErrUnknownEvent, kind)
	}
}

func parseMintAndSwap(r *fieldReader, in BridgeIn) (Record, error) {
	res := MintAndSwap{BridgeIn: in}
	var err error
	if err = r.skip(); err != nil { // token_index_from
		return nil, err
	}
	if res.TokenIndexTo, err = r.uint8(); err != nil {
		return nil, err
	}
	if err = r.skip(); err != nil { // min_dy
		return nil, err
	}
	if err = r.skip(); err != nil { // deadline
		return nil, err
	}
	if res.SwapSuccess, err = r.bool(); err != nil {
		return nil, err
	}
	return &res, nil
}

func parseWithdrawAndRemove(r *fieldReader, in BridgeIn) (Record, error) {
	res := WithdrawAndRemove{BridgeIn: in}

	candidate, err := r.uint()
	if err != nil {
		return nil, err
	}
	if candidate.Cmp(big.NewInt(legacySwapIndexThreshold)) > 0 {
		// candidate was swapTokenAmount, the index is the next word
		res.Legacy = true
		if candidate, err = r.uint(); err != nil {
			return nil, err
		}
	}
	if res.TokenIndexTo, err = toUint8(candidate); err != nil {
		return nil, err
	}

	if err = r.skip(); err != nil { // swap_min_amount
		return nil, err
	}
	if err = r.skip(); err != nil { // deadline
		return nil, err
	}
	if res.SwapSuccess, err = r.bool(); err != nil {
		return nil, err
	}
	return &res, nil
}

// ParseLogOut decodes a bridge OUT event.
func ParseLogOut(log RawLog, kind EventKind) (Record, error) {
	if len(log.Topics) < 2 {
		return nil, errors.Errorf("%w: %s log has %d topics", ErrMalformed, kind, len(log.Topics))
	}

	r := newFieldReader(log.Data)
	out := BridgeOut{Event: kind}
	var err error
	if out.ChainID, err = r.uint(); err != nil {
		return nil, err
	}
	if out.Token, err = r.address(); err != nil {
		return nil, err
	}
	amount, err := r.uint()
	if err != nil {
		return nil, err
	}
	out.Amount = rawAmount(amount)

	if out.ChainID.Cmp(big.NewInt(TerraChainID)) == 0 {
		if out.To, err = terraAddress(log.Topics[1]); err != nil {
			return nil, err
		}
	} else {
		out.To = hexAddress(common.BytesToAddress(log.Topics[1].Bytes()))
	}

	switch {
	case kind.isSwap():
		// TokenDepositAndSwap and TokenRedeemAndSwap share a layout
		res := OutSwap{BridgeOut: out}
		if err = r.skip(); err != nil { // token_index_from
			return nil, err
		}
		if res.TokenIndexTo, err = r.uint8(); err != nil {
			return nil, err
		}
		return &res, nil
	case kind == TokenRedeemAndRemove:
		res := RedeemAndRemove{BridgeOut: out}
		if res.TokenIndexTo, err = r.uint8(); err != nil {
			return nil, err
		}
		return &res, nil
	case kind.Direction() == DirectionOut:
		return &out, nil
	default:
		return nil, errors.Errorf("%w: %s is not a bridge OUT event", ErrUnknownEvent, kind)
	}
}

// ParsePoolSwap decodes a pool TokenSwap event.
func ParsePoolSwap(log RawLog) (Record, error) {
	buyer, err := topicAddress(log, 1)
	if err != nil {
		return nil, err
	}
	r := newFieldReader(log.Data)
	res := PoolSwap{Buyer: buyer}
	if res.TokensSold, err = r.uint(); err != nil {
		return nil, err
	}
	if res.TokensBought, err = r.uint(); err != nil {
		return nil, err
	}
	if res.SoldID, err = r.uint8(); err != nil {
		return nil, err
	}
	if res.BoughtID, err = r.uint8(); err != nil {
		return nil, err
	}
	return &res, nil
}

func topicAddress(log RawLog, i int) (common.Address, error) {
	if len(log.Topics) <= i {
		return common.Address{}, errors.Errorf("%w: log has %d topics, want topic %d", ErrMalformed, len(log.Topics), i)
	}
	return common.BytesToAddress(log.Topics[i].Bytes()), nil
}

// hexAddress renders an address lower-cased, the form used in cache keys.
func hexAddress(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}

// terraAddress encodes a bytes32 topic as a terra bech32 address. Terra
// accounts are 20 bytes; the topic carries them zero padded on either side.
func terraAddress(topic common.Hash) (string, error) {
	b := topic.Bytes()
	switch {
	case isZero(b[:12]):
		b = b[12:]
	case isZero(b[20:]):
		b = b[:20]
	}
	conv, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", errors.Errorf("%w: terra address: %v", ErrMalformed, err)
	}
	addr, err := bech32.Encode(terraHRP, conv)
	if err != nil {
		return "", errors.Errorf("%w: terra address: %v", ErrMalformed, err)
	}
	return addr, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
