package decoder

import (
	"encoding/hex"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-errors/errors"
)

// fieldHexLen is one 32 byte ABI word written as hex.
const fieldHexLen = 64

var (
	ErrMalformed    = errors.New("malformed payload")
	ErrUnknownEvent = errors.New("unknown event topic")
)

// fieldReader consumes 32 byte words from a hex payload, left to right.
type fieldReader struct {
	data string
	pos  int
}

func newFieldReader(payload string) *fieldReader {
	return &fieldReader{data: strings.TrimPrefix(strings.TrimPrefix(payload, "0x"), "0X")}
}

// skipBytes drops n raw bytes, used for the 4 byte method selector.
func (r *fieldReader) skipBytes(n int) error {
	if r.pos+2*n > len(r.data) {
		return errors.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos/2, len(r.data)/2)
	}
	r.pos += 2 * n
	return nil
}

func (r *fieldReader) next() (string, error) {
	if r.pos+fieldHexLen > len(r.data) {
		return "", errors.Errorf("%w: field %d out of range (payload is %d hex chars)", ErrMalformed, r.pos/fieldHexLen, len(r.data))
	}
	f := r.data[r.pos : r.pos+fieldHexLen]
	r.pos += fieldHexLen
	return f, nil
}

func (r *fieldReader) skip() error {
	_, err := r.next()
	return err
}

// address keeps the last 40 hex chars (20 bytes) of the word.
func (r *fieldReader) address() (common.Address, error) {
	f, err := r.next()
	if err != nil {
		return common.Address{}, err
	}
	b, err := decodeHex(f[fieldHexLen-2*common.AddressLength:])
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

func (r *fieldReader) uint() (*big.Int, error) {
	f, err := r.next()
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(f, 16)
	if !ok {
		return nil, errors.Errorf("%w: %q is not a hex integer", ErrMalformed, f)
	}
	return n, nil
}

func (r *fieldReader) uint8() (uint8, error) {
	n, err := r.uint()
	if err != nil {
		return 0, err
	}
	return toUint8(n)
}

func (r *fieldReader) bool() (bool, error) {
	n, err := r.uint()
	if err != nil {
		return false, err
	}
	return n.Cmp(big.NewInt(1)) == 0, nil
}

func toUint8(n *big.Int) (uint8, error) {
	if n.Sign() < 0 || !n.IsUint64() || n.Uint64() > math.MaxUint8 {
		return 0, errors.Errorf("%w: token index %s does not fit uint8", ErrMalformed, n)
	}
	return uint8(n.Uint64()), nil
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Errorf("%w: %q is not hex", ErrMalformed, s)
	}
	return b, nil
}
