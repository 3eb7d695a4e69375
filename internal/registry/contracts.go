package registry

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const totalSupplyABI = `[{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

const basePoolABI = `[{"inputs":[{"internalType":"uint8","name":"index","type":"uint8"}],"name":"getToken","outputs":[{"internalType":"contract IERC20","name":"","type":"address"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint256","name":"index","type":"uint256"}],"name":"getAdminBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// maxPoolTokens bounds the getToken enumeration.
const maxPoolTokens = 32

var (
	tokenABI = mustParseABI(totalSupplyABI)
	poolABI  = mustParseABI(basePoolABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// token is a read-only ERC20 handle.
type token struct {
	*bind.BoundContract
}

func newToken(addr common.Address, caller bind.ContractCaller) *token {
	return &token{bind.NewBoundContract(addr, tokenABI, caller, nil, nil)}
}

func (t *token) totalSupply(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := t.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// pool is a read-only swap pool handle.
type pool struct {
	*bind.BoundContract
}

func newPool(addr common.Address, caller bind.ContractCaller) *pool {
	return &pool{bind.NewBoundContract(addr, poolABI, caller, nil, nil)}
}

func (p *pool) getToken(ctx context.Context, index uint8) (common.Address, error) {
	var out []interface{}
	if err := p.Call(&bind.CallOpts{Context: ctx}, &out, "getToken", index); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (p *pool) getAdminBalance(ctx context.Context, index int) (*big.Int, error) {
	var out []interface{}
	if err := p.Call(&bind.CallOpts{Context: ctx}, &out, "getAdminBalance", big.NewInt(int64(index))); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// tokens enumerates the pool's tokens. Pools do not expose their size, so
// getToken is called with increasing indexes until it reverts.
func (p *pool) tokens(ctx context.Context) ([]common.Address, error) {
	var tokens []common.Address
	for i := 0; i < maxPoolTokens; i++ {
		addr, err := p.getToken(ctx, uint8(i))
		if err != nil {
			if i == 0 || ctx.Err() != nil {
				return nil, fmt.Errorf("getToken(%d): %w", i, err)
			}
			break
		}
		if addr == (common.Address{}) {
			break
		}
		tokens = append(tokens, addr)
	}
	return tokens, nil
}
