package rpc

import (
	"context"
	"fmt"
	"math/big"

	"bridge-etl/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// GasModel is how a chain charges for gas.
type GasModel string

const (
	// GasStandard: gasUsed * gasPrice.
	GasStandard GasModel = "standard"
	// GasArbitrum: the receipt's feeStats.paid components, L1 and L2.
	GasArbitrum GasModel = "arbitrum"
	// GasL1Fee: gasUsed * gasPrice on L2 plus the receipt's l1Fee (optimism, boba).
	GasL1Fee GasModel = "l1fee"
)

// GasStats is what a transaction paid, in native token, and the effective
// gas price in gwei.
type GasStats struct {
	Paid  decimal.Decimal `json:"gas_paid"`
	Price decimal.Decimal `json:"gas_price"`
}

// FeeReceipt holds the receipt fields gas accounting needs, including the L2
// specific ones go-ethereum's Receipt type drops.
type FeeReceipt struct {
	GasUsed  hexutil.Uint64 `json:"gasUsed"`
	L1Fee    *hexutil.Big   `json:"l1Fee,omitempty"`
	FeeStats *FeeStats      `json:"feeStats,omitempty"`
}

// FeeStats is arbitrum's per-component fee breakdown.
type FeeStats struct {
	Paid map[string]*hexutil.Big `json:"paid"`
}

// GasStats loads the receipt and transaction for hash and prices the gas
// according to model.
func (c *Client) GasStats(ctx context.Context, model GasModel, hash common.Hash) (GasStats, error) {
	if err := c.wait(ctx); err != nil {
		return GasStats{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var receipt *FeeReceipt
	if err := c.raw.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return GasStats{}, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return GasStats{}, fmt.Errorf("receipt %s: not found", hash.Hex())
	}

	var gasPrice *big.Int
	if model != GasArbitrum {
		tx, _, err := c.Client.TransactionByHash(ctx, hash)
		if err != nil {
			return GasStats{}, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
		}
		gasPrice = tx.GasPrice()
	}
	return ComputeGasStats(model, *receipt, gasPrice)
}

// ComputeGasStats prices gas from a receipt. gasPrice is ignored for arbitrum.
func ComputeGasStats(model GasModel, receipt FeeReceipt, gasPrice *big.Int) (GasStats, error) {
	gasUsed := new(big.Int).SetUint64(uint64(receipt.GasUsed))

	var paid *big.Int
	switch model {
	case GasArbitrum:
		if receipt.FeeStats == nil {
			return GasStats{}, fmt.Errorf("arbitrum receipt without feeStats")
		}
		paid = new(big.Int)
		for _, v := range receipt.FeeStats.Paid {
			if v != nil {
				paid.Add(paid, v.ToInt())
			}
		}
	case GasL1Fee:
		if gasPrice == nil {
			return GasStats{}, fmt.Errorf("missing gas price")
		}
		paid = new(big.Int).Mul(gasUsed, gasPrice)
		if receipt.L1Fee != nil {
			paid.Add(paid, receipt.L1Fee.ToInt())
		}
	default:
		if gasPrice == nil {
			return GasStats{}, fmt.Errorf("missing gas price")
		}
		price := units.Scale(gasPrice, 9)
		return GasStats{
			Paid:  price.Mul(decimal.NewFromBigInt(gasUsed, 0)).Shift(-9),
			Price: price,
		}, nil
	}

	if gasUsed.Sign() == 0 {
		return GasStats{}, fmt.Errorf("receipt reports zero gas used")
	}
	// L2 gasUsed is stable enough to derive an effective price from the total
	price := decimal.NewFromBigInt(paid, 0).Div(decimal.NewFromBigInt(gasUsed, 9))
	return GasStats{
		Paid:  units.Scale(paid, 18),
		Price: price,
	}, nil
}
