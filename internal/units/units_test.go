package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name     string
		raw      *big.Int
		decimals int32
		want     string
	}{
		{name: "18 decimals", raw: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), decimals: 18, want: "1"},
		{name: "6 decimals", raw: big.NewInt(1_500_000), decimals: 6, want: "1.5"},
		{name: "zero decimals", raw: big.NewInt(42), decimals: 0, want: "42"},
		{name: "nil", raw: nil, decimals: 18, want: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Scale(tc.raw, tc.decimals)
			assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestScalePrecision(t *testing.T) {
	got := ScalePrecision(big.NewInt(1_234_567), 6, 2)
	assert.Equal(t, "1.23", got.String())
}

func TestTableConvert(t *testing.T) {
	table := NewTable(map[string]map[string]int32{
		"ethereum": {"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48": 6},
	})

	d, ok := table.Decimals("ethereum", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.True(t, ok)
	assert.Equal(t, int32(6), d)

	got := table.Convert("ethereum", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", big.NewInt(2_000_000))
	assert.Equal(t, "2", got.String())

	assert.True(t, table.Convert("bsc", "0xdead", big.NewInt(5)).IsZero())

	table.Set("bsc", "0xDEAD", 0)
	assert.Equal(t, "5", table.Convert("bsc", "0xdead", big.NewInt(5)).String())
}
