// Package units scales raw on-chain integer amounts into human readable decimals.
package units

import (
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Scale divides raw by 10^decimals. A nil raw amount scales to zero.
func Scale(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ScalePrecision is Scale rounded half-even to the given number of places.
func ScalePrecision(raw *big.Int, decimals, places int32) decimal.Decimal {
	return Scale(raw, decimals).RoundBank(places)
}

// Table maps chain -> lower-cased token address -> decimals.
type Table struct {
	mu       sync.RWMutex
	decimals map[string]map[string]int32
}

// NewTable copies the provided mapping. Token addresses are normalised to lower case.
func NewTable(src map[string]map[string]int32) *Table {
	t := &Table{decimals: make(map[string]map[string]int32, len(src))}
	for chain, tokens := range src {
		for token, d := range tokens {
			t.Set(chain, token, d)
		}
	}
	return t
}

// Set registers (or replaces) the decimals of a token discovered at runtime.
func (t *Table) Set(chain, token string, decimals int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decimals == nil {
		t.decimals = make(map[string]map[string]int32)
	}
	m, ok := t.decimals[chain]
	if !ok {
		m = make(map[string]int32)
		t.decimals[chain] = m
	}
	m[strings.ToLower(token)] = decimals
}

// Decimals returns the decimals registered for a token.
func (t *Table) Decimals(chain, token string) (int32, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.decimals[chain][strings.ToLower(token)]
	return d, ok
}

// Convert scales raw using the token's registered decimals. Unknown tokens
// convert to zero; the amount is still available raw on the record.
func (t *Table) Convert(chain, token string, raw *big.Int) decimal.Decimal {
	d, ok := t.Decimals(chain, token)
	if !ok {
		logrus.Warnf("return amount 0 for token %s on %s", token, chain)
		return decimal.Zero
	}
	return Scale(raw, d)
}
