// Package store persists scan cursors and decoded records in a key-value
// backend. Keys are colon separated, e.g. "bsc:logs:0xabc...:MAX_BLOCK_STORED",
// and Keys patterns follow redis glob syntax.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store is the key-value backend. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Key joins key segments with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// GetAllOptions shapes the map returned by GetAll.
type GetAllOptions struct {
	// Index selects which ':' separated segment of a key becomes the map key.
	// Zero keeps the whole key. A second value selects the half-open segment
	// range [Index[0], Index[1]), joined back with ':'.
	Index []int
	// MaxOfDuplicates keeps the larger value when two keys collapse to the same
	// map key. Values are compared as JSON numbers.
	MaxOfDuplicates bool
}

// GetAll loads every key matching pattern and decodes its JSON value.
func GetAll(ctx context.Context, s Store, pattern string, opts GetAllOptions) (map[string]json.RawMessage, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", pattern, err)
	}

	res := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		val, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		name := segment(key, opts.Index)
		if prev, ok := res[name]; ok && opts.MaxOfDuplicates {
			if !jsonNumberLess(prev, val) {
				continue
			}
		}
		res[name] = json.RawMessage(val)
	}
	return res, nil
}

func segment(key string, index []int) string {
	if len(index) == 0 {
		return key
	}
	parts := strings.Split(key, ":")
	lo := index[0]
	hi := lo + 1
	if len(index) > 1 {
		hi = index[1]
	}
	if lo < 0 || lo >= len(parts) {
		return key
	}
	if hi > len(parts) {
		hi = len(parts)
	}
	return strings.Join(parts[lo:hi], ":")
}

func jsonNumberLess(a, b []byte) bool {
	var x, y json.Number
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return string(a) < string(b)
	}
	xf, errX := x.Float64()
	yf, errY := y.Float64()
	if errX != nil || errY != nil {
		return string(a) < string(b)
	}
	return xf < yf
}
