package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const cursorSuffix = "MAX_BLOCK_STORED"

// ErrCursorRegression is returned when a save would move a cursor backwards.
var ErrCursorRegression = errors.New("cursor would move backwards")

// Cursors reads and writes the last fully scanned block per
// (chain, namespace, address).
type Cursors struct {
	store Store
}

func NewCursors(s Store) *Cursors {
	return &Cursors{store: s}
}

// CursorKey is the store key of a cursor. Addresses are lower-cased.
func CursorKey(chain, namespace, address string) string {
	return Key(chain, namespace, strings.ToLower(address), cursorSuffix)
}

// Load returns the stored block and whether one exists.
func (c *Cursors) Load(ctx context.Context, chain, namespace, address string) (uint64, bool, error) {
	v, err := c.store.Get(ctx, CursorKey(chain, namespace, address))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cursor %s: %w", CursorKey(chain, namespace, address), err)
	}
	return n, true, nil
}

// Save stores block as the last scanned block. Saving the current value again
// is a no-op; saving a lower one fails with ErrCursorRegression.
func (c *Cursors) Save(ctx context.Context, chain, namespace, address string, block uint64) error {
	cur, ok, err := c.Load(ctx, chain, namespace, address)
	if err != nil {
		return err
	}
	if ok && block < cur {
		return fmt.Errorf("%w: %s at %d, got %d", ErrCursorRegression, CursorKey(chain, namespace, address), cur, block)
	}
	if ok && block == cur {
		return nil
	}
	return c.store.Set(ctx, CursorKey(chain, namespace, address), []byte(strconv.FormatUint(block, 10)))
}
