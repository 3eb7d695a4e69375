package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const createEventsTable = `CREATE TABLE IF NOT EXISTS bridge_events (
	chain        TEXT   NOT NULL,
	tx_hash      TEXT   NOT NULL,
	log_index    BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	contract     TEXT   NOT NULL,
	event_name   TEXT   NOT NULL,
	payload      TEXT   NOT NULL,
	PRIMARY KEY (chain, tx_hash, log_index)
)`

const upsertEvent = `INSERT INTO bridge_events (chain, tx_hash, log_index, block_number, contract, event_name, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chain, tx_hash, log_index) DO UPDATE SET
	block_number = excluded.block_number,
	contract = excluded.contract,
	event_name = excluded.event_name,
	payload = excluded.payload`

// SQLSink upserts events into a bridge_events table, one row per log. The
// full event is kept as JSON in the payload column.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink opens the database and creates the table when missing.
func NewSQLSink(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bridge_events: %w", err)
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) Write(ctx context.Context, evt Event) error {
	chain, _ := evt[ColChain].(string)
	tx, _ := evt[ColTxHash].(string)
	idx, ok := evt[ColLogIndex].(uint)
	if chain == "" || tx == "" || !ok {
		return errNoKey
	}
	block, _ := evt[ColBlock].(uint64)
	contract, _ := evt[ColContract].(string)
	name, _ := evt[ColEventName].(string)

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s/%d: %w", tx, idx, err)
	}
	_, err = s.db.ExecContext(ctx, upsertEvent, chain, tx, int64(idx), int64(block), contract, name, string(payload))
	if err != nil {
		return fmt.Errorf("upsert event %s/%d: %w", tx, idx, err)
	}
	return nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
