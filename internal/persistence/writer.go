package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
)

// JournalWriter writes event envelopes to Postgres using multi-row INSERT.
// Writes are idempotent on sequence, so a replay after a crash is harmless.
type JournalWriter struct {
	db *sql.DB
}

// JournalRow is one row in module_log.events.
type JournalRow struct {
	Sequence   int64
	EventType  string
	OccurredAt time.Time
	Payload    []byte
}

func NewJournalWriter(db *sql.DB) *JournalWriter {
	return &JournalWriter{db: db}
}

// RowFromEnvelope flattens an envelope into its storage row.
func RowFromEnvelope(env event.Envelope) (JournalRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return JournalRow{}, fmt.Errorf("marshal payload seq %d: %w", env.Sequence, err)
	}
	return JournalRow{
		Sequence:   env.Sequence,
		EventType:  string(env.Type),
		OccurredAt: env.OccurredAt,
		Payload:    payload,
	}, nil
}

// WriteBatch inserts rows within the given transaction.
func (w *JournalWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO module_log.events (sequence, event_type, occurred_at, payload) VALUES `
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)
	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, r.Sequence, r.EventType, r.OccurredAt, r.Payload)
	}
	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertVault maintains the module_log.vaults registry projection.
func (w *JournalWriter) UpsertVault(ctx context.Context, tx *sql.Tx, owner, vault string, createdAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO module_log.vaults (owner, vault, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO NOTHING
	`, owner, vault, createdAt)
	return err
}

// ReplaceAllowList maintains the module_log.allow_lists projection. kind is
// "debt" or "collateral".
func (w *JournalWriter) ReplaceAllowList(ctx context.Context, tx *sql.Tx, kind string, marketIDs []uint64, updatedAt time.Time) error {
	ids, err := json.Marshal(marketIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO module_log.allow_lists (kind, market_ids, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind) DO UPDATE SET market_ids = $2, updated_at = $3
	`, kind, ids, updatedAt)
	return err
}

func (w *JournalWriter) DB() *sql.DB { return w.db }
