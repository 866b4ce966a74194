package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/observability"
)

// Worker drains the event channel and batch-writes envelopes to Postgres.
// Alongside the append-only journal it maintains two small projections: the
// vault registry and the current allow-lists, both derived from the same
// envelopes in the same transaction.
//
// The recorder feeds the channel with non-blocking sends, so if this worker
// falls behind, the buffer absorbs the burst and then drops are counted;
// durable history is best-effort while the ledger stays authoritative in
// memory.
type Worker struct {
	writer       *JournalWriter
	in           <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, in <-chan event.Envelope, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewJournalWriter(db),
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          observability.NewLogger("persistence"),
		metrics:      metrics,
	}
}

// Run batches incoming envelopes and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]event.Envelope, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.in:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}
			batch = append(batch, env)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// the context is cancelled, in which case one final attempt runs detached so
// a shutdown does not drop the batch.
func (w *Worker) flushWithRetry(ctx context.Context, batch []event.Envelope) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			return
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
			w.log.Warn().Err(err).Msg("persistence flush failed")
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []event.Envelope) error {
	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	rows := make([]JournalRow, 0, len(batch))
	for _, env := range batch {
		row, err := RowFromEnvelope(env)
		if err != nil {
			w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("unmarshalable payload skipped")
			continue
		}
		rows = append(rows, row)
	}
	if err := w.writer.WriteBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}
	for _, env := range batch {
		if err := w.project(ctx, tx, env); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("project").Inc()
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistRowsWritten.Add(float64(len(rows)))
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
	}
	return nil
}

func (w *Worker) project(ctx context.Context, tx *sql.Tx, env event.Envelope) error {
	switch payload := env.Payload.(type) {
	case *event.VaultCreated:
		return w.writer.UpsertVault(ctx, tx, payload.Owner.Hex(), payload.Vault.Hex(), env.OccurredAt)
	case *event.AllowableDebtMarketIdsSet:
		return w.writer.ReplaceAllowList(ctx, tx, "debt", payload.MarketIDs, env.OccurredAt)
	case *event.AllowableCollateralMarketIdsSet:
		return w.writer.ReplaceAllowList(ctx, tx, "collateral", payload.MarketIDs, env.OccurredAt)
	}
	return nil
}

// Writer exposes the underlying writer, mainly for tests.
func (w *Worker) Writer() *JournalWriter { return w.writer }
