package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
)

// IngestResult describes one ingest batch.
type IngestResult struct {
	BatchID    string
	Received   int // raw events supplied
	Inserted   int // events new to the store
	Duplicates int // events already stored with identical content
}

// Ingest normalizes raws and appends them to the log in one transaction.
// Events already present with identical content are skipped; an event id
// stored with different content fails the whole batch with
// EVENT_ID_CONFLICT and nothing is written.
func (s *Store) Ingest(ctx context.Context, raws []canonical.Object, source string) (IngestResult, error) {
	events, err := event.Prepare(raws)
	if err != nil {
		return IngestResult{}, err
	}

	res := IngestResult{BatchID: s.newBatchID(), Received: len(raws)}
	// Exact duplicates inside the batch were collapsed by Prepare.
	res.Duplicates = len(raws) - len(events)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// The batch row goes first so events can reference it; its count is
	// filled in once known.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_batches (batch_id, source, received_count, inserted_count)
		VALUES (?, ?, ?, 0)
	`, res.BatchID, source, res.Received); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: insert batch: %w", err)
	}

	for _, ev := range events {
		body := ev.Bytes()
		digest := canonical.SHA256Hex(body)

		result, err := tx.ExecContext(ctx, `
			INSERT INTO execution_events
			(event_id, run_id, session_id, ts_sim, event_type, symbol, sha256, body, batch_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id) DO NOTHING
		`,
			ev.EventID,
			ev.RunID,
			ev.SessionID,
			ev.TsSim,
			string(ev.Type),
			ev.Symbol,
			digest,
			string(body),
			res.BatchID,
		)
		if err != nil {
			return IngestResult{}, fmt.Errorf("ingest %s: %w", ev.EventID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return IngestResult{}, fmt.Errorf("ingest %s: rows affected: %w", ev.EventID, err)
		}
		if affected > 0 {
			res.Inserted++
			continue
		}

		var stored string
		if err := tx.QueryRowContext(ctx,
			`SELECT sha256 FROM execution_events WHERE event_id = ?`, ev.EventID,
		).Scan(&stored); err != nil {
			return IngestResult{}, fmt.Errorf("ingest %s: read stored digest: %w", ev.EventID, err)
		}
		if stored != digest {
			return IngestResult{}, faults.Schema(faults.CodeEventIDConflict,
				"event %s is already stored with different content", ev.EventID).
				WithPath(ev.EventID).
				WithDetail("stored_sha256", stored).
				WithDetail("incoming_sha256", digest)
		}
		res.Duplicates++
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ingest_batches SET inserted_count = ? WHERE batch_id = ?`,
		res.Inserted, res.BatchID,
	); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: update batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: commit: %w", err)
	}

	s.metrics.Ingested(res.Inserted)
	slog.Info("ingested events",
		"batch_id", res.BatchID,
		"source", source,
		"received", res.Received,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
	)
	return res, nil
}

// ReadRun returns the events of a run in canonical replay order. An empty
// runID reads every run.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]event.Event, error) {
	query := `
		SELECT event_id, body
		FROM execution_events
		WHERE (? = '' OR run_id = ?)
		ORDER BY run_id COLLATE BINARY ASC,
		         session_id COLLATE BINARY ASC,
		         ts_sim ASC,
		         event_type COLLATE BINARY ASC,
		         event_id COLLATE BINARY ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := event.NormalizeJSON([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode stored event %s: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// RunInfo summarizes one stored run.
type RunInfo struct {
	RunID      string
	Events     int
	Fills      int
	FirstTsSim int64
	LastTsSim  int64
}

// ListRuns returns every stored run, ordered by run id.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id,
		       COUNT(*),
		       SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END),
		       MIN(ts_sim),
		       MAX(ts_sim)
		FROM execution_events
		GROUP BY run_id
		ORDER BY run_id COLLATE BINARY ASC
	`, string(event.TypeFill))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.Events, &r.Fills, &r.FirstTsSim, &r.LastTsSim); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// BatchSource returns the source label recorded for a batch.
func (s *Store) BatchSource(ctx context.Context, batchID string) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx,
		`SELECT source FROM ingest_batches WHERE batch_id = ?`, batchID,
	).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("batch %s not found", batchID)
	}
	if err != nil {
		return "", fmt.Errorf("query batch: %w", err)
	}
	return source, nil
}

// RunSource serves stored events as raw objects, so a bundle can be built
// straight from the log.
type RunSource struct {
	Store *Store
	RunID string // empty loads every run
}

// Load returns the run's events as canonical objects in replay order.
func (r RunSource) Load(ctx context.Context) ([]canonical.Object, error) {
	events, err := r.Store.ReadRun(ctx, r.RunID)
	if err != nil {
		return nil, err
	}
	return event.Objects(events), nil
}
