package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"optionscalp/domain"

	"github.com/google/uuid"
	klzip "github.com/klauspost/compress/gzip"

	_ "modernc.org/sqlite"
)

// SQLiteSink is the concrete PersistenceSink, one *sql.DB per process.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the sqlite file at path and runs the
// table migrations. WAL mode trades a small durability window for
// throughput on the hot path; Trade closes and EOD snapshots still force a
// synchronous checkpoint via Flush.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer, matches our single-writer actors
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			underlying TEXT NOT NULL,
			instrument TEXT NOT NULL,
			side TEXT NOT NULL,
			state TEXT NOT NULL,
			qty_total TEXT NOT NULL,
			qty_remaining TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			entry_at DATETIME NOT NULL,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			naked_risk BOOLEAN DEFAULT 0,
			opened_at DATETIME,
			closed_at DATETIME,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_underlying ON trades(underlying)`,
		`CREATE TABLE IF NOT EXISTS exit_events (
			id TEXT PRIMARY KEY,
			trade_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence REAL NOT NULL,
			qty TEXT NOT NULL,
			price TEXT NOT NULL,
			reason TEXT,
			at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_events_trade_id ON exit_events(trade_id)`,
		`CREATE TABLE IF NOT EXISTS greeks_history (
			instrument_key TEXT NOT NULL,
			delta REAL, gamma REAL, theta REAL, vega REAL, iv REAL,
			source TEXT,
			computed_at DATETIME NOT NULL,
			archived BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_greeks_history_key_time ON greeks_history(instrument_key, computed_at)`,
		`CREATE TABLE IF NOT EXISTS greeks_history_archive (
			instrument_key TEXT NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			row_count INTEGER NOT NULL,
			payload_gzip BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bias_history (
			underlying TEXT NOT NULL,
			direction TEXT NOT NULL,
			strength REAL NOT NULL,
			confidence TEXT NOT NULL,
			oi_below_pe TEXT NOT NULL,
			oi_above_ce TEXT NOT NULL,
			at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bias_history_underlying ON bias_history(underlying)`,
		`CREATE TABLE IF NOT EXISTS adaptive_snapshots (
			bucket_key TEXT NOT NULL,
			weight REAL NOT NULL,
			blocked BOOLEAN NOT NULL,
			block_until DATETIME,
			count INTEGER NOT NULL,
			wins INTEGER NOT NULL,
			total_pnl TEXT NOT NULL,
			win_rate REAL NOT NULL,
			at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adaptive_snapshots_bucket ON adaptive_snapshots(bucket_key)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func bucketKey(b domain.FeatureBucket) string {
	buf, _ := json.Marshal(b)
	return string(buf)
}

// SaveTrade upserts a Trade's current snapshot. Called on open, on every
// state transition, and on close (where the caller must also Flush).
func (s *SQLiteSink) SaveTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, underlying, instrument, side, state, qty_total, qty_remaining, entry_price, entry_at, realized_pnl, naked_risk, opened_at, closed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, qty_remaining=excluded.qty_remaining, realized_pnl=excluded.realized_pnl,
			naked_risk=excluded.naked_risk, closed_at=excluded.closed_at, updated_at=CURRENT_TIMESTAMP
	`,
		t.ID.String(), t.Instrument.Underlying, t.Instrument.Key(), string(t.Side), string(t.State),
		t.Qty.Total.String(), t.Qty.Remaining.String(), t.Entry.Price.String(), t.Entry.At,
		t.RealizedPnL.String(), t.NakedRisk, nullableTime(t.OpenedAt), nullableTime(t.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save trade %s: %w", t.ID, err)
	}
	return nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// SaveExitEvent appends one exit record. Exit events are never updated or
// deleted once written (§5 append-only journal).
func (s *SQLiteSink) SaveExitEvent(ctx context.Context, tradeID uuid.UUID, ev domain.ExitEvent) error {
	id := ev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exit_events (id, trade_id, kind, confidence, qty, price, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), tradeID.String(), string(ev.Kind), ev.Confidence, ev.Qty.String(), ev.Price.String(), ev.Reason, ev.At)
	if err != nil {
		return fmt.Errorf("store: save exit event for trade %s: %w", tradeID, err)
	}
	return nil
}

// SaveGreeksSnapshot appends one Greeks reading. The orchestrator calls it
// directly, once per chain update, for the ATM CE leg; there is no batching.
func (s *SQLiteSink) SaveGreeksSnapshot(ctx context.Context, instrumentKey string, g domain.GreeksSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO greeks_history (instrument_key, delta, gamma, theta, vega, iv, source, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, instrumentKey, g.Delta, g.Gamma, g.Theta, g.Vega, g.IV, string(g.Source), g.ComputedAt)
	if err != nil {
		return fmt.Errorf("store: save greeks snapshot for %s: %w", instrumentKey, err)
	}
	return nil
}

// SaveBiasState appends one bias reading for an underlying.
func (s *SQLiteSink) SaveBiasState(ctx context.Context, underlying string, b domain.BiasState, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bias_history (underlying, direction, strength, confidence, oi_below_pe, oi_above_ce, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, underlying, string(b.Direction), b.Strength, string(b.Confidence), b.OIBelowPE.String(), b.OIAboveCE.String(), at)
	if err != nil {
		return fmt.Errorf("store: save bias state for %s: %w", underlying, err)
	}
	return nil
}

// SaveAdaptiveSnapshot records one bucket's learned state, taken at an EOD
// apply phase so a restart can reconstruct adaptive.Controller's state
// without replaying every closed trade.
func (s *SQLiteSink) SaveAdaptiveSnapshot(ctx context.Context, snap AdaptiveSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adaptive_snapshots (bucket_key, weight, blocked, block_until, count, wins, total_pnl, win_rate, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		bucketKey(snap.Bucket), snap.Weight, snap.Blocked, nullableTime(snap.BlockUntil),
		snap.Perf.Count, snap.Perf.Wins, snap.Perf.TotalPnL.String(), snap.Perf.WinRate, snap.At,
	)
	if err != nil {
		return fmt.Errorf("store: save adaptive snapshot for bucket %s: %w", bucketKey(snap.Bucket), err)
	}
	return nil
}

// Flush forces a WAL checkpoint, matching the fsync-on-close/EOD
// requirement of §6.4 for a journal_mode=WAL database.
func (s *SQLiteSink) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`)
	if err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return nil
}

// RotateGreeksHistory gzips every unarchived greeks_history row older than
// cutoff into a single archive blob per instrument and deletes the
// originals, bounding the hot table's growth (§6.4 "age-bounded, default 30
// days retention").
func (s *SQLiteSink) RotateGreeksHistory(ctx context.Context, instrumentKey string, cutoff time.Time) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT delta, gamma, theta, vega, iv, source, computed_at
		FROM greeks_history WHERE instrument_key = ? AND computed_at < ? AND archived = 0
		ORDER BY computed_at ASC
	`, instrumentKey, cutoff)
	if err != nil {
		return fmt.Errorf("store: rotate query: %w", err)
	}
	defer rows.Close()

	type row struct {
		Delta, Gamma, Theta, Vega, IV float64
		Source                        string
		ComputedAt                    time.Time
	}
	var archived []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.IV, &r.Source, &r.ComputedAt); err != nil {
			return fmt.Errorf("store: rotate scan: %w", err)
		}
		archived = append(archived, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(archived) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gw, err := klzip.NewWriterLevel(&buf, klzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("store: rotate gzip init: %w", err)
	}
	if err := json.NewEncoder(gw).Encode(archived); err != nil {
		_ = gw.Close()
		return fmt.Errorf("store: rotate encode: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("store: rotate gzip close: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: rotate begin tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO greeks_history_archive (instrument_key, period_start, period_end, row_count, payload_gzip)
		VALUES (?, ?, ?, ?, ?)
	`, instrumentKey, archived[0].ComputedAt, archived[len(archived)-1].ComputedAt, len(archived), buf.Bytes())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: rotate insert archive: %w", err)
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM greeks_history WHERE instrument_key = ? AND computed_at < ? AND archived = 0`, instrumentKey, cutoff)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: rotate delete originals: %w", err)
	}
	return tx.Commit()
}

// decompressArchive is a test/debugging helper that reverses
// RotateGreeksHistory's gzip encoding; production code never needs it since
// archived rows are cold storage, not replay input.
func decompressArchive(payload []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(gr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need direct read access
// (tests); writes should go through
// the PersistenceSink methods above so every mutation gets the same
// serialization-as-TEXT treatment.
func (s *SQLiteSink) DB() *sql.DB {
	return s.db
}
