// Package sqlite persists engine state between hook invocations. Every hook
// run is a fresh process, so the rolling window, the controller threshold,
// the breaker and the ledger are loaded at start and saved at the end.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/qgate/internal/ai"
	"github.com/steveyegge/qgate/internal/cost"
	"github.com/steveyegge/qgate/internal/escalation"
	"github.com/steveyegge/qgate/internal/types"
)

// Snapshot is everything the engine carries from one run to the next
type Snapshot struct {
	Controller escalation.State
	Breaker    ai.BreakerState
	Ledger     cost.State
}

// Store is a SQLite-backed state store
type Store struct {
	db          *sql.DB
	path        string
	historySize int
}

// New opens (creating if needed) the state database at path
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Concurrent hooks write the same file: WAL plus a busy timeout, and
	// write transactions take the lock up front.
	dsn := "file:" + filepath.ToSlash(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path, historySize: cost.DefaultConfig().HistorySize}, nil
}

// SetHistorySize sets how many invocation records Save retains. Values
// below one are ignored.
func (s *Store) SetHistorySize(n int) {
	if n > 0 {
		s.historySize = n
	}
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the persisted snapshot. A fresh database yields a zero snapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := s.getState(ctx, keyController, &snap.Controller); err != nil {
		return nil, err
	}
	if err := s.getState(ctx, keyBreaker, &snap.Breaker); err != nil {
		return nil, err
	}
	if err := s.getState(ctx, keyLedger, &snap.Ledger); err != nil {
		return nil, err
	}

	window, err := s.loadChecks(ctx)
	if err != nil {
		return nil, err
	}
	snap.Controller.Window = window

	invocations, err := s.loadInvocations(ctx)
	if err != nil {
		return nil, err
	}
	snap.Ledger.Invocations = invocations

	return snap, nil
}

// Save writes snap in a single transaction. The check window is replaced
// wholesale; invocations are appended by ID and the table is pruned to the
// store's history size.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()

	controller := snap.Controller
	controller.Window = nil
	ledger := snap.Ledger
	ledger.Invocations = nil

	for _, kv := range []struct {
		key   string
		value any
	}{
		{keyController, controller},
		{keyBreaker, snap.Breaker},
		{keyLedger, ledger},
	} {
		data, err := json.Marshal(kv.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s state: %w", kv.key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, kv.key, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to save %s state: %w", kv.key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checks`); err != nil {
		return fmt.Errorf("failed to clear check window: %w", err)
	}
	for i, o := range snap.Controller.Window {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checks (seq, timestamp, file_path, had_errors, error_count, was_escalated)
			VALUES (?, ?, ?, ?, ?, ?)
		`, i, unixNano(o.Timestamp), o.FilePath, o.HadErrors, o.ErrorCount, o.WasEscalated)
		if err != nil {
			return fmt.Errorf("failed to save check outcome: %w", err)
		}
	}

	for _, r := range snap.Ledger.Invocations {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO invocations (
				id, timestamp, prompt_size, response_size, input_tokens, output_tokens,
				model, succeeded, cached, category, duration_ns, failure
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, unixNano(r.Timestamp), r.PromptSize, r.ResponseSize, r.InputTokens, r.OutputTokens,
			r.Model, r.Succeeded, r.Cached, string(r.Category), int64(r.Duration), string(r.Failure))
		if err != nil {
			return fmt.Errorf("failed to save invocation %s: %w", r.ID, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM invocations WHERE rowid NOT IN (
			SELECT rowid FROM invocations ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)
	`, s.historySize)
	if err != nil {
		return fmt.Errorf("failed to prune invocations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

func (s *Store) getState(ctx context.Context, key string, dest any) error {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s state: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("failed to decode %s state: %w", key, err)
	}
	return nil
}

func (s *Store) loadChecks(ctx context.Context) ([]types.CheckOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, file_path, had_errors, error_count, was_escalated
		FROM checks
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query check window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var window []types.CheckOutcome
	for rows.Next() {
		var o types.CheckOutcome
		var ts int64
		if err := rows.Scan(&ts, &o.FilePath, &o.HadErrors, &o.ErrorCount, &o.WasEscalated); err != nil {
			return nil, fmt.Errorf("failed to scan check outcome: %w", err)
		}
		o.Timestamp = fromUnixNano(ts)
		window = append(window, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check window: %w", err)
	}
	return window, nil
}

func (s *Store) loadInvocations(ctx context.Context) ([]types.InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, prompt_size, response_size, input_tokens, output_tokens,
		       model, succeeded, cached, category, duration_ns, failure
		FROM invocations
		ORDER BY timestamp ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.InvocationRecord
	for rows.Next() {
		var r types.InvocationRecord
		var ts, duration int64
		var category, failure string
		err := rows.Scan(&r.ID, &ts, &r.PromptSize, &r.ResponseSize, &r.InputTokens, &r.OutputTokens,
			&r.Model, &r.Succeeded, &r.Cached, &category, &duration, &failure)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		r.Timestamp = fromUnixNano(ts)
		r.Duration = time.Duration(duration)
		r.Category = types.Category(category)
		r.Failure = types.FailureKind(failure)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return records, nil
}

// unixNano maps the zero time to 0 so it survives a round trip
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
