package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"vertex/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	ips_id        TEXT NOT NULL DEFAULT '',
	ips_name      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	total_trades  INTEGER NOT NULL DEFAULT 0,
	trades_passed INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_matches (
	run_id             TEXT NOT NULL REFERENCES runs(id),
	symbol             TEXT NOT NULL,
	contract           TEXT NOT NULL,
	strategy           TEXT NOT NULL,
	entry_date         TEXT NOT NULL,
	expiration         TEXT NOT NULL,
	strike             REAL NOT NULL,
	option_type        TEXT NOT NULL,
	entry_credit       REAL NOT NULL,
	spread_width       REAL NOT NULL,
	dte                INTEGER NOT NULL,
	delta              REAL NOT NULL,
	iv                 REAL NOT NULL,
	ips_score          REAL NOT NULL,
	passed_ips         INTEGER NOT NULL,
	factor_scores      TEXT NOT NULL DEFAULT '[]',
	failing_factors    TEXT NOT NULL DEFAULT '[]',
	ai                 TEXT,
	sentiment          TEXT,
	would_take         INTEGER NOT NULL,
	exit_date          TEXT NOT NULL,
	exit_price         REAL NOT NULL,
	realized_pnl       REAL NOT NULL,
	realized_roi       REAL NOT NULL,
	days_held          INTEGER NOT NULL,
	outcome            TEXT NOT NULL,
	pv_before          REAL NOT NULL DEFAULT 0,
	pv_after           REAL NOT NULL DEFAULT 0,
	position_size      INTEGER NOT NULL DEFAULT 0,
	capital_allocated  REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_matches_run ON trade_matches(run_id);
CREATE INDEX IF NOT EXISTS idx_matches_symbol_exit ON trade_matches(symbol, exit_date);

CREATE TABLE IF NOT EXISTS backtest_results (
	run_id  TEXT PRIMARY KEY REFERENCES runs(id),
	payload TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and applies
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts a new run record. Re-creating an existing run id resets
// the record in place, keeping writes idempotent by run id like the match
// and results sinks.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = domain.RunPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, ips_id, ips_name, status, start_date, end_date,
			total_trades, trades_passed, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ips_id = excluded.ips_id,
			ips_name = excluded.ips_name,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			total_trades = excluded.total_trades,
			trades_passed = excluded.trades_passed,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		run.ID, run.IPSID, run.IPSName, string(run.Status),
		fmtTime(run.StartDate), fmtTime(run.EndDate),
		run.TotalTrades, run.TradesPassed, run.Error,
		fmtTime(run.CreatedAt), fmtTime(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunStatus transitions a run and records its final counts and error
// message, if any.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, totalTrades, tradesPassed int, runErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, total_trades = ?, trades_passed = ?,
			error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), totalTrades, tradesPassed, runErr,
		fmtTime(time.Now().UTC()), runID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ips_id, ips_name, status, start_date, end_date,
			total_trades, trades_passed, error, created_at, updated_at
		FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ips_id, ips_name, status, start_date, end_date,
			total_trades, trades_passed, error, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status, startDate, endDate, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.IPSID, &r.IPSName, &status, &startDate, &endDate,
		&r.TotalTrades, &r.TradesPassed, &r.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	r.StartDate = parseTime(startDate)
	r.EndDate = parseTime(endDate)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// ---------------------------------------------------------------------------
// Trade matches
// ---------------------------------------------------------------------------

// InsertTradeMatches writes the run's matches in one transaction, replacing
// any earlier write for the same run so retries stay idempotent.
func (s *SQLiteStore) InsertTradeMatches(ctx context.Context, runID string, matches []domain.TradeMatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_matches WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing matches for run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_matches (run_id, symbol, contract, strategy,
			entry_date, expiration, strike, option_type, entry_credit,
			spread_width, dte, delta, iv, ips_score, passed_ips,
			factor_scores, failing_factors, ai, sentiment, would_take,
			exit_date, exit_price, realized_pnl, realized_roi, days_held,
			outcome, pv_before, pv_after, position_size, capital_allocated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range matches {
		m := &matches[i]
		factorJSON, err := json.Marshal(m.FactorScores)
		if err != nil {
			return fmt.Errorf("encoding factor scores: %w", err)
		}
		failingJSON, err := json.Marshal(m.FailingFactors)
		if err != nil {
			return fmt.Errorf("encoding failing factors: %w", err)
		}
		aiJSON, err := marshalNullable(m.AI)
		if err != nil {
			return fmt.Errorf("encoding ai annotation: %w", err)
		}
		sentJSON, err := marshalNullable(m.Sentiment)
		if err != nil {
			return fmt.Errorf("encoding sentiment: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			runID, m.Symbol, m.ContractSymbol, m.Strategy,
			fmtTime(m.EntryDate), fmtTime(m.ExpirationDate), m.Strike,
			string(m.OptionType), m.EntryCredit, m.SpreadWidth, m.DTE,
			m.Delta, m.IV, m.IPSScore, boolInt(m.PassedIPS),
			string(factorJSON), string(failingJSON), aiJSON, sentJSON,
			boolInt(m.WouldTakeTrade),
			fmtTime(m.ExitDate), m.ExitPrice, m.RealizedPnL, m.RealizedROI,
			m.DaysHeld, string(m.Outcome), m.PortfolioValueBefore,
			m.PortfolioValueAfter, m.PositionSize, m.CapitalAllocated)
		if err != nil {
			return fmt.Errorf("inserting match %s/%s: %w", m.Symbol, m.ContractSymbol, err)
		}
	}

	return tx.Commit()
}

const matchColumns = `run_id, symbol, contract, strategy, entry_date,
	expiration, strike, option_type, entry_credit, spread_width, dte, delta,
	iv, ips_score, passed_ips, factor_scores, failing_factors, ai, sentiment,
	would_take, exit_date, exit_price, realized_pnl, realized_roi, days_held,
	outcome, pv_before, pv_after, position_size, capital_allocated`

func scanMatch(rows *sql.Rows) (domain.TradeMatch, error) {
	var m domain.TradeMatch
	var entryDate, expiration, exitDate, optionType, outcome string
	var passed, wouldTake int
	var factorJSON, failingJSON string
	var aiJSON, sentJSON sql.NullString

	err := rows.Scan(&m.RunID, &m.Symbol, &m.ContractSymbol, &m.Strategy,
		&entryDate, &expiration, &m.Strike, &optionType, &m.EntryCredit,
		&m.SpreadWidth, &m.DTE, &m.Delta, &m.IV, &m.IPSScore, &passed,
		&factorJSON, &failingJSON, &aiJSON, &sentJSON, &wouldTake,
		&exitDate, &m.ExitPrice, &m.RealizedPnL, &m.RealizedROI, &m.DaysHeld,
		&outcome, &m.PortfolioValueBefore, &m.PortfolioValueAfter,
		&m.PositionSize, &m.CapitalAllocated)
	if err != nil {
		return m, err
	}

	m.EntryDate = parseTime(entryDate)
	m.ExpirationDate = parseTime(expiration)
	m.ExitDate = parseTime(exitDate)
	m.OptionType = domain.OptionType(optionType)
	m.Outcome = domain.Outcome(outcome)
	m.PassedIPS = passed != 0
	m.WouldTakeTrade = wouldTake != 0

	if err := json.Unmarshal([]byte(factorJSON), &m.FactorScores); err != nil {
		return m, fmt.Errorf("decoding factor scores: %w", err)
	}
	if err := json.Unmarshal([]byte(failingJSON), &m.FailingFactors); err != nil {
		return m, fmt.Errorf("decoding failing factors: %w", err)
	}
	if aiJSON.Valid && aiJSON.String != "" {
		m.AI = &domain.AIAnnotation{}
		if err := json.Unmarshal([]byte(aiJSON.String), m.AI); err != nil {
			return m, fmt.Errorf("decoding ai annotation: %w", err)
		}
	}
	if sentJSON.Valid && sentJSON.String != "" {
		m.Sentiment = &domain.Sentiment{}
		if err := json.Unmarshal([]byte(sentJSON.String), m.Sentiment); err != nil {
			return m, fmt.Errorf("decoding sentiment: %w", err)
		}
	}
	return m, nil
}

func (s *SQLiteStore) queryMatches(ctx context.Context, query string, args ...any) ([]domain.TradeMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.TradeMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// MatchesBefore returns the symbol's matches whose exit date is strictly
// before the given date, newest first. The strict inequality is the
// no-lookahead guarantee; callers must not retry with a relaxed filter.
func (s *SQLiteStore) MatchesBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]domain.TradeMatch, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMatches(ctx, `
		SELECT `+matchColumns+` FROM trade_matches
		WHERE symbol = ? AND exit_date < ?
		ORDER BY exit_date DESC LIMIT ?`,
		symbol, fmtTime(before), limit)
}

// SimilarMatchesBefore returns matches resembling the query features, closed
// strictly before the query date.
func (s *SQLiteStore) SimilarMatchesBefore(ctx context.Context, q SimilarQuery) ([]domain.TradeMatch, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	dteMax := q.DTEMax
	if dteMax <= 0 {
		dteMax = math.MaxInt32
	}
	return s.queryMatches(ctx, `
		SELECT `+matchColumns+` FROM trade_matches
		WHERE exit_date < ?
		  AND ABS(delta) BETWEEN ? AND ?
		  AND dte BETWEEN ? AND ?
		  AND (? = '' OR strategy = ?)
		ORDER BY exit_date DESC LIMIT ?`,
		fmtTime(q.Before), q.DeltaMin, q.DeltaMax, q.DTEMin, dteMax,
		q.Strategy, q.Strategy, limit)
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// InsertResults stores the aggregate results payload for a run. The trade
// list is not duplicated here; it lives in trade_matches.
func (s *SQLiteStore) InsertResults(ctx context.Context, res *domain.BacktestResults) error {
	slim := *res
	slim.Trades = nil
	payload, err := json.Marshal(&slim)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_results (run_id, payload) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET payload = excluded.payload`,
		res.RunID, string(payload))
	if err != nil {
		return fmt.Errorf("inserting results for run %s: %w", res.RunID, err)
	}
	return nil
}

// GetResults loads a run's aggregate results and reattaches its trades.
func (s *SQLiteStore) GetResults(ctx context.Context, runID string) (*domain.BacktestResults, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM backtest_results WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		return nil, err
	}

	res := &domain.BacktestResults{}
	if err := json.Unmarshal([]byte(payload), res); err != nil {
		return nil, fmt.Errorf("decoding results for run %s: %w", runID, err)
	}

	trades, err := s.queryMatches(ctx, `
		SELECT `+matchColumns+` FROM trade_matches
		WHERE run_id = ? ORDER BY entry_date ASC`, runID)
	if err != nil {
		return nil, err
	}
	res.Trades = trades
	return res, nil
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

// fmtTime stores timestamps as RFC3339 UTC strings, which compare correctly
// as text in SQLite.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
