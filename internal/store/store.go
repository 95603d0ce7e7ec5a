// Package store defines storage interfaces for historical option-chain
// snapshots and backtest run records, with Parquet and SQLite
// implementations.
package store

import (
	"context"
	"time"

	"vertex/internal/domain"
)

// SnapshotStore persists and retrieves historical option-chain snapshots.
type SnapshotStore interface {
	// WriteSnapshots persists a batch of snapshots, deduplicating by
	// (contract, snapshot date).
	WriteSnapshots(ctx context.Context, snaps []domain.OptionSnapshot) error

	// ReadSnapshots returns snapshots for the underlying within
	// [start, end], keeping only contracts whose DTE falls in
	// [minDTE, maxDTE] (maxDTE <= 0 means unbounded).
	ReadSnapshots(ctx context.Context, symbol string, start, end time.Time, minDTE, maxDTE int) ([]domain.OptionSnapshot, error)

	// ReadContractHistory returns the snapshots of one specific contract
	// within [from, to], used by the outcome simulator's forward walk.
	ReadContractHistory(ctx context.Context, symbol, contractSymbol string, from, to time.Time) ([]domain.OptionSnapshot, error)

	// ListSymbols returns the distinct underlyings with any snapshot data
	// in [start, end].
	ListSymbols(ctx context.Context, start, end time.Time) ([]string, error)
}

// Run is the persisted lifecycle record of one backtest run.
type Run struct {
	ID           string
	IPSID        string
	IPSName      string
	Status       domain.RunStatus
	StartDate    time.Time
	EndDate      time.Time
	TotalTrades  int
	TradesPassed int
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SimilarQuery selects past trade matches resembling a candidate. Before is
// exclusive: only trades closed strictly before it are returned.
type SimilarQuery struct {
	Strategy string
	DeltaMin float64
	DeltaMax float64
	DTEMin   int
	DTEMax   int
	Before   time.Time
	Limit    int
}

// ResultStore is the persistence sink for runs, trade matches, and results.
// Writes are batched and idempotent by run id.
type ResultStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, totalTrades, tradesPassed int, runErr string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// InsertTradeMatches replaces any previously stored matches for the
	// run, making retried writes idempotent.
	InsertTradeMatches(ctx context.Context, runID string, matches []domain.TradeMatch) error
	InsertResults(ctx context.Context, res *domain.BacktestResults) error
	GetResults(ctx context.Context, runID string) (*domain.BacktestResults, error)

	// MatchesBefore returns completed trade matches for the symbol whose
	// exit date is strictly before the given date.
	MatchesBefore(ctx context.Context, symbol string, before time.Time, limit int) ([]domain.TradeMatch, error)

	// SimilarMatchesBefore returns completed trade matches resembling the
	// query, closed strictly before the query date.
	SimilarMatchesBefore(ctx context.Context, q SimilarQuery) ([]domain.TradeMatch, error)
}
