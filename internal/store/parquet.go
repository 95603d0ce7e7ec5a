package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"vertex/internal/domain"
)

// Compile-time interface check.
var _ SnapshotStore = (*ParquetStore)(nil)

// ParquetStore implements SnapshotStore using Parquet files on disk, one
// file per underlying and month:
//
//	<DataDir>/options/<SYMBOL>/<YYYY-MM>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// snapshotRecord is the Parquet schema for one option-chain observation.
type snapshotRecord struct {
	Symbol       string  `parquet:"symbol"`
	Contract     string  `parquet:"contract"`
	SnapshotDate int64   `parquet:"snapshot_date,timestamp(millisecond)"` // Unix ms
	Expiration   int64   `parquet:"expiration,timestamp(millisecond)"`    // Unix ms
	Strike       float64 `parquet:"strike"`
	OptionType   string  `parquet:"option_type"`
	Bid          float64 `parquet:"bid"`
	Ask          float64 `parquet:"ask"`
	Mark         float64 `parquet:"mark"`
	Delta        float64 `parquet:"delta"`
	Gamma        float64 `parquet:"gamma"`
	Theta        float64 `parquet:"theta"`
	Vega         float64 `parquet:"vega"`
	Rho          float64 `parquet:"rho"`
	IV           float64 `parquet:"iv"`
	OpenInterest int64   `parquet:"open_interest"`
	Volume       int64   `parquet:"volume"`
}

func toRecord(s *domain.OptionSnapshot) snapshotRecord {
	return snapshotRecord{
		Symbol:       strings.ToUpper(s.Symbol),
		Contract:     s.ContractSymbol,
		SnapshotDate: s.SnapshotDate.UnixMilli(),
		Expiration:   s.ExpirationDate.UnixMilli(),
		Strike:       s.Strike,
		OptionType:   string(s.OptionType),
		Bid:          s.Bid,
		Ask:          s.Ask,
		Mark:         s.Mark,
		Delta:        s.Greeks.Delta,
		Gamma:        s.Greeks.Gamma,
		Theta:        s.Greeks.Theta,
		Vega:         s.Greeks.Vega,
		Rho:          s.Greeks.Rho,
		IV:           s.IV,
		OpenInterest: s.OpenInterest,
		Volume:       s.Volume,
	}
}

func fromRecord(r *snapshotRecord) domain.OptionSnapshot {
	s := domain.OptionSnapshot{
		Symbol:         r.Symbol,
		ContractSymbol: r.Contract,
		SnapshotDate:   time.UnixMilli(r.SnapshotDate).UTC(),
		ExpirationDate: time.UnixMilli(r.Expiration).UTC(),
		Strike:         r.Strike,
		OptionType:     domain.OptionType(r.OptionType),
		Bid:            r.Bid,
		Ask:            r.Ask,
		Mark:           r.Mark,
		Greeks: domain.Greeks{
			Delta: r.Delta,
			Gamma: r.Gamma,
			Theta: r.Theta,
			Vega:  r.Vega,
			Rho:   r.Rho,
		},
		IV:           r.IV,
		OpenInterest: r.OpenInterest,
		Volume:       r.Volume,
	}
	s.DTE = s.ComputeDTE()
	return s
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// WriteSnapshots writes snapshots grouped by symbol and month, merging with
// any existing file and deduplicating by (contract, snapshot date). Invalid
// snapshots are rejected up front: validation happens at this boundary so
// readers never see malformed records.
func (s *ParquetStore) WriteSnapshots(_ context.Context, snaps []domain.OptionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	type key struct {
		symbol string
		month  string // YYYY-MM
	}
	groups := make(map[key][]snapshotRecord)
	for i := range snaps {
		if err := snaps[i].Validate(); err != nil {
			return fmt.Errorf("rejecting snapshot batch: %w", err)
		}
		k := key{
			symbol: strings.ToUpper(snaps[i].Symbol),
			month:  snaps[i].SnapshotDate.Format("2006-01"),
		}
		groups[k] = append(groups[k], toRecord(&snaps[i]))
	}

	for k, records := range groups {
		path := s.chainPath(k.symbol, k.month)

		existing, _ := readParquetFile[snapshotRecord](path)
		merged := mergeSnapshotRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing snapshots for %s/%s: %w", k.symbol, k.month, err)
		}
	}
	return nil
}

// ReadSnapshots reads all snapshots for the underlying in [start, end],
// filtered to the DTE window.
func (s *ParquetStore) ReadSnapshots(_ context.Context, symbol string, start, end time.Time, minDTE, maxDTE int) ([]domain.OptionSnapshot, error) {
	var out []domain.OptionSnapshot
	for _, month := range monthsBetween(start, end) {
		path := s.chainPath(strings.ToUpper(symbol), month)

		records, err := readParquetFile[snapshotRecord](path)
		if err != nil {
			// No file for this month.
			continue
		}

		for i := range records {
			snap := fromRecord(&records[i])
			if snap.SnapshotDate.Before(start) || snap.SnapshotDate.After(end) {
				continue
			}
			if snap.DTE < minDTE || (maxDTE > 0 && snap.DTE > maxDTE) {
				continue
			}
			if err := snap.Validate(); err != nil {
				slog.Warn("skipping malformed snapshot record", "path", path, "err", err)
				continue
			}
			out = append(out, snap)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		return out[i].ContractSymbol < out[j].ContractSymbol
	})
	return out, nil
}

// ReadContractHistory returns the daily snapshots of one contract in
// [from, to], sorted by snapshot date.
func (s *ParquetStore) ReadContractHistory(_ context.Context, symbol, contractSymbol string, from, to time.Time) ([]domain.OptionSnapshot, error) {
	var out []domain.OptionSnapshot
	for _, month := range monthsBetween(from, to) {
		path := s.chainPath(strings.ToUpper(symbol), month)

		records, err := readParquetFile[snapshotRecord](path)
		if err != nil {
			continue
		}

		for i := range records {
			if records[i].Contract != contractSymbol {
				continue
			}
			snap := fromRecord(&records[i])
			if snap.SnapshotDate.Before(from) || snap.SnapshotDate.After(to) {
				continue
			}
			out = append(out, snap)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SnapshotDate.Before(out[j].SnapshotDate)
	})
	return out, nil
}

// ListSymbols lists the underlyings that have at least one snapshot file
// overlapping [start, end].
func (s *ParquetStore) ListSymbols(_ context.Context, start, end time.Time) ([]string, error) {
	dir := filepath.Join(s.DataDir, "options")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	months := make(map[string]struct{})
	for _, m := range monthsBetween(start, end) {
		months[m+".parquet"] = struct{}{}
	}

	var symbols []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if _, ok := months[f.Name()]; ok {
				symbols = append(symbols, e.Name())
				break
			}
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// chainPath returns the file path for a symbol+month snapshot file.
func (s *ParquetStore) chainPath(symbol, month string) string {
	return filepath.Join(s.DataDir, "options", strings.ToUpper(symbol), month+".parquet")
}

// monthsBetween lists the YYYY-MM labels covering [start, end].
func monthsBetween(start, end time.Time) []string {
	var months []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		months = append(months, cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeSnapshotRecords deduplicates by (contract, snapshot date), preferring
// incoming records. Results are sorted by snapshot date then contract.
func mergeSnapshotRecords(existing, incoming []snapshotRecord) []snapshotRecord {
	type key struct {
		contract string
		ts       int64
	}
	seen := make(map[key]snapshotRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Contract, r.SnapshotDate}] = r
	}
	for _, r := range incoming {
		seen[key{r.Contract, r.SnapshotDate}] = r
	}

	merged := make([]snapshotRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SnapshotDate != merged[j].SnapshotDate {
			return merged[i].SnapshotDate < merged[j].SnapshotDate
		}
		return merged[i].Contract < merged[j].Contract
	})
	return merged
}
