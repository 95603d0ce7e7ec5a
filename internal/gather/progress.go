package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker manages the .tried-empty and .last-completed files under
// the options data directory for crash recovery and once-per-day
// idempotency. .tried-empty lists symbols whose chain came back empty today;
// .last-completed records the last fully gathered snapshot date.
type progressTracker struct {
	mu         sync.Mutex
	triedEmpty map[string]struct{}
	writer     *bufio.Writer
	file       *os.File
	dir        string
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating options dir: %w", err)
	}

	pt := &progressTracker{
		triedEmpty: make(map[string]struct{}),
		dir:        dir,
	}

	path := filepath.Join(dir, ".tried-empty")
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			sym := strings.TrimSpace(line)
			if sym != "" {
				pt.triedEmpty[sym] = struct{}{}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .tried-empty: %w", err)
	}
	pt.file = f
	pt.writer = bufio.NewWriter(f)

	return pt, nil
}

// IsTriedEmpty reports whether the symbol already returned an empty chain.
func (p *progressTracker) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[symbol]
	return ok
}

// MarkEmpty records symbols whose chain came back empty.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.triedEmpty[sym]; ok {
			continue
		}
		p.triedEmpty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing to .tried-empty: %w", err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted writes the given date to .last-completed.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(filepath.Join(p.dir, ".last-completed"), []byte(date), 0o644)
}

// IsCompleted reports whether .last-completed matches the given date.
func (p *progressTracker) IsCompleted(date string) bool {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-completed"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == date
}

// LastCompleted returns the date string from .last-completed, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-completed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset deletes the .tried-empty file and clears the in-memory set. Used
// when a new snapshot date begins and yesterday's empties are stale.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writer.Flush(); err != nil {
		return err
	}
	if err := p.file.Close(); err != nil {
		return err
	}

	path := filepath.Join(p.dir, ".tried-empty")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing .tried-empty: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopening .tried-empty: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	p.triedEmpty = make(map[string]struct{})
	return nil
}

// Close flushes and closes the tracker files.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writer.Flush(); err != nil {
		return err
	}
	return p.file.Close()
}
