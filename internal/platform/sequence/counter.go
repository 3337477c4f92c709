// Package sequence implements shared atomic counters used for document
// numbering. Increments are deliberately non-transactional: a failure
// after increment is compensated best-effort, so gaps in issued numbers
// are possible and acceptable.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Sequencer issues monotonically increasing numbers per counter name.
type Sequencer interface {
	// Next atomically increments the named counter and returns its value.
	Next(ctx context.Context, name string) (int64, error)
	// Compensate decrements the named counter after a failed consumer
	// write. Best-effort: errors are logged, never returned.
	Compensate(ctx context.Context, name string)
}

// Counter is the PostgreSQL-backed Sequencer.
type Counter struct {
	q   db.Querier
	log *slog.Logger
}

// NewCounter builds a Counter over the given querier.
func NewCounter(q db.Querier, log *slog.Logger) *Counter {
	return &Counter{q: q, log: log}
}

func (c *Counter) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := c.q.QueryRow(ctx, `INSERT INTO sequences (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence: next %q: %w", name, err)
	}
	return value, nil
}

func (c *Counter) Compensate(ctx context.Context, name string) {
	if _, err := c.q.Exec(ctx, `UPDATE sequences SET value = value - 1 WHERE name = $1 AND value > 0`, name); err != nil {
		if c.log != nil {
			c.log.Warn("sequence compensation failed", slog.String("counter", name), slog.Any("error", err))
		}
	}
}

// Memory is an in-process Sequencer for tests and single-node tooling.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemory builds an empty in-memory Sequencer.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Next(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

func (m *Memory) Compensate(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[name] > 0 {
		m.values[name]--
	}
}
