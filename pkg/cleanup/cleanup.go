// Package cleanup implements the cleanup engine (C5): threshold-triggered
// deletion of the oldest rows in high-volume tables.
package cleanup

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/config"
)

// Gateway is the subset of the store gateway the cleanup engine needs.
type Gateway interface {
	CountRows(table string) (int, error)
	FindNthOldest(table, timeColumn string, n int) (time.Time, error)
	DeleteOlderThan(table, timeColumn string, cutoff time.Time) (int64, error)
}

// Engine runs the cleanup procedure described in §4.5 against a fixed set
// of table specs.
type Engine struct {
	store  Gateway
	tables []config.CleanupTableSpec
	logger *zap.Logger
}

// New creates a cleanup Engine over the given table specs.
func New(store Gateway, tables []config.CleanupTableSpec, logger *zap.Logger) *Engine {
	return &Engine{store: store, tables: tables, logger: logger}
}

// TableResult reports what the engine did for one table.
type TableResult struct {
	Table      string
	CountBefore int
	Deleted    int64
	Triggered  bool
}

// Run counts every configured table and, for any whose count crosses its
// trigger threshold, deletes rows older than the cutoff that would bring it
// down to its target threshold. The engine is idempotent: running it again
// immediately after a successful pass finds every table under its trigger
// threshold and is a no-op. It is also safe to skip on error: a failure on
// one table does not prevent the others from being processed.
func (e *Engine) Run() []TableResult {
	results := make([]TableResult, 0, len(e.tables))
	for _, spec := range e.tables {
		result, err := e.runTable(spec)
		if err != nil {
			e.logger.Warn("cleanup failed for table",
				zap.String("table", spec.Table), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results
}

func (e *Engine) runTable(spec config.CleanupTableSpec) (TableResult, error) {
	count, err := e.store.CountRows(spec.Table)
	if err != nil {
		return TableResult{}, fmt.Errorf("count rows: %w", err)
	}

	triggerAt := int(float64(spec.Threshold) * spec.Trigger)
	if count <= triggerAt {
		return TableResult{Table: spec.Table, CountBefore: count}, nil
	}

	target := int(float64(spec.Threshold) * spec.Target)
	toDelete := count - target
	if toDelete <= 0 {
		return TableResult{Table: spec.Table, CountBefore: count, Triggered: true}, nil
	}

	// cutoff is the (toDelete+1)th-oldest row's timestamp, i.e. the first
	// row meant to survive; DeleteOlderThan's strict "<" then removes
	// exactly the toDelete oldest rows and leaves this one as the new
	// minimum (§8 scenario 6).
	cutoff, err := e.store.FindNthOldest(spec.Table, spec.TimeColumn, toDelete+1)
	if err != nil {
		return TableResult{}, fmt.Errorf("find cutoff: %w", err)
	}

	deleted, err := e.store.DeleteOlderThan(spec.Table, spec.TimeColumn, cutoff)
	if err != nil {
		return TableResult{}, fmt.Errorf("delete older than cutoff: %w", err)
	}

	e.logger.Info("cleanup engine deleted rows",
		zap.String("table", spec.Table), zap.Int("countBefore", count), zap.Int64("deleted", deleted))

	return TableResult{Table: spec.Table, CountBefore: count, Deleted: deleted, Triggered: true}, nil
}
