package cleanup

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/config"
)

type fakeGateway struct {
	counts       map[string]int
	nthOldest    map[string]time.Time
	deleted      map[string]int64
	deleteCutoff map[string]time.Time
	nthOldestArg map[string]int
}

func (f *fakeGateway) CountRows(table string) (int, error) {
	return f.counts[table], nil
}

func (f *fakeGateway) FindNthOldest(table, timeColumn string, n int) (time.Time, error) {
	if f.nthOldestArg == nil {
		f.nthOldestArg = map[string]int{}
	}
	f.nthOldestArg[table] = n
	return f.nthOldest[table], nil
}

func (f *fakeGateway) DeleteOlderThan(table, timeColumn string, cutoff time.Time) (int64, error) {
	if f.deleteCutoff == nil {
		f.deleteCutoff = map[string]time.Time{}
	}
	f.deleteCutoff[table] = cutoff
	return f.deleted[table], nil
}

func TestRunTriggersOverThreshold(t *testing.T) {
	cutoff := time.Now()
	gw := &fakeGateway{
		counts:    map[string]int{"PnodeGossipObservation": 950_000},
		nthOldest: map[string]time.Time{"PnodeGossipObservation": cutoff},
		deleted:   map[string]int64{"PnodeGossipObservation": 250_000},
	}
	spec := config.CleanupTableSpec{Table: "PnodeGossipObservation", TimeColumn: "observedAt", Threshold: 1_000_000, Trigger: 0.9, Target: 0.7}

	e := New(gw, []config.CleanupTableSpec{spec}, zap.NewNop())
	results := e.Run()

	if len(results) != 1 || !results[0].Triggered || results[0].Deleted != 250_000 {
		t.Fatalf("unexpected result: %+v", results)
	}
	if gw.deleteCutoff[spec.Table] != cutoff {
		t.Fatalf("expected delete cutoff %v, got %v", cutoff, gw.deleteCutoff[spec.Table])
	}
	// toDelete is 250,000 (950,000 - 700,000 target); the cutoff must come
	// from the (toDelete+1)th-oldest row so that deleting strictly-older
	// rows removes exactly toDelete rows (§8 scenario 6).
	if gw.nthOldestArg[spec.Table] != 250_001 {
		t.Fatalf("expected FindNthOldest called with n=250001, got %d", gw.nthOldestArg[spec.Table])
	}
}

func TestRunSkipsUnderThreshold(t *testing.T) {
	gw := &fakeGateway{counts: map[string]int{"IngestionRun": 100}}
	spec := config.CleanupTableSpec{Table: "IngestionRun", TimeColumn: "startedAt", Threshold: 10_000, Trigger: 0.9, Target: 0.7}

	e := New(gw, []config.CleanupTableSpec{spec}, zap.NewNop())
	results := e.Run()

	if len(results) != 1 || results[0].Triggered {
		t.Fatalf("expected no trigger, got %+v", results)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cutoff := time.Now()
	gw := &fakeGateway{
		counts:    map[string]int{"PnodeStatsSample": 500_000},
		nthOldest: map[string]time.Time{"PnodeStatsSample": cutoff},
		deleted:   map[string]int64{"PnodeStatsSample": 150_000},
	}
	spec := config.CleanupTableSpec{Table: "PnodeStatsSample", TimeColumn: "timestamp", Threshold: 500_000, Trigger: 0.9, Target: 0.7}
	e := New(gw, []config.CleanupTableSpec{spec}, zap.NewNop())

	e.Run()

	gw.counts["PnodeStatsSample"] = 350_000
	results := e.Run()
	if len(results) != 1 || results[0].Triggered {
		t.Fatalf("expected second run to be a no-op, got %+v", results)
	}
}
