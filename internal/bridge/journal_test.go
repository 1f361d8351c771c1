package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/auth"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm/vrmtest"
	_ "github.com/nerrad567/vrm-cloud-mqtt/migrations"
)

func openJournal(t *testing.T, retention int) *SQLiteJournal {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "bridge.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteJournal(db.DB, retention)
}

func testReport(i int) CycleReport {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return CycleReport{
		ID:         fmt.Sprintf("cycle-%02d", i),
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcome:    OutcomeSuccess,
		Topics:     5,
		DelayMS:    60000,
	}
}

func TestSQLiteJournal_RecordAndRecent(t *testing.T) {
	j := openJournal(t, 0)
	ctx := context.Background()

	failed := testReport(1)
	failed.Outcome = OutcomePartial
	failed.Failed = 2
	failed.ConsecutiveFailures = 1
	failed.Reauthenticated = true
	failed.Error = "bridge: publish failed"

	for _, r := range []CycleReport{testReport(0), failed} {
		if err := j.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s) error = %v", r.ID, err)
		}
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d, want 2", len(got))
	}
	if got[0].ID != "cycle-01" || got[1].ID != "cycle-00" {
		t.Errorf("order = %s, %s; want newest first", got[0].ID, got[1].ID)
	}

	r := got[0]
	if r.Outcome != OutcomePartial || r.Failed != 2 || r.Topics != 5 || r.ConsecutiveFailures != 1 ||
		!r.Reauthenticated || r.Error != failed.Error || r.DelayMS != 60000 {
		t.Errorf("round trip = %+v", r)
	}
	if !r.StartedAt.Equal(failed.StartedAt) || !r.FinishedAt.Equal(failed.FinishedAt) {
		t.Errorf("times = %v..%v, want %v..%v", r.StartedAt, r.FinishedAt, failed.StartedAt, failed.FinishedAt)
	}
	if got[1].Error != "" {
		t.Errorf("successful cycle error = %q", got[1].Error)
	}
}

func TestSQLiteJournal_Prunes(t *testing.T) {
	j := openJournal(t, 3)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := j.Record(ctx, testReport(i)); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	got, err := j.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if fmt.Sprint(ids) != "[cycle-06 cycle-05 cycle-04]" {
		t.Errorf("kept %v, want the three newest", ids)
	}
}

func TestSQLiteJournal_RecentLimit(t *testing.T) {
	j := openJournal(t, -1)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := j.Record(ctx, testReport(i)); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 2, want: 2},
		{limit: 0, want: 1},
		{limit: -5, want: 1},
		{limit: 10000, want: 4},
	}
	for _, tt := range tests {
		got, err := j.Recent(ctx, tt.limit)
		if err != nil {
			t.Fatalf("Recent(%d) error = %v", tt.limit, err)
		}
		if len(got) != tt.want {
			t.Errorf("Recent(%d) returned %d, want %d", tt.limit, len(got), tt.want)
		}
	}
}

func TestSQLiteJournal_DuplicateID(t *testing.T) {
	j := openJournal(t, 0)
	ctx := context.Background()
	if err := j.Record(ctx, testReport(0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Record(ctx, testReport(0)); err == nil {
		t.Error("Record() accepted a duplicate cycle id")
	}
}

func TestScheduler_RecordsCycles(t *testing.T) {
	h := newHarness(t, nil)
	j := openJournal(t, 0)
	h.sched.deps.Journal = j
	h.srv.Fail(vrmtest.RouteDiagnostics, 503)
	ctx := context.Background()

	first := h.sched.RunCycle(ctx)
	second := h.sched.RunCycle(ctx)

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("journal has %d cycles, want 2", len(got))
	}
	if got[0].ID != second.ID || got[0].Outcome != OutcomeSuccess {
		t.Errorf("newest = %+v, want %s success", got[0], second.ID)
	}
	if got[1].ID != first.ID || got[1].Outcome != OutcomeTransient || got[1].Error == "" {
		t.Errorf("oldest = %+v, want %s transient with error", got[1], first.ID)
	}
}

// stallingPoller blocks until the cycle context expires.
type stallingPoller struct{}

func (stallingPoller) Poll(ctx context.Context, _ string, _ credential.Credential) (telemetry.Snapshot, error) {
	<-ctx.Done()
	return telemetry.Snapshot{}, ctx.Err()
}

func TestScheduler_RecordsTimedOutCycle(t *testing.T) {
	h := newHarness(t, func(_ *auth.Config, c *Config) { c.CycleTimeout = 100 * time.Millisecond })
	j := openJournal(t, 0)
	h.sched.deps.Journal = j
	h.sched.deps.Poller = stallingPoller{}
	ctx := context.Background()

	report := h.sched.RunCycle(ctx)
	if report.Outcome != OutcomeTransient || !errors.Is(report.Err, context.DeadlineExceeded) {
		t.Fatalf("Outcome = %s (%v), want transient deadline exceeded", report.Outcome, report.Err)
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != report.ID || got[0].Outcome != OutcomeTransient {
		t.Fatalf("journal = %+v, want the timed-out cycle %s", got, report.ID)
	}
}
