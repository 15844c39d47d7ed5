package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aquarig/pkg/logx"
)

func testRun(i int, outcome string) RunEntry {
	return RunEntry{
		RunID:    "run-" + string(rune('a'+i)),
		TaskID:   "sensor",
		Name:     "sensor poll",
		Started:  time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		TookMS:   int64(10 + i),
		Attempts: 1,
		Outcome:  outcome,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", st, err)
	}
	st, err = Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("empty driver: got (%v, %v), want (nil, nil)", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rigd.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := st.AppendRun(ctx, testRun(i, "completed")); err != nil {
			t.Fatalf("append run %d: %v", i, err)
		}
	}
	runs, err := st.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	// newest first
	if runs[0].RunID != "run-e" || runs[2].RunID != "run-c" {
		t.Fatalf("unexpected order: %s .. %s", runs[0].RunID, runs[2].RunID)
	}

	if err := st.AppendSample(ctx, SampleEntry{At: time.Now(), PH: 7.2}); err != nil {
		t.Fatalf("append sample: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the run log must survive the restart.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	runs, err = st2.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatalf("recent after reopen: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("got %d runs after reopen, want 5", len(runs))
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rigd.db")

	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	fail := testRun(0, "failed")
	fail.Error = "sampler offline"
	if err := st.AppendRun(ctx, fail); err != nil {
		t.Fatalf("append failed run: %v", err)
	}
	if err := st.AppendRun(ctx, testRun(1, "completed")); err != nil {
		t.Fatalf("append completed run: %v", err)
	}

	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Outcome != "completed" {
		t.Fatalf("newest outcome = %q, want completed", runs[0].Outcome)
	}
	if runs[1].Error != "sampler offline" {
		t.Fatalf("error = %q", runs[1].Error)
	}
	if !runs[1].Started.Equal(fail.Started) {
		t.Fatalf("started = %v, want %v", runs[1].Started, fail.Started)
	}

	if err := st.AppendSample(ctx, SampleEntry{
		At: time.Now(), DissolvedOxygen: 6.4, PH: 7.8, Turbidity: 12.5,
	}); err != nil {
		t.Fatalf("append sample: %v", err)
	}
}
