package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "aquarig/pkg/logx"
)

func TestStatsTracksGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	release := make(chan struct{})
	running := make(chan struct{})
	s.Go0("block", func(ctx context.Context) {
		close(running)
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	<-running

	st := s.Stats()
	if st.Started != 1 {
		t.Fatalf("started = %d, want 1", st.Started)
	}
	if st.Active != 1 {
		t.Fatalf("active = %d, want 1", st.Active)
	}

	close(release)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := s.Stats(); st.Active != 0 {
		t.Fatalf("active after stop = %d, want 0", st.Active)
	}
	if st := s.Stats(); st.Started != 1 {
		t.Fatalf("started after stop = %d, want 1", st.Started)
	}
}

func TestStatsNilReceiver(t *testing.T) {
	t.Parallel()
	var s *Supervisor
	if st := s.Stats(); st.Active != 0 || st.Started != 0 {
		t.Fatalf("nil supervisor stats = %+v, want zero", st)
	}
}

func TestCancelOnFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("fail", func(ctx context.Context) error { return boom })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after goroutine error")
	}
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err() = %v, want %v", err, boom)
	}
	_ = s.Stop(context.Background())
}

func TestStopTimesOutOnStuckGoroutine(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	release := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	if st := s.Stats(); st.Active != 1 {
		t.Fatalf("active = %d, want 1 (goroutine ignored cancel)", st.Active)
	}
}
