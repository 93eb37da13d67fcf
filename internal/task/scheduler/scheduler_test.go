package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"partybot/internal/eventbus"
	logx "partybot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron: 0 5 * * *", kind: SpecCron, cron: "0 5 * * *"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every:1m", kind: SpecInterval, every: time.Minute},
		{in: "interval: 00:10", kind: SpecInterval, every: 10 * time.Minute},
		{in: "", err: true},
		{in: "cron:", err: true},
		{in: "00:00", err: true},
		{in: "01:75", err: true},
		{in: "-5m", err: true},
		{in: "soon", err: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error = %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Cron != tt.cron || got.Every != tt.every {
				t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	if h, m, err := parseHHMM("05:30"); err != nil || h != 5 || m != 30 {
		t.Fatalf("parseHHMM = %d, %d, %v", h, m, err)
	}
	for _, in := range []string{"5", "24:00", "10:60", "a:b"} {
		if _, _, err := parseHHMM(in); err == nil {
			t.Fatalf("parseHHMM(%q) want error", in)
		}
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddOnceRuns(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var runs atomic.Int32
	if _, err := s.AddOnce("once", time.Now().Add(10*time.Millisecond), time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 1 })
	if s.Remove("once") {
		t.Fatalf("Remove after run = true, want false")
	}
	if n := len(s.Snapshot().Once); n != 0 {
		t.Fatalf("pending once = %d, want 0", n)
	}
}

func TestAddOnceReplaces(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var first, second atomic.Int32
	at := time.Now().Add(20 * time.Millisecond)
	s.AddOnce("job", at, 0, func(context.Context) error { first.Add(1); return nil })
	s.AddOnce("job", at, 0, func(context.Context) error { second.Add(1); return nil })

	waitFor(t, func() bool { return second.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatalf("replaced job ran")
	}
}

func TestRemoveCancelsOnce(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var runs atomic.Int32
	s.AddOnce("job", time.Now().Add(30*time.Millisecond), 0, func(context.Context) error { runs.Add(1); return nil })
	if !s.Remove("job") {
		t.Fatalf("Remove = false, want true")
	}
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("removed job ran")
	}
}

func TestAddOnceBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	done := make(chan struct{})
	s.AddOnce("early", time.Now(), 0, func(context.Context) error { close(done); return nil })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot job did not run without Start")
	}
}

func TestAddOnceValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	job := func(context.Context) error { return nil }
	if _, err := s.AddOnce(" ", time.Now(), 0, job); !errors.Is(err, errNameRequired) {
		t.Fatalf("empty name err = %v", err)
	}
	if _, err := s.AddOnce("x", time.Time{}, 0, job); !errors.Is(err, errAtRequired) {
		t.Fatalf("zero time err = %v", err)
	}
}

func TestJobTimeoutAndPanic(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(8, "task.")
	defer unsubscribe()

	s := New(Config{Enabled: true}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.AddOnce("slow", time.Now(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.AddOnce("boom", time.Now(), 0, func(context.Context) error { panic("boom") })

	failed := map[string]bool{}
	for len(failed) < 2 {
		select {
		case e := <-events:
			if e.Type != "task.failed" {
				t.Fatalf("event = %s, want task.failed", e.Type)
			}
			failed[e.Data.(TaskEvent).Name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("failed events = %v", failed)
		}
	}
	if !failed["slow"] || !failed["boom"] {
		t.Fatalf("failed = %v", failed)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	state := &runState{}
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	job := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	s.dispatch("job", 0, TaskOptions{Overlap: OverlapSkipIfRunning}, state, job)
	<-started
	s.dispatch("job", 0, TaskOptions{Overlap: OverlapSkipIfRunning}, state, job)
	close(release)

	waitFor(t, func() bool {
		for _, h := range s.Snapshot().History {
			if h.Skipped {
				return true
			}
		}
		return false
	})
	if len(started) != 0 {
		t.Fatalf("overlapping run started")
	}
}

func TestScheduleUpsertByName(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	job := func(context.Context) error { return nil }
	if _, err := s.AddSchedule("sweep", "1m", 0, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := s.AddSchedule("sweep", "*/5 * * * *", 0, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := s.AddCron("bad", "not a cron", 0, job); err == nil {
		t.Fatalf("AddCron(invalid) want error")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "*/5 * * * *" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatalf("next run not computed")
	}
	if !s.Remove("sweep") || len(s.Snapshot().Schedules) != 0 {
		t.Fatalf("Remove did not drop the schedule")
	}
}

func TestSpreadDelaysFirstRunOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(time.Minute, now, "x")
	if jitter < 0 || jitter >= 30*time.Second {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(time.Minute + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	// cron.Every rounds to whole seconds.
	if gap := sched.Next(first).Sub(first); gap > time.Minute || gap <= time.Minute-time.Second {
		t.Fatalf("second run gap = %v", gap)
	}
}
