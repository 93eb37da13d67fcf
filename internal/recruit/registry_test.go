package recruit

import (
	"context"
	"testing"
	"time"
)

func TestNewIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 12 {
			t.Fatalf("NewID() = %q, want 12 chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRegistryAddRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := newTestSession(3)
	if err := r.Add(s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(s); err != errDuplicateID {
		t.Fatalf("Add(dup) = %v, want errDuplicateID", err)
	}
	if got, ok := r.Get(s.ID()); !ok || got != s {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if !r.Remove(s.ID()) || r.Remove(s.ID()) {
		t.Fatalf("Remove should succeed once")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestExpirerArmReplaces(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler()
	var closed []CloseResult
	e := NewExpirer(sched, func(_ context.Context, res CloseResult) { closed = append(closed, res) })
	s := newTestSession(3)

	first := time.Now().Add(time.Minute)
	second := first.Add(time.Minute)
	if err := e.Arm(s, first); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := e.Arm(s, second); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if len(sched.jobs) != 1 || !sched.at[deadlineJob(s.ID())].Equal(second) {
		t.Fatalf("jobs = %v", sched.at)
	}

	job := sched.take(deadlineJob(s.ID()))
	_ = job(context.Background())
	_ = job(context.Background())
	if len(closed) != 1 || closed[0].Reason != CloseDeadline {
		t.Fatalf("closed = %+v", closed)
	}
	if !e.Disarm(s.ID()) {
		t.Fatalf("Disarm found no job")
	}
}
