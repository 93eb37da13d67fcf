package recruit

import (
	"context"
	"time"
)

// OnceScheduler runs a named job once at a given time. Re-adding a name
// replaces the earlier job.
type OnceScheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Expirer arms one deadline job per session. The job calls Expire and
// hands a transitioning result to onClose; if the session already closed
// some other way, Expire is a no-op and nothing is reported.
type Expirer struct {
	sched   OnceScheduler
	timeout time.Duration
	onClose func(ctx context.Context, res CloseResult)
}

const expireJobTimeout = 30 * time.Second

func NewExpirer(sched OnceScheduler, onClose func(ctx context.Context, res CloseResult)) *Expirer {
	return &Expirer{sched: sched, timeout: expireJobTimeout, onClose: onClose}
}

func deadlineJob(id string) string { return "recruit.deadline." + id }

func (e *Expirer) Arm(s *Session, deadline time.Time) error {
	_, err := e.sched.AddOnce(deadlineJob(s.ID()), deadline, e.timeout, func(ctx context.Context) error {
		res := s.Expire()
		if res.Transitioned && e.onClose != nil {
			e.onClose(ctx, res)
		}
		return nil
	})
	return err
}

// Disarm drops a pending deadline job. Correctness never depends on it.
func (e *Expirer) Disarm(id string) bool {
	return e.sched.Remove(deadlineJob(id))
}
