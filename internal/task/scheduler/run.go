package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"partybot/internal/eventbus"
	logx "partybot/pkg/logx"
)

// slowRun is the duration above which a finished job logs at info.
const slowRun = 750 * time.Millisecond

// dispatch runs job on the supervisor, or on a plain goroutine before
// Start and after Stop.
func (s *Service) dispatch(name string, timeout time.Duration, opt TaskOptions, state *runState, job func(ctx context.Context) error) {
	if job == nil {
		return
	}
	if opt.Overlap == OverlapSkipIfRunning && !state.tryAcquire() {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name))
		s.record(HistoryItem{Name: name, Started: time.Now(), Skipped: true})
		return
	}
	release := func() {
		if opt.Overlap == OverlapSkipIfRunning {
			state.release()
		}
	}
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}

	if sup := s.supervisor(); sup != nil {
		sup.Go0("task."+name, func(ctx context.Context) {
			defer release()
			s.execute(ctx, name, timeout, job)
		})
		return
	}
	go func() {
		defer release()
		s.execute(context.Background(), name, timeout, job)
	}()
}

func (s *Service) execute(ctx context.Context, name string, timeout time.Duration, job func(ctx context.Context) error) {
	start := time.Now()
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = job(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{Name: name, Started: start, Duration: dur}
	ev := TaskEvent{Name: name, Started: start, Duration: dur}
	typ := "task.finished"
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		typ = "task.failed"
		s.log.Warn("task.failed", logx.String("task", name), logx.Err(err), logx.Duration("dur", dur))
	} else if dur >= slowRun {
		s.log.Info("task.completed", logx.String("task", name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task.completed", logx.String("task", name), logx.Duration("dur", dur))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
	s.record(item)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = defaultHistorySize
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
