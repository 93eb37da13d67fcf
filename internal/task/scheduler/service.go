package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"partybot/internal/eventbus"
	rtsup "partybot/internal/runtime/supervisor"
	logx "partybot/pkg/logx"
)

const defaultHistorySize = 100

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:   map[string]*onceDef{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg

	if s.c == nil {
		return
	}
	switch {
	case !cfg.Enabled && wasEnabled:
		<-s.c.Stop().Done()
		s.log.Info("cron paused")
	case cfg.Enabled && (!wasEnabled || oldTZ != newTZ):
		s.restartLocked()
	}
}

// Start starts cron triggering. One-shot jobs added before Start keep
// their timers and run on the supervisor from now on. Cron triggering is
// skipped while Enabled is false; one-shot jobs always run.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		rtsup.WithCancelOnError(false),
	)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	if s.cfg.Enabled {
		s.c.Start()
	}
	s.log.Info("scheduler started",
		logx.Bool("cron", s.cfg.Enabled),
		logx.String("tz", loc.String()),
		logx.Int("schedules", len(s.defs)),
		logx.Int("once", s.onceCount()),
	)
}

// Stop stops cron, cancels pending one-shot timers and waits for running
// jobs until ctx ends. Pending one-shot definitions are dropped.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	dropped := len(s.once)
	for name, d := range s.once {
		d.timer.Stop()
		delete(s.once, name)
	}
	s.tmu.Unlock()

	if sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("scheduler stop timed out", logx.Err(err))
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Int("dropped_once", dropped))
}

func (s *Service) onceCount() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.once)
}

// Supervisor is the run supervisor of the current Start, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor { return s.supervisor() }

func (s *Service) supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("cron restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
