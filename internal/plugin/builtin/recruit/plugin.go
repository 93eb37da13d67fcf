// Package recruit is the chat surface of party recruitment: the /recruit
// command, the role-button card and its callbacks, the closing notice, and
// the sweep and archive jobs.
package recruit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"partybot/internal/plugin"
	"partybot/internal/recruit"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

type Plugin struct {
	plugin.Base

	mu  sync.RWMutex
	set settings

	coord   *recruit.Coordinator
	board   *board
	started atomic.Bool
	now     func() time.Time
}

var (
	_ plugin.ConfigurablePlugin = (*Plugin)(nil)
	_ plugin.ConfigValidator    = (*Plugin)(nil)
	_ plugin.CallbackProvider   = (*Plugin)(nil)
)

func New() *Plugin {
	return &Plugin{set: defaultSettings(), now: time.Now}
}

func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Services == nil || deps.Services.Scheduler == nil {
		return plugin.ErrNoScheduler
	}
	p.board = newBoard(p)
	opts := []recruit.Option{
		recruit.WithLogger(p.Log),
		recruit.WithConfig(p.settings().core),
		recruit.WithClock(p.now),
	}
	if deps.Bus != nil {
		opts = append(opts, recruit.WithBus(deps.Bus))
	}
	p.coord = recruit.NewCoordinator(deps.Services.Scheduler, p.board, opts...)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.started.Store(true)
	return p.schedule()
}

// Stop leaves open sessions alone; their deadline timers die with the
// scheduler and the cards keep their last state.
func (p *Plugin) Stop(ctx context.Context) error {
	p.started.Store(false)
	p.Unschedule("sweep")
	p.Unschedule("prune")
	if n := p.coord.Registry().Len(); n > 0 {
		p.Log.Info("stopping with open sessions", logx.Int("open", n))
	}
	return p.StopBase(ctx)
}

// Health adds the number of open sessions to the base status.
func (p *Plugin) Health(ctx context.Context) (string, error) {
	status, err := p.Base.Health(ctx)
	if err != nil || status != "ok" || p.coord == nil {
		return status, err
	}
	return fmt.Sprintf("ok open=%d", p.coord.Registry().Len()), nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s, err := decodeSettings(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.set = s
	p.mu.Unlock()
	if p.coord != nil {
		p.coord.Apply(s.core)
	}
	if p.started.Load() {
		return p.schedule()
	}
	return nil
}

func (p *Plugin) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set
}

// schedule (re)registers the sweep and, with storage, the daily prune.
// Names are upserted, so calling it again after a reload is safe.
func (p *Plugin) schedule() error {
	s := p.settings()
	if _, err := p.Every("sweep", s.sweepEvery, 30*time.Second, p.sweep); err != nil {
		return err
	}
	if p.Store() == nil {
		return nil
	}
	_, err := p.Daily("prune", s.pruneAt, time.Minute, p.prune)
	return err
}

func (p *Plugin) sweep(ctx context.Context) error {
	if n := p.coord.Sweep(ctx); n > 0 {
		p.Log.Info("sweep expired sessions", logx.Int("closed", n))
	}
	return nil
}

func (p *Plugin) prune(ctx context.Context) error {
	st := p.Store()
	if st == nil {
		return nil
	}
	before := p.now().Add(-p.settings().retention)
	n, err := st.Prune(ctx, before)
	if err != nil {
		return err
	}
	p.Log.Info("archive pruned", logx.Int("removed", n), logx.Time("before", before))
	return nil
}

func (p *Plugin) Commands() []router.Command {
	return p.commands()
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return p.callbacks()
}
