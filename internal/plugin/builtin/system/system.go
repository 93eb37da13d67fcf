// Package system carries the operator commands: liveness, runtime status
// and the schedule table.
package system

import (
	"context"
	"sync"
	"time"

	"partybot/internal/plugin"
	"partybot/internal/transport/telegram/router"
)

// StatusFunc reports the plugin runtime, usually Manager.Snapshot.
type StatusFunc func(ctx context.Context) plugin.Snapshot

type Plugin struct {
	plugin.Base
	status    StatusFunc
	startedAt time.Time

	mu     sync.Mutex
	events map[string]uint64
}

func New(status StatusFunc) *Plugin {
	return &Plugin{status: status, startedAt: time.Now(), events: map[string]uint64{}}
}

func (p *Plugin) Name() string { return "system" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

// Start counts notifier and recruit events for /status.
func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if p.Deps.Bus == nil {
		return nil
	}
	ch, unsubscribe := p.Deps.Bus.Subscribe(64, "notifier.", "recruit.")
	p.Runner.Go0("events", func(ctx context.Context) {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				p.mu.Lock()
				p.events[ev.Type]++
				p.mu.Unlock()
			}
		}
	})
	return nil
}

func (p *Plugin) eventCount(typ string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[typ]
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "봇 응답 확인",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				_, err := req.Reply(ctx, "pong", nil)
				return err
			},
		},
		{
			Route:       "status",
			Aliases:     []string{"health"},
			Description: "봇 상태 (플러그인, 스케줄러, 알림)",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "sched",
			Description: "예약 작업 목록",
			Usage:       "/sched",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdSched,
		},
	}
}
