package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partybot/internal/config"
	"partybot/internal/eventbus"
	rtsup "partybot/internal/runtime/supervisor"
	"partybot/internal/storage"
	kit "partybot/internal/transport"
	logx "partybot/pkg/logx"
)

var (
	ErrNoScheduler = errors.New("scheduler not available")
	ErrNoNotifier  = errors.New("notifier not available")
)

// Base is embedded by plugins for logging, an owned supervisor and
// namespaced access to the shared services.
//
//	type Plugin struct{ plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *rtsup.Supervisor

	name string
	ctx  context.Context
}

func (b *Base) InitBase(deps Deps, name string) {
	b.Deps = deps
	b.name = name
	b.Log = deps.Logger.With(logx.String("plugin", name))
}

// StartBase creates the plugin supervisor bound to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.New(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
}

// StopBase cancels the supervisor and waits for it, bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context is the plugin run context, canceled on stop or disable.
func (b *Base) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Health reports "ok" while the plugin context is live.
func (b *Base) Health(ctx context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	if err := b.ctx.Err(); err != nil {
		return "stopped", err
	}
	return "ok", nil
}

// NS prefixes name with the plugin name, e.g. "recruit:sweep".
func (b *Base) NS(name string) string {
	if b.name == "" {
		return name
	}
	if name == "" {
		return b.name
	}
	return b.name + ":" + name
}

func (b *Base) Every(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return "", ErrNoScheduler
	}
	return b.Deps.Services.Scheduler.AddInterval(b.NS(name), every, timeout, job)
}

func (b *Base) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return "", ErrNoScheduler
	}
	return b.Deps.Services.Scheduler.AddCron(b.NS(name), spec, timeout, job)
}

func (b *Base) Daily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return "", ErrNoScheduler
	}
	return b.Deps.Services.Scheduler.AddDaily(b.NS(name), atHHMM, timeout, job)
}

// Unschedule removes a job added through Every, Cron or Daily.
func (b *Base) Unschedule(name string) bool {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return false
	}
	return b.Deps.Services.Scheduler.Remove(b.NS(name))
}

func (b *Base) Notify(ctx context.Context, n kit.Notification) error {
	if b.Deps.Services == nil || b.Deps.Services.Notifier == nil {
		return ErrNoNotifier
	}
	if n.Channel == "" {
		n.Channel = "telegram"
	}
	return b.Deps.Services.Notifier.Notify(ctx, n)
}

// Store returns the shared store or nil when storage is disabled.
func (b *Base) Store() storage.Store { return b.Deps.Store }

// AppendAudit records e under the plugin name. It is a no-op without
// storage.
func (b *Base) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if b.Deps.Store == nil {
		return nil
	}
	if e.Plugin == "" {
		e.Plugin = b.name
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return b.Deps.Store.AppendAudit(ctx, e)
}

func (b *Base) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// DecodeConfig strictly decodes a plugin config block into T and runs the
// shared struct validator on it. An empty block yields the zero T.
func DecodeConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	if err := config.ValidateStruct(out); err != nil {
		return out, err
	}
	return out, nil
}
