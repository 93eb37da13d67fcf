package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"partybot/internal/config"
	"partybot/internal/storage"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

type fakeConfig struct {
	Capacity int `json:"capacity" validate:"gte=0,lte=48"`
}

type fakePlugin struct {
	Base

	mu      sync.Mutex
	calls   []string
	applied fakeConfig
}

func (p *fakePlugin) Name() string { return "fake" }

func (p *fakePlugin) record(s string) {
	p.mu.Lock()
	p.calls = append(p.calls, s)
	p.mu.Unlock()
}

func (p *fakePlugin) history() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.calls, ",")
}

func (p *fakePlugin) Init(ctx context.Context, deps Deps) error {
	p.InitBase(deps, p.Name())
	p.record("init")
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.record("start")
	return nil
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.record("stop")
	return p.StopBase(ctx)
}

func (p *fakePlugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := DecodeConfig[fakeConfig](raw)
	return err
}

func (p *fakePlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := DecodeConfig[fakeConfig](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.applied = cfg
	p.mu.Unlock()
	p.record("config")
	return nil
}

func (p *fakePlugin) Commands() []router.Command {
	return []router.Command{{Route: "fake", Handle: func(ctx context.Context, req *router.Request) error { return nil }}}
}

func (p *fakePlugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{Plugin: "spoofed", Action: "x", Handle: func(ctx context.Context, req *router.Request, payload string) error { return nil }}}
}

func cfgWith(enabled bool, raw string) *config.Config {
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{
		"fake": {Enabled: enabled, Config: json.RawMessage(raw)},
	}}
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *fakePlugin) {
	t.Helper()
	cfgm := config.NewConfigManager("")
	cfgm.Commit(cfg)
	pm := NewManager(logx.Nop(), cfgm, Deps{Logger: logx.Nop()}, nil)
	p := &fakePlugin{}
	pm.Register(p)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := pm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll = %v", err)
	}
	return pm, p
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()
	pm, p := newTestManager(t, cfgWith(true, `{"capacity": 4}`))
	if got := p.history(); got != "init,config,start" {
		t.Fatalf("calls = %q", got)
	}
	if p.applied.Capacity != 4 {
		t.Fatalf("applied = %+v", p.applied)
	}

	// unchanged config (key order/whitespace only) is not re-applied
	pm.OnConfigUpdate(context.Background(), cfgWith(true, `{ "capacity":4 }`))
	if got := p.history(); got != "init,config,start" {
		t.Fatalf("calls after no-op reload = %q", got)
	}

	pm.OnConfigUpdate(context.Background(), cfgWith(true, `{"capacity": 8}`))
	if p.applied.Capacity != 8 {
		t.Fatalf("applied after reload = %+v", p.applied)
	}

	pm.OnConfigUpdate(context.Background(), cfgWith(false, `{"capacity": 8}`))
	if got := p.history(); got != "init,config,start,config,stop" {
		t.Fatalf("calls after disable = %q", got)
	}

	// re-enable does not init twice
	pm.OnConfigUpdate(context.Background(), cfgWith(true, `{"capacity": 8}`))
	if got := p.history(); got != "init,config,start,config,stop,config,start" {
		t.Fatalf("calls after re-enable = %q", got)
	}
	pm.StopAll(context.Background(), StopAppStop)
	if snap := pm.Snapshot(context.Background()); snap.Plugins[0].Running {
		t.Fatalf("still running after StopAll: %+v", snap.Plugins[0])
	}
}

func TestManagerQuarantine(t *testing.T) {
	t.Parallel()
	pm, p := newTestManager(t, cfgWith(true, `{"capacity": 99}`))
	snap := pm.Snapshot(context.Background())
	st := snap.Plugins[0]
	if st.Running || !st.Quarantined || !strings.Contains(st.QuarantineErr, "Capacity") {
		t.Fatalf("status = %+v, want quarantined on capacity", st)
	}

	// same broken blob stays quarantined, a fixed one starts
	pm.OnConfigUpdate(context.Background(), cfgWith(true, `{"capacity": 99}`))
	if strings.Contains(p.history(), "start") {
		t.Fatalf("quarantined plugin started: %q", p.history())
	}
	pm.OnConfigUpdate(context.Background(), cfgWith(true, `{"capacity": 3}`))
	st = pm.Snapshot(context.Background()).Plugins[0]
	if !st.Running || st.Quarantined || st.Health != "ok" {
		t.Fatalf("status after fix = %+v", st)
	}
}

func TestManagerValidateConfig(t *testing.T) {
	t.Parallel()
	pm, _ := newTestManager(t, cfgWith(true, `{}`))
	if err := pm.ValidateConfig(context.Background(), cfgWith(true, `{"nope": 1}`)); err == nil {
		t.Fatalf("ValidateConfig accepted an unknown field")
	}
	if err := pm.ValidateConfig(context.Background(), cfgWith(false, `{"nope": 1}`)); err != nil {
		t.Fatalf("ValidateConfig on disabled plugin = %v", err)
	}
}

func TestDecodeConfigEmpty(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "null", "  "} {
		cfg, err := DecodeConfig[fakeConfig](json.RawMessage(raw))
		if err != nil || cfg != (fakeConfig{}) {
			t.Fatalf("DecodeConfig(%q) = %+v, %v", raw, cfg, err)
		}
	}
}

func TestBaseWithoutServices(t *testing.T) {
	t.Parallel()
	var b Base
	b.InitBase(Deps{Logger: logx.Nop()}, "recruit")
	if got := b.NS("sweep"); got != "recruit:sweep" {
		t.Fatalf("NS = %q", got)
	}
	if _, err := b.Every("sweep", 0, 0, nil); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("Every = %v, want ErrNoScheduler", err)
	}
	if err := b.AppendAudit(context.Background(), storage.AuditEntry{Action: "open"}); err != nil {
		t.Fatalf("AppendAudit without store = %v", err)
	}
}
