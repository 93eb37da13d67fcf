package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"partybot/internal/config"
	"partybot/internal/eventbus"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

const callTimeout = 10 * time.Second

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
}

type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *config.ConfigManager
	deps Deps
	cmdm *router.CommandManager

	reg    map[string]Plugin
	order  []string
	run    map[string]bool
	inited map[string]bool
	// config hash last applied to each running plugin
	lastRawHash map[string]uint64
	quarantine  map[string]quarantineState

	// baseCtx outlives the call-scoped contexts handed to StartAll and
	// OnConfigUpdate; plugin contexts derive from it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool
	pcancel    map[string]context.CancelFunc
}

func NewManager(log logx.Logger, cfgm *config.ConfigManager, deps Deps, cmdm *router.CommandManager) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:         log.With(logx.String("comp", "plugins")),
		cfgm:        cfgm,
		deps:        deps,
		cmdm:        cmdm,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		quarantine:  map[string]quarantineState{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pcancel:     map[string]context.CancelFunc{},
	}
}

func (pm *Manager) emit(typ string, ev pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// Register adds plugins in start order. Nothing starts until StartAll.
func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.reg[name]; !dup {
			pm.order = append(pm.order, name)
		}
		pm.reg[name] = pl
	}
}

// BindContext ties the plugin base context to appCtx. The first call wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	pm.reconcile(pm.cfgm.Get())
	return nil
}

func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.BindContext(ctx)
	pm.reconcile(cfg)
}

// StopAll stops running plugins in reverse start order.
func (pm *Manager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := append([]string(nil), pm.order...)
	pm.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		pm.stopOne(ctx, names[i], reason)
	}
	pm.refreshRegistry()
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) }); err != nil {
			pm.log.Warn("plugin stop failed", logx.String("plugin", name), logx.Err(err))
		}
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason)})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
}

func (pm *Manager) reconcile(cfg *config.Config) {
	if cfg == nil {
		return
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		rawHash uint64
		enabled bool
		running bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.order))
	for _, name := range pm.order {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       pm.reg[name],
			raw:     raw,
			rawHash: canonicalHashJSON(raw.Config),
			enabled: ok && raw.Enabled,
			running: pm.run[name],
		})
	}
	pm.mu.Unlock()

	for _, o := range ops {
		switch {
		case o.enabled && !o.running:
			pm.enable(o.name, o.p, o.raw, o.rawHash)
		case !o.enabled && o.running:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()
		case o.enabled && o.running:
			pm.reconfigure(o.name, o.p, o.raw, o.rawHash)
		}
	}
	pm.refreshRegistry()
}

func (pm *Manager) enable(name string, p Plugin, raw config.PluginConfigRaw, rawHash uint64) {
	pm.mu.Lock()
	q, quarantined := pm.quarantine[name]
	if quarantined && q.rawHash != rawHash {
		delete(pm.quarantine, name)
		quarantined = false
	}
	needInit := !pm.inited[name]
	pm.mu.Unlock()
	if quarantined {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)
	fail := func(stage string, err error) {
		cancel()
		pm.setQuarantine(name, rawHash, err, stage)
	}

	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			fail("init", err)
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}
	if err := pm.apply(pctx, name, p, raw); err != nil {
		fail("config", err)
		return
	}
	if err := pm.startWithTimeout(name, p, pctx, cancel); err != nil {
		fail("start", err)
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit("plugin.started", pluginEvent{Plugin: name})
}

func (pm *Manager) reconfigure(name string, p Plugin, raw config.PluginConfigRaw, rawHash uint64) {
	pm.mu.Lock()
	unchanged := pm.lastRawHash[name] == rawHash
	pm.mu.Unlock()
	if unchanged {
		return
	}
	if err := pm.apply(pm.baseCtx, name, p, raw); err != nil {
		pm.setQuarantine(name, rawHash, err, "config")
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, StopPluginQuarantine)
		cancel()
		return
	}
	pm.mu.Lock()
	pm.lastRawHash[name] = rawHash
	pm.mu.Unlock()
	pm.emit("plugin.config_applied", pluginEvent{Plugin: name})
}

// apply validates and hands raw to the plugin.
func (pm *Manager) apply(ctx context.Context, name string, p Plugin, raw config.PluginConfigRaw) error {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if v, ok := p.(ConfigValidator); ok {
		if err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) }); err != nil {
			return fmt.Errorf("config validate: %w", err)
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		if err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) }); err != nil {
			return fmt.Errorf("config apply: %w", err)
		}
	}
	return nil
}

// startWithTimeout cancels pctx when Start does not return in time.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(callTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		return fmt.Errorf("start timeout (%s)", callTimeout)
	}
}

func (pm *Manager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	pm.mu.Lock()
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: err.Error(), since: time.Now()}
	pm.mu.Unlock()
	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.Err(err))
	pm.emit("plugin.quarantined", pluginEvent{Plugin: name, Stage: stage, Err: err.Error()})
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

// refreshRegistry republishes the commands and callbacks of running
// plugins. Callback routes are forced into the plugin namespace.
func (pm *Manager) refreshRegistry() {
	pm.mu.Lock()
	running := map[string]Plugin{}
	var names []string
	for _, name := range pm.order {
		if pm.run[name] {
			running[name] = pm.reg[name]
			names = append(names, name)
		}
	}
	pm.mu.Unlock()

	var (
		cmds []router.Command
		cbs  []router.CallbackRoute
	)
	for _, name := range names {
		p := running[name]
		_ = pm.safeCall("plugin.commands."+name, func() error {
			for _, c := range p.Commands() {
				c.PluginName = name
				cmds = append(cmds, c)
			}
			if cbp, ok := p.(CallbackProvider); ok {
				for _, r := range cbp.Callbacks() {
					r.Plugin = name
					cbs = append(cbs, r)
				}
			}
			return nil
		})
	}
	if pm.cmdm != nil {
		pm.cmdm.SetRegistry(cmds, cbs)
	}
}

// ValidateConfig runs the validators of enabled plugins against cfg
// without applying it. The config manager calls it before committing a
// reload.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	pm.mu.Lock()
	names := append([]string(nil), pm.order...)
	pm.mu.Unlock()

	for _, name := range names {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		pm.mu.Lock()
		p := pm.reg[name]
		pm.mu.Unlock()
		v, ok := p.(ConfigValidator)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", name, err)
		}
	}
	return nil
}

// Snapshot reports every registered plugin, probing health of the
// running ones that implement HealthChecker.
func (pm *Manager) Snapshot(ctx context.Context) Snapshot {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	names := append([]string(nil), pm.order...)
	sort.Strings(names)
	out := Snapshot{Time: time.Now(), Plugins: make([]Status, 0, len(names))}
	type probe struct {
		idx int
		hc  HealthChecker
	}
	var probes []probe
	for _, name := range names {
		st := Status{Name: name, Running: pm.run[name]}
		if cfg != nil {
			st.Enabled = cfg.Plugins[name].Enabled
		}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.QuarantineErr = q.err
			st.QuarantineSince = q.since
		}
		if hc, ok := pm.reg[name].(HealthChecker); ok && st.Running {
			probes = append(probes, probe{idx: len(out.Plugins), hc: hc})
		}
		out.Plugins = append(out.Plugins, st)
	}
	pm.mu.Unlock()

	for _, pr := range probes {
		hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		status, err := pr.hc.Health(hctx)
		cancel()
		out.Plugins[pr.idx].Health = status
		if err != nil {
			out.Plugins[pr.idx].HealthErr = err.Error()
		}
	}
	return out
}
