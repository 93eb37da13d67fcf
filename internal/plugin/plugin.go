// Package plugin hosts feature plugins: it initializes and starts the
// enabled ones, feeds them their config blocks on reload, quarantines
// plugins whose config is rejected, and publishes their commands and
// callbacks to the router.
package plugin

import (
	"context"
	"encoding/json"
	"time"

	"partybot/internal/config"
	"partybot/internal/eventbus"
	"partybot/internal/storage"
	kit "partybot/internal/transport"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// ConfigValidator checks a config block before it is applied.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type CallbackProvider interface {
	Callbacks() []router.CallbackRoute
}

type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

type Deps struct {
	Logger   logx.Logger
	Adapter  kit.Adapter
	Config   *config.ConfigManager
	Services *router.Services
	Bus      eventbus.Bus
	Store    storage.Store
}

// StopReason tags shutdown logs and events.
type StopReason string

const (
	StopAppStop          StopReason = "app_stop"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)

// Snapshot is a point-in-time view of the plugin runtime.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Plugins []Status  `json:"plugins"`
}

type Status struct {
	Name            string    `json:"name"`
	Enabled         bool      `json:"enabled"`
	Running         bool      `json:"running"`
	Quarantined     bool      `json:"quarantined"`
	QuarantineErr   string    `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time `json:"quarantine_since,omitempty"`
	Health          string    `json:"health,omitempty"`
	HealthErr       string    `json:"health_err,omitempty"`
}

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}
