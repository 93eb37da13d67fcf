package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"partybot/internal/config"
	"partybot/internal/notifier"
	"partybot/internal/observability/debughttp"
	"partybot/internal/storage"
	"partybot/internal/task/scheduler"
	logx "partybot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if id, ok := groupLogChat(cfg.Telegram.GroupLog); ok {
		lc.Telegram.ChatID = id
	} else {
		lc.Telegram.Enabled = false
	}
	return lc
}

// groupLogChat parses telegram.group_log. An empty value means no log chat.
func groupLogChat(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		DefaultTimeout: timeout,
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
	}, nil
}

// mapNotifier fills omitted fields from config.DefaultNotifier. A missing
// section means the defaults, enabled.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	def := config.DefaultNotifier()
	nc := def
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	if nc.Workers == 0 {
		nc.Workers = def.Workers
	}
	if nc.QueueSize == 0 {
		nc.QueueSize = def.QueueSize
	}
	if nc.RatePerSec == 0 {
		nc.RatePerSec = def.RatePerSec
	}
	if nc.DedupMaxEntries == 0 {
		nc.DedupMaxEntries = def.DedupMaxEntries
	}

	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("notifier.dedup_window", firstSet(nc.DedupWindow, def.DedupWindow), 10*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	if retryMaxDelay < retryBase {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay %s is below retry_base %s", retryMaxDelay, retryBase)
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

// mapStorage reports false when storage is off.
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapDebug(cfg *config.Config) (debughttp.Config, error) {
	if cfg.Debug == nil {
		return debughttp.Config{}, nil
	}
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	// profile and trace stream for their ?seconds= window
	write, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, time.Minute)
	if err != nil {
		return debughttp.Config{}, err
	}
	return debughttp.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}, nil
}

func firstSet(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
