package recruit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"partybot/internal/plugin"
	"partybot/internal/recruit"
)

// Config is the plugins.recruit.config block.
type Config struct {
	DefaultCapacity int    `json:"default_capacity" validate:"gte=0,lte=200"`
	MaxCapacity     int    `json:"max_capacity" validate:"gte=0,lte=200"`
	DefaultDeadline string `json:"default_deadline"`
	Timezone        string `json:"timezone"`

	SweepEvery       string `json:"sweep_every" validate:"omitempty,duration"`
	SweepGrace       string `json:"sweep_grace" validate:"omitempty,duration"`
	PruneAt          string `json:"prune_at" validate:"omitempty,len=5"`
	ArchiveRetention string `json:"archive_retention" validate:"omitempty,duration"`
	HistoryLimit     int    `json:"history_limit" validate:"gte=0,lte=50"`

	// NotifyOrganizer sends the organizer a private message per join.
	// Nil means on.
	NotifyOrganizer *bool `json:"notify_organizer"`
}

// settings is Config resolved against defaults.
type settings struct {
	core            recruit.Config
	sweepEvery      time.Duration
	pruneAt         string
	retention       time.Duration
	historyLimit    int
	notifyOrganizer bool
}

func defaultSettings() settings {
	return settings{
		core:            recruit.DefaultConfig(),
		sweepEvery:      time.Minute,
		pruneAt:         "04:30",
		retention:       30 * 24 * time.Hour,
		historyLimit:    10,
		notifyOrganizer: true,
	}
}

func decodeSettings(raw json.RawMessage) (settings, error) {
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return settings{}, err
	}
	return cfg.resolve()
}

func (c Config) resolve() (settings, error) {
	s := defaultSettings()
	if c.DefaultCapacity > 0 {
		s.core.DefaultCapacity = c.DefaultCapacity
	}
	if c.MaxCapacity > 0 {
		s.core.MaxCapacity = c.MaxCapacity
	}
	if s.core.MaxCapacity > 0 && s.core.DefaultCapacity > s.core.MaxCapacity {
		return settings{}, fmt.Errorf("default_capacity %d exceeds max_capacity %d", s.core.DefaultCapacity, s.core.MaxCapacity)
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return settings{}, fmt.Errorf("timezone: %w", err)
		}
		s.core.Location = loc
	}
	if d := strings.TrimSpace(c.DefaultDeadline); d != "" {
		p := recruit.DeadlineParser{Location: s.core.Location}
		if _, err := p.Resolve(d, time.Now()); err != nil {
			return settings{}, fmt.Errorf("default_deadline: %w", err)
		}
		s.core.DefaultDeadline = d
	}
	var err error
	if s.sweepEvery, err = durationOr(c.SweepEvery, s.sweepEvery); err != nil {
		return settings{}, fmt.Errorf("sweep_every: %w", err)
	}
	if s.core.SweepGrace, err = durationOr(c.SweepGrace, s.core.SweepGrace); err != nil {
		return settings{}, fmt.Errorf("sweep_grace: %w", err)
	}
	if s.retention, err = durationOr(c.ArchiveRetention, s.retention); err != nil {
		return settings{}, fmt.Errorf("archive_retention: %w", err)
	}
	if at := strings.TrimSpace(c.PruneAt); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			return settings{}, fmt.Errorf("prune_at: want HH:MM, got %q", at)
		}
		s.pruneAt = at
	}
	if c.HistoryLimit > 0 {
		s.historyLimit = c.HistoryLimit
	}
	if c.NotifyOrganizer != nil {
		s.notifyOrganizer = *c.NotifyOrganizer
	}
	return s, nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}
	return d, nil
}
