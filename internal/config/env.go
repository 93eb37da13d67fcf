package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are read on every Parse, so a token rotated in the unit's
// environment wins over whatever sits in the file.
type envOverrides struct {
	// TOKEN is what older deployments export.
	Token       string `env:"TOKEN"`
	BotToken    string `env:"PARTYBOT_TELEGRAM_TOKEN"`
	LogLevel    string `env:"PARTYBOT_LOG_LEVEL"`
	StoragePath string `env:"PARTYBOT_STORAGE_PATH"`
}

// applyEnv overlays environment values on cfg. A nil environ reads the
// process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var ov envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&ov, opts); err != nil {
		var agg env.AggregateError
		if errors.As(err, &agg) && len(agg.Errors) > 0 {
			return fmt.Errorf("env: %w", agg.Errors[0])
		}
		return fmt.Errorf("env: %w", err)
	}

	if v := firstNonEmpty(ov.BotToken, ov.Token); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(ov.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(ov.StoragePath); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "file"}
		}
		cfg.Storage.Path = v
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
