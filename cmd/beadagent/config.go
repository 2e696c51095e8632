package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/manager"
	"github.com/beadflow/agent-core/paths"
)

// config holds the user-tunable settings, loaded from config.yaml in the
// config directory with BEADAGENT_* environment overrides.
type config struct {
	Backend       backend.ID
	ResumeMode    manager.ResumeMode
	RetentionDays int
	Debug         bool
	EventBuffer   int
}

func loadConfig() (config, error) {
	configPath, err := paths.ConfigFilePath()
	if err != nil {
		return config{}, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BEADAGENT")
	v.AutomaticEnv()

	v.SetDefault("backend", string(backend.Claude))
	v.SetDefault("resume_mode", string(manager.ResumeSoft))
	v.SetDefault("retention_days", 30)
	v.SetDefault("debug", false)
	v.SetDefault("event_buffer", 256)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file means defaults; anything else is real.
		if _, statErr := os.Stat(configPath); statErr == nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := config{
		Backend:       backend.ID(v.GetString("backend")),
		ResumeMode:    manager.ResumeMode(v.GetString("resume_mode")),
		RetentionDays: v.GetInt("retention_days"),
		Debug:         v.GetBool("debug"),
		EventBuffer:   v.GetInt("event_buffer"),
	}

	switch cfg.ResumeMode {
	case manager.ResumeSoft, manager.ResumeHard:
	default:
		return config{}, fmt.Errorf("invalid resume_mode %q (want soft or hard)", cfg.ResumeMode)
	}
	if cfg.RetentionDays <= 0 {
		return config{}, fmt.Errorf("retention_days must be positive, got %d", cfg.RetentionDays)
	}

	return cfg, nil
}

func (c config) retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
