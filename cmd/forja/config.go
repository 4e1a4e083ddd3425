package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all forja server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string            `json:"listen_addr"`
	BaseURL         string            `json:"base_url"`
	DBPath          string            `json:"db_path"`
	LogLevel        string            `json:"log_level"`
	EngineBaseURL   string            `json:"engine_base_url"`
	EngineAPIKey    string            `json:"engine_api_key"`
	WebhookOverride map[string]string `json:"webhook_overrides"`

	TriggerTimeoutSec int `json:"trigger_timeout_sec"`
	StepWaitSec       int `json:"step_wait_sec"`
	PollIntervalMS    int `json:"poll_interval_ms"`
	StaleAfterMin     int `json:"stale_after_min"`

	SweepCron  string `json:"sweep_cron"`
	VacuumCron string `json:"vacuum_cron"`

	MCP bool `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		DBPath:            filepath.Join(forjaDir(), "forja.db"),
		LogLevel:          "info",
		EngineBaseURL:     "http://localhost:5678",
		TriggerTimeoutSec: 90,
		StepWaitSec:       60,
		PollIntervalMS:    2000,
		StaleAfterMin:     30,
		SweepCron:         "*/10 * * * *",
		VacuumCron:        "0 3 * * *",
	}
}

func forjaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forja"
	}
	return filepath.Join(home, ".forja")
}

func settingsPath() string {
	return filepath.Join(forjaDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FORJA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FORJA_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FORJA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FORJA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FORJA_ENGINE_BASE_URL"); v != "" {
		cfg.EngineBaseURL = v
	}
	if v := os.Getenv("FORJA_ENGINE_API_KEY"); v != "" {
		cfg.EngineAPIKey = v
	}
	if v := os.Getenv("FORJA_TRIGGER_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TriggerTimeoutSec = n
		}
	}
	if v := os.Getenv("FORJA_STEP_WAIT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepWaitSec = n
		}
	}
	if v := os.Getenv("FORJA_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMS = n
		}
	}
	if v := os.Getenv("FORJA_STALE_AFTER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleAfterMin = n
		}
	}
	if v := os.Getenv("FORJA_SWEEP_CRON"); v != "" {
		cfg.SweepCron = v
	}
	if v := os.Getenv("FORJA_VACUUM_CRON"); v != "" {
		cfg.VacuumCron = v
	}
	if v := os.Getenv("FORJA_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	return cfg
}

func (c Config) triggerTimeout() time.Duration {
	return time.Duration(c.TriggerTimeoutSec) * time.Second
}

func (c Config) stepWait() time.Duration {
	return time.Duration(c.StepWaitSec) * time.Second
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) staleAfter() time.Duration {
	return time.Duration(c.StaleAfterMin) * time.Minute
}
