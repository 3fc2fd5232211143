package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	logx "discowatch/pkg/logx"
)

type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	log logx.Logger

	// onChange is invoked by Watch() after a changed config was parsed,
	// validated and committed.
	onChange func(*Config)

	// lastHash avoids redundant publishes when the editor fires multiple
	// write events without content changes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// OnChange registers the callback Watch invokes after committing a changed
// config. Safe to call while a watch is running.
func (m *Manager) OnChange(fn func(cfg *Config)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) changeCallback() func(*Config) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onChange
}

// Parse reads and strictly decodes the config file, then overlays
// environment fallbacks. A missing file is not an error: the config is
// sourced from the environment alone (validation still applies).
func (m *Manager) Parse() (*Config, error) {
	var cfg Config

	b, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// env-only config
	case err != nil:
		return nil, err
	default:
		jb, cerr := coerceToJSONBytes(m.path, b)
		if cerr != nil {
			return nil, cerr
		}
		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		if derr := dec.Decode(&cfg); derr != nil {
			return nil, derr
		}
		// reject trailing tokens (e.g. concatenated JSON)
		if derr := dec.Decode(&struct{}{}); derr != io.EOF {
			if derr == nil {
				return nil, fmt.Errorf("invalid config: trailing data")
			}
			return nil, derr
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// Validate checks the values the watcher cannot start without.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return errors.New("telegram.bot_token is required")
	}
	if cfg.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}
	if _, err := ParseDurationField("monitoring.voice_monitoring_duration", cfg.Monitor.VoiceMonitoringDuration); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitoring.dm_check_duration", cfg.Monitor.DMCheckDuration); err != nil {
		return err
	}
	return nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Load parses, validates and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func hashBytes(b []byte) uint64 {
	// FNV-1a.
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
