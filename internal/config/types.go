package config

import "time"

// Config is the full on-disk configuration.
//
// The file may be YAML or JSON; YAML is coerced to JSON before decoding so
// both formats go through the same strict decoder (DisallowUnknownFields).
// Every credential and list also has an environment fallback, applied after
// the file is decoded; see env.go.
type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Monitor  MonitorConfig  `json:"monitoring"`
	Logging  LoggingConfig  `json:"logging"`
	State    StateConfig    `json:"state,omitempty"`

	// Schedule is an optional cron spec (e.g. "*/30 * * * *"). When set the
	// watcher repeats its monitoring pass on that schedule instead of
	// exiting after a single run.
	Schedule string `json:"schedule,omitempty"`
}

type DiscordConfig struct {
	// Token is a user-account token, not a bot token.
	Token string `json:"token"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`

	// AllowedUserIDs is a destination allow-list. When non-empty and ChatID
	// is not a member, sends are rejected (one unauthorized notice, then
	// silence).
	AllowedUserIDs []int64 `json:"allowed_user_ids"`
}

type MonitorConfig struct {
	TrackedUsers  []uint64 `json:"tracked_users"`
	TrackedGuilds []uint64 `json:"tracked_guilds"` // empty = all guilds

	// Timezone for timestamps in notifications (IANA name).
	Timezone string `json:"timezone"`

	// Durations are Go duration strings (e.g. "10m", "60s"). The env
	// fallbacks additionally accept bare integers, read as seconds.
	VoiceMonitoringDuration string `json:"voice_monitoring_duration,omitempty"`
	DMCheckDuration         string `json:"dm_check_duration,omitempty"`

	// FirstRunStrategy is "fast_forward" or "scan_recent". Only
	// fast_forward is implemented; scan_recent normalizes to it.
	FirstRunStrategy string `json:"first_run_strategy,omitempty"`
}

type StateConfig struct {
	// Path of the ledger file (one JSON document). Default "./state.json".
	Path string `json:"path,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Defaults mirrored from the durations the watcher assumed historically.
const (
	DefaultTimezone      = "Asia/Tehran"
	DefaultVoiceDuration = 10 * time.Minute
	DefaultQuickDuration = time.Minute
	DefaultStatePath     = "./state.json"

	StrategyFastForward = "fast_forward"
	StrategyScanRecent  = "scan_recent"
)

// VoiceDuration returns the monitoring window used when a tracked user was
// observed in a voice channel.
func (m MonitorConfig) VoiceDuration() time.Duration {
	d, err := ParseDurationField("monitoring.voice_monitoring_duration", m.VoiceMonitoringDuration)
	if err != nil || d <= 0 {
		return DefaultVoiceDuration
	}
	return d
}

// QuickDuration returns the short window used when no tracked voice
// activity was found.
func (m MonitorConfig) QuickDuration() time.Duration {
	d, err := ParseDurationField("monitoring.dm_check_duration", m.DMCheckDuration)
	if err != nil || d <= 0 {
		return DefaultQuickDuration
	}
	return d
}

// Strategy normalizes the first-run DM strategy.
func (m MonitorConfig) Strategy() string {
	switch m.FirstRunStrategy {
	case StrategyFastForward, StrategyScanRecent:
		return m.FirstRunStrategy
	default:
		return StrategyFastForward
	}
}

// StatePath returns the ledger path with its default applied.
func (s StateConfig) StatePath() string {
	if s.Path == "" {
		return DefaultStatePath
	}
	return s.Path
}
