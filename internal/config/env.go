package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment fallbacks. File values win; env fills whatever the file left
// empty. "None" is treated as unset for parity with older deployments that
// exported literal None from templating.
const (
	envDiscordToken     = "DISCORD_TOKEN"
	envTelegramToken    = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID   = "TELEGRAM_CHAT_ID"
	envTelegramAllowed  = "TELEGRAM_ALLOWED_USER_IDS"
	envTrackedUsers     = "DISCORD_TRACKED_USERS"
	envTrackedGuilds    = "DISCORD_TRACKED_GUILDS"
	envTimezone         = "TIMEZONE"
	envVoiceDuration    = "VOICE_MONITORING_DURATION"
	envQuickDuration    = "DM_CHECK_DURATION"
	envFirstRunStrategy = "FIRST_RUN_STRATEGY"
)

func getenv(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "None" {
		return ""
	}
	return v
}

func applyEnv(cfg *Config) {
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = getenv(envDiscordToken)
	}
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = getenv(envTelegramToken)
	}
	if cfg.Telegram.ChatID == 0 {
		if id, err := strconv.ParseInt(getenv(envTelegramChatID), 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if len(cfg.Telegram.AllowedUserIDs) == 0 {
		cfg.Telegram.AllowedUserIDs = parseInt64CSV(getenv(envTelegramAllowed))
	}
	if len(cfg.Monitor.TrackedUsers) == 0 {
		cfg.Monitor.TrackedUsers = parseUint64CSV(getenv(envTrackedUsers))
	}
	if len(cfg.Monitor.TrackedGuilds) == 0 {
		cfg.Monitor.TrackedGuilds = parseUint64CSV(getenv(envTrackedGuilds))
	}
	if cfg.Monitor.Timezone == "" {
		cfg.Monitor.Timezone = getenv(envTimezone)
	}
	if cfg.Monitor.Timezone == "" {
		cfg.Monitor.Timezone = DefaultTimezone
	}
	if cfg.Monitor.VoiceMonitoringDuration == "" {
		if d, ok := parseEnvDuration(getenv(envVoiceDuration)); ok {
			cfg.Monitor.VoiceMonitoringDuration = d.String()
		}
	}
	if cfg.Monitor.DMCheckDuration == "" {
		if d, ok := parseEnvDuration(getenv(envQuickDuration)); ok {
			cfg.Monitor.DMCheckDuration = d.String()
		}
	}
	if cfg.Monitor.FirstRunStrategy == "" {
		cfg.Monitor.FirstRunStrategy = strings.ToLower(getenv(envFirstRunStrategy))
	}
}

func parseInt64CSV(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

func parseUint64CSV(s string) []uint64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}
