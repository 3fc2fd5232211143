package notify

import (
	"fmt"
	"html"
	"strings"
)

// Telegram HTML helpers. Values returned by the Format* functions are
// already escaped and safe for ParseMode=HTML.

func esc(s string) string { return html.EscapeString(s) }

func link(text, url string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, esc(url), esc(text))
}

// Deep links into the chat platform's client.

func ProfileURL(userID uint64) string {
	return fmt.Sprintf("https://discord.com/channels/@me/%d", userID)
}

func DMMessageURL(channelID, messageID uint64) string {
	return fmt.Sprintf("https://discord.com/channels/@me/%d/%d", channelID, messageID)
}

func ChannelURL(guildID, channelID uint64) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d", guildID, channelID)
}

func GuildMessageURL(guildID, channelID, messageID uint64) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d", guildID, channelID, messageID)
}

// FormatDM renders a new-direct-message notification.
func FormatDM(displayName string, userID, channelID, messageID uint64, content, timeShort string) string {
	var b strings.Builder
	b.WriteString("<b>📩 New DM</b>\n\n")
	b.WriteString("• <b>From:</b> " + link(displayName, ProfileURL(userID)) + "\n")
	b.WriteString("• <b>Time:</b> " + link(timeShort, DMMessageURL(channelID, messageID)) + "\n\n")
	b.WriteString(esc(content))
	return b.String()
}

// FormatProfileUpdate renders a username/avatar change notification.
func FormatProfileUpdate(username string, userID uint64, changed, oldValue, newValue, timeShort string) string {
	var b strings.Builder
	b.WriteString("<b>👤 Profile Updated</b>\n\n")
	b.WriteString("• <b>User:</b> " + link(username, ProfileURL(userID)) + "\n")
	b.WriteString("• <b>Changed:</b> " + esc(changed) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timeShort) + "\n\n")
	b.WriteString("• <b>Old:</b> " + esc(oldValue) + "\n")
	b.WriteString("• <b>New:</b> " + esc(newValue))
	return b.String()
}

// FormatAvatarCaption renders the caption attached to a new-avatar photo.
func FormatAvatarCaption(username string, userID uint64, timeShort string) string {
	var b strings.Builder
	b.WriteString("<b>👤 Profile Updated</b>\n\n")
	b.WriteString("• <b>User:</b> " + link(username, ProfileURL(userID)) + "\n")
	b.WriteString("• <b>Changed:</b> avatar\n")
	b.WriteString("• <b>Time:</b> " + esc(timeShort))
	return b.String()
}

// VoiceMember is one co-present member in a voice-channel notification.
type VoiceMember struct {
	Name   string
	UserID uint64
}

// FormatVoice renders a tracked-user-in-voice-channel notification.
func FormatVoice(username string, userID uint64, channelName string, guildID, channelID uint64, serverName, timeShort string, with []VoiceMember) string {
	var b strings.Builder
	b.WriteString("<b>🔊 Voice Channel</b>\n\n")
	b.WriteString("• <b>User:</b> " + link(username, ProfileURL(userID)) + "\n")
	b.WriteString("• <b>Channel:</b> " + link(channelName, ChannelURL(guildID, channelID)) + "\n")
	b.WriteString("• <b>Server:</b> " + esc(serverName) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timeShort) + "\n")
	if len(with) > 0 {
		links := make([]string, 0, len(with))
		for _, m := range with {
			if m.UserID != 0 {
				links = append(links, link(m.Name, ProfileURL(m.UserID)))
			} else {
				links = append(links, esc(m.Name))
			}
		}
		b.WriteString("\n• <b>With:</b> " + strings.Join(links, ", "))
	}
	return b.String()
}

// FormatEdited renders a DM-edit notification.
func FormatEdited(sender, oldContent, newContent, timestamp string) string {
	var b strings.Builder
	b.WriteString("<b>✏️ Message Edited</b>\n\n")
	b.WriteString("• <b>From:</b> " + esc(sender) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timestamp) + "\n\n")
	b.WriteString("• <b>Old:</b> " + esc(oldContent) + "\n")
	b.WriteString("• <b>New:</b> " + esc(newContent))
	return b.String()
}

// FormatDeleted renders a DM-delete notification.
func FormatDeleted(sender, content, timestamp string) string {
	var b strings.Builder
	b.WriteString("<b>🗑️ Message Deleted</b>\n\n")
	b.WriteString("• <b>From:</b> " + esc(sender) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timestamp) + "\n\n")
	b.WriteString("• <b>Content:</b> " + esc(content))
	return b.String()
}

// FormatReaction renders a reaction-added notification.
func FormatReaction(sender, emoji, messageContent, timestamp string) string {
	var b strings.Builder
	b.WriteString("<b>👍 Reaction Added</b>\n\n")
	b.WriteString("• <b>From:</b> " + esc(sender) + "\n")
	b.WriteString("• <b>Emoji:</b> " + esc(emoji) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timestamp) + "\n\n")
	b.WriteString("• <b>Message:</b> " + esc(messageContent))
	return b.String()
}

// FormatFriendRemoved renders a relationship-removed notification.
func FormatFriendRemoved(username, timestamp string) string {
	var b strings.Builder
	b.WriteString("<b>💔 Friend Removed</b>\n\n")
	b.WriteString("• <b>User:</b> " + esc(username) + "\n")
	b.WriteString("• <b>Time:</b> " + esc(timestamp))
	return b.String()
}

// FormatMention renders a guild-mention notification.
func FormatMention(guildName, channelName, sender, messageURL, content, timeShort string) string {
	var b strings.Builder
	b.WriteString("<b>@ Mention</b>\n\n")
	b.WriteString("• <b>Guild:</b> " + esc(guildName) + "\n")
	b.WriteString("• <b>Channel:</b> " + esc(channelName) + "\n")
	b.WriteString("• <b>From:</b> " + esc(sender) + "\n")
	if messageURL != "" {
		b.WriteString("• <b>Time:</b> " + link(timeShort, messageURL) + "\n\n")
	} else {
		b.WriteString("• <b>Time:</b> " + esc(timeShort) + "\n\n")
	}
	b.WriteString(esc(content))
	return b.String()
}

// FormatSummary renders the compact daily statistics message.
func FormatSummary(guildCount, friendTotal int) string {
	return fmt.Sprintf("<b>👤 Statistics</b>\n\n• <b>Total Guilds:</b> %d\n• <b>Total Friends:</b> %d",
		guildCount, friendTotal)
}
