package discord

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snowflake is a Discord entity id. The API serializes them as decimal
// strings; some payloads (and older state files) carry bare numbers, so the
// decoder accepts both.
type Snowflake uint64

func (s Snowflake) String() string { return strconv.FormatUint(uint64(s), 10) }

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snowflake %q: %w", b, err)
	}
	*s = Snowflake(n)
	return nil
}

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    string    `json:"global_name"`
	Avatar        *string   `json:"avatar"`
}

// Tag renders "username#1234", dropping the "#0" suffix of migrated
// accounts.
func (u User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// DisplayName prefers the global display name over the legacy tag.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Tag()
}

// AvatarURL resolves the CDN URL of the user's avatar ("" when unset).
func (u User) AvatarURL() string {
	if u.Avatar == nil || *u.Avatar == "" {
		return ""
	}
	ext := "png"
	if strings.HasPrefix(*u.Avatar, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.%s?size=1024", u.ID, *u.Avatar, ext)
}

type Attachment struct {
	ID          Snowflake `json:"id"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	ProxyURL    string    `json:"proxy_url"`
	ContentType string    `json:"content_type"`
}

// BestURL prefers the direct CDN URL, falling back to the proxy.
func (a Attachment) BestURL() string {
	if a.URL != "" {
		return a.URL
	}
	return a.ProxyURL
}

type Message struct {
	ID              Snowflake    `json:"id"`
	ChannelID       Snowflake    `json:"channel_id"`
	GuildID         Snowflake    `json:"guild_id,omitempty"`
	Author          User         `json:"author"`
	Content         string       `json:"content"`
	Timestamp       time.Time    `json:"timestamp"`
	EditedTimestamp *time.Time   `json:"edited_timestamp"`
	Attachments     []Attachment `json:"attachments"`
	Mentions        []User       `json:"mentions"`
}

// MentionsUser reports whether the message explicitly mentions a user id.
func (m Message) MentionsUser(id Snowflake) bool {
	for _, u := range m.Mentions {
		if u.ID == id {
			return true
		}
	}
	return false
}

type ChannelType int

const (
	ChannelGuildText  ChannelType = 0
	ChannelDM         ChannelType = 1
	ChannelGuildVoice ChannelType = 2
	ChannelGroupDM    ChannelType = 3
)

type Channel struct {
	ID         Snowflake   `json:"id"`
	Type       ChannelType `json:"type"`
	Name       string      `json:"name,omitempty"`
	GuildID    Snowflake   `json:"guild_id,omitempty"`
	Recipients []User      `json:"recipients,omitempty"`
}

// IsDM reports whether the channel is a direct or group direct channel.
func (c Channel) IsDM() bool {
	return c.Type == ChannelDM || c.Type == ChannelGroupDM
}

// RelationshipFriend is the relationship type of a confirmed friend.
const RelationshipFriend = 1

type Relationship struct {
	ID   Snowflake `json:"id"`
	Type int       `json:"type"`
	User User      `json:"user"`
}

type VoiceState struct {
	UserID    Snowflake `json:"user_id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	Member    *Member   `json:"member,omitempty"`
}

type Member struct {
	User User `json:"user"`
}

type Guild struct {
	ID          Snowflake    `json:"id"`
	Name        string       `json:"name"`
	Channels    []Channel    `json:"channels,omitempty"`
	VoiceStates []VoiceState `json:"voice_states,omitempty"`
}

type Reaction struct {
	UserID    Snowflake `json:"user_id"`
	ChannelID Snowflake `json:"channel_id"`
	MessageID Snowflake `json:"message_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	Emoji     Emoji     `json:"emoji"`
}

type Emoji struct {
	Name string `json:"name"`
}
