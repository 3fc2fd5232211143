package discord

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"discowatch/pkg/logx"
)

func dispatchJSON(t *testing.T, g *Gateway, typ, payload string) (Event, bool) {
	t.Helper()
	return g.dispatch(typ, json.RawMessage(payload))
}

func TestReadySeedsSelfAndVoiceCache(t *testing.T) {
	g := NewGateway("token", logx.Nop())

	ev, ok := dispatchJSON(t, g, "READY", `{
		"user": {"id": "1", "username": "me", "discriminator": "0"},
		"guilds": [{
			"id": "10",
			"name": "Guild",
			"channels": [
				{"id": "20", "type": 2, "name": "General"},
				{"id": "21", "type": 0, "name": "text"}
			],
			"voice_states": [
				{"user_id": "30", "channel_id": "20", "member": {"user": {"id": "30", "username": "alice"}}}
			]
		}]
	}`)
	if !ok || ev.Kind != EventReady {
		t.Fatalf("READY not dispatched: %+v, %v", ev, ok)
	}

	self, ok := g.Self()
	if !ok || self.ID != 1 {
		t.Fatalf("self = %+v, %v", self, ok)
	}
	if g.GuildCount() != 1 {
		t.Fatalf("guild count = %d", g.GuildCount())
	}
	if name, ok := g.GuildName(10); !ok || name != "Guild" {
		t.Fatalf("GuildName = %q, %v", name, ok)
	}

	ctxDone, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.WaitReady(ctxDone); err != nil {
		t.Fatalf("WaitReady after READY: %v", err)
	}

	chans := g.VoiceChannels()
	if len(chans) != 1 {
		t.Fatalf("got %d voice channels, want 1", len(chans))
	}
	ch := chans[0]
	if ch.ChannelName != "General" || ch.GuildName != "Guild" {
		t.Fatalf("channel view = %+v", ch)
	}
	if len(ch.Members) != 1 || ch.Members[0].Username != "alice" {
		t.Fatalf("members = %+v", ch.Members)
	}
}

func TestVoiceStateUpdateMovesAndRemoves(t *testing.T) {
	g := NewGateway("token", logx.Nop())
	dispatchJSON(t, g, "READY", `{
		"user": {"id": "1", "username": "me"},
		"guilds": [{
			"id": "10", "name": "Guild",
			"channels": [
				{"id": "20", "type": 2, "name": "A"},
				{"id": "21", "type": 2, "name": "B"}
			]
		}]
	}`)

	// Join channel A.
	ev, ok := dispatchJSON(t, g, "VOICE_STATE_UPDATE",
		`{"guild_id": "10", "user_id": "30", "channel_id": "20", "member": {"user": {"id": "30", "username": "alice"}}}`)
	if !ok || ev.Kind != EventVoiceStateUpdate {
		t.Fatalf("update not dispatched")
	}
	if got := g.VoiceChannels(); len(got) != 1 || got[0].ChannelID != 20 {
		t.Fatalf("after join: %+v", got)
	}

	// Move to channel B.
	dispatchJSON(t, g, "VOICE_STATE_UPDATE",
		`{"guild_id": "10", "user_id": "30", "channel_id": "21"}`)
	if got := g.VoiceChannels(); len(got) != 1 || got[0].ChannelID != 21 {
		t.Fatalf("after move: %+v", got)
	}

	// Disconnect (null channel).
	dispatchJSON(t, g, "VOICE_STATE_UPDATE",
		`{"guild_id": "10", "user_id": "30", "channel_id": null}`)
	if got := g.VoiceChannels(); len(got) != 0 {
		t.Fatalf("after leave: %+v", got)
	}
}

func TestDispatchParsesMessageEvents(t *testing.T) {
	g := NewGateway("token", logx.Nop())

	ev, ok := dispatchJSON(t, g, "MESSAGE_CREATE",
		`{"id": "5", "channel_id": "6", "author": {"id": "7", "username": "bob"}, "content": "hi", "timestamp": "2026-08-30T12:00:00Z"}`)
	if !ok || ev.Kind != EventMessageCreate || ev.Message == nil || ev.Message.Content != "hi" {
		t.Fatalf("MESSAGE_CREATE: %+v, %v", ev, ok)
	}
	// The author lands in the user cache for later name resolution.
	if u, ok := g.KnownUser(7); !ok || u.Username != "bob" {
		t.Fatalf("author not cached: %+v, %v", u, ok)
	}

	ev, ok = dispatchJSON(t, g, "MESSAGE_DELETE", `{"id": "5", "channel_id": "6"}`)
	if !ok || ev.Kind != EventMessageDelete || ev.Deleted.ID != 5 {
		t.Fatalf("MESSAGE_DELETE: %+v, %v", ev, ok)
	}

	ev, ok = dispatchJSON(t, g, "MESSAGE_REACTION_ADD",
		`{"user_id": "7", "channel_id": "6", "message_id": "5", "emoji": {"name": "👍"}}`)
	if !ok || ev.Kind != EventReactionAdd || ev.Reaction.Emoji.Name != "👍" {
		t.Fatalf("MESSAGE_REACTION_ADD: %+v, %v", ev, ok)
	}

	ev, ok = dispatchJSON(t, g, "RELATIONSHIP_REMOVE",
		`{"id": "7", "type": 1}`)
	if !ok || ev.Kind != EventRelationshipRemove || ev.Relationship.ID != 7 {
		t.Fatalf("RELATIONSHIP_REMOVE: %+v, %v", ev, ok)
	}

	if _, ok := dispatchJSON(t, g, "TYPING_START", `{}`); ok {
		t.Fatalf("unknown dispatch types must be dropped")
	}
}

func TestGuildCreateMergesIntoCache(t *testing.T) {
	g := NewGateway("token", logx.Nop())
	dispatchJSON(t, g, "READY", `{"user": {"id": "1"}, "guilds": []}`)

	if _, ok := dispatchJSON(t, g, "GUILD_CREATE", `{
		"id": "10", "name": "Late Guild",
		"channels": [{"id": "20", "type": 2, "name": "General"}],
		"voice_states": [{"user_id": "30", "channel_id": "20"}]
	}`); ok {
		t.Fatalf("GUILD_CREATE is cache-only, not an event")
	}
	if g.GuildCount() != 1 {
		t.Fatalf("guild not merged")
	}
	if got := g.VoiceChannels(); len(got) != 1 || got[0].GuildName != "Late Guild" {
		t.Fatalf("voice cache = %+v", got)
	}
}
