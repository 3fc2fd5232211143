package watch

import (
	"context"
	"time"

	"discowatch/internal/discord"
	"discowatch/internal/notify"
	"discowatch/pkg/logx"
)

// HandleEvent consumes one pushed gateway event during the monitoring
// window. A panic inside any handler is contained to that one event.
func (d *Detector) HandleEvent(ctx context.Context, ev discord.Event, now time.Time) {
	d.runGuarded("gateway event", func() {
		switch ev.Kind {
		case discord.EventMessageCreate:
			d.onMessage(ctx, *ev.Message)
		case discord.EventMessageUpdate:
			d.onMessageEdit(ctx, *ev.Message, now)
		case discord.EventMessageDelete:
			d.onMessageDelete(ctx, *ev.Deleted, now)
		case discord.EventReactionAdd:
			d.onReaction(ctx, *ev.Reaction, now)
		case discord.EventRelationshipRemove:
			d.onRelationshipRemove(ctx, *ev.Relationship, now)
		case discord.EventVoiceStateUpdate:
			d.onVoiceState(ctx, *ev.VoiceState, now)
		}
	})
}

func (d *Detector) onMessage(ctx context.Context, m discord.Message) {
	if m.Author.ID == d.selfID {
		d.msgCache[m.ID] = m
		return
	}
	if m.GuildID != 0 {
		d.onGuildMessage(ctx, m)
		return
	}

	d.msgCache[m.ID] = m
	if d.ledger.WasNotified(uint64(m.ID)) {
		return
	}
	d.dispatchGroup(ctx, []discord.Message{m})
}

// onGuildMessage relays mentions of the local account from watched guilds.
func (d *Detector) onGuildMessage(ctx context.Context, m discord.Message) {
	if !m.MentionsUser(d.selfID) || !d.guildWatched(m.GuildID) {
		return
	}
	guildName, ok := d.presence.GuildName(m.GuildID)
	if !ok {
		guildName = m.GuildID.String()
	}
	channelName := m.ChannelID.String()
	if ch, err := d.src.FetchChannel(ctx, m.ChannelID); err == nil && ch.Name != "" {
		channelName = ch.Name
	}
	msg := notify.FormatMention(guildName, channelName, m.Author.DisplayName(),
		notify.GuildMessageURL(uint64(m.GuildID), uint64(m.ChannelID), uint64(m.ID)),
		m.Content, d.stamp(m.Timestamp))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("mention notification failed",
			logx.Uint64("guild_id", uint64(m.GuildID)), logx.Err(err))
	}
}

func (d *Detector) onMessageEdit(ctx context.Context, m discord.Message, now time.Time) {
	if m.GuildID != 0 || m.Author.ID == d.selfID {
		return
	}
	old, cached := d.msgCache[m.ID]
	if !cached || old.Content == m.Content {
		d.msgCache[m.ID] = m
		return
	}
	d.msgCache[m.ID] = m

	when := now
	if m.EditedTimestamp != nil {
		when = *m.EditedTimestamp
	}
	msg := notify.FormatEdited(m.Author.DisplayName(), old.Content, m.Content, d.stamp(when))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("edit notification failed",
			logx.Uint64("message_id", uint64(m.ID)), logx.Err(err))
	}
}

func (d *Detector) onMessageDelete(ctx context.Context, dm discord.DeletedMessage, now time.Time) {
	old, cached := d.msgCache[dm.ID]
	delete(d.msgCache, dm.ID)
	if !cached || dm.GuildID != 0 || old.Author.ID == d.selfID {
		// Content of uncached deletions is unrecoverable.
		return
	}
	msg := notify.FormatDeleted(old.Author.DisplayName(), old.Content, d.stamp(now))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("delete notification failed",
			logx.Uint64("message_id", uint64(dm.ID)), logx.Err(err))
	}
}

func (d *Detector) onReaction(ctx context.Context, r discord.Reaction, now time.Time) {
	if r.UserID == d.selfID || r.GuildID != 0 {
		return
	}
	target, cached := d.msgCache[r.MessageID]
	if !cached {
		return
	}
	who := d.resolveUser(ctx, discord.User{ID: r.UserID})
	name := who.DisplayName()
	if name == "" {
		name = r.UserID.String()
	}
	msg := notify.FormatReaction(name, r.Emoji.Name, target.Content, d.stamp(now))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("reaction notification failed",
			logx.Uint64("message_id", uint64(r.MessageID)), logx.Err(err))
	}
}

func (d *Detector) onRelationshipRemove(ctx context.Context, rel discord.Relationship, now time.Time) {
	if rel.Type != discord.RelationshipFriend {
		return
	}
	u := rel.User
	if u.Username == "" {
		u = d.resolveUser(ctx, discord.User{ID: rel.ID})
	}
	name := u.Tag()
	if name == "" {
		name = rel.ID.String()
	}
	msg := notify.FormatFriendRemoved(name, d.stamp(now))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("friend removal notification failed",
			logx.Uint64("user_id", uint64(rel.ID)), logx.Err(err))
	}
	d.ledger.ClearProfile(uint64(rel.ID))
}

// onVoiceState notifies a tracked user joining a voice channel mid-window.
// The gateway already folded the state into its presence cache.
func (d *Detector) onVoiceState(ctx context.Context, vs discord.VoiceState, now time.Time) {
	if vs.ChannelID == 0 || !d.isTracked(vs.UserID) {
		return
	}
	for _, ch := range d.presence.VoiceChannels() {
		if ch.ChannelID != vs.ChannelID {
			continue
		}
		for _, member := range ch.Members {
			if member.ID == vs.UserID {
				d.notifyVoice(ctx, member, ch, now)
				return
			}
		}
	}
}
