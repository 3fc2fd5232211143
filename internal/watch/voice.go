package watch

import (
	"context"
	"time"

	"discowatch/internal/discord"
	"discowatch/internal/notify"
	"discowatch/pkg/logx"
)

// VoicePass scans the gateway's presence cache and notifies every tracked
// member currently sitting in a voice channel, listing who they are with.
// There is no dedup state: every pass that still finds them notifies again.
// The return value reports whether any tracked user was found, which
// selects the long monitoring window.
func (d *Detector) VoicePass(ctx context.Context, now time.Time) bool {
	active := false
	for _, ch := range d.presence.VoiceChannels() {
		for _, member := range ch.Members {
			if !d.isTracked(member.ID) {
				continue
			}
			active = true
			member, ch := member, ch
			d.runGuarded("voice channel", func() {
				d.notifyVoice(ctx, member, ch, now)
			})
		}
	}
	return active
}

func (d *Detector) notifyVoice(ctx context.Context, member discord.User, ch discord.VoiceChannelView, now time.Time) {
	member = d.resolveUser(ctx, member)

	with := make([]notify.VoiceMember, 0, len(ch.Members))
	for _, other := range ch.Members {
		if other.ID == member.ID {
			continue
		}
		other = d.resolveUser(ctx, other)
		name := other.DisplayName()
		if name == "" {
			name = other.ID.String()
		}
		with = append(with, notify.VoiceMember{Name: name, UserID: uint64(other.ID)})
	}

	msg := notify.FormatVoice(member.Tag(), uint64(member.ID),
		ch.ChannelName, uint64(ch.GuildID), uint64(ch.ChannelID),
		ch.GuildName, d.stamp(now), with)
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("voice notification failed",
			logx.Uint64("user_id", uint64(member.ID)),
			logx.Uint64("channel_id", uint64(ch.ChannelID)),
			logx.Err(err))
	}
}
