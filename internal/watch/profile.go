package watch

import (
	"context"
	"time"

	"discowatch/internal/discord"
	"discowatch/internal/ledger"
	"discowatch/internal/notify"
	"discowatch/pkg/logx"
)

// ProfilePass refreshes every explicitly tracked user over REST and
// notifies profile changes.
func (d *Detector) ProfilePass(ctx context.Context, now time.Time) {
	for _, id := range d.trackedUserIDs() {
		id := id
		d.runGuarded("tracked profile", func() {
			u, err := d.src.FetchUser(ctx, id)
			if err != nil {
				d.log.Error("profile fetch failed",
					logx.Uint64("user_id", uint64(id)), logx.Err(err))
				return
			}
			d.CheckProfile(ctx, u, now)
		})
	}
}

// FriendsPass enumerates the account's relationships and runs the profile
// check on every confirmed friend. Enumeration is retried because the
// relationship list is occasionally empty right after connecting. Returns
// the friend count.
func (d *Detector) FriendsPass(ctx context.Context, now time.Time) (int, error) {
	var rels []discord.Relationship
	var err error
	for attempt := 1; attempt <= friendsAttempts; attempt++ {
		rels, err = d.src.Relationships(ctx)
		if err == nil && len(rels) > 0 {
			break
		}
		if attempt == friendsAttempts {
			break
		}
		if serr := d.sleep(ctx, time.Second); serr != nil {
			return 0, serr
		}
	}
	if err != nil {
		return 0, err
	}

	friends := 0
	for _, rel := range rels {
		if rel.Type != discord.RelationshipFriend {
			continue
		}
		friends++
		u := rel.User
		d.runGuarded("friend profile", func() {
			d.CheckProfile(ctx, d.resolveUser(ctx, u), now)
		})
	}
	return friends, nil
}

// CheckProfile compares a freshly observed user against the stored snapshot
// and notifies at most one change, avatar taking priority over username.
// The snapshot is overwritten either way.
func (d *Detector) CheckProfile(ctx context.Context, u discord.User, now time.Time) {
	uid := uint64(u.ID)
	stored, _ := d.ledger.Profile(uid)
	observed := ledger.Snapshot{Username: u.Tag(), Avatar: u.Avatar}

	switch {
	case !sameAvatar(stored.Avatar, observed.Avatar):
		d.notifyAvatarChange(ctx, u, stored, now)
	case stored.Username != observed.Username:
		msg := notify.FormatProfileUpdate(observed.Username, uid, "username",
			orNone(stored.Username), observed.Username, d.stamp(now))
		if err := d.notifier.SendText(ctx, msg, false); err != nil {
			d.log.Error("username change notification failed",
				logx.Uint64("user_id", uid), logx.Err(err))
		}
	}

	d.ledger.SetProfile(uid, observed)
}

func (d *Detector) notifyAvatarChange(ctx context.Context, u discord.User, stored ledger.Snapshot, now time.Time) {
	uid := uint64(u.ID)
	if url := u.AvatarURL(); url != "" {
		caption := notify.FormatAvatarCaption(u.Tag(), uid, d.stamp(now))
		err := d.notifier.SendMedia(ctx, url, caption)
		if err == nil {
			return
		}
		d.log.Warn("avatar photo delivery failed, falling back to text",
			logx.Uint64("user_id", uid), logx.Err(err))
	}
	msg := notify.FormatProfileUpdate(u.Tag(), uid, "avatar",
		orNone(deref(stored.Avatar)), orNone(deref(u.Avatar)), d.stamp(now))
	if err := d.notifier.SendText(ctx, msg, false); err != nil {
		d.log.Error("avatar change notification failed",
			logx.Uint64("user_id", uid), logx.Err(err))
	}
}

func sameAvatar(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
