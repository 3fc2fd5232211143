// Package watch holds the change-detection core: it compares what the
// account currently sees (direct messages, profiles, voice channels) against
// the persisted ledger and turns genuine changes into notifications.
package watch

import (
	"context"
	"sync"
	"time"

	"discowatch/internal/discord"
	"discowatch/internal/ledger"
	"discowatch/pkg/logx"
)

const (
	// groupGap is the largest silence between two messages of the same
	// author that still lands them in one notification group.
	groupGap = 600 * time.Second

	fetchAttempts = 3
	fetchLimit    = 50

	friendsAttempts = 5

	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

// Source is the on-demand side of the chat connection.
type Source interface {
	DMChannels(ctx context.Context) ([]discord.Channel, error)
	Messages(ctx context.Context, channelID discord.Snowflake, limit int, after discord.Snowflake) ([]discord.Message, error)
	Relationships(ctx context.Context) ([]discord.Relationship, error)
	FetchUser(ctx context.Context, id discord.Snowflake) (discord.User, error)
	FetchChannel(ctx context.Context, id discord.Snowflake) (discord.Channel, error)
}

// Presence is the gateway-fed cache the voice and summary passes read.
type Presence interface {
	VoiceChannels() []discord.VoiceChannelView
	KnownUser(id discord.Snowflake) (discord.User, bool)
	GuildName(id discord.Snowflake) (string, bool)
	GuildCount() int
}

// Notifier delivers rendered notifications.
type Notifier interface {
	SendText(ctx context.Context, text string, silent bool) error
	SendMedia(ctx context.Context, mediaURL, caption string) error
}

// Options wires a Detector.
type Options struct {
	Source   Source
	Presence Presence
	Notifier Notifier
	Ledger   *ledger.Ledger
	Log      logx.Logger

	SelfID        discord.Snowflake
	TrackedUsers  []uint64
	TrackedGuilds []uint64
	Location      *time.Location
}

// Detector runs the polling passes and consumes pushed events. All passes
// are sequential; the only cross-goroutine access is the tracked-set update
// from a config reload, guarded by mu.
type Detector struct {
	src      Source
	presence Presence
	notifier Notifier
	ledger   *ledger.Ledger
	log      logx.Logger

	selfID discord.Snowflake
	tz     *time.Location

	mu            sync.Mutex
	tracked       map[discord.Snowflake]struct{}
	trackedGuilds map[discord.Snowflake]struct{}

	// msgCache keeps message content seen during this run so edit and
	// delete events can show what changed.
	msgCache map[discord.Snowflake]discord.Message

	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Detector {
	d := &Detector{
		src:      opts.Source,
		presence: opts.Presence,
		notifier: opts.Notifier,
		ledger:   opts.Ledger,
		log:      opts.Log,
		selfID:   opts.SelfID,
		tz:       opts.Location,
		msgCache: make(map[discord.Snowflake]discord.Message),
		sleep:    sleepContext,
	}
	if d.tz == nil {
		d.tz = time.UTC
	}
	d.SetTracked(opts.TrackedUsers, opts.TrackedGuilds)
	return d
}

// SetTracked replaces the tracked user and guild sets. Called on config
// reload while the monitoring window is open.
func (d *Detector) SetTracked(users, guilds []uint64) {
	tu := make(map[discord.Snowflake]struct{}, len(users))
	for _, id := range users {
		tu[discord.Snowflake(id)] = struct{}{}
	}
	tg := make(map[discord.Snowflake]struct{}, len(guilds))
	for _, id := range guilds {
		tg[discord.Snowflake(id)] = struct{}{}
	}
	d.mu.Lock()
	d.tracked = tu
	d.trackedGuilds = tg
	d.mu.Unlock()
}

func (d *Detector) isTracked(id discord.Snowflake) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tracked[id]
	return ok
}

func (d *Detector) trackedUserIDs() []discord.Snowflake {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]discord.Snowflake, 0, len(d.tracked))
	for id := range d.tracked {
		ids = append(ids, id)
	}
	return ids
}

// guildWatched reports whether guild events should be relayed. An empty
// tracked-guild list means every guild.
func (d *Detector) guildWatched(id discord.Snowflake) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.trackedGuilds) == 0 {
		return true
	}
	_, ok := d.trackedGuilds[id]
	return ok
}

func (d *Detector) stamp(t time.Time) string {
	return t.In(d.tz).Format(timeLayout)
}

// resolveUser returns the fullest user object available for an id, trying
// the gateway cache before a REST lookup.
func (d *Detector) resolveUser(ctx context.Context, u discord.User) discord.User {
	if u.Username != "" {
		return u
	}
	if known, ok := d.presence.KnownUser(u.ID); ok {
		return known
	}
	fetched, err := d.src.FetchUser(ctx, u.ID)
	if err != nil {
		d.log.Debug("user lookup failed", logx.Uint64("user_id", uint64(u.ID)), logx.Err(err))
		return u
	}
	return fetched
}

func sleepContext(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
