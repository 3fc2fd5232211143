package watch

import (
	"context"
	"strings"
	"time"

	"discowatch/internal/discord"
	"discowatch/internal/notify"
	"discowatch/pkg/logx"
)

// DMPass walks every direct-message channel once, notifying messages newer
// than the channel's watermark. Per-channel failures are logged and skipped.
func (d *Detector) DMPass(ctx context.Context) {
	channels, err := d.src.DMChannels(ctx)
	if err != nil {
		d.log.Error("dm channel enumeration failed", logx.Err(err))
		return
	}
	for _, ch := range channels {
		ch := ch
		d.runGuarded("dm channel", func() {
			if err := d.CheckChannel(ctx, ch.ID); err != nil {
				d.log.Error("dm pass failed",
					logx.Uint64("channel_id", uint64(ch.ID)), logx.Err(err))
			}
		})
	}
}

// CheckChannel processes one DM channel. A channel never seen before is
// fast-forwarded without notifying; otherwise everything newer than the
// watermark is fetched and dispatched in author groups.
func (d *Detector) CheckChannel(ctx context.Context, channelID discord.Snowflake) error {
	cid := uint64(channelID)
	wm, seen := d.ledger.Watermark(cid)
	if !seen {
		msgs, err := d.fetchMessages(ctx, channelID, 1, 0)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			d.ledger.SetWatermark(cid, uint64(msgs[0].ID))
			d.log.Debug("channel bootstrapped",
				logx.Uint64("channel_id", cid),
				logx.Uint64("watermark", uint64(msgs[0].ID)))
		}
		return nil
	}

	msgs, err := d.fetchMessages(ctx, channelID, fetchLimit, discord.Snowflake(wm))
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	// The API returns newest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	d.processWindow(ctx, msgs)
	return nil
}

// processWindow applies the skip, suppression and grouping rules to an
// oldest-first message window from a single channel.
func (d *Detector) processWindow(ctx context.Context, msgs []discord.Message) {
	cid := uint64(msgs[0].ChannelID)

	lastSelf := -1
	for i, m := range msgs {
		d.msgCache[m.ID] = m
		if m.Author.ID == d.selfID {
			lastSelf = i
		}
	}

	var cur []discord.Message
	flush := func() {
		if len(cur) > 0 {
			d.dispatchGroup(ctx, cur)
			cur = nil
		}
	}
	for i, m := range msgs {
		if m.Author.ID == d.selfID {
			// Own message: nothing to notify, but it counts as processed.
			d.ledger.SetWatermark(cid, uint64(m.ID))
			continue
		}
		if i < lastSelf {
			// A later own message answered this one already.
			d.ledger.SetWatermark(cid, uint64(m.ID))
			continue
		}
		if d.ledger.WasNotified(uint64(m.ID)) {
			d.ledger.SetWatermark(cid, uint64(m.ID))
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			if m.Author.ID != prev.Author.ID || m.Timestamp.Sub(prev.Timestamp) > groupGap {
				flush()
			}
		}
		cur = append(cur, m)
	}
	flush()
}

// dispatchGroup sends one notification for a same-author message run and
// advances the watermark to the run's newest id whether or not delivery
// succeeded.
func (d *Detector) dispatchGroup(ctx context.Context, msgs []discord.Message) {
	first, last := msgs[0], msgs[len(msgs)-1]
	author := first.Author

	var parts []string
	var attachments []discord.Attachment
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
		attachments = append(attachments, m.Attachments...)
	}
	body := notify.FormatDM(author.DisplayName(), uint64(author.ID),
		uint64(first.ChannelID), uint64(last.ID),
		strings.Join(parts, "\n"), d.stamp(last.Timestamp))

	var err error
	if len(attachments) > 0 {
		for i, a := range attachments {
			caption := ""
			if i == 0 {
				caption = body
			}
			if e := d.notifier.SendMedia(ctx, a.BestURL(), caption); e != nil && err == nil {
				err = e
			}
		}
	} else {
		err = d.notifier.SendText(ctx, body, false)
	}
	if err != nil {
		d.log.Error("dm notification failed",
			logx.Uint64("channel_id", uint64(first.ChannelID)),
			logx.Uint64("author_id", uint64(author.ID)),
			logx.Err(err))
	}

	for _, m := range msgs {
		d.ledger.MarkNotified(uint64(m.ID))
	}
	d.ledger.SetWatermark(uint64(first.ChannelID), uint64(last.ID))
}

func (d *Detector) fetchMessages(ctx context.Context, channelID discord.Snowflake, limit int, after discord.Snowflake) ([]discord.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		msgs, err := d.src.Messages(ctx, channelID, limit, after)
		if err == nil {
			return msgs, nil
		}
		lastErr = err
		if attempt == fetchAttempts {
			break
		}
		backoff := time.Duration(1<<(attempt-1)) * time.Second
		d.log.Warn("history fetch failed, retrying",
			logx.Uint64("channel_id", uint64(channelID)),
			logx.Int("attempt", attempt),
			logx.Duration("backoff", backoff),
			logx.Err(err))
		if serr := d.sleep(ctx, backoff); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

func (d *Detector) runGuarded(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("recovered panic", logx.String("in", what), logx.Any("panic", r))
		}
	}()
	fn()
}
