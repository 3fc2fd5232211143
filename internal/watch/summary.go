package watch

import (
	"context"
	"strings"
	"time"

	"discowatch/internal/notify"
	"discowatch/pkg/logx"
)

// DailySummary sends the statistics message at most once per local calendar
// day. The sent marker is only recorded on a successful delivery so a
// failed day is retried on the next run.
func (d *Detector) DailySummary(ctx context.Context, now time.Time, friendCount int) {
	local := now.In(d.tz)
	today := local.Format(dateLayout)
	if strings.HasPrefix(d.ledger.SummarySentAt(), today) {
		return
	}

	msg := notify.FormatSummary(d.presence.GuildCount(), friendCount)
	if err := d.notifier.SendText(ctx, msg, true); err != nil {
		d.log.Error("daily summary failed", logx.Err(err))
		return
	}
	d.ledger.SetSummarySentAt(local.Format(timeLayout))
}
