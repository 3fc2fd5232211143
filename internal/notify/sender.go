package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "discowatch/pkg/logx"
)

// Transport limits and retry policy. A chunk gets up to sendAttempts
// deliveries; 5xx-class and network failures back off linearly
// (1s x attempt), any other API rejection fails the chunk immediately.
const (
	maxChunkRunes = 4096
	sendAttempts  = 3
)

// ErrUnauthorized is returned when the configured destination is not in the
// allow-list. The first rejection sends a one-time notice; later ones are
// silent.
var ErrUnauthorized = errors.New("notify: destination not authorized")

type Config struct {
	Token          string
	ChatID         int64
	AllowedUserIDs []int64

	// APIURL overrides the Bot API root (tests).
	APIURL string
}

// Sender delivers notifications to one Telegram destination.
type Sender struct {
	bot     *tele.Bot
	dest    tele.ChatID
	allowed map[int64]struct{}
	limiter *rate.Limiter
	media   mediaFetcher
	log     logx.Logger

	// sleep is the backoff primitive, injectable so retry tests run
	// without real clocks.
	sleep func(ctx context.Context, d time.Duration) error

	warnedUnauthorized bool
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if cfg.Token == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline skips the getMe probe; the sender never polls for updates.
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}

	allowed := make(map[int64]struct{}, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = struct{}{}
	}

	return &Sender{
		bot:     bot,
		dest:    tele.ChatID(cfg.ChatID),
		allowed: allowed,
		// Telegram tolerates ~30 msg/s per bot; stay well below.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		media:   newMediaFetcher(),
		log:     log,
		sleep:   sleepContext,
	}, nil
}

// SendText delivers a formatted HTML message, splitting it into hard
// 4096-rune chunks. Success requires every chunk to be delivered.
func (s *Sender) SendText(ctx context.Context, text string, silent bool) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	var firstErr error
	for _, chunk := range chunkText(text, maxChunkRunes) {
		if err := s.sendChunk(ctx, chunk, silent); err != nil {
			s.log.Error("telegram send failed", logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Sender) sendChunk(ctx context.Context, chunk string, silent bool) error {
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		DisableNotification:   silent,
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := s.bot.Send(s.dest, chunk, opts)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
		s.log.Warn("telegram send failed, retrying",
			logx.Int("attempt", attempt), logx.Err(err))
		if attempt < sendAttempts {
			if err := s.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// chunkText splits s into fixed-size rune chunks. The 4096 limit is a hard
// transport bound, so splitting is positional, not word-aware.
func chunkText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); start += limit {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		out = append(out, string(rs[start:end]))
	}
	return out
}

// retryable classifies a telebot send error: flood and 5xx-class API
// responses plus network-level failures are transient; everything else is a
// permanent rejection.
func retryable(err error) bool {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return true
	}
	var api *tele.Error
	if errors.As(err, &api) {
		return api.Code >= 500
	}
	if code, ok := apiErrorCode(err); ok {
		return code >= 500
	}
	return true
}

// apiErrorCode recovers the numeric code from telebot's untyped fallback
// for API descriptions it does not recognize: "telegram: <desc> (<code>)".
func apiErrorCode(err error) (int, bool) {
	s := err.Error()
	if !strings.HasPrefix(s, "telegram:") || !strings.HasSuffix(s, ")") {
		return 0, false
	}
	i := strings.LastIndex(s, "(")
	if i < 0 {
		return 0, false
	}
	code, cerr := strconv.Atoi(s[i+1 : len(s)-1])
	if cerr != nil {
		return 0, false
	}
	return code, true
}

func (s *Sender) guard(ctx context.Context) error {
	if len(s.allowed) == 0 {
		return nil
	}
	if _, ok := s.allowed[int64(s.dest)]; ok {
		return nil
	}
	if !s.warnedUnauthorized {
		s.warnedUnauthorized = true
		s.log.Warn("destination not in allow-list, sending unauthorized notice",
			logx.Int64("chat_id", int64(s.dest)))
		// Best-effort, single attempt.
		_, _ = s.bot.Send(s.dest,
			"<b>Unauthorized</b>\n\nYou are not allowed to receive notifications.",
			&tele.SendOptions{ParseMode: tele.ModeHTML})
	}
	return ErrUnauthorized
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
