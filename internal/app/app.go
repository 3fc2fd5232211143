// Package app wires the configuration, ledger, chat connection, detector
// and dispatcher into one runnable watcher.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"discowatch/internal/config"
	"discowatch/internal/discord"
	"discowatch/internal/ledger"
	"discowatch/internal/notify"
	"discowatch/internal/watch"
	"discowatch/pkg/logx"
)

const readyTimeout = 60 * time.Second

type App struct {
	cfgm   *config.Manager
	log    logx.Logger
	led    *ledger.Ledger
	sender *notify.Sender
	client *discord.Client
	tz     *time.Location
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	tzName := cfg.Monitor.Timezone
	if tzName == "" {
		tzName = config.DefaultTimezone
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warn("unknown timezone, using UTC", logx.String("timezone", tzName))
		tz = time.UTC
	}

	sender, err := notify.New(notify.Config{
		Token:          cfg.Telegram.BotToken,
		ChatID:         cfg.Telegram.ChatID,
		AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	return &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		led:    ledger.Open(cfg.State.StatePath(), log.With(logx.String("comp", "ledger"))),
		sender: sender,
		client: discord.NewClient(cfg.Discord.Token, log.With(logx.String("comp", "discord"))),
		tz:     tz,
	}, nil
}

// Run executes a single monitoring pass, or keeps repeating it on the
// configured cron schedule until the context ends.
func (a *App) Run(ctx context.Context) error {
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	spec := a.cfgm.Get().Schedule
	if spec == "" {
		return a.runOnce(ctx)
	}

	// Schedule mode: one pass now, then repeat on the cron spec. A pass
	// still in flight when the next tick fires is not overlapped.
	if err := a.runOnce(ctx); err != nil {
		a.log.Error("monitoring pass failed", logx.Err(err))
	}
	c := cron.New(
		cron.WithLocation(a.tz),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		if err := a.runOnce(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("monitoring pass failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// runOnce is the whole original lifecycle: connect, poll everything once,
// then keep consuming pushed events for a bounded window and flush the
// ledger on the way out.
func (a *App) runOnce(ctx context.Context) error {
	cfg := a.cfgm.Get()

	gwCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gw := discord.NewGateway(cfg.Discord.Token, a.log.With(logx.String("comp", "gateway")))
	events := make(chan discord.Event, 64)
	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.Run(gwCtx, events) }()

	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	err := gw.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return fmt.Errorf("gateway ready: %w", err)
	}
	self, ok := gw.Self()
	if !ok {
		return fmt.Errorf("gateway ready without self user")
	}
	a.log.Info("connected",
		logx.String("user", self.Tag()),
		logx.Int("guilds", gw.GuildCount()))

	det := watch.New(watch.Options{
		Source:        a.client,
		Presence:      gw,
		Notifier:      a.sender,
		Ledger:        a.led,
		Log:           a.log.With(logx.String("comp", "watch")),
		SelfID:        self.ID,
		TrackedUsers:  cfg.Monitor.TrackedUsers,
		TrackedGuilds: cfg.Monitor.TrackedGuilds,
		Location:      a.tz,
	})
	a.cfgm.OnChange(func(next *config.Config) {
		det.SetTracked(next.Monitor.TrackedUsers, next.Monitor.TrackedGuilds)
	})

	// Leftovers from runs that tracked live message state.
	a.led.Delete("messages")
	a.led.Delete("voice_states")

	det.DMPass(ctx)
	det.ProfilePass(ctx, time.Now())

	friends, err := det.FriendsPass(ctx, time.Now())
	if err != nil {
		a.log.Error("friends pass failed", logx.Err(err))
	}
	det.DailySummary(ctx, time.Now(), friends)

	window := cfg.Monitor.QuickDuration()
	if det.VoicePass(ctx, time.Now()) {
		window = cfg.Monitor.VoiceDuration()
	}
	a.log.Info("monitoring window open", logx.Duration("window", window))

	deadline := time.NewTimer(window)
	defer deadline.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case ev := <-events:
			det.HandleEvent(ctx, ev, time.Now())
		case err := <-gwDone:
			if ctx.Err() == nil {
				a.log.Error("gateway connection lost", logx.Err(err))
			}
			break loop
		}
	}
	cancel()

	if err := a.led.Flush(); err != nil {
		a.log.Warn("ledger flush failed", logx.Err(err))
	}
	return nil
}

// Close releases the logger's file sink.
func (a *App) Close() error { return a.log.Close() }
