// Package app wires the bot together: config, logging, the Telegram
// adapter, the campaign aggregate, and the services around it.
package app

import (
	"context"
	"fmt"
	"sync"

	"mailerbot/internal/admin"
	"mailerbot/internal/bot"
	"mailerbot/internal/broadcast"
	"mailerbot/internal/campaign"
	"mailerbot/internal/config"
	"mailerbot/internal/gate"
	"mailerbot/internal/scheduler"
	"mailerbot/internal/transport"
	"mailerbot/internal/transport/telegram"
	"mailerbot/pkg/logx"
)

// updateBuffer absorbs short bursts from the poll loop so slow handlers
// don't immediately drop updates.
const updateBuffer = 128

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter *telegram.Adapter
	store   *campaign.Store
	sched   *scheduler.Service
	router  *bot.Router

	updates chan transport.Update
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	cfgMgr := config.NewManager(cfgPath, boot.With(logx.String("comp", "config")))
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.ParseDuration(cfg.Telegram.PollTimeout, 0),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	channels := make([]campaign.Channel, 0, len(cfg.Campaign.Channels))
	for _, ch := range cfg.Campaign.Channels {
		channels = append(channels, campaign.Channel{ID: ch.ID, Name: ch.Name})
	}
	store := campaign.New(campaign.Seed{
		Date:     cfg.Campaign.TargetDate(),
		Text:     cfg.Campaign.Text,
		Channels: channels,
	})

	checker := gate.New(store.Channels(), adapter, log.With(logx.String("comp", "gate")))
	adm := admin.NewManager(cfg.Telegram.OperatorID, store)

	bcast := broadcast.New(broadcast.Config{
		RecipientInterval:  config.ParseDuration(cfg.Broadcast.RecipientInterval, 0),
		AttachmentInterval: config.ParseDuration(cfg.Broadcast.AttachmentInterval, 0),
	}, store, checker, adapter, cfg.Telegram.OperatorID, log.With(logx.String("comp", "broadcast")))

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Timezone: cfg.Scheduler.Timezone,
	}, store, func(ctx context.Context) error {
		_, err := bcast.Run(ctx)
		return err
	}, log.With(logx.String("comp", "scheduler")))

	router := bot.NewRouter(adapter, store, checker, adm, bcast, log.With(logx.String("comp", "router")))

	return &App{
		cfgMgr:  cfgMgr,
		logSvc:  logSvc,
		log:     log,
		adapter: adapter,
		store:   store,
		sched:   sched,
		router:  router,
		updates: make(chan transport.Update, updateBuffer),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.updates)
	}()

	if a.sched.Enabled() {
		if err := a.sched.Start(runCtx); err != nil {
			cancel()
			return err
		}
	} else {
		a.log.Warn("scheduler disabled; campaign will only fire manually")
	}

	// Config hot reload only re-applies the logging level; everything else
	// is fixed for the process lifetime.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.cfgMgr.Watch(runCtx, func(cfg *config.Config) {
			a.logSvc.Apply(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
		})
		if err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	a.log.Info("bot started", logx.String("target_date", a.store.TargetDate().String()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop(ctx)
	err := a.adapter.Stop(ctx)
	a.wg.Wait()
	a.log.Info("bot stopped")
	return err
}
