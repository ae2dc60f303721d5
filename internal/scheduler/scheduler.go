// Package scheduler fires the campaign broadcast when the wall-clock
// date reaches the campaign's target date. Granularity is deliberately
// coarse: the trigger is a calendar day, so an hourly check is plenty.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mailerbot/internal/broadcast"
	"mailerbot/internal/campaign"
	"mailerbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"; empty = local
}

// RunFunc launches one broadcast run and blocks until it finishes.
type RunFunc func(ctx context.Context) error

type Service struct {
	cfg   Config
	store *campaign.Store
	run   RunFunc
	log   logx.Logger

	// now and backoff are swappable for tests.
	now     func() time.Time
	backoff time.Duration

	mu     sync.Mutex
	c      *cron.Cron
	stopCh chan struct{}
}

func New(cfg Config, store *campaign.Store, run RunFunc, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		run:     run,
		log:     log,
		now:     time.Now,
		backoff: time.Second,
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	s.now = func() time.Time { return time.Now().In(loc) }

	s.stopCh = make(chan struct{})
	s.c = cron.New(cron.WithLocation(loc))
	if _, err := s.c.AddFunc("@hourly", func() { s.Tick(ctx) }); err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.String("target", s.store.TargetDate().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		stop := s.c.Stop()
		select {
		case <-stop.Done():
		case <-ctx.Done():
		}
		s.c = nil
	}
	s.log.Info("scheduler stopped")
}

// Tick performs one trigger evaluation. A failing tick is contained here:
// it is logged and the next hourly tick proceeds as usual, so one bad
// evaluation can never disable future scheduling.
func (s *Service) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", logx.Any("panic", r))
			time.Sleep(s.backoff)
		}
	}()

	now := s.now()
	if !s.store.DueOn(now) {
		return
	}

	s.log.Info("campaign date reached; launching broadcast", logx.Time("now", now))
	err := s.run(ctx)
	// Disarm regardless of the run outcome so the same day cannot
	// re-trigger on a later tick.
	s.store.Disarm()

	switch {
	case err == nil:
	case errors.Is(err, broadcast.ErrRunInProgress):
		s.log.Warn("scheduled trigger skipped: run already active")
	default:
		s.log.Error("scheduled broadcast failed", logx.Err(err))
		time.Sleep(s.backoff)
	}
}
