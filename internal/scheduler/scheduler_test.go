package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mailerbot/internal/broadcast"
	"mailerbot/internal/campaign"
	"mailerbot/pkg/logx"
)

func targetDay() time.Time {
	return time.Date(2026, time.March, 15, 0, 30, 0, 0, time.UTC)
}

func armedStore() *campaign.Store {
	return campaign.New(campaign.Seed{Date: campaign.Date{Year: 2026, Month: time.March, Day: 15}})
}

func newTestService(store *campaign.Store, run RunFunc) *Service {
	s := New(Config{Enabled: true}, store, run, logx.Nop())
	s.backoff = 0
	return s
}

func TestTickFiresExactlyOnceOnMatchingDate(t *testing.T) {
	t.Parallel()
	store := armedStore()
	var runs int32
	s := newTestService(store, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	// Hourly ticks across the whole target day.
	for hour := 0; hour < 24; hour++ {
		s.now = func() time.Time { return targetDay().Add(time.Duration(hour) * time.Hour) }
		s.Tick(context.Background())
	}

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("broadcast launched %d times, want exactly 1", got)
	}
	if !store.Fired() {
		t.Fatal("campaign must be marked fired")
	}
	if !store.TargetDate().IsZero() {
		t.Fatalf("target date not cleared: %v", store.TargetDate())
	}
}

func TestTickDoesNothingOffDate(t *testing.T) {
	t.Parallel()
	store := armedStore()
	var runs int32
	s := newTestService(store, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	s.now = func() time.Time { return targetDay().AddDate(0, 0, -1) }
	s.Tick(context.Background())
	s.now = func() time.Time { return targetDay().AddDate(0, 0, 1) }
	s.Tick(context.Background())

	if atomic.LoadInt32(&runs) != 0 {
		t.Fatal("broadcast launched off the target date")
	}
	if store.Fired() {
		t.Fatal("campaign fired without a matching date")
	}
}

func TestTickDisarmsEvenWhenRunFails(t *testing.T) {
	t.Parallel()
	store := armedStore()
	s := newTestService(store, func(context.Context) error {
		return errors.New("transport down")
	})

	s.now = targetDay
	s.Tick(context.Background())

	if !store.Fired() {
		t.Fatal("a failed run must still disarm the campaign for the day")
	}
}

func TestTickBacksOffAfterFailedRun(t *testing.T) {
	t.Parallel()
	store := armedStore()
	s := newTestService(store, func(context.Context) error {
		return errors.New("transport down")
	})
	s.backoff = 50 * time.Millisecond

	s.now = targetDay
	start := time.Now()
	s.Tick(context.Background())

	if elapsed := time.Since(start); elapsed < s.backoff {
		t.Fatalf("failed tick returned after %v, want at least the %v backoff", elapsed, s.backoff)
	}
}

func TestTickToleratesRunInProgress(t *testing.T) {
	t.Parallel()
	store := armedStore()
	s := newTestService(store, func(context.Context) error {
		return broadcast.ErrRunInProgress
	})

	s.now = targetDay
	s.Tick(context.Background())

	if !store.Fired() {
		t.Fatal("skipped trigger must still disarm to avoid an hourly retry storm")
	}
}

func TestTickPanicDoesNotEscape(t *testing.T) {
	t.Parallel()
	store := armedStore()
	s := newTestService(store, func(context.Context) error {
		panic("boom")
	})

	s.now = targetDay
	s.Tick(context.Background()) // must not propagate

	// The next tick still evaluates normally.
	var runs int32
	s.run = func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	s.Tick(context.Background())
	if atomic.LoadInt32(&runs) != 1 {
		t.Fatal("scheduler stopped evaluating after a panicking tick")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	store := armedStore()
	s := newTestService(store, func(context.Context) error { return nil })

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent start.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Stop(ctx)
	s.Stop(ctx) // idempotent stop
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Not/AZone"}, armedStore(), func(context.Context) error { return nil }, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}
