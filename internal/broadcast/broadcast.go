// Package broadcast delivers the campaign to every known recipient that
// passes the membership gate, at a bounded rate, tolerating per-recipient
// failures. A run is best-effort: it produces a Report, not a guarantee.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailerbot/internal/campaign"
	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

// ErrRunInProgress rejects a trigger that arrives while a run is active.
// Runs are serialized so no recipient is messaged twice for one trigger
// burst; the caller decides whether to retry.
var ErrRunInProgress = errors.New("a broadcast run is already in progress")

// Sender is the outbound slice of the transport the executor needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendFile(ctx context.Context, to transport.ChatTarget, file transport.FileRef) error
}

// Gate decides whether a recipient qualifies for delivery.
type Gate interface {
	Check(ctx context.Context, userID int64) (ok bool, missing []string)
}

type Config struct {
	// RecipientInterval paces the per-recipient loop; AttachmentInterval
	// paces consecutive file sends to one recipient.
	RecipientInterval  time.Duration
	AttachmentInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecipientInterval <= 0 {
		c.RecipientInterval = 100 * time.Millisecond
	}
	if c.AttachmentInterval <= 0 {
		c.AttachmentInterval = 300 * time.Millisecond
	}
	return c
}

// Report summarizes one run. Total is the size of the recipient snapshot,
// so Total == Succeeded + Failed + GatedOut always holds.
type Report struct {
	Total     int
	Succeeded int
	Failed    int
	GatedOut  int
}

type Service struct {
	cfg        Config
	store      *campaign.Store
	gate       Gate
	sender     Sender
	operatorID int64
	log        logx.Logger

	mu      sync.Mutex
	running bool
}

func New(cfg Config, store *campaign.Store, gate Gate, sender Sender, operatorID int64, log logx.Logger) *Service {
	return &Service{
		cfg:        cfg.withDefaults(),
		store:      store,
		gate:       gate,
		sender:     sender,
		operatorID: operatorID,
		log:        log,
	}
}

// Running reports whether a run is currently active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run executes one fan-out and notifies the operator with the report.
// It returns ErrRunInProgress without side effects if a run is active.
// Any failure outside the per-recipient loop is contained here: logged,
// reported to the operator as a critical notice, never propagated as a
// panic.
func (s *Service) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Report{}, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	rep, err := s.run(ctx)
	if err != nil {
		s.log.Error("broadcast run failed", logx.Err(err))
		s.notifyOperator(ctx, fmt.Sprintf("⛔ Broadcast failed: %v", err))
	}
	return rep, err
}

func (s *Service) run(ctx context.Context) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast run panicked: %v", r)
		}
	}()

	start := time.Now()
	snap := s.store.Snapshot()
	rep.Total = len(snap.Recipients)

	s.log.Info("broadcast run started",
		logx.Int("recipients", rep.Total), logx.Int("attachments", len(snap.Attachments)))
	s.notifyOperator(ctx, fmt.Sprintf("📤 Broadcast started for %d recipients...", rep.Total))

	recipLim := rate.NewLimiter(rate.Every(s.cfg.RecipientInterval), 1)
	fileLim := rate.NewLimiter(rate.Every(s.cfg.AttachmentInterval), 1)

	for _, userID := range snap.Recipients {
		if werr := recipLim.Wait(ctx); werr != nil {
			return rep, werr
		}
		ok, _ := s.gate.Check(ctx, userID)
		if !ok {
			rep.GatedOut++
			continue
		}
		if derr := s.deliver(ctx, userID, snap, fileLim); derr != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			s.log.Warn("delivery failed", logx.Int64("user", userID), logx.Err(derr))
			continue
		}
		rep.Succeeded++
	}

	s.log.Info("broadcast run finished",
		logx.Int("total", rep.Total), logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed), logx.Int("gated_out", rep.GatedOut),
		logx.Duration("dur", time.Since(start)))

	if nerr := s.sendReport(ctx, rep); nerr != nil {
		return rep, fmt.Errorf("deliver report: %w", nerr)
	}
	return rep, nil
}

// deliver sends the text and then each attachment, in order, to one
// recipient. The first failure aborts that recipient only.
func (s *Service) deliver(ctx context.Context, userID int64, snap campaign.Content, fileLim *rate.Limiter) error {
	to := transport.ChatTarget{ChatID: userID}
	if _, err := s.sender.SendText(ctx, to, snap.Text, nil); err != nil {
		return err
	}
	for _, f := range snap.Attachments {
		if err := fileLim.Wait(ctx); err != nil {
			return err
		}
		if err := s.sender.SendFile(ctx, to, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) sendReport(ctx context.Context, rep Report) error {
	text := fmt.Sprintf(
		"✅ Broadcast finished!\n👥 Total: %d\n✔️ Delivered: %d\n✖️ Failed: %d\n🚫 Not subscribed: %d",
		rep.Total, rep.Succeeded, rep.Failed, rep.GatedOut,
	)
	_, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: s.operatorID}, text, nil)
	return err
}

// notifyOperator is best-effort; a lost notice must not fail the run.
func (s *Service) notifyOperator(ctx context.Context, text string) {
	if _, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: s.operatorID}, text, nil); err != nil {
		s.log.Warn("operator notification failed", logx.Err(err))
	}
}
