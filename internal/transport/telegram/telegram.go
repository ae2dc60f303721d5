package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot long polling to the transport.Update channel and
// implements the outbound side of transport.Adapter.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFrom(m, nil),
		})
		return nil
	})

	media := func(kind transport.MediaKind, fileID func(*tele.Message) string) func(tele.Context) error {
		return func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Sender == nil {
				return nil
			}
			id := fileID(m)
			if id == "" {
				return nil
			}
			a.sendUpdate(transport.Update{
				Kind:    transport.UpdateMessage,
				Message: messageFrom(m, &transport.FileRef{Kind: kind, FileID: id}),
			})
			return nil
		}
	}
	a.bot.Handle(tele.OnDocument, media(transport.MediaDocument, func(m *tele.Message) string {
		if m.Document == nil {
			return ""
		}
		return m.Document.FileID
	}))
	// telebot already resolves m.Photo to the largest size variant.
	a.bot.Handle(tele.OnPhoto, media(transport.MediaPhoto, func(m *tele.Message) string {
		if m.Photo == nil {
			return ""
		}
		return m.Photo.FileID
	}))
	a.bot.Handle(tele.OnVideo, media(transport.MediaVideo, func(m *tele.Message) string {
		if m.Video == nil {
			return ""
		}
		return m.Video.FileID
	}))

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f"),
			},
		})
		return nil
	})
}

func messageFrom(m *tele.Message, media *transport.FileRef) *transport.Message {
	return &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		Media:        media,
	}
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.done = make(chan struct{})
	a.out.Store(out)
	done := a.done
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-ctx.Done():
				report()
				return
			case <-done:
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	}()

	// Stop telebot when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			a.bot.Stop()
		case <-done:
		}
	}()

	go func() {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	a.done = nil
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if done != nil {
		close(done)
	}
	// telebot Stop is expected to be fast; run it async just in case and
	// keep shutdown snappy even if the long-poll is still waiting.
	stopped := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(stopped)
	}()
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-stopped:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	case <-ctx.Done():
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyMarkup != nil {
		if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendFile(ctx context.Context, to transport.ChatTarget, file transport.FileRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var what any
	switch file.Kind {
	case transport.MediaPhoto:
		what = &tele.Photo{File: tele.File{FileID: file.FileID}}
	case transport.MediaVideo:
		what = &tele.Video{File: tele.File{FileID: file.FileID}}
	default:
		what = &tele.Document{File: tele.File{FileID: file.FileID}}
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what)
	return err
}

func (a *Adapter) MemberStatus(ctx context.Context, channelID, userID int64) (transport.MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: channelID}, &tele.User{ID: userID})
	if err != nil {
		return "", err
	}
	return transport.MemberStatus(member.Role), nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}
