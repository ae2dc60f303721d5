// Package bot routes inbound updates: the three commands, the admin-menu
// callbacks, and free-form content. Everything that is not an operator
// action feeds the recipient registry.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailerbot/internal/admin"
	"mailerbot/internal/broadcast"
	"mailerbot/internal/campaign"
	"mailerbot/internal/gate"
	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

const deniedReply = "⛔ You don't have permission to do that!"

type Router struct {
	adapter transport.Adapter
	store   *campaign.Store
	gate    *gate.Checker
	admin   *admin.Manager
	bcast   *broadcast.Service
	log     logx.Logger
}

func NewRouter(adapter transport.Adapter, store *campaign.Store, g *gate.Checker, adm *admin.Manager, bc *broadcast.Service, log logx.Logger) *Router {
	return &Router{
		adapter: adapter,
		store:   store,
		gate:    g,
		admin:   adm,
		bcast:   bc,
		log:     log,
	}
}

// Run consumes updates until the channel closes or ctx is done.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	if m.Media != nil {
		r.handleMedia(ctx, m)
		return
	}
	if cmd, ok := parseCommand(m.Text); ok {
		r.handleCommand(ctx, cmd, m)
		return
	}
	r.handleText(ctx, m)
}

// parseCommand extracts "/cmd" from "/cmd@botname args", lowercased.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := text
	if i := strings.IndexAny(cmd, " \t\n"); i >= 0 {
		cmd = cmd[:i]
	}
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}

func (r *Router) handleCommand(ctx context.Context, cmd string, m *transport.Message) {
	switch cmd {
	case "/start":
		r.cmdStart(ctx, m)
	case "/admin":
		r.cmdAdmin(ctx, m)
	case "/mailing":
		r.cmdMailing(ctx, m)
	default:
		// Unknown commands are not interactions worth registering.
	}
}

func (r *Router) cmdStart(ctx context.Context, m *transport.Message) {
	r.store.Register(m.FromID)

	ok, missing := r.gate.Check(ctx, m.FromID)
	if ok {
		r.reply(ctx, m.ChatID, "✅ You're subscribed to all channels! Expect the mailing.")
		return
	}
	var b strings.Builder
	b.WriteString("📢 To get access to the materials, subscribe to our channels:\n")
	for _, name := range missing {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("After subscribing, hit /start again to re-check.")
	r.reply(ctx, m.ChatID, b.String())
}

func (r *Router) cmdAdmin(ctx context.Context, m *transport.Message) {
	if err := r.admin.Reset(m.FromID); err != nil {
		r.reply(ctx, m.ChatID, deniedReply)
		return
	}
	r.store.Register(m.FromID)
	r.sendMenu(ctx, m.ChatID)
}

func (r *Router) cmdMailing(ctx context.Context, m *transport.Message) {
	if err := r.admin.Authorize(m.FromID); err != nil {
		r.reply(ctx, m.ChatID, deniedReply)
		return
	}
	r.reply(ctx, m.ChatID, "🔄 Starting the broadcast...")
	r.launchRun(ctx)
}

func (r *Router) handleText(ctx context.Context, m *transport.Message) {
	if r.admin.Authorize(m.FromID) == nil && r.admin.State(m.FromID) != admin.StateNone {
		out, err := r.admin.HandleText(m.FromID, m.Text)
		if err == nil && r.applyOutcome(ctx, m.ChatID, out) {
			return
		}
	}
	r.store.Register(m.FromID)
}

func (r *Router) handleMedia(ctx context.Context, m *transport.Message) {
	if r.admin.Authorize(m.FromID) == nil && r.admin.State(m.FromID) == admin.StateAwaitingFiles {
		out, err := r.admin.HandleFile(m.FromID, *m.Media)
		if err == nil && r.applyOutcome(ctx, m.ChatID, out) {
			return
		}
	}
	r.store.Register(m.FromID)
}

// applyOutcome renders the FSM result. It reports whether the input was
// consumed by a pending edit.
func (r *Router) applyOutcome(ctx context.Context, chatID int64, out admin.Outcome) bool {
	switch out.Kind {
	case admin.OutcomeDateUpdated:
		r.reply(ctx, chatID, "📅 New date: "+out.Date.String())
		r.sendMenu(ctx, chatID)
	case admin.OutcomeDateInvalid:
		r.reply(ctx, chatID, "That doesn't look like a valid date. Use DD.MM.YYYY, e.g. 15.03.2026.")
	case admin.OutcomeTextUpdated:
		r.reply(ctx, chatID, "📝 Text updated!")
		r.sendMenu(ctx, chatID)
	case admin.OutcomeFileAdded:
		r.reply(ctx, chatID, fmt.Sprintf("📎 File added! Total files: %d", out.Total))
	default:
		return false
	}
	return true
}

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) {
	if err := r.admin.Authorize(cb.FromID); err != nil {
		r.answer(ctx, cb.ID, deniedReply)
		return
	}

	switch cb.Data {
	case cbSendMailing:
		r.answer(ctx, cb.ID, "Broadcast starting...")
		r.launchRun(ctx)
	case cbChangeDate:
		r.answer(ctx, cb.ID, "")
		if r.admin.Begin(cb.FromID, admin.StateAwaitingDate) == nil {
			r.reply(ctx, cb.ChatID, "Enter the date (DD.MM.YYYY):")
		}
	case cbChangeText:
		r.answer(ctx, cb.ID, "")
		if r.admin.Begin(cb.FromID, admin.StateAwaitingText) == nil {
			r.reply(ctx, cb.ChatID, "Enter the new text:")
		}
	case cbAddFiles:
		r.answer(ctx, cb.ID, "")
		if r.admin.Begin(cb.FromID, admin.StateAwaitingFiles) == nil {
			r.reply(ctx, cb.ChatID,
				"Send the files for the mailing (documents, photos, videos).\nWhen you're done, use /admin to return to the menu.")
		}
	default:
		r.answer(ctx, cb.ID, "")
	}
}

// launchRun starts a broadcast without blocking the update loop, which is
// how the manual triggers behave; the final report reaches the operator
// from inside the run.
func (r *Router) launchRun(ctx context.Context) {
	go func() {
		_, err := r.bcast.Run(ctx)
		if errors.Is(err, broadcast.ErrRunInProgress) {
			r.reply(ctx, r.admin.OperatorID(), "⏳ A broadcast is already running; this trigger was ignored.")
		}
	}()
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string) {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		r.log.Warn("callback answer failed", logx.Err(err))
	}
}
