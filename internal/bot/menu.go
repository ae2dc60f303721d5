package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"mailerbot/internal/campaign"
	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

// Callback data values for the admin menu buttons.
const (
	cbSendMailing = "send_mailing"
	cbChangeDate  = "change_date"
	cbChangeText  = "change_text"
	cbAddFiles    = "add_files"
)

func (r *Router) sendMenu(ctx context.Context, chatID int64) {
	sum := r.store.Summary()
	opt := &transport.SendOptions{ReplyMarkup: adminMenuMarkup()}
	if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, adminMenuText(sum), opt); err != nil {
		r.log.Warn("admin menu send failed", logx.Err(err))
	}
}

func adminMenuText(sum campaign.Summary) string {
	return fmt.Sprintf(
		"⚙️ Admin panel\n\n📅 Mailing date: %s\n📝 Text: %s\n📎 Files: %d\n👥 Recipients: %d",
		sum.Date, sum.Text, sum.Attachments, sum.Recipients,
	)
}

func adminMenuMarkup() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(tele.Btn{Text: "🔄 Start mailing", Data: cbSendMailing}),
		rm.Row(tele.Btn{Text: "📅 Change date", Data: cbChangeDate}),
		rm.Row(tele.Btn{Text: "📝 Change text", Data: cbChangeText}),
		rm.Row(tele.Btn{Text: "📎 Add files", Data: cbAddFiles}),
	)
	return rm
}
