package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mailerbot/internal/admin"
	"mailerbot/internal/broadcast"
	"mailerbot/internal/campaign"
	"mailerbot/internal/gate"
	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

const operatorID int64 = 7

type sent struct {
	chat int64
	text string
	opt  *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sends   []sent
	files   []transport.FileRef
	answers []string
	// member[channelID] holds the status returned for every user.
	member map[int64]transport.MemberStatus
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{chat: to.ChatID, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendFile(_ context.Context, _ transport.ChatTarget, file transport.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return nil
}

func (f *fakeAdapter) MemberStatus(_ context.Context, channelID, _ int64) (transport.MemberStatus, error) {
	if st, ok := f.member[channelID]; ok {
		return st, nil
	}
	return transport.StatusLeft, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, callbackID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID)
	return nil
}

func (f *fakeAdapter) lastText(chat int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sends) - 1; i >= 0; i-- {
		if f.sends[i].chat == chat {
			return f.sends[i].text
		}
	}
	return ""
}

func (f *fakeAdapter) sentCount(chat int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.chat == chat {
			n++
		}
	}
	return n
}

func newRouter(channels []campaign.Channel, adapter *fakeAdapter) (*Router, *campaign.Store, *admin.Manager) {
	store := campaign.New(campaign.Seed{Text: "hello", Channels: channels})
	g := gate.New(channels, adapter, logx.Nop())
	adm := admin.NewManager(operatorID, store)
	bc := broadcast.New(broadcast.Config{
		RecipientInterval:  time.Millisecond,
		AttachmentInterval: time.Millisecond,
	}, store, g, adapter, operatorID, logx.Nop())
	return NewRouter(adapter, store, g, adm, bc, logx.Nop()), store, adm
}

func msg(from int64, text string) *transport.Message {
	return &transport.Message{ChatID: from, FromID: from, Text: text}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw string
		cmd string
		ok  bool
	}{
		{raw: "/start", cmd: "/start", ok: true},
		{raw: "/START", cmd: "/start", ok: true},
		{raw: "/admin@mailer_bot", cmd: "/admin", ok: true},
		{raw: "/mailing now please", cmd: "/mailing", ok: true},
		{raw: "hello", ok: false},
		{raw: "  ", ok: false},
	}
	for _, tt := range tests {
		cmd, ok := parseCommand(tt.raw)
		if ok != tt.ok || cmd != tt.cmd {
			t.Fatalf("parseCommand(%q) = %q,%v want %q,%v", tt.raw, cmd, ok, tt.cmd, tt.ok)
		}
	}
}

func TestStartRegistersAndReportsMissingChannels(t *testing.T) {
	t.Parallel()
	channels := []campaign.Channel{{ID: 10, Name: "@alpha"}, {ID: 20, Name: "@beta"}}
	adapter := &fakeAdapter{member: map[int64]transport.MemberStatus{10: transport.StatusMember}}
	r, store, _ := newRouter(channels, adapter)

	r.dispatch(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: msg(5, "/start")})

	if store.Summary().Recipients != 1 {
		t.Fatal("/start must register the caller")
	}
	reply := adapter.lastText(5)
	if !strings.Contains(reply, "@beta") || strings.Contains(reply, "@alpha") {
		t.Fatalf("reply should list only missing channels, got %q", reply)
	}
}

func TestStartFullySubscribed(t *testing.T) {
	t.Parallel()
	channels := []campaign.Channel{{ID: 10, Name: "@alpha"}}
	adapter := &fakeAdapter{member: map[int64]transport.MemberStatus{10: transport.StatusMember}}
	r, _, _ := newRouter(channels, adapter)

	r.dispatch(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: msg(5, "/start")})

	if reply := adapter.lastText(5); !strings.Contains(reply, "subscribed to all channels") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestOperatorOnlyCommandsAreDenied(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, adm := newRouter(nil, adapter)

	for _, cmd := range []string{"/admin", "/mailing"} {
		r.dispatch(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: msg(5, cmd)})
		if reply := adapter.lastText(5); reply != deniedReply {
			t.Fatalf("%s by stranger replied %q, want denied", cmd, reply)
		}
	}
	if store.Summary().Recipients != 0 {
		t.Fatal("denied admin commands must not register the caller")
	}
	if adm.State(5) != admin.StateNone {
		t.Fatal("denied commands must not change FSM state")
	}
}

func TestAdminMenuRendersSummaryWithButtons(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, _ := newRouter(nil, adapter)

	r.dispatch(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: msg(operatorID, "/admin")})

	if store.Summary().Recipients != 1 {
		t.Fatal("/admin must register the operator as a recipient")
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	last := adapter.sends[len(adapter.sends)-1]
	if !strings.Contains(last.text, "Admin panel") || !strings.Contains(last.text, "never") {
		t.Fatalf("menu text = %q", last.text)
	}
	if last.opt == nil || last.opt.ReplyMarkup == nil {
		t.Fatal("admin menu must carry inline buttons")
	}
}

func seqCallback(data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb-" + data, ChatID: operatorID, FromID: operatorID, Data: data,
	}}
}

func TestDateEditFlow(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, adm := newRouter(nil, adapter)
	ctx := context.Background()

	r.dispatch(ctx, seqCallback(cbChangeDate))
	if adm.State(operatorID) != admin.StateAwaitingDate {
		t.Fatalf("state = %v, want AwaitingDate", adm.State(operatorID))
	}
	if reply := adapter.lastText(operatorID); !strings.Contains(reply, "DD.MM.YYYY") {
		t.Fatalf("prompt = %q", reply)
	}

	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: msg(operatorID, "15.03.2026")})
	want := campaign.Date{Year: 2026, Month: time.March, Day: 15}
	if store.TargetDate() != want {
		t.Fatalf("target date = %v, want %v", store.TargetDate(), want)
	}
	if adm.State(operatorID) != admin.StateNone {
		t.Fatal("state must return to idle after a valid date")
	}

	// Re-enter the edit and submit garbage: rejected, date unchanged.
	r.dispatch(ctx, seqCallback(cbChangeDate))
	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: msg(operatorID, "bad-date")})
	if store.TargetDate() != want {
		t.Fatalf("invalid input changed the date to %v", store.TargetDate())
	}
	if adm.State(operatorID) != admin.StateAwaitingDate {
		t.Fatal("state must remain AwaitingDate after invalid input")
	}
}

func TestTextEditFlow(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, _ := newRouter(nil, adapter)
	ctx := context.Background()

	r.dispatch(ctx, seqCallback(cbChangeText))
	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: msg(operatorID, "fresh text")})

	if got := store.Summary().Text; got != "fresh text" {
		t.Fatalf("text = %q", got)
	}
}

func TestFileCollectionFlow(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, adm := newRouter(nil, adapter)
	ctx := context.Background()

	r.dispatch(ctx, seqCallback(cbAddFiles))
	for i, id := range []string{"doc1", "doc2"} {
		m := msg(operatorID, "")
		m.Media = &transport.FileRef{Kind: transport.MediaDocument, FileID: id}
		r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: m})
		if got := store.Summary().Attachments; got != i+1 {
			t.Fatalf("attachments = %d, want %d", got, i+1)
		}
	}
	if adm.State(operatorID) != admin.StateAwaitingFiles {
		t.Fatal("file collection must stay armed between files")
	}

	// Re-opening the menu exits the collection loop.
	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: msg(operatorID, "/admin")})
	if adm.State(operatorID) != admin.StateNone {
		t.Fatal("/admin must reset the FSM")
	}
}

func TestStrangerContentRegistersRecipient(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, _ := newRouter(nil, adapter)
	ctx := context.Background()

	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: msg(11, "hi bot")})
	m := msg(12, "")
	m.Media = &transport.FileRef{Kind: transport.MediaPhoto, FileID: "p"}
	r.dispatch(ctx, transport.Update{Kind: transport.UpdateMessage, Message: m})

	if got := store.Summary().Recipients; got != 2 {
		t.Fatalf("recipients = %d, want 2", got)
	}
	if got := store.Summary().Attachments; got != 0 {
		t.Fatal("stranger media must not become a campaign attachment")
	}
}

func TestStrangerCallbackDenied(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, _, adm := newRouter(nil, adapter)

	r.dispatch(context.Background(), transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb1", ChatID: 5, FromID: 5, Data: cbChangeDate,
	}})

	if adm.State(5) != admin.StateNone {
		t.Fatal("stranger callback must not arm an edit")
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.answers) != 1 {
		t.Fatal("stranger callback must still be answered")
	}
}

func TestSendMailingCallbackRunsBroadcast(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	r, store, _ := newRouter(nil, adapter)
	store.Register(21)
	ctx := context.Background()

	r.dispatch(ctx, seqCallback(cbSendMailing))

	// The run is asynchronous; wait for the recipient's text to land.
	deadline := time.After(2 * time.Second)
	for adapter.sentCount(21) == 0 {
		select {
		case <-deadline:
			t.Fatal("recipient never received the broadcast")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
