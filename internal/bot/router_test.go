package bot

import (
	"context"
	"strings"
	"testing"

	"gasbot/internal/flow"
	"gasbot/internal/session"
	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
)

type sent struct {
	chat kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	sent     []sent
	answered []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.sent = append(f.sent, sent{chat: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, callbackID, _ string) error {
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeAdapter) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1].text
}

func testEngine(t *testing.T, submitted *[]map[string]string) *flow.Engine {
	t.Helper()
	eng := flow.NewEngine(session.NewStore(), logx.Nop())
	err := eng.Register(&flow.Flow{
		Name:  "add_host",
		Title: "Add host",
		Steps: []flow.Step{
			{
				Field:  "name",
				Prompt: "Host name?",
				Validate: func(_ context.Context, _ map[string]string, in string) (string, error) {
					in = strings.TrimSpace(in)
					if in == "" {
						return "", flow.Invalid("Name cannot be empty.")
					}
					return in, nil
				},
			},
		},
		ConfirmPrompt: func(scratch map[string]string) string {
			return "Add host " + scratch["name"] + "?"
		},
		Submit: func(_ context.Context, _ int64, scratch map[string]string) error {
			if submitted != nil {
				*submitted = append(*submitted, scratch)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register flow: %v", err)
	}
	return eng
}

func msgUpdate(fromID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: fromID, FromID: fromID, Text: text,
	}}
}

func cbUpdate(fromID int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", FromID: fromID, ChatID: fromID, Data: data,
	}}
}

func TestCommandRouting(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)

	var gotArgs []string
	r.Register(Command{
		Name:        "ping",
		Description: "ping",
		Handle: func(ctx context.Context, req *Request) error {
			gotArgs = req.Args
			return req.Reply(ctx, "pong")
		},
	})

	r.dispatch(context.Background(), msgUpdate(1, "/PING@SomeBot a b"))
	if ad.lastText(t) != "pong" {
		t.Fatalf("reply = %q", ad.lastText(t))
	}
	if len(gotArgs) != 2 || gotArgs[0] != "a" || gotArgs[1] != "b" {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)

	r.dispatch(context.Background(), msgUpdate(1, "/nope"))
	if got := ad.lastText(t); !strings.Contains(got, "Unknown command") {
		t.Fatalf("reply = %q", got)
	}
}

func TestOwnerOnlyDeniedSilently(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), []int64{10})

	called := false
	r.Register(Command{
		Name:   "admin",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			called = true
			return req.Reply(ctx, "ok")
		},
	})

	r.dispatch(context.Background(), msgUpdate(99, "/admin"))
	if called || len(ad.sent) != 0 {
		t.Fatalf("denied command ran: called=%v sent=%d", called, len(ad.sent))
	}

	r.dispatch(context.Background(), msgUpdate(10, "/admin"))
	if !called || ad.lastText(t) != "ok" {
		t.Fatalf("owner call: called=%v", called)
	}
}

func TestSetOwnersTakesEffect(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)
	r.Register(Command{
		Name:   "admin",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok") },
	})

	r.dispatch(context.Background(), msgUpdate(5, "/admin"))
	if len(ad.sent) != 0 {
		t.Fatal("non-owner got through")
	}
	r.SetOwners([]int64{5})
	r.dispatch(context.Background(), msgUpdate(5, "/admin"))
	if ad.lastText(t) != "ok" {
		t.Fatalf("reply = %q", ad.lastText(t))
	}
}

func TestFreeTextFeedsActiveFlow(t *testing.T) {
	t.Parallel()
	var submitted []map[string]string
	eng := testEngine(t, &submitted)
	ad := &fakeAdapter{}
	r := NewRouter(ad, eng, logx.Nop(), nil)

	if _, err := eng.Start(context.Background(), 1, "add_host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	r.dispatch(context.Background(), msgUpdate(1, "web-1"))
	last := ad.sent[len(ad.sent)-1]
	if !strings.Contains(last.text, "Add host web-1?") {
		t.Fatalf("confirm prompt = %q", last.text)
	}
	if last.opt == nil || last.opt.ReplyMarkupAdapter == nil {
		t.Fatal("confirmation reply missing keyboard")
	}

	r.dispatch(context.Background(), cbUpdate(1, "flow:yes:add_host"))
	if ad.lastText(t) != "Done!" {
		t.Fatalf("reply = %q", ad.lastText(t))
	}
	if len(ad.answered) != 1 || ad.answered[0] != "cb1" {
		t.Fatalf("answered = %v", ad.answered)
	}
	if len(submitted) != 1 || submitted[0]["name"] != "web-1" {
		t.Fatalf("submitted = %v", submitted)
	}
}

func TestFreeTextHintWhenIdle(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)

	r.dispatch(context.Background(), msgUpdate(1, "hello there"))
	if got := ad.lastText(t); !strings.Contains(got, "/help") {
		t.Fatalf("idle text reply = %q", got)
	}
}

func TestForeignCallbackOnlyAnswered(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)

	r.dispatch(context.Background(), cbUpdate(1, "menu:page:2"))
	if len(ad.sent) != 0 {
		t.Fatalf("foreign callback produced %d messages", len(ad.sent))
	}
	if len(ad.answered) != 1 {
		t.Fatalf("answered = %v", ad.answered)
	}
}

func TestStaleConfirmCallbackIsNoop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)

	r.dispatch(context.Background(), cbUpdate(1, "flow:yes:add_host"))
	if len(ad.sent) != 0 {
		t.Fatalf("stale callback produced %d messages", len(ad.sent))
	}
	if len(ad.answered) != 1 {
		t.Fatal("stale callback not answered")
	}
}

func TestHelpAndMenuExcludeOwnerOnly(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := NewRouter(ad, testEngine(t, nil), logx.Nop(), nil)
	r.Register(
		Command{Name: "gas", Description: "show gas", Handle: func(ctx context.Context, req *Request) error { return nil }},
		Command{Name: "admin", Description: "hidden", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error { return nil }},
	)

	help := r.helpText()
	if !strings.Contains(help, "/gas") || strings.Contains(help, "/admin") {
		t.Fatalf("help = %q", help)
	}

	menu := r.MenuCommands()
	for _, c := range menu {
		if c.Command == "admin" {
			t.Fatalf("menu contains owner-only command: %v", menu)
		}
	}
	if len(menu) != 2 { // help + gas
		t.Fatalf("menu = %v", menu)
	}
}
