package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot long polling to the transport.Update channel.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	out       chan<- kit.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuSent []kit.BotCommand
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
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() is called
	}()

	return nil
}

func (a *Adapter) forward(up kit.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands pushes the command list to Telegram (setMyCommands).
// Best-effort: skips the network call when the list is unchanged.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	if sameMenu(a.menuSent, cmds) {
		return nil
	}

	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuSent = append([]kit.BotCommand(nil), cmds...)
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

func sameMenu(a, b []kit.BotCommand) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
