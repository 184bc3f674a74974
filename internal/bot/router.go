// Package bot routes inbound transport updates: slash commands go to their
// registered handlers, free text and yes/no callbacks go to the flow engine.
// Every update is delivered to at most one handler.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"gasbot/internal/flow"
	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
	"gasbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // without the leading slash
	Description string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Args         []string

	Adapter kit.Adapter
	Log     logx.Logger
}

// Reply sends plain text back to the requester's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

const handlerTimeout = 30 * time.Second

// callbackNS is the namespace of flow confirmation callback data
// ("flow:yes:<name>" / "flow:no:<name>").
const callbackNS = "flow"

type Router struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	owners []int64

	adapter kit.Adapter
	engine  *flow.Engine
	log     logx.Logger
}

func NewRouter(adapter kit.Adapter, engine *flow.Engine, log logx.Logger, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:    map[string]Command{},
		adapter: adapter,
		engine:  engine,
		log:     log,
		owners:  append([]int64(nil), owners...),
	}
	r.Register(Command{
		Name:        "help",
		Description: "list available commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})
	return r
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, exists := r.cmds[name]; !exists {
			r.order = append(r.order, name)
		}
		r.cmds[name] = c
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks. Safe
// during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// MenuCommands returns the registered commands for the Telegram / menu,
// owner-only ones excluded.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		c := r.cmds[name]
		if c.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		c := r.cmds[name]
		if c.Access == AccessOwnerOnly {
			continue
		}
		fmt.Fprintf(&b, "/%s — %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DispatchLoop drains the update channel until ctx is canceled. Updates are
// handled sequentially, so events for one user are applied in arrival order.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	cctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("dispatch panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	var err error
	var what string
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		what, err = r.handleMessage(cctx, up)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		what, err = r.handleCallback(cctx, up)
	default:
		return
	}
	if what == "" {
		return
	}

	fields := []logx.Field{
		logx.String("kind", string(up.Kind)),
		logx.String("what", what),
		logx.Duration("dur", time.Since(start)),
	}
	if err != nil {
		r.log.Warn("update failed", append(fields, logx.Err(err))...)
	} else {
		r.log.Debug("update ok", fields...)
	}
}

func (r *Router) handleMessage(ctx context.Context, up kit.Update) (string, error) {
	m := up.Message
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: m.ChatID},
		FromID:       m.FromID,
		FromUsername: m.FromUsername,
		Adapter:      r.adapter,
		Log:          r.log,
	}

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		name, args := splitCommand(text)
		r.mu.RLock()
		cmd, ok := r.cmds[name]
		r.mu.RUnlock()
		if !ok {
			return "cmd:" + name, req.Reply(ctx, "Unknown command. Try /help.")
		}
		if cmd.Access == AccessOwnerOnly && !r.isOwner(m.FromID) {
			r.log.Debug("command denied", logx.String("cmd", name), logx.Int64("from_id", m.FromID))
			return "cmd:" + name, nil
		}
		req.Args = args
		return "cmd:" + name, cmd.Handle(ctx, req)
	}

	// Free text belongs to the user's active dialogue, if any.
	reply, handled := r.engine.HandleText(ctx, m.FromID, m.Text)
	if !handled {
		return "text:hint", req.Reply(ctx, "I only understand commands here. Try /help.")
	}
	return "flow:text", r.sendReply(ctx, req.Chat, reply)
}

func (r *Router) handleCallback(ctx context.Context, up kit.Update) (string, error) {
	cb := up.Callback
	ns, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok || ns != callbackNS {
		return "", r.adapter.AnswerCallback(ctx, cb.ID, "")
	}

	yes := action == "yes"
	if !yes && action != "no" {
		return "", r.adapter.AnswerCallback(ctx, cb.ID, "")
	}

	reply, handled := r.engine.Confirm(ctx, cb.FromID, payload, yes)
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	if !handled {
		// Stale keyboard from a finished or different dialogue.
		return "", nil
	}
	return "flow:" + action, r.sendReply(ctx, kit.ChatTarget{ChatID: cb.ChatID}, reply)
}

// sendReply delivers an engine reply, attaching the yes/no keyboard when the
// flow reached its confirmation step.
func (r *Router) sendReply(ctx context.Context, chat kit.ChatTarget, reply flow.Reply) error {
	if reply.Text == "" {
		return nil
	}
	var opt *kit.SendOptions
	if reply.AskConfirm {
		kb := tgui.ConfirmInline(
			tgui.Btn("Yes", tgui.Data(callbackNS, "yes", reply.FlowName)),
			tgui.Btn("No", tgui.Data(callbackNS, "no", reply.FlowName)),
		)
		opt = &kit.SendOptions{ReplyMarkupAdapter: kb.Markup()}
	}
	_, err := r.adapter.SendText(ctx, chat, reply.Text, opt)
	return err
}

func splitCommand(text string) (name string, args []string) {
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	// Strip the @botname suffix used in groups.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}
