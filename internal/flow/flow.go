// Package flow implements a generic stepped-form dialogue: an ordered list
// of fields, each with a prompt and a validator, followed by a yes/no
// confirmation that triggers a single submit callback. The package owns all
// session transitions; callers only route events to it.
package flow

import (
	"context"
	"errors"
	"fmt"

	"gasbot/internal/session"
	logx "gasbot/pkg/logx"
)

// ValidationError carries the user-facing re-prompt for a rejected input.
// It never advances the dialogue.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Step is one required field of a flow.
type Step struct {
	Field  string
	Prompt string

	// Validate checks raw input and returns the normalized value to store.
	// Return a *ValidationError for user mistakes; any other error is
	// treated as a transient dependency failure (re-prompted too, but
	// logged at warn).
	Validate func(ctx context.Context, scratch map[string]string, input string) (string, error)
}

// Flow is a named dialogue definition.
type Flow struct {
	Name  string
	Title string
	Steps []Step

	// ConfirmPrompt renders the summary shown with the yes/no keyboard.
	ConfirmPrompt func(scratch map[string]string) string

	// Submit performs the downstream action exactly once on confirmation.
	// It is never retried by the engine.
	Submit func(ctx context.Context, userID int64, scratch map[string]string) error
}

// Reply is what the dispatcher should send back to the user.
type Reply struct {
	Text string

	// AskConfirm is set when the reply should carry the flow's yes/no
	// keyboard (callback data is built by the dispatcher).
	AskConfirm bool
	FlowName   string
}

// Engine drives every registered flow over a shared session store.
type Engine struct {
	sessions *session.Store
	flows    map[string]*Flow
	log      logx.Logger
}

func NewEngine(sessions *session.Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		sessions: sessions,
		flows:    map[string]*Flow{},
		log:      log,
	}
}

func (e *Engine) Register(f *Flow) error {
	if f == nil || f.Name == "" {
		return errors.New("flow: missing name")
	}
	if len(f.Steps) == 0 || f.Submit == nil || f.ConfirmPrompt == nil {
		return fmt.Errorf("flow %q: incomplete definition", f.Name)
	}
	if _, dup := e.flows[f.Name]; dup {
		return fmt.Errorf("flow %q: already registered", f.Name)
	}
	e.flows[f.Name] = f
	return nil
}

// Active reports whether userID is currently inside a flow.
func (e *Engine) Active(userID int64) bool {
	s := e.sessions.Snapshot(userID)
	return !s.Idle()
}

// Start enters the named flow: any previous dialogue is discarded and the
// session moves to the flow's first step.
func (e *Engine) Start(ctx context.Context, userID int64, name string) (Reply, error) {
	f := e.flows[name]
	if f == nil {
		return Reply{}, fmt.Errorf("flow %q: not registered", name)
	}
	var r Reply
	e.sessions.Update(userID, func(s *session.Session) {
		s.Begin(f.Name)
		r = Reply{Text: f.Steps[0].Prompt}
	})
	e.log.Debug("flow started", logx.String("flow", name), logx.Int64("user_id", userID))
	return r, nil
}

// HandleText feeds a free-text event into the user's active flow. It returns
// handled=false when the user is idle or already at the confirmation step
// (text is ignored there; only the yes/no choice advances).
//
// Invalid input leaves the state and scratch untouched and re-prompts, so
// rejection is idempotent under any sequence of bad inputs.
func (e *Engine) HandleText(ctx context.Context, userID int64, text string) (Reply, bool) {
	var (
		r       Reply
		handled bool
	)
	e.sessions.Update(userID, func(s *session.Session) {
		if s.Idle() {
			return
		}
		f := e.flows[s.Flow]
		if f == nil {
			// Flow definition vanished (should not happen); recover to idle.
			s.Reset()
			return
		}
		if s.Confirming {
			handled = true
			r = Reply{Text: f.ConfirmPrompt(s.Scratch), AskConfirm: true, FlowName: f.Name}
			return
		}

		handled = true
		step := f.Steps[s.Step]
		val, err := step.Validate(ctx, s.Scratch, text)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				r = Reply{Text: verr.Msg}
				return
			}
			e.log.Warn("flow validation dependency failed",
				logx.String("flow", f.Name), logx.String("field", step.Field),
				logx.Int64("user_id", userID), logx.Err(err))
			r = Reply{Text: "Could not check that right now, please try again."}
			return
		}

		s.Scratch[step.Field] = val
		if s.Step+1 < len(f.Steps) {
			s.Step++
			r = Reply{Text: f.Steps[s.Step].Prompt}
			return
		}
		s.Confirming = true
		r = Reply{Text: f.ConfirmPrompt(s.Scratch), AskConfirm: true, FlowName: f.Name}
	})
	return r, handled
}

// Confirm resolves the confirmation step. The flow name must match the
// user's active flow so a stale keyboard from an abandoned dialogue cannot
// confirm a different one. Whatever Submit returns, the session ends up
// idle: a failed submission never leaves the user stuck mid-workflow.
func (e *Engine) Confirm(ctx context.Context, userID int64, name string, yes bool) (Reply, bool) {
	var (
		r       Reply
		handled bool
	)
	e.sessions.Update(userID, func(s *session.Session) {
		if s.Idle() || !s.Confirming || s.Flow != name {
			return
		}
		f := e.flows[s.Flow]
		if f == nil {
			s.Reset()
			return
		}
		handled = true

		if !yes {
			s.Reset()
			r = Reply{Text: "Cancelled."}
			e.log.Debug("flow cancelled", logx.String("flow", name), logx.Int64("user_id", userID))
			return
		}

		scratch := s.Scratch
		s.Reset()
		if err := f.Submit(ctx, userID, scratch); err != nil {
			e.log.Warn("flow submit failed", logx.String("flow", name), logx.Int64("user_id", userID), logx.Err(err))
			r = Reply{Text: "Request failed, please try again later."}
			return
		}
		e.log.Info("flow submitted", logx.String("flow", name), logx.Int64("user_id", userID))
		r = Reply{Text: "Done!"}
	})
	return r, handled
}

// Cancel aborts the user's active flow, if any.
func (e *Engine) Cancel(userID int64) bool {
	cancelled := false
	e.sessions.Update(userID, func(s *session.Session) {
		if s.Idle() {
			return
		}
		s.Reset()
		cancelled = true
	})
	return cancelled
}

// StateName renders the session state for operator display
// (e.g. "open_profile:url", "create_profile:confirm", "idle").
func (e *Engine) StateName(userID int64) string {
	s := e.sessions.Snapshot(userID)
	if s.Idle() {
		return "idle"
	}
	if s.Confirming {
		return s.Flow + ":confirm"
	}
	if f := e.flows[s.Flow]; f != nil && s.Step < len(f.Steps) {
		return s.Flow + ":" + f.Steps[s.Step].Field
	}
	return s.Flow
}
