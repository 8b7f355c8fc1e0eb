package workflow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/lifecycle"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
)

type Gateway interface {
	SendMessage(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error)
	SetMyCommands(ctx context.Context, chatID int64, commands []tg.BotCommand) error
}

type Cleaner interface {
	RegisterForStepCleanup(sessionID string, ref lifecycle.MessageRef)
	RegisterForTimedCleanup(ctx context.Context, ref lifecycle.MessageRef, delay time.Duration)
	FlushStep(ctx context.Context, sessionID string) int
}

type Status string

const (
	StatusPrompted   Status = "prompted"
	StatusReprompted Status = "reprompted"
	StatusRetry      Status = "retry"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusAborted    Status = "aborted"
)

type Result struct {
	Status Status
	// Session is a snapshot taken after the transition, nil once it ended.
	Session *Session
	Notice  string
}

// UIState is what the caller currently sees in their command menu.
type UIState struct {
	InSession bool
	Kind      Kind
	Commands  []string
}

type Options struct {
	Timeout     time.Duration
	Now         func() time.Time
	IdleMenu    func(role storage.Role) []tg.BotCommand
	SessionMenu []tg.BotCommand
}

type Engine struct {
	gw          Gateway
	cleaner     Cleaner
	logger      hclog.Logger
	timeout     time.Duration
	now         func() time.Time
	idleMenu    func(role storage.Role) []tg.BotCommand
	sessionMenu []tg.BotCommand

	flows map[Kind]*Flow

	mu       sync.RWMutex
	sessions map[int64]*Session
	ui       map[int64]UIState

	// locks serialises work per caller. A live *Session is only read or
	// written while its caller's lock is held.
	locks sync.Map
}

func NewEngine(gw Gateway, cleaner Cleaner, opts Options, logger hclog.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleMenu == nil {
		opts.IdleMenu = func(storage.Role) []tg.BotCommand { return nil }
	}
	if len(opts.SessionMenu) == 0 {
		opts.SessionMenu = []tg.BotCommand{{Command: "cancel", Description: "Cancel the current dialog"}}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		gw:          gw,
		cleaner:     cleaner,
		logger:      logger.Named("workflow"),
		timeout:     opts.Timeout,
		now:         opts.Now,
		idleMenu:    opts.IdleMenu,
		sessionMenu: opts.SessionMenu,
		flows:       make(map[Kind]*Flow),
		sessions:    make(map[int64]*Session),
		ui:          make(map[int64]UIState),
	}
}

// Register adds a flow. It is not safe to call once the engine serves callers.
func (e *Engine) Register(f *Flow) error {
	if err := f.validate(); err != nil {
		return err
	}
	e.flows[f.Kind] = f
	return nil
}

func (e *Engine) lock(callerID int64) func() {
	v, _ := e.locks.LoadOrStore(callerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) get(callerID int64) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[callerID]
}

func (e *Engine) expired(s *Session) bool {
	return e.now().Sub(s.UpdatedAt) > e.timeout
}

// Active reports whether the caller has a live session. It waits for any
// input the caller has in flight.
func (e *Engine) Active(callerID int64) bool {
	unlock := e.lock(callerID)
	defer unlock()
	s := e.get(callerID)
	return s != nil && !e.expired(s)
}

// Session returns a snapshot of the caller's session.
func (e *Engine) Session(callerID int64) (*Session, bool) {
	unlock := e.lock(callerID)
	defer unlock()
	s := e.get(callerID)
	if s == nil {
		return nil, false
	}
	return s.clone(), true
}

func (e *Engine) UIState(callerID int64) UIState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.ui[callerID]
	st.Commands = append([]string(nil), st.Commands...)
	return st
}

// Start opens a session of kind for the caller and shows its first prompt.
// A live session makes Start fail with a conflict; an idle one is released.
func (e *Engine) Start(ctx context.Context, c Caller, kind Kind) (Result, error) {
	unlock := e.lock(c.ID)
	defer unlock()

	f, ok := e.flows[kind]
	if !ok {
		return Result{}, apperr.NotFound("start", fmt.Sprintf("unknown dialog %s", kind))
	}
	if old := e.get(c.ID); old != nil {
		if !e.expired(old) {
			return Result{Status: StatusRejected, Session: old.clone()},
				apperr.Conflict("start", "Finish the current dialog or send /cancel first.")
		}
		e.logger.Debug("releasing idle session", "caller", c.ID, "session", old.ID, "kind", old.Kind)
		e.end(ctx, old)
	}

	now := e.now()
	s := &Session{
		ID:        uuid.NewString(),
		Caller:    c,
		Kind:      kind,
		Step:      f.Initial,
		Fields:    make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.mu.Lock()
	e.sessions[c.ID] = s
	e.mu.Unlock()
	e.setMenu(ctx, s.Caller, true, kind)
	e.logger.Debug("session started", "caller", c.ID, "session", s.ID, "kind", kind)

	if err := e.prompt(ctx, f, s, ""); err != nil {
		return e.abort(ctx, s, err)
	}
	return Result{Status: StatusPrompted, Session: s.clone()}, nil
}

// Cancel ends the caller's session, if any.
func (e *Engine) Cancel(ctx context.Context, c Caller) (Result, error) {
	return e.Advance(ctx, c, Input{Action: ActionCancel})
}

// Advance feeds one input to the caller's session. Without a session it
// returns a not_found error so the input can be handled as a one-shot query.
func (e *Engine) Advance(ctx context.Context, c Caller, in Input) (Result, error) {
	unlock := e.lock(c.ID)
	defer unlock()

	s := e.get(c.ID)
	if s == nil {
		return Result{}, apperr.NotFound("advance", "There is no active dialog.")
	}
	if e.expired(s) {
		e.end(ctx, s)
		e.notify(ctx, s, "Your previous dialog timed out and was closed.", nil)
		return Result{Status: StatusExpired}, nil
	}
	if in.MessageID != 0 {
		e.cleaner.RegisterForStepCleanup(s.ID, lifecycle.MessageRef{ChatID: s.Caller.ChatID, MessageID: in.MessageID})
	}
	s.UpdatedAt = e.now()
	f := e.flows[s.Kind]
	st := f.Steps[s.Step]

	switch in.Action {
	case ActionCancel:
		e.end(ctx, s)
		e.notify(ctx, s, "Cancelled.", nil)
		return Result{Status: StatusCancelled}, nil

	case ActionBack:
		if !st.AllowBack || len(s.History) == 0 {
			return e.reprompt(ctx, f, s, "You can't go back from here.", StatusReprompted)
		}
		s.Step = s.History[len(s.History)-1]
		s.History = s.History[:len(s.History)-1]
		s.ReturnTo = ""
		return e.show(ctx, f, s, "", StatusPrompted)

	case ActionSkip:
		if st.Skip == nil {
			return e.reprompt(ctx, f, s, "This step can't be skipped.", StatusReprompted)
		}
		v, ok := st.Skip(s)
		if !ok {
			return e.reprompt(ctx, f, s, "This step can't be skipped.", StatusReprompted)
		}
		return e.accept(ctx, f, s, st, v)
	}

	v, err := st.Validate(ctx, s, in)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindStore || k == apperr.KindTransport {
			e.logger.Warn("step validation failed", "session", s.ID, "step", s.Step, "error", err)
		}
		return e.reprompt(ctx, f, s, apperr.Message(err, "Something went wrong, please try again."), StatusReprompted)
	}
	return e.accept(ctx, f, s, st, v)
}

func (e *Engine) accept(ctx context.Context, f *Flow, s *Session, st *Step, v any) (Result, error) {
	returnTo := s.ReturnTo
	if st.Record != nil {
		st.Record(s, v)
	} else {
		s.Fields[st.ID] = v
	}
	next := st.Next(s, v)
	if returnTo != "" && next != End && next != s.Step {
		next = returnTo
		s.ReturnTo = ""
	}
	if next == End {
		return e.finish(ctx, f, s)
	}
	if f.Steps[next] == nil {
		return e.abort(ctx, s, fmt.Errorf("flow %s: unknown step %q", f.Kind, next))
	}
	if next != s.Step {
		s.History = append(s.History, s.Step)
	}
	s.Step = next
	return e.show(ctx, f, s, "", StatusPrompted)
}

func (e *Engine) finish(ctx context.Context, f *Flow, s *Session) (Result, error) {
	out, err := f.Finish(ctx, s)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			return e.reprompt(ctx, f, s, apperr.Message(err, "Please check the input."), StatusReprompted)
		case apperr.KindConflict, apperr.KindNotFound:
			notice := apperr.Message(err, "Nothing was changed.")
			e.end(ctx, s)
			e.notify(ctx, s, notice, nil)
			return Result{Status: StatusRejected, Notice: notice}, nil
		default:
			e.logger.Error("failed to finish dialog", "session", s.ID, "kind", s.Kind, "error", err)
			return e.reprompt(ctx, f, s, "Saving failed and nothing was changed. Please try again.", StatusRetry)
		}
	}
	e.end(ctx, s)
	e.notify(ctx, s, out.Text, out.Buttons)
	e.logger.Debug("session completed", "caller", s.Caller.ID, "session", s.ID, "kind", s.Kind)
	return Result{Status: StatusCompleted, Notice: out.Text}, nil
}

func (e *Engine) reprompt(ctx context.Context, f *Flow, s *Session, notice string, status Status) (Result, error) {
	return e.show(ctx, f, s, notice, status)
}

// show flushes the previous step and prompts for the current one.
func (e *Engine) show(ctx context.Context, f *Flow, s *Session, notice string, status Status) (Result, error) {
	e.cleaner.FlushStep(ctx, s.ID)
	if err := e.prompt(ctx, f, s, notice); err != nil {
		return e.abort(ctx, s, err)
	}
	return Result{Status: status, Session: s.clone(), Notice: notice}, nil
}

func (e *Engine) prompt(ctx context.Context, f *Flow, s *Session, notice string) error {
	st := f.Steps[s.Step]
	p, err := st.Prompt(ctx, s)
	if err != nil {
		return err
	}
	text := p.Text
	if notice != "" {
		text = "⚠️ " + html.EscapeString(notice) + "\n\n" + text
	}
	rows := append([][]tg.InlineKeyboardButton(nil), p.Buttons...)
	controls := []tg.InlineKeyboardButton{}
	if st.AllowBack && len(s.History) > 0 {
		controls = append(controls, tg.Button("⬅️ Back", cbBack))
	}
	if st.skippable(s) {
		controls = append(controls, tg.Button("Skip ⏭", cbSkip))
	}
	controls = append(controls, tg.Button("✖️ Cancel", cbCancel))
	rows = append(rows, controls)
	kb := tg.NewInlineKeyboardMarkup(rows)

	msg, err := e.send(ctx, tg.SendMessageRequest{ChatID: s.Caller.ChatID, Text: text, ParseMode: "HTML", ReplyMarkup: &kb})
	if err != nil {
		return err
	}
	e.cleaner.RegisterForStepCleanup(s.ID, lifecycle.Ref(msg))
	return nil
}

// send retries a transport failure once.
func (e *Engine) send(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error) {
	msg, err := e.gw.SendMessage(ctx, req)
	if err == nil || !errors.Is(err, apperr.ErrTransport) {
		return msg, err
	}
	e.logger.Warn("send failed, retrying", "chat_id", req.ChatID, "error", err)
	return e.gw.SendMessage(ctx, req)
}

// end destroys the session, removes its step messages and restores the idle
// menu. Callers hold the caller lock so this is never observed half done.
func (e *Engine) end(ctx context.Context, s *Session) {
	e.mu.Lock()
	if cur, ok := e.sessions[s.Caller.ID]; ok && cur.ID == s.ID {
		delete(e.sessions, s.Caller.ID)
	}
	e.mu.Unlock()
	e.cleaner.FlushStep(ctx, s.ID)
	e.setMenu(ctx, s.Caller, false, "")
}

func (e *Engine) abort(ctx context.Context, s *Session, cause error) (Result, error) {
	e.logger.Error("dialog aborted", "caller", s.Caller.ID, "session", s.ID, "kind", s.Kind, "step", s.Step, "error", cause)
	e.end(ctx, s)
	e.notify(ctx, s, "Sorry, something went wrong and the dialog was closed. Please start again.", nil)
	if apperr.KindOf(cause) == apperr.KindTransport {
		return Result{Status: StatusAborted}, cause
	}
	return Result{Status: StatusAborted}, apperr.New(apperr.KindOf(cause), "advance", cause)
}

// notify sends a message outside any step. Replies to staff are left for the
// timed sweep.
func (e *Engine) notify(ctx context.Context, s *Session, text string, buttons [][]tg.InlineKeyboardButton) {
	if text == "" {
		return
	}
	req := tg.SendMessageRequest{ChatID: s.Caller.ChatID, Text: text, ParseMode: "HTML"}
	if len(buttons) > 0 {
		kb := tg.NewInlineKeyboardMarkup(buttons)
		req.ReplyMarkup = &kb
	}
	msg, err := e.send(ctx, req)
	if err != nil {
		e.logger.Warn("failed to notify caller", "chat_id", s.Caller.ChatID, "error", err)
		return
	}
	if s.Caller.Role.IsStaff() {
		e.cleaner.RegisterForTimedCleanup(ctx, lifecycle.Ref(msg), 0)
	}
}

func (e *Engine) setMenu(ctx context.Context, c Caller, inSession bool, kind Kind) {
	commands := e.sessionMenu
	if !inSession {
		commands = e.idleMenu(c.Role)
	}
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Command)
	}
	e.mu.Lock()
	e.ui[c.ID] = UIState{InSession: inSession, Kind: kind, Commands: names}
	e.mu.Unlock()
	if err := e.gw.SetMyCommands(ctx, c.ChatID, commands); err != nil {
		e.logger.Warn("failed to update command menu", "chat_id", c.ChatID, "error", err)
	}
}
