// Package workflow runs interruptible multi-step dialogs. A Flow is a finite
// state machine over named steps; the Engine keeps at most one Session per
// caller and moves it between steps.
package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
)

type Kind string

const (
	KindAddMovie       Kind = "add-movie"
	KindRemoveMovie    Kind = "remove-movie"
	KindManageAdmins   Kind = "manage-admins"
	KindManageChannels Kind = "manage-channels"
	KindShowStats      Kind = "show-stats"
	KindRequestMovie   Kind = "request-movie"
)

// End is the successor that finishes the flow.
const End = ""

type Action int

const (
	ActionInput Action = iota
	ActionCancel
	ActionSkip
	ActionBack
)

// Input is one inbound event routed to an active session.
type Input struct {
	Action Action
	// Text is the typed reply, or the value of a pressed choice button.
	Text string
	// Choice is set when the value came from a button.
	Choice bool
	// MessageID of the caller's own message, deleted with the step.
	MessageID int
}

// Callback data understood by ParseCallback.
const (
	CallbackPrefix = "wf:"
	cbCancel       = "wf:cancel"
	cbSkip         = "wf:skip"
	cbBack         = "wf:back"
	cbChoice       = "wf:v:"
)

// ParseCallback turns button data into an Input. ok is false for data that
// does not belong to a dialog.
func ParseCallback(data string) (Input, bool) {
	switch {
	case data == cbCancel:
		return Input{Action: ActionCancel}, true
	case data == cbSkip:
		return Input{Action: ActionSkip}, true
	case data == cbBack:
		return Input{Action: ActionBack}, true
	case len(data) > len(cbChoice) && data[:len(cbChoice)] == cbChoice:
		return Input{Action: ActionInput, Text: data[len(cbChoice):], Choice: true}, true
	}
	return Input{}, false
}

// Choice builds a button whose press is delivered as an Input with Text value.
func Choice(text, value string) tg.InlineKeyboardButton {
	return tg.Button(text, cbChoice+value)
}

// Prompt is what a step shows. Control buttons are appended by the engine.
type Prompt struct {
	Text    string
	Buttons [][]tg.InlineKeyboardButton
}

// Outcome is the completion summary of a finished flow.
type Outcome struct {
	Text    string
	Buttons [][]tg.InlineKeyboardButton
}

type Step struct {
	ID     string
	Prompt func(ctx context.Context, s *Session) (Prompt, error)
	// Validate turns an input into the value recorded for the step. Returned
	// errors re-prompt the same step.
	Validate func(ctx context.Context, s *Session, in Input) (any, error)
	// Skip, when set, reports the value recorded on Skip and whether skipping
	// is currently allowed.
	Skip      func(s *Session) (any, bool)
	AllowBack bool
	// Record stores the value; by default it lands in Fields[ID].
	Record func(s *Session, v any)
	// Next picks the successor step, or End.
	Next func(s *Session, v any) string
}

func (st *Step) skippable(s *Session) bool {
	if st.Skip == nil {
		return false
	}
	_, ok := st.Skip(s)
	return ok
}

type Flow struct {
	Kind    Kind
	Initial string
	Steps   map[string]*Step
	// Finish persists the assembled record. Store and transport errors keep
	// the session at its last step so the caller can retry.
	Finish func(ctx context.Context, s *Session) (Outcome, error)
}

// NewFlow indexes steps by id; the first step is the initial one.
func NewFlow(kind Kind, finish func(ctx context.Context, s *Session) (Outcome, error), steps ...*Step) *Flow {
	f := &Flow{Kind: kind, Steps: make(map[string]*Step, len(steps)), Finish: finish}
	for i, st := range steps {
		if i == 0 {
			f.Initial = st.ID
		}
		f.Steps[st.ID] = st
	}
	return f
}

func (f *Flow) validate() error {
	if f.Initial == "" || f.Steps[f.Initial] == nil {
		return fmt.Errorf("flow %s has no initial step", f.Kind)
	}
	if f.Finish == nil {
		return fmt.Errorf("flow %s has no finish", f.Kind)
	}
	for id, st := range f.Steps {
		if st.Prompt == nil || st.Validate == nil || st.Next == nil {
			return fmt.Errorf("flow %s step %s is incomplete", f.Kind, id)
		}
	}
	return nil
}

// Caller identifies who drives a session and where prompts go.
type Caller struct {
	ID     int64
	ChatID int64
	Role   storage.Role
}

type Session struct {
	ID     string
	Caller Caller
	Kind   Kind
	Step   string
	Fields map[string]any
	// History holds the steps Back returns to.
	History []string
	// ReturnTo overrides the successor of the next completed step.
	ReturnTo  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) Set(key string, v any) { s.Fields[key] = v }

func (s *Session) Has(key string) bool {
	_, ok := s.Fields[key]
	return ok
}

func (s *Session) String(key string) string {
	switch v := s.Fields[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (s *Session) Int64(key string) int64 {
	switch v := s.Fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (s *Session) clone() *Session {
	c := *s
	c.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	c.History = append([]string(nil), s.History...)
	return &c
}
