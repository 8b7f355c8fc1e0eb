// Package flows defines the dialogs the bot runs on the workflow engine.
package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/config"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

// Gateway is the part of the Bot API the dialogs use directly.
type Gateway interface {
	SendMessage(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error)
	GetChat(ctx context.Context, ref string) (*tg.Chat, error)
	SetMyCommands(ctx context.Context, chatID int64, commands []tg.BotCommand) error
}

type Deps struct {
	Store           storage.Store
	Query           *query.Service
	Guard           *access.Guard
	Catalog         *config.Catalog
	Gateway         Gateway
	Events          events.Publisher
	BotUsername     string
	ChannelUsername string
	// PostConcurrency bounds parallel channel posts.
	PostConcurrency int
	Now             func() time.Time
	Logger          hclog.Logger
}

func (d *Deps) defaults() {
	if d.Catalog == nil {
		d.Catalog = config.DefaultCatalog()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.PostConcurrency <= 0 {
		d.PostConcurrency = 4
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Query == nil {
		d.Query = query.NewService(d.Store)
	}
}

// Register installs every dialog on the engine.
func Register(e *workflow.Engine, d Deps) error {
	d.defaults()
	d.Logger = d.Logger.Named("flows")
	for _, f := range []*workflow.Flow{
		AddMovie(d),
		RemoveMovie(d),
		ManageAdmins(d),
		ManageChannels(d),
		ShowStats(d),
		RequestMovie(d),
	} {
		if err := e.Register(f); err != nil {
			return err
		}
	}
	return nil
}

func text(in workflow.Input) string { return strings.TrimSpace(in.Text) }

func boundedText(op string, in workflow.Input, minLen, maxLen int, what string) (string, error) {
	v := text(in)
	n := utf8.RuneCountInString(v)
	if n < minLen {
		return "", apperr.Validation(op, fmt.Sprintf("Please send the %s.", what))
	}
	if n > maxLen {
		return "", apperr.Validation(op, fmt.Sprintf("The %s can be at most %d characters.", what, maxLen))
	}
	return v, nil
}

func oneOf(op string, in workflow.Input, allowed ...string) (string, error) {
	v := strings.ToLower(text(in))
	for _, a := range allowed {
		if v == a {
			return a, nil
		}
	}
	return "", apperr.Validation(op, "Please use the buttons below.")
}

func parseID(op string, in workflow.Input) (int64, error) {
	id, err := strconv.ParseInt(text(in), 10, 64)
	if err != nil {
		return 0, apperr.Validation(op, "Please send a numeric id or use the buttons.")
	}
	return id, nil
}

func rows(buttons []tg.InlineKeyboardButton, width int) [][]tg.InlineKeyboardButton {
	out := make([][]tg.InlineKeyboardButton, 0, len(buttons)/width+1)
	for len(buttons) > 0 {
		n := min(width, len(buttons))
		out = append(out, buttons[:n])
		buttons = buttons[n:]
	}
	return out
}

func staticPrompt(text string, buttons ...[]tg.InlineKeyboardButton) func(context.Context, *workflow.Session) (workflow.Prompt, error) {
	return func(context.Context, *workflow.Session) (workflow.Prompt, error) {
		return workflow.Prompt{Text: text, Buttons: buttons}, nil
	}
}

func goTo(id string) func(*workflow.Session, any) string {
	return func(*workflow.Session, any) string { return id }
}

// uploaderNames maps staff ids to the short names shown in listings.
func uploaderNames(ctx context.Context, d Deps) (map[int64]string, error) {
	admins, err := d.Store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(admins)+1)
	for _, a := range admins {
		names[a.UserID] = a.ShortName
	}
	if d.Guard != nil {
		names[d.Guard.OwnerID()] = "Owner"
	}
	return names, nil
}

func nameOf(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

func confirmRow() []tg.InlineKeyboardButton {
	return []tg.InlineKeyboardButton{workflow.Choice("✅ Confirm", "yes")}
}
