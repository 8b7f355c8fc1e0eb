// Package bot routes Telegram updates to dialogs and one-shot queries.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/config"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/flows"
	"moviezone-tg-bot/internal/lifecycle"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

type Gateway interface {
	SendMessage(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error)
	EditMessageText(ctx context.Context, req tg.EditMessageTextRequest) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SetMyCommands(ctx context.Context, chatID int64, commands []tg.BotCommand) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error
}

type Cleaner interface {
	RegisterForTimedCleanup(ctx context.Context, ref lifecycle.MessageRef, delay time.Duration)
}

type Deps struct {
	Gateway     Gateway
	Store       storage.Store
	Guard       *access.Guard
	Query       *query.Service
	Engine      *workflow.Engine
	Cleaner     Cleaner
	Stats       *flows.StatsReport
	Catalog     *config.Catalog
	Events      events.Publisher
	BotUsername string
	Now         func() time.Time
	Logger      hclog.Logger
}

type Bot struct {
	gw          Gateway
	store       storage.Store
	guard       *access.Guard
	query       *query.Service
	engine      *workflow.Engine
	cleaner     Cleaner
	stats       *flows.StatsReport
	catalog     *config.Catalog
	events      events.Publisher
	botUsername string
	now         func() time.Time
	logger      hclog.Logger
}

func New(d Deps) *Bot {
	if d.Catalog == nil {
		d.Catalog = config.DefaultCatalog()
	}
	if d.Query == nil {
		d.Query = query.NewService(d.Store)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Stats == nil {
		d.Stats = flows.NewStatsReport(flows.Deps{Store: d.Store, Query: d.Query, Guard: d.Guard, Catalog: d.Catalog})
	}
	return &Bot{
		gw:          d.Gateway,
		store:       d.Store,
		guard:       d.Guard,
		query:       d.Query,
		engine:      d.Engine,
		cleaner:     d.Cleaner,
		stats:       d.Stats,
		catalog:     d.Catalog,
		events:      d.Events,
		botUsername: d.BotUsername,
		now:         d.Now,
		logger:      d.Logger.Named("bot"),
	}
}

// dialogs maps commands to the dialog they start and the operation that
// guards it.
var dialogs = map[string]struct {
	kind workflow.Kind
	op   access.Operation
}{
	"addmovie":    {workflow.KindAddMovie, access.OpAddMovie},
	"removemovie": {workflow.KindRemoveMovie, access.OpRemoveMovie},
	"admins":      {workflow.KindManageAdmins, access.OpManageAdmins},
	"channels":    {workflow.KindManageChannels, access.OpManageChannels},
	"stats":       {workflow.KindShowStats, access.OpShowStats},
	"request":     {workflow.KindRequestMovie, access.OpRequestMovie},
}

const (
	unknownCommand = "I don't know that command. Send /help to see what I can do."
	genericFailure = "Something went wrong, please try again."
	busyNotice     = "Finish the current dialog or send /cancel first."
)

// HandleUpdate processes one update. Callers see a reply for every failure;
// the returned error is for logging.
func (b *Bot) HandleUpdate(ctx context.Context, upd tg.Update) error {
	switch {
	case upd.CallbackQuery != nil:
		return b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		return b.handleMessage(ctx, upd.Message)
	}
	return nil
}

// caller registers the sender and resolves their role.
func (b *Bot) caller(ctx context.Context, from *tg.User, chatID int64) (workflow.Caller, error) {
	c := workflow.Caller{ID: from.ID, ChatID: chatID, Role: storage.RoleUser}
	if _, err := b.store.UpsertUser(ctx, storage.User{ID: from.ID, FirstName: from.FirstName, Username: from.Username}); err != nil {
		return c, err
	}
	role, err := b.guard.ResolveRole(ctx, from.ID)
	c.Role = role
	return c, err
}

func (b *Bot) handleMessage(ctx context.Context, msg *tg.Message) error {
	if msg.From == nil || msg.From.IsBot || msg.Chat.Type != "private" {
		return nil
	}
	c, err := b.caller(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}

	cmd, args, isCommand := msg.Command()
	if !isCommand {
		return b.handleText(ctx, c, msg)
	}
	if cmd == "cancel" {
		return b.cancel(ctx, c)
	}
	if b.engine.Active(c.ID) {
		b.say(ctx, c, busyNotice)
		return nil
	}

	if d, ok := dialogs[cmd]; ok {
		return b.startDialog(ctx, c, d.kind, d.op)
	}
	switch cmd {
	case "start":
		return b.start(ctx, c, args)
	case "help":
		b.say(ctx, c, helpText(c.Role))
		return nil
	case "search":
		if args == "" {
			b.say(ctx, c, "Send /search followed by part of a title, or just type the title.")
			return nil
		}
		return b.search(ctx, c, args)
	case "browse":
		return b.browse(ctx, c)
	case "requests":
		return b.requests(ctx, c)
	}
	b.say(ctx, c, unknownCommand)
	return nil
}

func (b *Bot) handleText(ctx context.Context, c workflow.Caller, msg *tg.Message) error {
	res, err := b.engine.Advance(ctx, c, workflow.Input{Text: msg.Text, MessageID: msg.MessageID})
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return b.search(ctx, c, msg.Text)
	case err != nil:
		return err
	case res.Status == workflow.StatusExpired:
		return b.search(ctx, c, msg.Text)
	}
	return nil
}

func (b *Bot) cancel(ctx context.Context, c workflow.Caller) error {
	if b.engine.Active(c.ID) {
		_, err := b.engine.Cancel(ctx, c)
		return err
	}
	if err := b.gw.SetMyCommands(ctx, c.ChatID, access.Menu(c.Role)); err != nil {
		b.logger.Warn("failed to restore menu", "chat_id", c.ChatID, "error", err)
	}
	b.say(ctx, c, "There is nothing to cancel.")
	return nil
}

func (b *Bot) startDialog(ctx context.Context, c workflow.Caller, kind workflow.Kind, op access.Operation) error {
	if _, err := b.guard.Authorize(ctx, c.ID, op); err != nil {
		if errors.Is(err, apperr.ErrDenied) {
			b.say(ctx, c, unknownCommand)
			return nil
		}
		b.say(ctx, c, genericFailure)
		return err
	}
	_, err := b.engine.Start(ctx, c, kind)
	if errors.Is(err, apperr.ErrConflict) {
		b.say(ctx, c, apperr.Message(err, busyNotice))
		return nil
	}
	return err
}

// start greets first-time visitors and resolves deep links.
func (b *Bot) start(ctx context.Context, c workflow.Caller, args string) error {
	if err := b.gw.SetMyCommands(ctx, c.ChatID, access.Menu(c.Role)); err != nil {
		b.logger.Warn("failed to set menu", "chat_id", c.ChatID, "error", err)
	}
	u, err := b.store.GetUser(ctx, c.ID)
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	deepLink := strings.HasPrefix(args, deepLinkPrefix)
	switch {
	case !u.SeenWelcome:
		b.say(ctx, c, welcomeText(c.Role, u.FirstName))
		if err := b.store.MarkWelcomed(ctx, c.ID); err != nil {
			b.logger.Warn("failed to mark user welcomed", "user_id", c.ID, "error", err)
		}
	case !deepLink:
		b.say(ctx, c, fmt.Sprintf("Welcome back, %s! Use the menu to get started.", html.EscapeString(u.FirstName)))
	}
	if deepLink {
		movieID, idx, ok := parseDeepLink(args)
		if !ok {
			b.say(ctx, c, "That link is broken. Try searching for the title instead.")
			return nil
		}
		return b.download(ctx, c, movieID, idx)
	}
	return nil
}

// say sends a plain reply without buttons.
func (b *Bot) say(ctx context.Context, c workflow.Caller, text string) {
	_, _ = b.reply(ctx, c, text, nil)
}

// reply sends an HTML message to the caller. Messages to staff expire after
// the cleanup delay; user-facing posts stay.
func (b *Bot) reply(ctx context.Context, c workflow.Caller, text string, kb *tg.InlineKeyboardMarkup) (*tg.Message, error) {
	msg, err := b.gw.SendMessage(ctx, tg.SendMessageRequest{ChatID: c.ChatID, Text: text, ParseMode: "HTML", ReplyMarkup: kb})
	if err != nil {
		b.logger.Warn("failed to reply", "chat_id", c.ChatID, "error", err)
		return nil, err
	}
	if c.Role.IsStaff() && b.cleaner != nil {
		b.cleaner.RegisterForTimedCleanup(ctx, lifecycle.Ref(msg), 0)
	}
	return msg, nil
}

func welcomeText(role storage.Role, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hi %s, welcome to the movie bot!\n\n", html.EscapeString(name))
	switch role {
	case storage.RoleOwner:
		b.WriteString("You own this bot. Add movies, manage admins and channels, and review requests from the menu.")
	case storage.RoleAdmin:
		b.WriteString("You are an admin. Add movies, check stats and review requests from the menu.")
	default:
		b.WriteString("Type a title to search, /browse the catalog, or /request a movie we don't have yet.")
	}
	return b.String()
}

func helpText(role storage.Role) string {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, cmd := range access.Menu(role) {
		fmt.Fprintf(&b, "\n/%s · %s", cmd.Command, cmd.Description)
	}
	b.WriteString("\n\nYou can also just type a title to search.")
	return b.String()
}
