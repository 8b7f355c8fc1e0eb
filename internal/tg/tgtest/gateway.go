// Package tgtest provides an in-memory stand-in for the Bot API client.
package tgtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/tg"
)

type Sent struct {
	ChatID    int64
	MessageID int
	Text      string
	Markup    *tg.InlineKeyboardMarkup
}

type Deleted struct {
	ChatID    int64
	MessageID int
}

// Gateway records every call. Chats added with AddChat are reachable through
// GetChat and accept messages; sends to any other chat id still succeed.
type Gateway struct {
	mu        sync.Mutex
	nextID    int
	sent      []Sent
	deleted   []Deleted
	edits     []tg.EditMessageTextRequest
	menus     map[int64][]tg.BotCommand
	answers   []string
	chats     map[string]tg.Chat
	failSends map[int64]int
	denySends map[int64]bool
	live      map[Deleted]bool
}

func NewGateway() *Gateway {
	return &Gateway{
		menus:     make(map[int64][]tg.BotCommand),
		chats:     make(map[string]tg.Chat),
		failSends: make(map[int64]int),
		denySends: make(map[int64]bool),
		live:      make(map[Deleted]bool),
	}
}

func (g *Gateway) AddChat(c tg.Chat) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chats[strconv.FormatInt(c.ID, 10)] = c
	if c.Username != "" {
		g.chats["@"+c.Username] = c
	}
}

// FailNextSends makes the next n sends to chatID fail with a transport error.
func (g *Gateway) FailNextSends(chatID int64, n int) {
	g.mu.Lock()
	g.failSends[chatID] = n
	g.mu.Unlock()
}

// DenySends makes every send to chatID fail.
func (g *Gateway) DenySends(chatID int64) {
	g.mu.Lock()
	g.denySends[chatID] = true
	g.mu.Unlock()
}

func transportErr(op, desc string) error {
	return apperr.Transport(op, &tg.APIError{Method: op, StatusCode: 400, Code: 400, Description: desc})
}

func (g *Gateway) SendMessage(_ context.Context, req tg.SendMessageRequest) (*tg.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denySends[req.ChatID] {
		return nil, transportErr("sendMessage", "Forbidden: bot is not a member of the channel chat")
	}
	if n := g.failSends[req.ChatID]; n > 0 {
		g.failSends[req.ChatID] = n - 1
		return nil, apperr.Transport("sendMessage", errors.New("connection reset"))
	}
	g.nextID++
	g.sent = append(g.sent, Sent{ChatID: req.ChatID, MessageID: g.nextID, Text: req.Text, Markup: req.ReplyMarkup})
	g.live[Deleted{ChatID: req.ChatID, MessageID: g.nextID}] = true
	chat := tg.Chat{ID: req.ChatID}
	return &tg.Message{MessageID: g.nextID, Chat: chat, Text: req.Text, ReplyMarkup: req.ReplyMarkup}, nil
}

func (g *Gateway) EditMessageText(_ context.Context, req tg.EditMessageTextRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, req)
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := Deleted{ChatID: chatID, MessageID: messageID}
	g.deleted = append(g.deleted, key)
	if !g.live[key] {
		return transportErr("deleteMessage", "Bad Request: message to delete not found")
	}
	delete(g.live, key)
	return nil
}

func (g *Gateway) SetMyCommands(_ context.Context, chatID int64, commands []tg.BotCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.menus[chatID] = append([]tg.BotCommand(nil), commands...)
	return nil
}

func (g *Gateway) GetChat(_ context.Context, ref string) (*tg.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chats[ref]
	if !ok {
		return nil, transportErr("getChat", fmt.Sprintf("Bad Request: chat not found (%s)", ref))
	}
	return &c, nil
}

func (g *Gateway) AnswerCallbackQuery(_ context.Context, id, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers = append(g.answers, text)
	return nil
}

func (g *Gateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sent(nil), g.sent...)
}

func (g *Gateway) SentTo(chatID int64) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Sent
	for _, s := range g.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent message sent to chatID.
func (g *Gateway) Last(chatID int64) (Sent, bool) {
	msgs := g.SentTo(chatID)
	if len(msgs) == 0 {
		return Sent{}, false
	}
	return msgs[len(msgs)-1], true
}

func (g *Gateway) Deleted() []Deleted {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Deleted(nil), g.deleted...)
}

// Visible returns the messages in chatID that were sent and not deleted.
func (g *Gateway) Visible(chatID int64) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Sent
	for _, s := range g.sent {
		if s.ChatID == chatID && g.live[Deleted{ChatID: s.ChatID, MessageID: s.MessageID}] {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) Edits() []tg.EditMessageTextRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]tg.EditMessageTextRequest(nil), g.edits...)
}

func (g *Gateway) Menu(chatID int64) []tg.BotCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]tg.BotCommand(nil), g.menus[chatID]...)
}

func (g *Gateway) Answers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.answers...)
}

// Callbacks lists the callback data of every button in s.
func (s Sent) Callbacks() []string {
	if s.Markup == nil {
		return nil
	}
	var out []string
	for _, row := range s.Markup.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != "" {
				out = append(out, b.CallbackData)
			}
		}
	}
	return out
}

// URLs lists the url of every link button in s.
func (s Sent) URLs() []string {
	if s.Markup == nil {
		return nil
	}
	var out []string
	for _, row := range s.Markup.InlineKeyboard {
		for _, b := range row {
			if b.URL != "" {
				out = append(out, b.URL)
			}
		}
	}
	return out
}
