package tg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"moviezone-tg-bot/internal/apperr"
)

const defaultBaseURL = "https://api.telegram.org"

type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(token string) *Client {
	return NewClientWithBase(defaultBaseURL, token, &http.Client{Timeout: 9 * time.Second})
}

// NewClientWithBase points the client at another Bot API server, such as a
// local bot API instance or a test server.
func NewClientWithBase(base, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 9 * time.Second}
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(base, "/"), token),
		hc:      hc,
	}
}

// APIError is a response with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api %s status %d: %s", e.Method, e.StatusCode, e.Description)
}

// IsMessageGone reports whether err means the message no longer exists or
// can no longer be deleted.
func IsMessageGone(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	d := strings.ToLower(apiErr.Description)
	return strings.Contains(d, "message to delete not found") ||
		strings.Contains(d, "message can't be deleted") ||
		strings.Contains(d, "message not found")
}

func asAPIError(err error) (*APIError, bool) {
	for err != nil {
		if e, ok := err.(*APIError); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error {
	payload := map[string]any{"callback_query_id": callbackQueryID}
	if text != "" {
		payload["text"] = text
	}
	return c.post(ctx, "/answerCallbackQuery", payload)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.post(ctx, "/deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID})
}

type SendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	raw, err := c.postWithResult(ctx, "/sendMessage", req)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, apperr.Transport("sendMessage", err)
	}
	return &msg, nil
}

type EditMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int                   `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (c *Client) EditMessageText(ctx context.Context, req EditMessageTextRequest) error {
	return c.post(ctx, "/editMessageText", req)
}

// SetMyCommands replaces the command menu shown in one private chat.
func (c *Client) SetMyCommands(ctx context.Context, chatID int64, commands []BotCommand) error {
	return c.post(ctx, "/setMyCommands", map[string]any{
		"commands": commands,
		"scope":    BotCommandScope{Type: "chat", ChatID: chatID},
	})
}

// GetChat resolves a chat by numeric id or @username.
func (c *Client) GetChat(ctx context.Context, ref string) (*Chat, error) {
	raw, err := c.postWithResult(ctx, "/getChat", map[string]any{"chat_id": ref})
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, apperr.Transport("getChat", err)
	}
	return &chat, nil
}

func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	raw, err := c.postWithResult(ctx, "/getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, apperr.Transport("getUpdates", err)
	}
	return updates, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.post(ctx, "/deleteWebhook", map[string]any{"drop_pending_updates": dropPending})
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	_, err := c.postWithResult(ctx, method, payload)
	return err
}

func (c *Client) postWithResult(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	op := strings.TrimPrefix(method, "/")
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(b))
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	var wrapper struct {
		Ok          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	decodeErr := json.Unmarshal(body, &wrapper)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || !wrapper.Ok {
		desc := wrapper.Description
		if desc == "" {
			desc = string(bytes.TrimSpace(body[:min(len(body), 4096)]))
		}
		return nil, apperr.Transport(op, &APIError{
			Method:      op,
			StatusCode:  resp.StatusCode,
			Code:        wrapper.ErrorCode,
			Description: desc,
		})
	}
	return wrapper.Result, nil
}
