package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/flows"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

// splitPaged parses "<prefix><key>:<page>".
func splitPaged(data, prefix string) (key string, page int, ok bool) {
	rest, found := strings.CutPrefix(data, prefix)
	if !found {
		return "", 0, false
	}
	key, rawPage, found := strings.Cut(rest, ":")
	if !found {
		return "", 0, false
	}
	page, err := strconv.Atoi(rawPage)
	if err != nil {
		return "", 0, false
	}
	return key, page, true
}

func (b *Bot) handleCallback(ctx context.Context, cq *tg.CallbackQuery) error {
	chatID := cq.From.ID
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}
	answer, err := b.routeCallback(ctx, cq, chatID)
	if aerr := b.gw.AnswerCallbackQuery(ctx, cq.ID, answer); aerr != nil {
		b.logger.Debug("failed to answer callback", "error", aerr)
	}
	return err
}

// routeCallback handles one button press and returns the toast text.
func (b *Bot) routeCallback(ctx context.Context, cq *tg.CallbackQuery, chatID int64) (string, error) {
	data := strings.TrimSpace(cq.Data)
	switch data {
	case "noop", "":
		return "", nil
	case "close":
		if cq.Message != nil {
			if err := b.gw.DeleteMessage(ctx, cq.Message.Chat.ID, cq.Message.MessageID); err != nil {
				b.logger.Debug("failed to close message", "error", err)
			}
		}
		return "", nil
	}

	from := cq.From
	c, err := b.caller(ctx, &from, chatID)
	if err != nil {
		return genericFailure, err
	}

	if in, ok := workflow.ParseCallback(data); ok {
		_, err := b.engine.Advance(ctx, c, in)
		if errors.Is(err, apperr.ErrNotFound) {
			return "This dialog has ended.", nil
		}
		return "", err
	}

	switch {
	case strings.HasPrefix(data, "dl:"):
		rawID, rawIdx, _ := strings.Cut(strings.TrimPrefix(data, "dl:"), ":")
		id, err1 := strconv.ParseInt(rawID, 10, 64)
		idx, err2 := strconv.Atoi(rawIdx)
		if err1 != nil || err2 != nil || idx < 0 {
			return "", nil
		}
		return "", b.download(ctx, c, id, idx)

	case strings.HasPrefix(data, "mv:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, "mv:"), 10, 64)
		if err != nil {
			return "", nil
		}
		return "", b.card(ctx, c, id)

	case strings.HasPrefix(data, "cat:"):
		key, page, ok := splitPaged(data, "cat:")
		idx, err := strconv.Atoi(key)
		if !ok || err != nil {
			return "", nil
		}
		text, kb, err := b.browseCategory(ctx, idx, page)
		return b.editListing(ctx, cq, text, kb, err)

	case strings.HasPrefix(data, "let:"):
		letter, page, ok := splitPaged(data, "let:")
		if !ok {
			return "", nil
		}
		text, kb, err := b.browseLetter(ctx, letter, page)
		return b.editListing(ctx, cq, text, kb, err)

	case strings.HasPrefix(data, "req:"):
		if !access.Allowed(c.Role, access.OpViewRequests) {
			return "Not available.", nil
		}
		page, err := strconv.Atoi(strings.TrimPrefix(data, "req:"))
		if err != nil {
			return "", nil
		}
		text, kb, err := b.requestsPage(ctx, page)
		return b.editListing(ctx, cq, text, kb, err)

	case strings.HasPrefix(data, "ful:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, "ful:"), 10, 64)
		if err != nil {
			return "", nil
		}
		answer, err := b.fulfil(ctx, c, id)
		if err != nil || !access.Allowed(c.Role, access.OpViewRequests) {
			return answer, err
		}
		text, kb, err := b.requestsPage(ctx, currentPage(cq))
		if _, err := b.editListing(ctx, cq, text, kb, err); err != nil {
			return answer, err
		}
		return answer, nil

	case strings.HasPrefix(data, "st:"):
		if !access.Allowed(c.Role, access.OpShowStats) {
			return "Not available.", nil
		}
		byCategory, key, page, ok := flows.ParseStatsCallback(data)
		if !ok {
			return "", nil
		}
		var out workflow.Outcome
		if byCategory {
			out, err = b.stats.ByCategory(ctx, int(key), page)
		} else {
			out, err = b.stats.ByUploader(ctx, key, page)
		}
		kb := tg.NewInlineKeyboardMarkup(out.Buttons)
		return b.editListing(ctx, cq, out.Text, &kb, err)
	}
	b.logger.Debug("unknown callback", "data", data)
	return "", nil
}

// currentPage reads the page a requests listing is showing from its
// navigation row.
func currentPage(cq *tg.CallbackQuery) int {
	if cq.Message == nil || cq.Message.ReplyMarkup == nil {
		return 0
	}
	for _, row := range cq.Message.ReplyMarkup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != "noop" {
				continue
			}
			cur, _, ok := strings.Cut(btn.Text, "/")
			if n, err := strconv.Atoi(cur); ok && err == nil && n > 0 {
				return n - 1
			}
		}
	}
	return 0
}

// editListing replaces the pressed message with a new page.
func (b *Bot) editListing(ctx context.Context, cq *tg.CallbackQuery, text string, kb *tg.InlineKeyboardMarkup, err error) (string, error) {
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindNotFound || k == apperr.KindValidation {
			return apperr.Message(err, "Not available."), nil
		}
		return genericFailure, err
	}
	if cq.Message == nil {
		return "", nil
	}
	if err := b.gw.EditMessageText(ctx, tg.EditMessageTextRequest{
		ChatID:      cq.Message.Chat.ID,
		MessageID:   cq.Message.MessageID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: kb,
	}); err != nil {
		b.logger.Warn("failed to edit listing", "chat_id", cq.Message.Chat.ID, "error", err)
	}
	return "", nil
}
