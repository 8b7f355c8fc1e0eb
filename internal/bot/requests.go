package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/render"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

func (b *Bot) requests(ctx context.Context, c workflow.Caller) error {
	if _, err := b.guard.Authorize(ctx, c.ID, access.OpViewRequests); err != nil {
		if errors.Is(err, apperr.ErrDenied) {
			b.say(ctx, c, unknownCommand)
			return nil
		}
		b.say(ctx, c, genericFailure)
		return err
	}
	text, kb, err := b.requestsPage(ctx, 0)
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	_, err = b.reply(ctx, c, text, kb)
	return err
}

// requestsPage renders pending requests newest first with a fulfil button
// per request.
func (b *Bot) requestsPage(ctx context.Context, page int) (string, *tg.InlineKeyboardMarkup, error) {
	p, err := b.query.ListRequests(ctx, page, query.RequestPageSize)
	if err != nil {
		return "", nil, err
	}
	var rows [][]tg.InlineKeyboardButton
	var sb strings.Builder
	if p.TotalItems == 0 {
		sb.WriteString("📭 No pending requests.")
	} else {
		fmt.Fprintf(&sb, "📬 <b>Pending requests</b> · %d", p.TotalItems)
		if p.ShowNav() {
			fmt.Fprintf(&sb, " · page %d/%d", p.Number(), p.TotalPages)
		}
		sb.WriteString("\n")
		for i, r := range p.Items {
			sb.WriteString("\n")
			sb.WriteString(render.RequestLine(p.Page*p.Size+i+1, r))
			rows = append(rows, []tg.InlineKeyboardButton{tg.Button(fmt.Sprintf("✅ #%d fulfilled", r.ID), fmt.Sprintf("ful:%d", r.ID))})
		}
	}
	if nav := storage.PageNav("req:", p.Page, p.TotalPages); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, []tg.InlineKeyboardButton{tg.Button("Close", "close")})
	kb := tg.NewInlineKeyboardMarkup(rows)
	return sb.String(), &kb, nil
}

// fulfil flips a request and notifies the requester. Only the caller that
// wins the flip sends the notification, so it goes out once.
func (b *Bot) fulfil(ctx context.Context, c workflow.Caller, id int64) (string, error) {
	if _, err := b.guard.Authorize(ctx, c.ID, access.OpFulfilRequest); err != nil {
		if errors.Is(err, apperr.ErrDenied) {
			return "Not available.", nil
		}
		return genericFailure, err
	}
	r, err := b.store.FulfillRequest(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return "Already marked as fulfilled.", nil
	case errors.Is(err, apperr.ErrNotFound):
		return "That request no longer exists.", nil
	case err != nil:
		return genericFailure, err
	}

	note := fmt.Sprintf("🎉 Good news! Your request <b>%s</b> is now available. Type the title to find it.", html.EscapeString(r.Query))
	if _, err := b.gw.SendMessage(ctx, tg.SendMessageRequest{ChatID: r.UserID, Text: note, ParseMode: "HTML"}); err != nil {
		b.logger.Warn("failed to notify requester", "request_id", r.ID, "user_id", r.UserID, "error", err)
	}
	b.logger.Info("request fulfilled", "request_id", r.ID, "by", c.ID)
	events.Emit(ctx, b.events, b.logger, events.Event{
		Type:      events.RequestFulfilled,
		RequestID: r.ID,
		UserID:    r.UserID,
		Title:     r.Query,
	})
	return "Marked as fulfilled.", nil
}
