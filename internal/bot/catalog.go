package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/render"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

const deepLinkPrefix = "dl_"

// parseDeepLink splits the "dl_<movie>_<idx>" start parameter.
func parseDeepLink(arg string) (movieID int64, idx int, ok bool) {
	rest, found := strings.CutPrefix(arg, deepLinkPrefix)
	if !found {
		return 0, 0, false
	}
	rawID, rawIdx, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	movieID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || movieID <= 0 {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(rawIdx)
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return movieID, idx, true
}

// download resolves one link of a movie and counts it.
func (b *Bot) download(ctx context.Context, c workflow.Caller, movieID int64, idx int) error {
	m, err := b.store.GetMovie(ctx, movieID)
	if errors.Is(err, apperr.ErrNotFound) {
		b.say(ctx, c, "This movie is no longer available.")
		return nil
	}
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	if idx >= len(m.Links) || m.Links[idx].URL == "" {
		b.say(ctx, c, "That download no longer exists.")
		return nil
	}
	count, err := b.store.IncrementDownloads(ctx, movieID)
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	b.logger.Debug("download resolved", "movie_id", movieID, "link", idx, "downloads", count)

	link := m.Links[idx]
	text := fmt.Sprintf("📥 <b>%s</b> · %s", html.EscapeString(m.Title), html.EscapeString(link.ButtonText(m.Type)))
	kb := tg.NewInlineKeyboardMarkup([][]tg.InlineKeyboardButton{{{Text: "⬇️ Download", URL: link.URL}}})
	_, err = b.reply(ctx, c, text, &kb)
	return err
}

func (b *Bot) card(ctx context.Context, c workflow.Caller, movieID int64) error {
	m, err := b.store.GetMovie(ctx, movieID)
	if errors.Is(err, apperr.ErrNotFound) {
		b.say(ctx, c, "This movie is no longer available.")
		return nil
	}
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	_, err = b.reply(ctx, c, render.Card(m), m.QualityKeyboard())
	return err
}

func (b *Bot) search(ctx context.Context, c workflow.Caller, text string) error {
	if !access.Allowed(c.Role, access.OpSearch) {
		b.say(ctx, c, unknownCommand)
		return nil
	}
	movies, err := b.query.Search(ctx, text, query.SearchLimit)
	if errors.Is(err, apperr.ErrValidation) {
		b.say(ctx, c, apperr.Message(err, "Send part of a title."))
		return nil
	}
	if err != nil {
		b.say(ctx, c, genericFailure)
		return err
	}
	if len(movies) == 0 {
		msg := fmt.Sprintf("Nothing found for <b>%s</b>.", html.EscapeString(strings.TrimSpace(text)))
		if access.Allowed(c.Role, access.OpRequestMovie) {
			msg += " Send /request to ask for it."
		}
		b.say(ctx, c, msg)
		return nil
	}
	_, err = b.reply(ctx, c, fmt.Sprintf("🔎 Results for <b>%s</b>", html.EscapeString(strings.TrimSpace(text))),
		storage.MovieListKeyboard(movies, "", 0, 1))
	return err
}

// letters are the buckets offered by the A-Z picker.
var letters = append(strings.Split("ABCDEFGHIJKLMNOPQRSTUVWXYZ", ""), storage.NonLetter)

func (b *Bot) browseKeyboard() *tg.InlineKeyboardMarkup {
	var rows [][]tg.InlineKeyboardButton
	var row []tg.InlineKeyboardButton
	for i, cat := range b.catalog.Categories {
		row = append(row, tg.Button(cat, fmt.Sprintf("cat:%d:0", i)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
		row = nil
	}
	for _, l := range letters {
		row = append(row, tg.Button(l, fmt.Sprintf("let:%s:0", l)))
		if len(row) == 7 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tg.InlineKeyboardButton{tg.Button("Close", "close")})
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

func (b *Bot) browse(ctx context.Context, c workflow.Caller) error {
	if !access.Allowed(c.Role, access.OpBrowse) {
		b.say(ctx, c, unknownCommand)
		return nil
	}
	_, err := b.reply(ctx, c, "🗂 Pick a category, or a letter to list titles alphabetically.", b.browseKeyboard())
	return err
}

// listing renders one page of a browse selection.
func listing(heading string, p query.Page[storage.Movie], navPrefix string) (string, *tg.InlineKeyboardMarkup) {
	if p.TotalItems == 0 {
		return fmt.Sprintf("Nothing in %s yet.", heading), storage.MovieListKeyboard(nil, navPrefix, 0, 0)
	}
	text := fmt.Sprintf("🗂 %s · %d title(s)", heading, p.TotalItems)
	if p.ShowNav() {
		text += fmt.Sprintf(" · page %d/%d", p.Number(), p.TotalPages)
	}
	return text, storage.MovieListKeyboard(p.Items, navPrefix, p.Page, p.TotalPages)
}

func (b *Bot) browseCategory(ctx context.Context, catIdx, page int) (string, *tg.InlineKeyboardMarkup, error) {
	if catIdx < 0 || catIdx >= len(b.catalog.Categories) {
		return "", nil, apperr.NotFound("browse", "That category no longer exists.")
	}
	name := b.catalog.Categories[catIdx]
	p, err := b.query.ByCategory(ctx, name, page, query.CategoryPageSize)
	if err != nil {
		return "", nil, err
	}
	text, kb := listing("<b>"+html.EscapeString(name)+"</b>", p, fmt.Sprintf("cat:%d:", catIdx))
	return text, kb, nil
}

func (b *Bot) browseLetter(ctx context.Context, letter string, page int) (string, *tg.InlineKeyboardMarkup, error) {
	p, err := b.query.ByLeadingLetter(ctx, letter, page, query.CategoryPageSize)
	if err != nil {
		return "", nil, err
	}
	text, kb := listing("<b>"+html.EscapeString(letter)+"</b>", p, fmt.Sprintf("let:%s:", letter))
	return text, kb, nil
}
