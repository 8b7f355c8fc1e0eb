package storage

import (
	"fmt"

	"moviezone-tg-bot/internal/tg"
)

// DeepLink is the t.me link that resolves one download of link idx.
func DeepLink(botUsername string, movieID int64, idx int) string {
	return fmt.Sprintf("https://t.me/%s?start=dl_%d_%d", botUsername, movieID, idx)
}

func (l Link) ButtonText(movieType MovieType) string {
	if movieType == MovieSeries && l.Episode > 0 && l.Label == "" {
		return fmt.Sprintf("Episode %d", l.Episode)
	}
	return l.Label
}

func rowWidth(t MovieType) int {
	if t == MovieSeries {
		return 3
	}
	return 2
}

// DownloadKeyboard is attached to channel posts. Every button is a deep link
// back into the bot so each download is counted.
func (m *Movie) DownloadKeyboard(botUsername string) *tg.InlineKeyboardMarkup {
	if m == nil || !m.Postable() {
		return nil
	}
	width := rowWidth(m.Type)
	rows := make([][]tg.InlineKeyboardButton, 0, len(m.Links)/width+1)
	row := []tg.InlineKeyboardButton{}
	for i, l := range m.Links {
		if l.URL == "" {
			continue
		}
		row = append(row, tg.InlineKeyboardButton{Text: "📥 " + l.ButtonText(m.Type), URL: DeepLink(botUsername, m.ID, i)})
		if len(row) == width {
			rows = append(rows, row)
			row = []tg.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

// QualityKeyboard is the in-chat variant of DownloadKeyboard.
func (m *Movie) QualityKeyboard() *tg.InlineKeyboardMarkup {
	if m == nil {
		return nil
	}
	width := rowWidth(m.Type)
	rows := make([][]tg.InlineKeyboardButton, 0, len(m.Links)/width+2)
	row := []tg.InlineKeyboardButton{}
	for i, l := range m.Links {
		if l.URL == "" {
			continue
		}
		row = append(row, tg.Button(l.ButtonText(m.Type), fmt.Sprintf("dl:%d:%d", m.ID, i)))
		if len(row) == width {
			rows = append(rows, row)
			row = []tg.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tg.InlineKeyboardButton{tg.Button("Close", "close")})
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

// PageNav returns the <<< / >>> row for a 0-indexed page, or nil when a
// single page holds everything. Callback data is prefix followed by the
// target page.
func PageNav(prefix string, page, totalPages int) []tg.InlineKeyboardButton {
	if totalPages <= 1 {
		return nil
	}
	nav := []tg.InlineKeyboardButton{}
	if page > 0 {
		nav = append(nav, tg.Button("<<<", fmt.Sprintf("%s%d", prefix, page-1)))
	}
	nav = append(nav, tg.Button(fmt.Sprintf("%d/%d", page+1, totalPages), "noop"))
	if page < totalPages-1 {
		nav = append(nav, tg.Button(">>>", fmt.Sprintf("%s%d", prefix, page+1)))
	}
	return nav
}

// MovieListKeyboard lists movies as buttons opening their cards, followed by
// page navigation and a close button.
func MovieListKeyboard(movies []Movie, navPrefix string, page, totalPages int) *tg.InlineKeyboardMarkup {
	rows := make([][]tg.InlineKeyboardButton, 0, len(movies)+2)
	for _, mv := range movies {
		rows = append(rows, []tg.InlineKeyboardButton{tg.Button("🎬 "+mv.Title, fmt.Sprintf("mv:%d", mv.ID))})
	}
	if nav := PageNav(navPrefix, page, totalPages); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, []tg.InlineKeyboardButton{tg.Button("Close", "close")})
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}
