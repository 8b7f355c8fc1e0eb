// Package render builds the HTML texts the bot sends. Optional metadata that
// was skipped is left out entirely.
package render

import (
	"fmt"
	"html"
	"strings"

	"moviezone-tg-bot/internal/storage"
)

func esc(s string) string { return html.EscapeString(s) }

func details(b *strings.Builder, m *storage.Movie) {
	if m.Year != storage.Unset {
		fmt.Fprintf(b, "📅 Year: %s\n", esc(m.Year))
	}
	if m.Runtime != storage.Unset {
		fmt.Fprintf(b, "⏱ Runtime: %s\n", esc(m.Runtime))
	}
	if m.Rating != storage.Unset {
		fmt.Fprintf(b, "⭐ Rating: %s/10\n", esc(m.Rating))
	}
	if m.Category != storage.Unset {
		fmt.Fprintf(b, "🎭 Category: %s\n", esc(m.Category))
	}
	if m.Language != storage.Unset {
		fmt.Fprintf(b, "🗣 Language: %s\n", esc(m.Language))
	}
}

func linkSummary(m *storage.Movie) string {
	if m.Type == storage.MovieSeries {
		return fmt.Sprintf("📺 Episodes: %d", len(m.Links))
	}
	labels := make([]string, 0, len(m.Links))
	for _, l := range m.Links {
		labels = append(labels, esc(l.Label))
	}
	return "📥 Qualities: " + strings.Join(labels, ", ")
}

// Post is the channel announcement of a movie.
func Post(m *storage.Movie, channelUsername string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>%s</b>\n\n", esc(m.Title))
	details(&b, m)
	b.WriteString(linkSummary(m))
	b.WriteString("\n")
	if channelUsername != "" {
		fmt.Fprintf(&b, "\n📢 Join @%s for more", esc(channelUsername))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Card is the in-chat view of a movie opened from search or browse.
func Card(m *storage.Movie) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>%s</b>\n\n", esc(m.Title))
	details(&b, m)
	b.WriteString(linkSummary(m))
	b.WriteString("\n\nPick a download below.")
	return b.String()
}

// Preview shows the assembled record before it is saved.
func Preview(m *storage.Movie) string {
	var b strings.Builder
	b.WriteString("<b>Preview</b>\n\n")
	fmt.Fprintf(&b, "🎬 <b>%s</b> (%s)\n", esc(m.Title), m.Type)
	details(&b, m)
	b.WriteString("\n")
	for i, l := range m.Links {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, esc(l.ButtonText(m.Type)), esc(l.URL))
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatsLine is one entry of a stats listing; n is 1-indexed.
func StatsLine(n int, m storage.Movie, uploader string) string {
	return fmt.Sprintf("%d. <b>%s</b> · %d downloads · by %s", n, esc(m.Title), m.Downloads, esc(uploader))
}

func RequestLine(n int, r storage.Request) string {
	return fmt.Sprintf("%d. %s <i>(#%d, %s)</i>", n, esc(r.Query), r.ID, r.CreatedAt.Format("2006-01-02"))
}
