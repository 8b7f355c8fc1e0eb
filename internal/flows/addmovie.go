package flows

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/render"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

var (
	urlPattern     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://\S+$`)
	yearPattern    = regexp.MustCompile(`^\d{4}$`)
	minutesPattern = regexp.MustCompile(`^\d{1,3}$`)
)

const (
	fieldLinks    = "links"
	fieldSelected = "selected"
)

// editable lists the preview fields that can be changed in place.
var editable = []struct{ step, label string }{
	{"title", "Title"},
	{"category", "Category"},
	{"language", "Language"},
	{"year", "Year"},
	{"runtime", "Runtime"},
	{"rating", "Rating"},
}

func links(s *workflow.Session) []storage.Link {
	l, _ := s.Fields[fieldLinks].([]storage.Link)
	return l
}

func selected(s *workflow.Session) []int64 {
	ids, _ := s.Fields[fieldSelected].([]int64)
	return ids
}

func movieType(s *workflow.Session) storage.MovieType {
	if s.String("type") == string(storage.MovieSeries) {
		return storage.MovieSeries
	}
	return storage.MovieSingle
}

func movieFrom(s *workflow.Session) *storage.Movie {
	return &storage.Movie{
		Title:    s.String("title"),
		Type:     movieType(s),
		Links:    append([]storage.Link(nil), links(s)...),
		Category: s.String("category"),
		Language: s.String("language"),
		Year:     s.String("year"),
		Runtime:  s.String("runtime"),
		Rating:   s.String("rating"),
		Uploader: storage.Uploader{ID: s.Caller.ID, Role: s.Caller.Role},
	}
}

func AddMovie(d Deps) *workflow.Flow {
	cat := d.Catalog
	return workflow.NewFlow(workflow.KindAddMovie, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		return finishAddMovie(ctx, d, s)
	},
		&workflow.Step{
			ID:     "title",
			Prompt: staticPrompt("🎬 Send the movie title."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("title", in, 1, 200, "title")
			},
			Next: goTo("type"),
		},
		&workflow.Step{
			ID: "type",
			Prompt: staticPrompt("Is it a single movie or a series?", []tg.InlineKeyboardButton{
				workflow.Choice("🎞 Single", string(storage.MovieSingle)),
				workflow.Choice("📺 Series", string(storage.MovieSeries)),
			}),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("type", in, string(storage.MovieSingle), string(storage.MovieSeries))
			},
			Record: func(s *workflow.Session, v any) {
				if s.String("type") != v.(string) {
					delete(s.Fields, fieldLinks)
				}
				s.Set("type", v)
			},
			AllowBack: true,
			Next:      goTo("label"),
		},
		&workflow.Step{
			ID: "label",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				n := len(links(s)) + 1
				if movieType(s) == storage.MovieSeries {
					return workflow.Prompt{Text: fmt.Sprintf("Send a label for episode %d, or skip to call it <i>Episode %d</i>.", n, n)}, nil
				}
				buttons := make([]tg.InlineKeyboardButton, 0, len(cat.Qualities))
				for _, q := range cat.Qualities {
					buttons = append(buttons, workflow.Choice(q, q))
				}
				return workflow.Prompt{Text: fmt.Sprintf("Pick or send the quality label of link %d.", n), Buttons: rows(buttons, 3)}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("label", in, 1, 32, "label")
			},
			Skip: func(s *workflow.Session) (any, bool) {
				if movieType(s) != storage.MovieSeries {
					return nil, false
				}
				return fmt.Sprintf("Episode %d", len(links(s))+1), true
			},
			AllowBack: true,
			Next:      goTo("url"),
		},
		&workflow.Step{
			ID: "url",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				return workflow.Prompt{Text: fmt.Sprintf("Send the download link for <b>%s</b>.", html.EscapeString(s.String("label")))}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return validateURL(text(in))
			},
			Record: func(s *workflow.Session, v any) {
				l := storage.Link{Label: s.String("label"), URL: v.(string)}
				if movieType(s) == storage.MovieSeries {
					l.Episode = len(links(s)) + 1
				}
				s.Set(fieldLinks, append(links(s), l))
			},
			AllowBack: true,
			Next:      goTo("more"),
		},
		&workflow.Step{
			ID: "more",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				ls := links(s)
				last := ls[len(ls)-1]
				return workflow.Prompt{
					Text: fmt.Sprintf("Added <b>%s</b>. %d link(s) so far. Add another one?", html.EscapeString(last.Label), len(ls)),
					Buttons: [][]tg.InlineKeyboardButton{{
						workflow.Choice("➕ Add another", "add"),
						workflow.Choice("✅ Done", "done"),
					}},
				}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("more", in, "add", "done")
			},
			Next: func(_ *workflow.Session, v any) string {
				if v == "add" {
					return "label"
				}
				return "category"
			},
		},
		&workflow.Step{
			ID: "category",
			Prompt: func(context.Context, *workflow.Session) (workflow.Prompt, error) {
				buttons := make([]tg.InlineKeyboardButton, 0, len(cat.Categories))
				for i, c := range cat.Categories {
					buttons = append(buttons, workflow.Choice(c, strconv.Itoa(i)))
				}
				return workflow.Prompt{
					Text:    fmt.Sprintf("Pick a category, or skip for <b>%s</b>.", html.EscapeString(cat.DefaultCategory)),
					Buttons: rows(buttons, 2),
				}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				v := text(in)
				if in.Choice {
					if i, err := strconv.Atoi(v); err == nil && i >= 0 && i < len(cat.Categories) {
						return cat.Categories[i], nil
					}
				}
				if i := cat.CategoryIndex(v); i >= 0 {
					return cat.Categories[i], nil
				}
				return nil, apperr.Validation("category", "Pick one of the listed categories.")
			},
			Skip:      func(*workflow.Session) (any, bool) { return cat.DefaultCategory, true },
			AllowBack: true,
			Next:      goTo("language"),
		},
		&workflow.Step{
			ID: "language",
			Prompt: func(context.Context, *workflow.Session) (workflow.Prompt, error) {
				buttons := make([]tg.InlineKeyboardButton, 0, len(cat.Languages))
				for _, l := range cat.Languages {
					buttons = append(buttons, workflow.Choice(l, l))
				}
				return workflow.Prompt{
					Text:    fmt.Sprintf("Pick or send the language, or skip for <b>%s</b>.", html.EscapeString(cat.DefaultLanguage)),
					Buttons: rows(buttons, 3),
				}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				v, err := boundedText("language", in, 1, 32, "language")
				if err != nil {
					return nil, err
				}
				for _, l := range cat.Languages {
					if strings.EqualFold(l, v) {
						return l, nil
					}
				}
				return v, nil
			},
			Skip:      func(*workflow.Session) (any, bool) { return cat.DefaultLanguage, true },
			AllowBack: true,
			Next:      goTo("year"),
		},
		&workflow.Step{
			ID:     "year",
			Prompt: staticPrompt("📅 Send the release year, or skip."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return validateYear(text(in), d.Now())
			},
			Skip:      skipUnset,
			AllowBack: true,
			Next:      goTo("runtime"),
		},
		&workflow.Step{
			ID:     "runtime",
			Prompt: staticPrompt("⏱ Send the runtime in minutes (like 142 or 2h22m), or skip."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return validateRuntime(text(in))
			},
			Skip:      skipUnset,
			AllowBack: true,
			Next:      goTo("rating"),
		},
		&workflow.Step{
			ID:     "rating",
			Prompt: staticPrompt("⭐ Send the rating out of 10, or skip."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return validateRating(text(in))
			},
			Skip:      skipUnset,
			AllowBack: true,
			Next:      goTo("preview"),
		},
		&workflow.Step{
			ID: "preview",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				return workflow.Prompt{
					Text: render.Preview(movieFrom(s)),
					Buttons: [][]tg.InlineKeyboardButton{{
						workflow.Choice("✅ Confirm", "confirm"),
						workflow.Choice("✏️ Edit", "edit"),
					}},
				}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("preview", in, "confirm", "edit")
			},
			AllowBack: true,
			Next: func(_ *workflow.Session, v any) string {
				if v == "edit" {
					return "edit"
				}
				return "channels"
			},
		},
		&workflow.Step{
			ID: "edit",
			Prompt: func(context.Context, *workflow.Session) (workflow.Prompt, error) {
				buttons := make([]tg.InlineKeyboardButton, 0, len(editable))
				for _, e := range editable {
					buttons = append(buttons, workflow.Choice(e.label, e.step))
				}
				return workflow.Prompt{Text: "Which field do you want to change?", Buttons: rows(buttons, 3)}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				v := strings.ToLower(text(in))
				for _, e := range editable {
					if v == e.step {
						return e.step, nil
					}
				}
				return nil, apperr.Validation("edit", "Please use the buttons below.")
			},
			AllowBack: true,
			Next: func(s *workflow.Session, v any) string {
				s.ReturnTo = "preview"
				return v.(string)
			},
		},
		&workflow.Step{
			ID: "channels",
			Prompt: func(ctx context.Context, s *workflow.Session) (workflow.Prompt, error) {
				return channelPicker(ctx, d, s)
			},
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				v := text(in)
				if v == "post" {
					return v, nil
				}
				if raw, ok := strings.CutPrefix(v, "t:"); ok {
					id, err := strconv.ParseInt(raw, 10, 64)
					if err == nil {
						return id, nil
					}
				}
				return nil, apperr.Validation("channels", "Tap channels to select them, then Post.")
			},
			Record: func(s *workflow.Session, v any) {
				id, ok := v.(int64)
				if !ok {
					return
				}
				cur := selected(s)
				next := make([]int64, 0, len(cur)+1)
				found := false
				for _, c := range cur {
					if c == id {
						found = true
						continue
					}
					next = append(next, c)
				}
				if !found {
					next = append(next, id)
				}
				s.Set(fieldSelected, next)
			},
			AllowBack: true,
			Next: func(_ *workflow.Session, v any) string {
				if v == "post" {
					return workflow.End
				}
				return "channels"
			},
		},
	)
}

func skipUnset(*workflow.Session) (any, bool) { return storage.Unset, true }

func validateURL(v string) (string, error) {
	if !urlPattern.MatchString(v) {
		return "", apperr.Validation("url", "That isn't a link. Send a full URL starting with https://")
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return "", apperr.Validation("url", "That isn't a link. Send a full URL starting with https://")
	}
	return v, nil
}

func validateYear(v string, now time.Time) (string, error) {
	if !yearPattern.MatchString(v) {
		return "", apperr.Validation("year", "Send the year as four digits, like 2021.")
	}
	y, _ := strconv.Atoi(v)
	if y < 1888 || y > now.Year()+2 {
		return "", apperr.Validation("year", fmt.Sprintf("The year must be between 1888 and %d.", now.Year()+2))
	}
	return v, nil
}

func validateRuntime(v string) (string, error) {
	v = strings.ToLower(strings.ReplaceAll(v, " ", ""))
	var minutes int
	switch {
	case minutesPattern.MatchString(v):
		minutes, _ = strconv.Atoi(v)
	default:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return "", apperr.Validation("runtime", "Send the runtime in minutes, like 142.")
		}
		minutes = int(dur.Round(time.Minute) / time.Minute)
	}
	if minutes < 1 || minutes > 999 {
		return "", apperr.Validation("runtime", "The runtime must be between 1 and 999 minutes.")
	}
	return fmt.Sprintf("%d min", minutes), nil
}

func validateRating(v string) (string, error) {
	f, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
	if err != nil || f < 0 || f > 10 {
		return "", apperr.Validation("rating", "Send a number from 0 to 10, like 7.8.")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func channelPicker(ctx context.Context, d Deps, s *workflow.Session) (workflow.Prompt, error) {
	chans, err := d.Store.ListChannels(ctx)
	if err != nil {
		return workflow.Prompt{}, err
	}
	if len(chans) == 0 {
		return workflow.Prompt{
			Text:    "No channels are configured. The movie will be saved without posting.",
			Buttons: [][]tg.InlineKeyboardButton{{workflow.Choice("💾 Save", "post")}},
		}, nil
	}
	picked := make(map[int64]bool)
	for _, id := range selected(s) {
		picked[id] = true
	}
	buttons := make([][]tg.InlineKeyboardButton, 0, len(chans)+1)
	for _, c := range chans {
		mark := "▫️ "
		if picked[c.ChatID] {
			mark = "✅ "
		}
		buttons = append(buttons, []tg.InlineKeyboardButton{workflow.Choice(mark+c.ShortName, fmt.Sprintf("t:%d", c.ChatID))})
	}
	action := "💾 Save without posting"
	if len(picked) > 0 {
		action = fmt.Sprintf("📤 Post to %d channel(s)", len(picked))
	}
	buttons = append(buttons, []tg.InlineKeyboardButton{workflow.Choice(action, "post")})
	return workflow.Prompt{Text: "Select the channels to post to.", Buttons: buttons}, nil
}

type postResult struct {
	channel storage.Channel
	err     error
}

func finishAddMovie(ctx context.Context, d Deps, s *workflow.Session) (workflow.Outcome, error) {
	m := movieFrom(s)
	if !m.Postable() {
		return workflow.Outcome{}, apperr.Validation("add_movie", "Add at least one download link first.")
	}
	if err := d.Store.CreateMovie(ctx, m); err != nil {
		return workflow.Outcome{}, err
	}

	results, err := postToChannels(ctx, d, m, selected(s))
	if err != nil {
		d.Logger.Warn("failed to load channels for posting", "movie_id", m.ID, "error", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Saved <b>%s</b> (#%d).", html.EscapeString(m.Title), m.ID)
	posted := make([]string, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(&b, "\n❌ %s: %s", html.EscapeString(r.channel.Name), html.EscapeString(postFailure(r.err)))
			continue
		}
		posted = append(posted, r.channel.Name)
		fmt.Fprintf(&b, "\n📤 %s", html.EscapeString(r.channel.Name))
	}
	events.Emit(ctx, d.Events, d.Logger, events.Event{
		Type:     events.MoviePosted,
		MovieID:  m.ID,
		UserID:   s.Caller.ID,
		Title:    m.Title,
		Channels: posted,
	})
	return workflow.Outcome{Text: b.String()}, nil
}

// postToChannels posts m to every selected channel that is still configured.
// Each channel is checked for reachability first; one failing channel never
// stops the others.
func postToChannels(ctx context.Context, d Deps, m *storage.Movie, ids []int64) ([]postResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	chans, err := d.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	targets := make([]storage.Channel, 0, len(ids))
	for _, c := range chans {
		if want[c.ChatID] {
			targets = append(targets, c)
		}
	}

	results := make([]postResult, len(targets))
	text := render.Post(m, d.ChannelUsername)
	kb := m.DownloadKeyboard(d.BotUsername)
	var g errgroup.Group
	g.SetLimit(d.PostConcurrency)
	for i, c := range targets {
		i, c := i, c
		g.Go(func() error {
			results[i] = postResult{channel: c, err: postOne(ctx, d, c, text, kb)}
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		if r.err != nil {
			d.Logger.Warn("failed to post movie", "movie_id", m.ID, "chat_id", r.channel.ChatID, "error", r.err)
		}
	}
	return results, nil
}

func postOne(ctx context.Context, d Deps, c storage.Channel, text string, kb *tg.InlineKeyboardMarkup) error {
	chat, err := d.Gateway.GetChat(ctx, strconv.FormatInt(c.ChatID, 10))
	if err != nil {
		return fmt.Errorf("channel unreachable: %w", err)
	}
	_, err = d.Gateway.SendMessage(ctx, tg.SendMessageRequest{ChatID: chat.ID, Text: text, ParseMode: "HTML", ReplyMarkup: kb})
	return err
}

func postFailure(err error) string {
	if strings.HasPrefix(err.Error(), "channel unreachable") {
		return "channel unreachable"
	}
	return "posting failed"
}
