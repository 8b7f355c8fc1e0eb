package flows

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/render"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

// Callback prefixes of the stats pager. The page number follows the prefix.
const (
	StatsCategoryPrefix = "st:c:"
	StatsUploaderPrefix = "st:u:"
)

// StatsReport renders download statistics. Pages after the first are served
// from callbacks once the dialog is over.
type StatsReport struct {
	d Deps
}

func NewStatsReport(d Deps) *StatsReport {
	d.defaults()
	return &StatsReport{d: d}
}

func (r *StatsReport) lines(ctx context.Context, b *strings.Builder, movies []storage.Movie, first int) error {
	names, err := uploaderNames(ctx, r.d)
	if err != nil {
		return err
	}
	for i, m := range movies {
		b.WriteString("\n")
		b.WriteString(render.StatsLine(first+i+1, m, nameOf(names, m.Uploader.ID)))
	}
	return nil
}

func (r *StatsReport) page(ctx context.Context, heading, empty, navPrefix string, p query.Page[storage.Movie]) (workflow.Outcome, error) {
	var b strings.Builder
	if p.TotalItems == 0 {
		b.WriteString(empty)
	} else {
		fmt.Fprintf(&b, "📊 %s · %d movie(s)", heading, p.TotalItems)
		if p.ShowNav() {
			fmt.Fprintf(&b, " · page %d/%d", p.Number(), p.TotalPages)
		}
		b.WriteString("\n")
		if err := r.lines(ctx, &b, p.Items, p.Page*p.Size); err != nil {
			return workflow.Outcome{}, err
		}
	}
	var buttons [][]tg.InlineKeyboardButton
	if nav := storage.PageNav(navPrefix, p.Page, p.TotalPages); nav != nil {
		buttons = append(buttons, nav)
	}
	buttons = append(buttons, []tg.InlineKeyboardButton{tg.Button("Close", "close")})
	return workflow.Outcome{Text: b.String(), Buttons: buttons}, nil
}

// ByCategory reports the category at catIdx in the catalog.
func (r *StatsReport) ByCategory(ctx context.Context, catIdx, page int) (workflow.Outcome, error) {
	cats := r.d.Catalog.Categories
	if catIdx < 0 || catIdx >= len(cats) {
		return workflow.Outcome{}, apperr.NotFound("stats", "That category no longer exists.")
	}
	name := cats[catIdx]
	p, err := r.d.Query.ByCategory(ctx, name, page, query.CategoryPageSize)
	if err != nil {
		return workflow.Outcome{}, err
	}
	heading := "<b>" + html.EscapeString(name) + "</b>"
	empty := fmt.Sprintf("No movies in <b>%s</b> yet.", html.EscapeString(name))
	return r.page(ctx, heading, empty, fmt.Sprintf("%s%d:", StatsCategoryPrefix, catIdx), p)
}

// ByUploader reports everything uploaded by one staff member.
func (r *StatsReport) ByUploader(ctx context.Context, uploaderID int64, page int) (workflow.Outcome, error) {
	names, err := uploaderNames(ctx, r.d)
	if err != nil {
		return workflow.Outcome{}, err
	}
	p, err := r.d.Query.ByUploader(ctx, uploaderID, page, query.CategoryPageSize)
	if err != nil {
		return workflow.Outcome{}, err
	}
	name := html.EscapeString(nameOf(names, uploaderID))
	heading := "Uploads by <b>" + name + "</b>"
	empty := fmt.Sprintf("<b>%s</b> hasn't uploaded anything yet.", name)
	return r.page(ctx, heading, empty, fmt.Sprintf("%s%d:", StatsUploaderPrefix, uploaderID), p)
}

// ByTitle reports the best title matches for q.
func (r *StatsReport) ByTitle(ctx context.Context, q string) (workflow.Outcome, error) {
	movies, err := r.d.Query.Search(ctx, q, query.SearchLimit)
	if err != nil {
		return workflow.Outcome{}, err
	}
	var b strings.Builder
	if len(movies) == 0 {
		fmt.Fprintf(&b, "Nothing matches <b>%s</b>.", html.EscapeString(q))
	} else {
		fmt.Fprintf(&b, "📊 Matches for <b>%s</b>\n", html.EscapeString(q))
		if err := r.lines(ctx, &b, movies, 0); err != nil {
			return workflow.Outcome{}, err
		}
	}
	return workflow.Outcome{Text: b.String(), Buttons: [][]tg.InlineKeyboardButton{{tg.Button("Close", "close")}}}, nil
}

// ParseStatsCallback splits "st:c:<idx>:<page>" or "st:u:<id>:<page>".
func ParseStatsCallback(data string) (byCategory bool, key int64, page int, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(data, StatsCategoryPrefix):
		byCategory, rest = true, data[len(StatsCategoryPrefix):]
	case strings.HasPrefix(data, StatsUploaderPrefix):
		rest = data[len(StatsUploaderPrefix):]
	default:
		return false, 0, 0, false
	}
	rawKey, rawPage, found := strings.Cut(rest, ":")
	if !found {
		return false, 0, 0, false
	}
	key, err := strconv.ParseInt(rawKey, 10, 64)
	if err != nil {
		return false, 0, 0, false
	}
	page, err = strconv.Atoi(rawPage)
	if err != nil {
		return false, 0, 0, false
	}
	return byCategory, key, page, true
}

func ShowStats(d Deps) *workflow.Flow {
	report := NewStatsReport(d)
	cat := d.Catalog
	return workflow.NewFlow(workflow.KindShowStats, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		switch s.String("mode") {
		case "name":
			return report.ByTitle(ctx, s.String("name"))
		case "category":
			return report.ByCategory(ctx, int(s.Int64("category")), 0)
		default:
			return report.ByUploader(ctx, s.Int64("uploader"), 0)
		}
	},
		&workflow.Step{
			ID: "mode",
			Prompt: staticPrompt("📊 How do you want to see the stats?", []tg.InlineKeyboardButton{
				workflow.Choice("🔤 By title", "name"),
				workflow.Choice("🗂 By category", "category"),
				workflow.Choice("👤 By uploader", "uploader"),
			}),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("stats", in, "name", "category", "uploader")
			},
			Next: func(_ *workflow.Session, v any) string { return v.(string) },
		},
		&workflow.Step{
			ID:     "name",
			Prompt: staticPrompt("Send part of the title."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("stats_name", in, 1, 200, "title")
			},
			AllowBack: true,
			Next:      goTo(workflow.End),
		},
		&workflow.Step{
			ID: "category",
			Prompt: func(context.Context, *workflow.Session) (workflow.Prompt, error) {
				buttons := make([]tg.InlineKeyboardButton, 0, len(cat.Categories))
				for i, c := range cat.Categories {
					buttons = append(buttons, workflow.Choice(c, strconv.Itoa(i)))
				}
				return workflow.Prompt{Text: "Pick a category.", Buttons: rows(buttons, 2)}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				v := text(in)
				if i, err := strconv.Atoi(v); err == nil && in.Choice && i >= 0 && i < len(cat.Categories) {
					return int64(i), nil
				}
				if i := cat.CategoryIndex(v); i >= 0 {
					return int64(i), nil
				}
				return nil, apperr.Validation("stats_category", "Pick one of the listed categories.")
			},
			AllowBack: true,
			Next:      goTo(workflow.End),
		},
		&workflow.Step{
			ID: "uploader",
			Prompt: func(ctx context.Context, _ *workflow.Session) (workflow.Prompt, error) {
				admins, err := d.Store.ListAdmins(ctx)
				if err != nil {
					return workflow.Prompt{}, err
				}
				buttons := []tg.InlineKeyboardButton{workflow.Choice("Owner", strconv.FormatInt(d.Guard.OwnerID(), 10))}
				for _, a := range admins {
					buttons = append(buttons, workflow.Choice(a.ShortName, strconv.FormatInt(a.UserID, 10)))
				}
				return workflow.Prompt{Text: "Whose uploads?", Buttons: rows(buttons, 2)}, nil
			},
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				id, err := parseID("stats_uploader", in)
				if err != nil {
					return nil, err
				}
				names, err := uploaderNames(ctx, d)
				if err != nil {
					return nil, err
				}
				if _, ok := names[id]; !ok {
					return nil, apperr.Validation("stats_uploader", "Pick one of the listed uploaders.")
				}
				return id, nil
			},
			AllowBack: true,
			Next:      goTo(workflow.End),
		},
	)
}
