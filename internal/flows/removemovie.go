package flows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

// canRemove reports whether the caller may delete m. Admins only remove
// their own uploads.
func canRemove(c workflow.Caller, m *storage.Movie) bool {
	return c.Role == storage.RoleOwner || m.Uploader.ID == c.ID
}

func RemoveMovie(d Deps) *workflow.Flow {
	return workflow.NewFlow(workflow.KindRemoveMovie, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		id, title := s.Int64("target"), s.String("target_title")
		if err := d.Store.DeleteMovie(ctx, id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return workflow.Outcome{}, apperr.NotFound("remove_movie", fmt.Sprintf("%s was already removed.", title))
			}
			return workflow.Outcome{}, err
		}
		d.Logger.Info("movie removed", "movie_id", id, "by", s.Caller.ID)
		events.Emit(ctx, d.Events, d.Logger, events.Event{
			Type:    events.MovieRemoved,
			MovieID: id,
			UserID:  s.Caller.ID,
			Title:   title,
		})
		return workflow.Outcome{Text: fmt.Sprintf("🗑 <b>%s</b> was removed from the catalog.", html.EscapeString(title))}, nil
	},
		&workflow.Step{
			ID:     "search",
			Prompt: staticPrompt("🗑 Send part of the title of the movie to remove."),
			Validate: func(ctx context.Context, s *workflow.Session, in workflow.Input) (any, error) {
				found, err := d.Query.Search(ctx, text(in), query.SearchLimit)
				if err != nil {
					return nil, err
				}
				matches := found[:0:0]
				for _, m := range found {
					if canRemove(s.Caller, &m) {
						matches = append(matches, m)
					}
				}
				if len(matches) == 0 {
					return nil, apperr.NotFound("remove_movie", "No movie you can remove matches that title.")
				}
				return matches, nil
			},
			Next: goTo("pick"),
		},
		&workflow.Step{
			ID: "pick",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				matches, _ := s.Fields["search"].([]storage.Movie)
				buttons := make([][]tg.InlineKeyboardButton, 0, len(matches))
				for _, m := range matches {
					buttons = append(buttons, []tg.InlineKeyboardButton{workflow.Choice("🎬 "+m.Title, strconv.FormatInt(m.ID, 10))})
				}
				return workflow.Prompt{Text: "Which one?", Buttons: buttons}, nil
			},
			Validate: func(ctx context.Context, s *workflow.Session, in workflow.Input) (any, error) {
				id, err := parseID("pick_movie", in)
				if err != nil {
					return nil, err
				}
				m, err := d.Store.GetMovie(ctx, id)
				if errors.Is(err, apperr.ErrNotFound) {
					return nil, apperr.Validation("pick_movie", "That movie no longer exists.")
				}
				if err != nil {
					return nil, err
				}
				if !canRemove(s.Caller, m) {
					return nil, apperr.Validation("pick_movie", "You can only remove movies you uploaded.")
				}
				return m, nil
			},
			Record: func(s *workflow.Session, v any) {
				m := v.(*storage.Movie)
				s.Set("target", m.ID)
				s.Set("target_title", m.Title)
			},
			AllowBack: true,
			Next:      goTo("confirm"),
		},
		&workflow.Step{
			ID: "confirm",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				return workflow.Prompt{
					Text:    fmt.Sprintf("Remove <b>%s</b> for good? Channel posts stay up but their download buttons stop working.", html.EscapeString(s.String("target_title"))),
					Buttons: [][]tg.InlineKeyboardButton{confirmRow()},
				}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("confirm", in, "yes")
			},
			AllowBack: true,
			Next:      goTo(workflow.End),
		},
	)
}
