package flows

import (
	"context"
	"fmt"
	"html"

	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/workflow"
)

func RequestMovie(d Deps) *workflow.Flow {
	return workflow.NewFlow(workflow.KindRequestMovie, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		r := &storage.Request{UserID: s.Caller.ID, Query: s.String("query")}
		if err := d.Store.CreateRequest(ctx, r); err != nil {
			return workflow.Outcome{}, err
		}
		d.Logger.Info("movie requested", "request_id", r.ID, "user_id", r.UserID)
		events.Emit(ctx, d.Events, d.Logger, events.Event{
			Type:      events.RequestCreated,
			RequestID: r.ID,
			UserID:    r.UserID,
			Title:     r.Query,
		})
		return workflow.Outcome{Text: fmt.Sprintf("📝 Got it! We'll let you know when <b>%s</b> is available.", html.EscapeString(r.Query))}, nil
	},
		&workflow.Step{
			ID:     "query",
			Prompt: staticPrompt("🙋 Which movie or series would you like us to add? Send its title."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("request", in, 2, 200, "title")
			},
			Next: goTo(workflow.End),
		},
	)
}
