package flows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

func ManageAdmins(d Deps) *workflow.Flow {
	return workflow.NewFlow(workflow.KindManageAdmins, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		if s.String("action") == "add" {
			return addAdmin(ctx, d, s)
		}
		return removeAdmin(ctx, d, s)
	},
		&workflow.Step{
			ID: "action",
			Prompt: func(ctx context.Context, _ *workflow.Session) (workflow.Prompt, error) {
				admins, err := d.Store.ListAdmins(ctx)
				if err != nil {
					return workflow.Prompt{}, err
				}
				var b strings.Builder
				b.WriteString("👥 <b>Admins</b>\n")
				if len(admins) == 0 {
					b.WriteString("\nNo admins yet.")
				}
				for i, a := range admins {
					fmt.Fprintf(&b, "\n%d. %s <code>%d</code>", i+1, html.EscapeString(a.ShortName), a.UserID)
				}
				buttons := []tg.InlineKeyboardButton{workflow.Choice("➕ Add admin", "add")}
				if len(admins) > 0 {
					buttons = append(buttons, workflow.Choice("➖ Remove admin", "remove"))
				}
				return workflow.Prompt{Text: b.String(), Buttons: [][]tg.InlineKeyboardButton{buttons}}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("manage_admins", in, "add", "remove")
			},
			Next: func(_ *workflow.Session, v any) string {
				if v == "add" {
					return "admin_id"
				}
				return "pick"
			},
		},
		&workflow.Step{
			ID:     "admin_id",
			Prompt: staticPrompt("Send the Telegram user id of the new admin."),
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				id, err := parseID("admin_id", in)
				if err != nil {
					return nil, err
				}
				if err := d.Guard.CheckManageable(id); err != nil {
					return nil, err
				}
				_, err = d.Store.GetAdmin(ctx, id)
				switch {
				case err == nil:
					return nil, apperr.Validation("admin_id", "That user is already an admin.")
				case !errors.Is(err, apperr.ErrNotFound):
					return nil, err
				}
				return id, nil
			},
			AllowBack: true,
			Next:      goTo("admin_name"),
		},
		&workflow.Step{
			ID:     "admin_name",
			Prompt: staticPrompt("Send a short name for the new admin. It is shown in stats."),
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("admin_name", in, 1, 32, "name")
			},
			AllowBack: true,
			Next:      goTo("confirm"),
		},
		&workflow.Step{
			ID: "pick",
			Prompt: func(ctx context.Context, _ *workflow.Session) (workflow.Prompt, error) {
				admins, err := d.Store.ListAdmins(ctx)
				if err != nil {
					return workflow.Prompt{}, err
				}
				buttons := make([]tg.InlineKeyboardButton, 0, len(admins))
				for _, a := range admins {
					buttons = append(buttons, workflow.Choice(a.ShortName, strconv.FormatInt(a.UserID, 10)))
				}
				return workflow.Prompt{Text: "Which admin should be removed? Tap one or send their id.", Buttons: rows(buttons, 2)}, nil
			},
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				id, err := parseID("pick_admin", in)
				if err != nil {
					return nil, err
				}
				if err := d.Guard.CheckManageable(id); err != nil {
					return nil, err
				}
				a, err := d.Store.GetAdmin(ctx, id)
				if errors.Is(err, apperr.ErrNotFound) {
					return nil, apperr.Validation("pick_admin", "That user is not an admin.")
				}
				if err != nil {
					return nil, err
				}
				return a, nil
			},
			Record: func(s *workflow.Session, v any) {
				a := v.(*storage.Admin)
				s.Set("target", a.UserID)
				s.Set("target_name", a.ShortName)
			},
			AllowBack: true,
			Next:      goTo("confirm"),
		},
		&workflow.Step{
			ID: "confirm",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				text := fmt.Sprintf("Remove <b>%s</b> from the admins?", html.EscapeString(s.String("target_name")))
				if s.String("action") == "add" {
					text = fmt.Sprintf("Make <b>%s</b> (<code>%d</code>) an admin?",
						html.EscapeString(s.String("admin_name")), s.Int64("admin_id"))
				}
				return workflow.Prompt{Text: text, Buttons: [][]tg.InlineKeyboardButton{confirmRow()}}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("confirm", in, "yes")
			},
			AllowBack: true,
			Next:      goTo(workflow.End),
		},
	)
}

func addAdmin(ctx context.Context, d Deps, s *workflow.Session) (workflow.Outcome, error) {
	a := storage.Admin{
		UserID:    s.Int64("admin_id"),
		ShortName: s.String("admin_name"),
		AddedBy:   s.Caller.ID,
		AddedAt:   d.Now().UTC(),
	}
	if err := d.Store.AddAdmin(ctx, a); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return workflow.Outcome{}, apperr.Conflict("add_admin", fmt.Sprintf("%s is already an admin.", a.ShortName))
		}
		return workflow.Outcome{}, err
	}
	if err := d.Gateway.SetMyCommands(ctx, a.UserID, access.Menu(storage.RoleAdmin)); err != nil {
		d.Logger.Warn("failed to update admin menu", "user_id", a.UserID, "error", err)
	}
	d.Logger.Info("admin added", "user_id", a.UserID, "by", s.Caller.ID)
	return workflow.Outcome{Text: fmt.Sprintf("✅ <b>%s</b> is now an admin.", html.EscapeString(a.ShortName))}, nil
}

func removeAdmin(ctx context.Context, d Deps, s *workflow.Session) (workflow.Outcome, error) {
	id, name := s.Int64("target"), s.String("target_name")
	if err := d.Store.RemoveAdmin(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return workflow.Outcome{}, apperr.NotFound("remove_admin", fmt.Sprintf("%s is not an admin anymore.", name))
		}
		return workflow.Outcome{}, err
	}
	if err := d.Gateway.SetMyCommands(ctx, id, access.Menu(storage.RoleUser)); err != nil {
		d.Logger.Warn("failed to reset menu", "user_id", id, "error", err)
	}
	d.Logger.Info("admin removed", "user_id", id, "by", s.Caller.ID)
	return workflow.Outcome{Text: fmt.Sprintf("✅ <b>%s</b> is no longer an admin.", html.EscapeString(name))}, nil
}
