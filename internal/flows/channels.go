package flows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

func ManageChannels(d Deps) *workflow.Flow {
	return workflow.NewFlow(workflow.KindManageChannels, func(ctx context.Context, s *workflow.Session) (workflow.Outcome, error) {
		if s.String("action") == "add" {
			return addChannel(ctx, d, s)
		}
		return removeChannel(ctx, d, s)
	},
		&workflow.Step{
			ID: "action",
			Prompt: func(ctx context.Context, _ *workflow.Session) (workflow.Prompt, error) {
				chans, err := d.Store.ListChannels(ctx)
				if err != nil {
					return workflow.Prompt{}, err
				}
				var b strings.Builder
				b.WriteString("📢 <b>Channels</b>\n")
				if len(chans) == 0 {
					b.WriteString("\nNo channels yet.")
				}
				for i, c := range chans {
					fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, html.EscapeString(c.ShortName), html.EscapeString(c.Name))
				}
				buttons := []tg.InlineKeyboardButton{workflow.Choice("➕ Add channel", "add")}
				if len(chans) > 0 {
					buttons = append(buttons, workflow.Choice("➖ Remove channel", "remove"))
				}
				return workflow.Prompt{Text: b.String(), Buttons: [][]tg.InlineKeyboardButton{buttons}}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return oneOf("manage_channels", in, "add", "remove")
			},
			Next: func(_ *workflow.Session, v any) string {
				if v == "add" {
					return "channel_ref"
				}
				return "pick"
			},
		},
		&workflow.Step{
			ID:     "channel_ref",
			Prompt: staticPrompt("Send the channel @username or numeric id. The bot must already be an admin there."),
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				ref := text(in)
				if ref == "" {
					return nil, apperr.Validation("channel_ref", "Send the channel @username or id.")
				}
				if _, err := strconv.ParseInt(ref, 10, 64); err != nil && !strings.HasPrefix(ref, "@") {
					ref = "@" + ref
				}
				chat, err := d.Gateway.GetChat(ctx, ref)
				if err != nil {
					d.Logger.Debug("channel lookup failed", "ref", ref, "error", err)
					return nil, apperr.Validation("channel_ref", "I can't reach that channel. Add the bot to it and try again.")
				}
				chans, err := d.Store.ListChannels(ctx)
				if err != nil {
					return nil, err
				}
				for _, c := range chans {
					if c.ChatID == chat.ID {
						return nil, apperr.Validation("channel_ref", "That channel is already configured.")
					}
				}
				return chat, nil
			},
			Record: func(s *workflow.Session, v any) {
				chat := v.(*tg.Chat)
				s.Set("chat_id", chat.ID)
				s.Set("chat_name", chat.Handle())
			},
			AllowBack: true,
			Next:      goTo("channel_name"),
		},
		&workflow.Step{
			ID: "channel_name",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				return workflow.Prompt{Text: fmt.Sprintf("Send a short name for <b>%s</b>. It labels the channel in menus.", html.EscapeString(s.String("chat_name")))}, nil
			},
			Validate: func(_ context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				return boundedText("channel_name", in, 1, 32, "name")
			},
			AllowBack: true,
			Next:      goTo("confirm"),
		},
		&workflow.Step{
			ID: "pick",
			Prompt: func(ctx context.Context, _ *workflow.Session) (workflow.Prompt, error) {
				chans, err := d.Store.ListChannels(ctx)
				if err != nil {
					return workflow.Prompt{}, err
				}
				buttons := make([]tg.InlineKeyboardButton, 0, len(chans))
				for _, c := range chans {
					buttons = append(buttons, workflow.Choice(c.ShortName, strconv.FormatInt(c.ChatID, 10)))
				}
				return workflow.Prompt{Text: "Which channel should be removed?", Buttons: rows(buttons, 2)}, nil
			},
			Validate: func(ctx context.Context, _ *workflow.Session, in workflow.Input) (any, error) {
				id, err := parseID("pick_channel", in)
				if err != nil {
					return nil, err
				}
				chans, err := d.Store.ListChannels(ctx)
				if err != nil {
					return nil, err
				}
				for _, c := range chans {
					if c.ChatID == id {
						return c, nil
					}
				}
				return nil, apperr.Validation("pick_channel", "That channel is not configured.")
			},
			Record: func(s *workflow.Session, v any) {
				c := v.(storage.Channel)
				s.Set("chat_id", c.ChatID)
				s.Set("chat_name", c.ShortName)
			},
			AllowBack: true,
			Next:      goTo("confirm"),
		},
		&workflow.Step{
			ID: "confirm",
			Prompt: func(_ context.Context, s *workflow.Session) (workflow.Prompt, error) {
				text := fmt.Sprintf("Stop posting to <b>%s</b>?", html.EscapeString(s.String("chat_name")))
				if s.String("action") == "add" {
					text = fmt.Sprintf("Post new movies to <b>%s</b> as <b>%s</b>?",
						html.EscapeString(s.String("chat_name")), html.EscapeString(s.String("channel_name")))
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

func addChannel(ctx context.Context, d Deps, s *workflow.Session) (workflow.Outcome, error) {
	c := storage.Channel{
		ChatID:    s.Int64("chat_id"),
		Name:      s.String("chat_name"),
		ShortName: s.String("channel_name"),
		AddedAt:   d.Now().UTC(),
	}
	if err := d.Store.AddChannel(ctx, c); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return workflow.Outcome{}, apperr.Conflict("add_channel", fmt.Sprintf("%s is already configured.", c.Name))
		}
		return workflow.Outcome{}, err
	}
	d.Logger.Info("channel added", "chat_id", c.ChatID, "by", s.Caller.ID)
	return workflow.Outcome{Text: fmt.Sprintf("✅ New movies can now be posted to <b>%s</b>.", html.EscapeString(c.Name))}, nil
}

func removeChannel(ctx context.Context, d Deps, s *workflow.Session) (workflow.Outcome, error) {
	id, name := s.Int64("chat_id"), s.String("chat_name")
	if err := d.Store.RemoveChannel(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return workflow.Outcome{}, apperr.NotFound("remove_channel", fmt.Sprintf("%s was already removed.", name))
		}
		return workflow.Outcome{}, err
	}
	d.Logger.Info("channel removed", "chat_id", id, "by", s.Caller.ID)
	return workflow.Outcome{Text: fmt.Sprintf("✅ <b>%s</b> was removed.", html.EscapeString(name))}, nil
}
