package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/flows"
	"moviezone-tg-bot/internal/lifecycle"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/tg/tgtest"
	"moviezone-tg-bot/internal/workflow"
)

const (
	ownerID int64 = 1
	adminID int64 = 42
	userID  int64 = 7
	botName       = "moviezone_bot"
)

type harness struct {
	bot    *Bot
	store  *storage.Memory
	gw     *tgtest.Gateway
	queue  *lifecycle.MemoryQueue
	engine *workflow.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: storage.NewMemory(), gw: tgtest.NewGateway(), queue: lifecycle.NewMemoryQueue()}
	now := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	logger := hclog.NewNullLogger()
	cleaner := lifecycle.NewManager(h.gw, h.queue, lifecycle.Options{Delay: 48 * time.Hour, Now: now}, logger)
	guard := access.NewGuard(ownerID, h.store)
	h.engine = workflow.NewEngine(h.gw, cleaner, workflow.Options{
		Now:         now,
		IdleMenu:    access.Menu,
		SessionMenu: access.SessionMenu,
	}, logger)
	fd := flows.Deps{Store: h.store, Guard: guard, Gateway: h.gw, BotUsername: botName, Now: now, Logger: logger}
	require.NoError(t, flows.Register(h.engine, fd))
	h.bot = New(Deps{
		Gateway:     h.gw,
		Store:       h.store,
		Guard:       guard,
		Engine:      h.engine,
		Cleaner:     cleaner,
		Stats:       flows.NewStatsReport(fd),
		BotUsername: botName,
		Now:         now,
		Logger:      logger,
	})
	require.NoError(t, h.store.AddAdmin(context.Background(), storage.Admin{UserID: adminID, ShortName: "Sam"}))
	return h
}

func (h *harness) message(t *testing.T, from int64, text string) {
	t.Helper()
	require.NoError(t, h.bot.HandleUpdate(context.Background(), tg.Update{Message: &tg.Message{
		MessageID: 1000,
		Chat:      tg.Chat{ID: from, Type: "private"},
		From:      &tg.User{ID: from, FirstName: fmt.Sprintf("U%d", from)},
		Text:      text,
	}}))
}

func (h *harness) press(t *testing.T, from int64, data string, on *tgtest.Sent) {
	t.Helper()
	cq := &tg.CallbackQuery{ID: "cb", From: tg.User{ID: from, FirstName: "U"}, Data: data}
	if on != nil {
		cq.Message = &tg.Message{MessageID: on.MessageID, Chat: tg.Chat{ID: on.ChatID, Type: "private"}, Text: on.Text, ReplyMarkup: on.Markup}
	}
	require.NoError(t, h.bot.HandleUpdate(context.Background(), tg.Update{CallbackQuery: cq}))
}

func (h *harness) last(t *testing.T, chatID int64) tgtest.Sent {
	t.Helper()
	s, ok := h.gw.Last(chatID)
	require.True(t, ok, "nothing sent to %d", chatID)
	return s
}

func (h *harness) queued(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) addMovie(t *testing.T, title, category string) *storage.Movie {
	t.Helper()
	m := &storage.Movie{
		Title:    title,
		Type:     storage.MovieSingle,
		Links:    []storage.Link{{Label: "720p", URL: "https://example.com/" + strings.ReplaceAll(title, " ", "-")}},
		Category: category,
		Language: "English",
		Uploader: storage.Uploader{ID: ownerID, Role: storage.RoleOwner},
	}
	require.NoError(t, h.store.CreateMovie(context.Background(), m))
	return m
}

func countContaining(msgs []tgtest.Sent, needle string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m.Text, needle) {
			n++
		}
	}
	return n
}

func TestWelcomeShownOnce(t *testing.T) {
	h := newHarness(t)
	h.message(t, userID, "/start")
	assert.Contains(t, h.last(t, userID).Text, "welcome to the movie bot")
	assert.Equal(t, access.Menu(storage.RoleUser), h.gw.Menu(userID))

	h.message(t, userID, "/start")
	assert.Contains(t, h.last(t, userID).Text, "Welcome back")
	assert.Equal(t, 1, countContaining(h.gw.SentTo(userID), "welcome to the movie bot"))

	u, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, u.SeenWelcome)
}

func TestDeepLinkDownloadCountsOnce(t *testing.T) {
	h := newHarness(t)
	m := h.addMovie(t, "Heat", "Action")
	ctx := context.Background()

	h.message(t, userID, fmt.Sprintf("/start dl_%d_0", m.ID))
	sent := h.gw.SentTo(userID)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "welcome")
	assert.Equal(t, []string{m.Links[0].URL}, sent[1].URLs())

	got, err := h.store.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Downloads)

	h.message(t, userID, fmt.Sprintf("/start dl_%d_0", m.ID))
	assert.Len(t, h.gw.SentTo(userID), 3)
	got, err = h.store.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Downloads)

	h.message(t, userID, fmt.Sprintf("/start dl_%d_5", m.ID))
	assert.Contains(t, h.last(t, userID).Text, "no longer exists")
	got, err = h.store.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Downloads)

	h.press(t, userID, fmt.Sprintf("dl:%d:0", m.ID), nil)
	got, err = h.store.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Downloads)
}

func TestParseDeepLink(t *testing.T) {
	id, idx, ok := parseDeepLink("dl_12_3")
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)
	assert.Equal(t, 3, idx)
	for _, bad := range []string{"dl_12", "dl_x_1", "dl_0_1", "dl_1_-1", "ref_1_1"} {
		_, _, ok := parseDeepLink(bad)
		assert.False(t, ok, bad)
	}
}

func TestUserPostsAreExemptFromTimedCleanup(t *testing.T) {
	h := newHarness(t)
	m := h.addMovie(t, "Heat", "Action")

	h.press(t, userID, fmt.Sprintf("mv:%d", m.ID), nil)
	card := h.last(t, userID)
	assert.Contains(t, card.Text, "Heat")
	assert.Contains(t, card.Callbacks(), fmt.Sprintf("dl:%d:0", m.ID))
	assert.Equal(t, 0, h.queued(t))

	h.press(t, ownerID, fmt.Sprintf("mv:%d", m.ID), nil)
	assert.Equal(t, card.Text, h.last(t, ownerID).Text)
	assert.Equal(t, 1, h.queued(t))
}

func TestRequestFulfilledNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.message(t, userID, "/request")
	h.message(t, userID, "Dune Part Three")
	assert.False(t, h.engine.Active(userID))
	reqs, err := h.store.ListRequests(ctx, storage.RequestPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Dune Part Three", reqs[0].Query)
	id := reqs[0].ID

	h.message(t, adminID, "/requests")
	inbox := h.last(t, adminID)
	assert.Contains(t, inbox.Text, "Dune Part Three")
	assert.Contains(t, inbox.Callbacks(), fmt.Sprintf("ful:%d", id))

	h.press(t, adminID, fmt.Sprintf("ful:%d", id), &inbox)
	h.press(t, adminID, fmt.Sprintf("ful:%d", id), &inbox)
	h.press(t, ownerID, fmt.Sprintf("ful:%d", id), &inbox)

	assert.Equal(t, 1, countContaining(h.gw.SentTo(userID), "Good news"))
	assert.Equal(t, []string{"Marked as fulfilled.", "Already marked as fulfilled.", "Already marked as fulfilled."}, h.gw.Answers())

	r, err := h.store.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.RequestFulfilled, r.Status)
	n, err := h.store.CountRequests(ctx, storage.RequestPending)
	require.NoError(t, err)
	assert.Zero(t, n)

	edits := h.gw.Edits()
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1].Text, "No pending requests")
}

func TestUsersCannotFulfil(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := &storage.Request{UserID: userID, Query: "Heat 2"}
	require.NoError(t, h.store.CreateRequest(ctx, r))

	h.press(t, userID, fmt.Sprintf("ful:%d", r.ID), nil)
	assert.Equal(t, []string{"Not available."}, h.gw.Answers())
	got, err := h.store.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RequestPending, got.Status)
}

func TestDeniedCommandLooksUnknown(t *testing.T) {
	h := newHarness(t)
	h.message(t, userID, "/addmovie")
	assert.Equal(t, unknownCommand, h.last(t, userID).Text)
	assert.False(t, h.engine.Active(userID))

	h.message(t, adminID, "/admins")
	assert.Equal(t, unknownCommand, h.last(t, adminID).Text)

	h.message(t, userID, "/nonsense")
	assert.Equal(t, unknownCommand, h.last(t, userID).Text)
}

func TestSecondDialogIsRejectedUntilCancel(t *testing.T) {
	h := newHarness(t)
	h.message(t, ownerID, "/addmovie")
	assert.True(t, h.engine.Active(ownerID))
	assert.Equal(t, access.SessionMenu, h.gw.Menu(ownerID))

	h.message(t, ownerID, "/stats")
	assert.Equal(t, busyNotice, h.last(t, ownerID).Text)
	s, ok := h.engine.Session(ownerID)
	require.True(t, ok)
	assert.Equal(t, workflow.KindAddMovie, s.Kind)

	h.message(t, ownerID, "/cancel")
	assert.False(t, h.engine.Active(ownerID))
	assert.Equal(t, access.Menu(storage.RoleOwner), h.gw.Menu(ownerID))

	h.message(t, ownerID, "/stats")
	assert.True(t, h.engine.Active(ownerID))
}

func TestDialogButtonsAdvanceTheSession(t *testing.T) {
	h := newHarness(t)
	h.message(t, ownerID, "/stats")
	prompt := h.last(t, ownerID)
	assert.Contains(t, prompt.Callbacks(), "wf:v:category")

	h.press(t, ownerID, "wf:v:category", &prompt)
	s, ok := h.engine.Session(ownerID)
	require.True(t, ok)
	assert.Equal(t, "category", s.Step)

	h.press(t, ownerID, "wf:cancel", &prompt)
	assert.False(t, h.engine.Active(ownerID))

	h.press(t, ownerID, "wf:v:category", &prompt)
	answers := h.gw.Answers()
	assert.Equal(t, "This dialog has ended.", answers[len(answers)-1])
}

func TestFreeTextSearches(t *testing.T) {
	h := newHarness(t)
	m := h.addMovie(t, "Heat", "Action")
	h.addMovie(t, "Alien", "Sci-Fi")

	h.message(t, userID, "heat")
	res := h.last(t, userID)
	assert.Contains(t, res.Text, "Results for")
	assert.Contains(t, res.Callbacks(), fmt.Sprintf("mv:%d", m.ID))
	assert.NotContains(t, res.Callbacks(), "mv:2")

	h.message(t, userID, "Zzzzzzzz")
	assert.Contains(t, h.last(t, userID).Text, "/request")
}

func TestBrowseCategoryPages(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 45; i++ {
		h.addMovie(t, fmt.Sprintf("Film %02d", i), "General")
	}

	h.message(t, userID, "/browse")
	picker := h.last(t, userID)
	assert.Contains(t, picker.Callbacks(), "cat:0:0")
	assert.Contains(t, picker.Callbacks(), "let:#:0")

	h.press(t, userID, "cat:0:0", &picker)
	first := h.gw.Edits()[0]
	assert.Contains(t, first.Text, "45 title(s) · page 1/2")
	assert.Equal(t, 30, countPrefix(first.ReplyMarkup, "mv:"))
	assert.Equal(t, 1, countPrefix(first.ReplyMarkup, "cat:0:1"))

	h.press(t, userID, "cat:0:1", &picker)
	second := h.gw.Edits()[1]
	assert.Equal(t, 15, countPrefix(second.ReplyMarkup, "mv:"))
	assert.Equal(t, 1, countPrefix(second.ReplyMarkup, "cat:0:0"))
	assert.Zero(t, countPrefix(second.ReplyMarkup, "cat:0:2"))

	h.press(t, userID, "cat:0:99", &picker)
	third := h.gw.Edits()[2]
	assert.Equal(t, second.Text, third.Text)

	h.press(t, userID, "let:F:0", &picker)
	assert.Contains(t, h.gw.Edits()[3].Text, "<b>F</b> · 45 title(s)")
}

func TestStatsPagingCallback(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 35; i++ {
		h.addMovie(t, fmt.Sprintf("Film %02d", i), "General")
	}
	listing := tgtest.Sent{ChatID: ownerID, MessageID: 5}

	h.press(t, ownerID, "st:c:0:1", &listing)
	edits := h.gw.Edits()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "page 2/2")
	assert.Contains(t, edits[0].Text, "31. <b>Film 30</b>")
	assert.NotContains(t, edits[0].Text, "30. <b>Film 29</b>")

	h.press(t, userID, "st:c:0:1", &listing)
	assert.Len(t, h.gw.Edits(), 1)
}

func TestCloseDeletesMessage(t *testing.T) {
	h := newHarness(t)
	h.message(t, userID, "/browse")
	picker := h.last(t, userID)
	h.press(t, userID, "close", &picker)
	assert.Empty(t, h.gw.Visible(userID))
}

func countPrefix(kb *tg.InlineKeyboardMarkup, prefix string) int {
	if kb == nil {
		return 0
	}
	n := 0
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if strings.HasPrefix(b.CallbackData, prefix) {
				n++
			}
		}
	}
	return n
}
