package flows

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/lifecycle"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/tg/tgtest"
	"moviezone-tg-bot/internal/workflow"
)

const (
	ownerID   int64 = 1
	adminID   int64 = 42
	filmsChat int64 = -100200
	botName         = "moviezone_bot"
)

var (
	owner = workflow.Caller{ID: ownerID, ChatID: ownerID, Role: storage.RoleOwner}
	admin = workflow.Caller{ID: adminID, ChatID: adminID, Role: storage.RoleAdmin}
	user  = workflow.Caller{ID: 7, ChatID: 7, Role: storage.RoleUser}
)

type harness struct {
	store  *storage.Memory
	gw     *tgtest.Gateway
	engine *workflow.Engine
	deps   Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: storage.NewMemory(), gw: tgtest.NewGateway()}
	now := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	cleaner := lifecycle.NewManager(h.gw, nil, lifecycle.Options{Now: now}, hclog.NewNullLogger())
	h.engine = workflow.NewEngine(h.gw, cleaner, workflow.Options{Now: now, IdleMenu: access.Menu}, hclog.NewNullLogger())
	h.deps = Deps{
		Store:       h.store,
		Guard:       access.NewGuard(ownerID, h.store),
		Gateway:     h.gw,
		BotUsername: botName,
		Now:         now,
	}
	require.NoError(t, Register(h.engine, h.deps))
	h.deps.defaults()
	return h
}

func (h *harness) addChannel(t *testing.T, id int64, username, short string, reachable bool) {
	t.Helper()
	if reachable {
		h.gw.AddChat(tg.Chat{ID: id, Type: "channel", Username: username})
	}
	require.NoError(t, h.store.AddChannel(context.Background(), storage.Channel{ChatID: id, Name: "@" + username, ShortName: short}))
}

func (h *harness) start(t *testing.T, c workflow.Caller, kind workflow.Kind) workflow.Result {
	t.Helper()
	res, err := h.engine.Start(context.Background(), c, kind)
	require.NoError(t, err)
	return res
}

func (h *harness) send(t *testing.T, c workflow.Caller, in workflow.Input) workflow.Result {
	t.Helper()
	res, err := h.engine.Advance(context.Background(), c, in)
	require.NoError(t, err)
	return res
}

func (h *harness) text(t *testing.T, c workflow.Caller, v string) workflow.Result {
	return h.send(t, c, workflow.Input{Text: v})
}

func (h *harness) choose(t *testing.T, c workflow.Caller, v string) workflow.Result {
	return h.send(t, c, workflow.Input{Text: v, Choice: true})
}

func (h *harness) skip(t *testing.T, c workflow.Caller) workflow.Result {
	return h.send(t, c, workflow.Input{Action: workflow.ActionSkip})
}

func step(t *testing.T, res workflow.Result) string {
	t.Helper()
	require.NotNil(t, res.Session, "status %s", res.Status)
	return res.Session.Step
}

// upToPreview drives the add-movie dialog with every optional field skipped.
func (h *harness) upToPreview(t *testing.T, c workflow.Caller, title string) {
	h.start(t, c, workflow.KindAddMovie)
	h.text(t, c, title)
	h.choose(t, c, "single")
	h.choose(t, c, "720p")
	h.text(t, c, "https://example.com/f.mp4")
	h.choose(t, c, "done")
	h.skip(t, c)
	h.skip(t, c)
	h.skip(t, c)
	h.skip(t, c)
	res := h.skip(t, c)
	require.Equal(t, "preview", step(t, res))
}

func TestAddMoviePostsOnceWithDefaults(t *testing.T) {
	h := newHarness(t)
	h.addChannel(t, filmsChat, "films", "Films", true)

	h.upToPreview(t, owner, "Test Film")
	assert.Equal(t, "channels", step(t, h.choose(t, owner, "confirm")))
	assert.Equal(t, "channels", step(t, h.choose(t, owner, "t:-100200")))
	res := h.choose(t, owner, "post")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Contains(t, res.Notice, "📤 @films")

	posts := h.gw.SentTo(filmsChat)
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Text, "Test Film")
	assert.Contains(t, posts[0].Text, "Category: General")
	assert.Contains(t, posts[0].Text, "Language: English")
	assert.NotContains(t, posts[0].Text, "Year")
	assert.NotContains(t, posts[0].Text, "Runtime")
	assert.NotContains(t, posts[0].Text, "Rating")

	movies, err := h.store.ListMovies(context.Background(), storage.MovieFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, movies, 1)
	m := movies[0]
	assert.Equal(t, storage.Unset, m.Year)
	assert.Equal(t, storage.Unset, m.Runtime)
	assert.Equal(t, storage.Unset, m.Rating)
	assert.Equal(t, storage.Uploader{ID: ownerID, Role: storage.RoleOwner}, m.Uploader)
	assert.Equal(t, []string{storage.DeepLink(botName, m.ID, 0)}, posts[0].URLs())
}

func TestAddMovieReportsUnreachableChannel(t *testing.T) {
	h := newHarness(t)
	h.addChannel(t, filmsChat, "films", "Films", true)
	h.addChannel(t, -100300, "gone", "Gone", false)

	h.upToPreview(t, owner, "Heat")
	h.choose(t, owner, "confirm")
	h.choose(t, owner, "t:-100200")
	h.choose(t, owner, "t:-100300")
	res := h.choose(t, owner, "post")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Contains(t, res.Notice, "❌ @gone: channel unreachable")
	assert.Len(t, h.gw.SentTo(filmsChat), 1)

	n, err := h.store.CountMovies(context.Background(), storage.MovieFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddMovieToggleDeselects(t *testing.T) {
	h := newHarness(t)
	h.addChannel(t, filmsChat, "films", "Films", true)

	h.upToPreview(t, owner, "Heat")
	h.choose(t, owner, "confirm")
	h.choose(t, owner, "t:-100200")
	res := h.choose(t, owner, "t:-100200")
	assert.Empty(t, res.Session.Fields[fieldSelected])
	h.choose(t, owner, "post")
	assert.Empty(t, h.gw.SentTo(filmsChat))
}

func TestAddMovieEditReturnsToPreview(t *testing.T) {
	h := newHarness(t)
	h.upToPreview(t, owner, "Heat")

	assert.Equal(t, "edit", step(t, h.choose(t, owner, "edit")))
	assert.Equal(t, "year", step(t, h.choose(t, owner, "year")))
	res := h.text(t, owner, "1995")
	assert.Equal(t, "preview", step(t, res))
	assert.Equal(t, "1995", res.Session.String("year"))
	assert.Equal(t, "Heat", res.Session.String("title"))
}

func TestAddMovieValidation(t *testing.T) {
	h := newHarness(t)
	h.start(t, owner, workflow.KindAddMovie)
	h.text(t, owner, "Heat")
	h.choose(t, owner, "single")

	res := h.skip(t, owner)
	assert.Equal(t, workflow.StatusReprompted, res.Status)
	assert.Equal(t, "label", step(t, res))

	h.choose(t, owner, "1080p")
	res = h.text(t, owner, "not a link")
	assert.Equal(t, workflow.StatusReprompted, res.Status)
	assert.Contains(t, res.Notice, "isn't a link")

	h.text(t, owner, "https://example.com/heat.mkv")
	h.choose(t, owner, "done")
	h.skip(t, owner)
	h.skip(t, owner)
	res = h.text(t, owner, "1700")
	assert.Equal(t, "year", step(t, res))
	assert.Contains(t, res.Notice, "between 1888")
}

func TestAddSeriesEpisodes(t *testing.T) {
	h := newHarness(t)
	h.start(t, admin, workflow.KindAddMovie)
	h.text(t, admin, "Dark")
	h.choose(t, admin, "series")
	h.skip(t, admin)
	h.text(t, admin, "https://example.com/e1")
	h.choose(t, admin, "add")
	h.text(t, admin, "Pilot recap")
	res := h.text(t, admin, "https://example.com/e2")
	assert.Equal(t, "more", step(t, res))

	ls := links(res.Session)
	require.Len(t, ls, 2)
	assert.Equal(t, storage.Link{Label: "Episode 1", URL: "https://example.com/e1", Episode: 1}, ls[0])
	assert.Equal(t, storage.Link{Label: "Pilot recap", URL: "https://example.com/e2", Episode: 2}, ls[1])
}

func TestFieldValidators(t *testing.T) {
	rt, err := validateRuntime("2h22m")
	require.NoError(t, err)
	assert.Equal(t, "142 min", rt)
	rt, err = validateRuntime("95")
	require.NoError(t, err)
	assert.Equal(t, "95 min", rt)
	_, err = validateRuntime("0")
	assert.Error(t, err)

	r, err := validateRating("7,5")
	require.NoError(t, err)
	assert.Equal(t, "7.5", r)
	_, err = validateRating("11")
	assert.Error(t, err)

	_, err = validateURL("ftp//broken")
	assert.Error(t, err)
	_, err = validateURL("https://example.com/a b")
	assert.Error(t, err)
}

func TestManageAdminsAddAndRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.start(t, owner, workflow.KindManageAdmins)
	h.choose(t, owner, "add")
	res := h.text(t, owner, "1")
	assert.Equal(t, "admin_id", step(t, res))
	assert.Contains(t, res.Notice, "owner")

	h.text(t, owner, "42")
	res = h.text(t, owner, "Sam")
	assert.Equal(t, "confirm", step(t, res))
	last, ok := h.gw.Last(ownerID)
	require.True(t, ok)
	assert.Contains(t, last.Text, "Make <b>Sam</b> (<code>42</code>) an admin?")
	_, err := h.store.GetAdmin(ctx, adminID)
	assert.True(t, storage.IsNotFound(err))

	res = h.choose(t, owner, "yes")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	a, err := h.store.GetAdmin(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, "Sam", a.ShortName)
	assert.Equal(t, ownerID, a.AddedBy)
	assert.Equal(t, access.Menu(storage.RoleAdmin), h.gw.Menu(adminID))

	h.start(t, owner, workflow.KindManageAdmins)
	h.choose(t, owner, "add")
	res = h.text(t, owner, "42")
	assert.Contains(t, res.Notice, "already an admin")
	h.send(t, owner, workflow.Input{Action: workflow.ActionCancel})

	h.start(t, owner, workflow.KindManageAdmins)
	h.choose(t, owner, "remove")
	h.choose(t, owner, "42")
	res = h.choose(t, owner, "yes")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	_, err = h.store.GetAdmin(ctx, adminID)
	assert.True(t, storage.IsNotFound(err))
	assert.Equal(t, access.Menu(storage.RoleUser), h.gw.Menu(adminID))
}

func TestRemoveAdminTwiceIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.AddAdmin(ctx, storage.Admin{UserID: adminID, ShortName: "Sam"}))

	h.start(t, owner, workflow.KindManageAdmins)
	h.choose(t, owner, "remove")
	assert.Equal(t, "confirm", step(t, h.choose(t, owner, "42")))

	require.NoError(t, h.store.RemoveAdmin(ctx, adminID))
	res := h.choose(t, owner, "yes")
	assert.Equal(t, workflow.StatusRejected, res.Status)
	assert.Equal(t, "Sam is not an admin anymore.", res.Notice)
	assert.False(t, h.engine.Active(ownerID))
}

func TestManageChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.AddChat(tg.Chat{ID: filmsChat, Type: "channel", Username: "films"})

	h.start(t, owner, workflow.KindManageChannels)
	h.choose(t, owner, "add")
	res := h.text(t, owner, "@nowhere")
	assert.Equal(t, "channel_ref", step(t, res))
	assert.Contains(t, res.Notice, "can't reach")

	h.text(t, owner, "films")
	res = h.text(t, owner, "Films")
	assert.Equal(t, "confirm", step(t, res))
	chans, err := h.store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, chans)

	res = h.choose(t, owner, "yes")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	chans, err = h.store.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, storage.Channel{ChatID: filmsChat, Name: "@films", ShortName: "Films", AddedAt: chans[0].AddedAt}, chans[0])

	h.start(t, owner, workflow.KindManageChannels)
	h.choose(t, owner, "add")
	res = h.text(t, owner, "@films")
	assert.Contains(t, res.Notice, "already configured")
	h.send(t, owner, workflow.Input{Action: workflow.ActionCancel})

	h.start(t, owner, workflow.KindManageChannels)
	h.choose(t, owner, "remove")
	h.choose(t, owner, "-100200")
	res = h.choose(t, owner, "yes")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	chans, err = h.store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, chans)
}

func seedMovies(t *testing.T, store storage.Store, n int, category string, uploader int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.CreateMovie(context.Background(), &storage.Movie{
			Title:    category + " " + strings.Repeat("x", i+1),
			Type:     storage.MovieSingle,
			Links:    []storage.Link{{Label: "720p", URL: "https://example.com"}},
			Category: category,
			Language: "English",
			Uploader: storage.Uploader{ID: uploader, Role: storage.RoleAdmin},
		}))
	}
}

func TestShowStatsByCategoryPages(t *testing.T) {
	h := newHarness(t)
	seedMovies(t, h.store, 45, "Action", ownerID)
	seedMovies(t, h.store, 2, "Comedy", ownerID)

	h.start(t, owner, workflow.KindShowStats)
	h.choose(t, owner, "category")
	res := h.choose(t, owner, "8")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Contains(t, res.Notice, "<b>Action</b> · 45 movie(s) · page 1/2")
	assert.Equal(t, 30, strings.Count(res.Notice, " downloads · by "))
	assert.Contains(t, res.Notice, "30. <b>Action "+strings.Repeat("x", 30)+"</b> · 0 downloads · by Owner")
	assert.NotContains(t, res.Notice, "31.")

	last, ok := h.gw.Last(ownerID)
	require.True(t, ok)
	assert.Contains(t, last.Callbacks(), "st:c:8:1")

	out, err := NewStatsReport(h.deps).ByCategory(context.Background(), 8, 1)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "page 2/2")
	assert.Equal(t, 15, strings.Count(out.Text, " downloads · by "))
	assert.Contains(t, out.Text, "31. <b>Action "+strings.Repeat("x", 31)+"</b>")
	assert.Contains(t, out.Text, "45. <b>Action "+strings.Repeat("x", 45)+"</b>")

	var callbacks []string
	for _, row := range out.Buttons {
		for _, b := range row {
			callbacks = append(callbacks, b.CallbackData)
		}
	}
	assert.Contains(t, callbacks, "st:c:8:0")
	assert.NotContains(t, callbacks, "st:c:8:2")

	clamped, err := NewStatsReport(h.deps).ByCategory(context.Background(), 8, 99)
	require.NoError(t, err)
	assert.Equal(t, out.Text, clamped.Text)
}

func TestShowStatsByUploader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.AddAdmin(ctx, storage.Admin{UserID: adminID, ShortName: "Sam"}))
	seedMovies(t, h.store, 3, "Horror", adminID)

	h.start(t, admin, workflow.KindShowStats)
	h.choose(t, admin, "uploader")
	res := h.choose(t, admin, "99")
	assert.Equal(t, "uploader", step(t, res))
	res = h.choose(t, admin, "42")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Contains(t, res.Notice, "Uploads by <b>Sam</b> · 3 movie(s)")
	assert.Contains(t, res.Notice, "by Sam")
}

func TestParseStatsCallback(t *testing.T) {
	byCat, key, page, ok := ParseStatsCallback("st:c:3:2")
	assert.True(t, ok)
	assert.True(t, byCat)
	assert.Equal(t, int64(3), key)
	assert.Equal(t, 2, page)

	byCat, key, page, ok = ParseStatsCallback("st:u:42:0")
	assert.True(t, ok)
	assert.False(t, byCat)
	assert.Equal(t, int64(42), key)
	assert.Equal(t, 0, page)

	for _, bad := range []string{"st:c:3", "st:x:1:1", "st:u:a:1", "mv:1"} {
		_, _, _, ok = ParseStatsCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestRequestMovie(t *testing.T) {
	h := newHarness(t)
	h.start(t, user, workflow.KindRequestMovie)
	res := h.text(t, user, "x")
	assert.Equal(t, workflow.StatusReprompted, res.Status)

	res = h.text(t, user, "Dune Part Three")
	require.Equal(t, workflow.StatusCompleted, res.Status)
	reqs, err := h.store.ListRequests(context.Background(), storage.RequestPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Dune Part Three", reqs[0].Query)
	assert.Equal(t, user.ID, reqs[0].UserID)
}

func TestRemoveMovieOwnershipForAdmins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedMovies(t, h.store, 1, "Drama", ownerID)
	seedMovies(t, h.store, 1, "Crime", adminID)

	h.start(t, admin, workflow.KindRemoveMovie)
	res := h.text(t, admin, "Drama")
	assert.Equal(t, "search", step(t, res))
	assert.Contains(t, res.Notice, "No movie you can remove")

	res = h.text(t, admin, "Crime")
	assert.Equal(t, "pick", step(t, res))
	res = h.choose(t, admin, "1")
	assert.Contains(t, res.Notice, "only remove movies you uploaded")
	h.choose(t, admin, "2")
	res = h.choose(t, admin, "yes")
	require.Equal(t, workflow.StatusCompleted, res.Status)

	_, err := h.store.GetMovie(ctx, 2)
	assert.True(t, storage.IsNotFound(err))
	_, err = h.store.GetMovie(ctx, 1)
	assert.NoError(t, err)
}
