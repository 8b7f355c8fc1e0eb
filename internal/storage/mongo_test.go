package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviezone-tg-bot/internal/apperr"
)

// newTestMongo connects to MONGODB_URI with a throwaway database, or skips.
func newTestMongo(t *testing.T) *Mongo {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	name := fmt.Sprintf("moviezone_test_%d", time.Now().UnixNano())
	m, err := NewMongo(ctx, uri, name)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.client.Database(name).Drop(ctx)
		_ = m.Close(ctx)
	})
	return m
}

func TestMongoAdminConflictAndDoubleRemoval(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)

	require.NoError(t, m.AddAdmin(ctx, Admin{UserID: 42, ShortName: "Sam", AddedBy: 1}))
	err := m.AddAdmin(ctx, Admin{UserID: 42, ShortName: "Sam"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	a, err := m.GetAdmin(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Sam", a.ShortName)

	require.NoError(t, m.RemoveAdmin(ctx, 42))
	err = m.RemoveAdmin(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	admins, err := m.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Empty(t, admins)
}

func TestMongoChannelConflict(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)

	require.NoError(t, m.AddChannel(ctx, Channel{ChatID: -100200, Name: "@films", ShortName: "Films"}))
	err := m.AddChannel(ctx, Channel{ChatID: -100200, Name: "@films", ShortName: "Again"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	chans, err := m.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "Films", chans[0].ShortName)

	require.NoError(t, m.RemoveChannel(ctx, -100200))
	assert.ErrorIs(t, m.RemoveChannel(ctx, -100200), apperr.ErrNotFound)
}

func TestMongoMovieOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)
	for _, mv := range []Movie{
		{Title: "zodiac", Category: "Hollywood", Uploader: Uploader{ID: 1, Role: RoleOwner}},
		{Title: "Avatar", Category: "Hollywood", Uploader: Uploader{ID: 2, Role: RoleAdmin}},
		{Title: "Zathura", Category: "General", Uploader: Uploader{ID: 2, Role: RoleAdmin}},
		{Title: "300", Category: "General", Uploader: Uploader{ID: 1, Role: RoleOwner}},
	} {
		mv := mv
		require.NoError(t, m.CreateMovie(ctx, &mv))
	}

	hw, err := m.ListMovies(ctx, MovieFilter{Category: "hollywood"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, hw, 2)
	assert.Equal(t, "zodiac", hw[0].Title)
	assert.Less(t, hw[0].ID, hw[1].ID)

	n, err := m.CountMovies(ctx, MovieFilter{UploaderID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	zs, err := m.ListMovies(ctx, MovieFilter{Letter: "z"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, zs, 2)
	assert.Equal(t, "Zathura", zs[0].Title, "collation orders titles case-insensitively")
	assert.Equal(t, "zodiac", zs[1].Title)

	digits, err := m.ListMovies(ctx, MovieFilter{Letter: NonLetter}, 0, 0)
	require.NoError(t, err)
	require.Len(t, digits, 1)
	assert.Equal(t, "300", digits[0].Title)

	page, err := m.ListMovies(ctx, MovieFilter{}, 3, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestMongoDownloadsAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)
	mv := &Movie{Title: "Heat", Category: "General"}
	require.NoError(t, m.CreateMovie(ctx, mv))

	n, err := m.IncrementDownloads(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = m.IncrementDownloads(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.DeleteMovie(ctx, mv.ID))
	assert.ErrorIs(t, m.DeleteMovie(ctx, mv.ID), apperr.ErrNotFound)
	_, err = m.IncrementDownloads(ctx, mv.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMongoFulfillRequestFlipsOnce(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)

	first := &Request{UserID: 5, Query: "Dune Part Three"}
	second := &Request{UserID: 6, Query: "Heat 2"}
	require.NoError(t, m.CreateRequest(ctx, first))
	require.NoError(t, m.CreateRequest(ctx, second))

	pending, err := m.ListRequests(ctx, RequestPending, 0, 5)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Heat 2", pending[0].Query)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		flipped   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.FulfillRequest(ctx, first.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				flipped++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, flipped)
	assert.Equal(t, 7, conflicts)

	r, err := m.GetRequest(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestFulfilled, r.Status)

	_, err = m.FulfillRequest(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := m.CountRequests(ctx, RequestPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.CountRequests(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
