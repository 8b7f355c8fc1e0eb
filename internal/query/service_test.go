package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/storage"
)

func seed(t *testing.T, store storage.Store, movies ...storage.Movie) {
	t.Helper()
	for _, m := range movies {
		m := m
		require.NoError(t, store.CreateMovie(context.Background(), &m))
	}
}

func TestByCategoryPagesOf30(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	for i := 0; i < 45; i++ {
		seed(t, store, storage.Movie{Title: fmt.Sprintf("Action %02d", i), Category: "Action"})
	}
	seed(t, store, storage.Movie{Title: "Elsewhere", Category: "Comedy"})
	svc := NewService(store)

	first, err := svc.ByCategory(ctx, "Action", 0, 0)
	require.NoError(t, err)
	assert.Len(t, first.Items, 30)
	assert.Equal(t, 2, first.TotalPages)
	assert.Equal(t, 45, first.TotalItems)
	assert.True(t, first.ShowNav())
	assert.True(t, first.HasNext())
	assert.False(t, first.HasPrev())
	assert.Equal(t, "Action 00", first.Items[0].Title, "insertion order")

	second, err := svc.ByCategory(ctx, "action", 1, 0)
	require.NoError(t, err)
	assert.Len(t, second.Items, 15)
	assert.False(t, second.HasNext())
	assert.Equal(t, 2, second.Number())

	clamped, err := svc.ByCategory(ctx, "Action", 99, 0)
	require.NoError(t, err)
	assert.Equal(t, second.Items, clamped.Items)
	assert.Equal(t, 1, clamped.Page)
}

func TestEmptyListingIsOnePage(t *testing.T) {
	svc := NewService(storage.NewMemory())
	p, err := svc.ByCategory(context.Background(), "Horror", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Equal(t, 1, p.TotalPages)
	assert.Equal(t, 0, p.Page)
	assert.False(t, p.ShowNav())
}

func TestSinglePageHidesNav(t *testing.T) {
	store := storage.NewMemory()
	for i := 0; i < 30; i++ {
		seed(t, store, storage.Movie{Title: fmt.Sprint(i), Category: "General"})
	}
	p, err := NewService(store).ByCategory(context.Background(), "General", 0, 0)
	require.NoError(t, err)
	assert.Len(t, p.Items, 30)
	assert.False(t, p.ShowNav())
}

func TestByUploaderAndLetter(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seed(t, store,
		storage.Movie{Title: "beta", Uploader: storage.Uploader{ID: 7}},
		storage.Movie{Title: "Alpha", Uploader: storage.Uploader{ID: 8}},
		storage.Movie{Title: "Bravo", Uploader: storage.Uploader{ID: 7}},
		storage.Movie{Title: "1917", Uploader: storage.Uploader{ID: 8}},
	)
	svc := NewService(store)

	up, err := svc.ByUploader(ctx, 7, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, up.TotalPages)
	assert.Equal(t, "beta", up.Items[0].Title)

	b, err := svc.ByLeadingLetter(ctx, "b", 0, 0)
	require.NoError(t, err)
	require.Len(t, b.Items, 2)
	assert.Equal(t, "beta", b.Items[0].Title)
	assert.Equal(t, "Bravo", b.Items[1].Title)

	other, err := svc.ByLeadingLetter(ctx, storage.NonLetter, 0, 0)
	require.NoError(t, err)
	require.Len(t, other.Items, 1)

	_, err = svc.ByLeadingLetter(ctx, "ab", 0, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.ByUploader(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestByUploaderDefaultsToPagesOf30(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	for i := 0; i < 45; i++ {
		seed(t, store, storage.Movie{Title: fmt.Sprintf("Upload %02d", i), Uploader: storage.Uploader{ID: 7}})
	}
	svc := NewService(store)

	first, err := svc.ByUploader(ctx, 7, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, CategoryPageSize, first.Size)
	assert.Equal(t, 2, first.TotalPages)
	assert.Len(t, first.Items, 30)

	second, err := svc.ByUploader(ctx, 7, 1, 0)
	require.NoError(t, err)
	assert.Len(t, second.Items, 15)
	assert.False(t, second.HasNext())
}

func TestListRequestsPendingNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	for i := 0; i < 7; i++ {
		require.NoError(t, store.CreateRequest(ctx, &storage.Request{UserID: 1, Query: fmt.Sprintf("q%d", i)}))
	}
	_, err := store.FulfillRequest(ctx, 7)
	require.NoError(t, err)

	svc := NewService(store)
	p, err := svc.ListRequests(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, p.TotalItems)
	assert.Equal(t, 2, p.TotalPages)
	require.Len(t, p.Items, 5)
	assert.Equal(t, "q5", p.Items[0].Query)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seed(t, store,
		storage.Movie{Title: "Dune Part Two"},
		storage.Movie{Title: "Dune"},
		storage.Movie{Title: "Interstellar"},
	)
	svc := NewService(store)

	got, err := svc.Search(ctx, "dune", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Dune", got[0].Title, "closest match first")

	typo, err := svc.Search(ctx, "intrestellar", 0)
	require.NoError(t, err)
	require.Len(t, typo, 1)
	assert.Equal(t, "Interstellar", typo[0].Title)

	none, err := svc.Search(ctx, "zzzzzz", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.Search(ctx, "  ", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
