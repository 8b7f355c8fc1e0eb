// Package query serves paged catalog listings and title search.
package query

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/storage"
)

const (
	CategoryPageSize = 30
	RequestPageSize  = 5
	DefaultPageSize  = 10
	SearchLimit      = 10
)

// Page is a 0-indexed window over a listing. TotalPages is at least 1 so an
// empty listing is still one (empty) page.
type Page[T any] struct {
	Items      []T
	Page       int
	Size       int
	TotalPages int
	TotalItems int
}

func (p Page[T]) HasPrev() bool { return p.Page > 0 }
func (p Page[T]) HasNext() bool { return p.Page < p.TotalPages-1 }

// ShowNav reports whether previous/next controls should be rendered at all.
func (p Page[T]) ShowNav() bool { return p.TotalPages > 1 }

// Number is the 1-indexed page shown to people.
func (p Page[T]) Number() int { return p.Page + 1 }

// window clamps page into [0, totalPages) and returns the offset to read from.
func window(total, page, size int) (clamped, totalPages, offset int) {
	totalPages = (total + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	if page > totalPages-1 {
		page = totalPages - 1
	}
	return page, totalPages, page * size
}

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) movies(ctx context.Context, f storage.MovieFilter, page, size int) (Page[storage.Movie], error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	total, err := s.store.CountMovies(ctx, f)
	if err != nil {
		return Page[storage.Movie]{}, err
	}
	page, totalPages, offset := window(total, page, size)
	items, err := s.store.ListMovies(ctx, f, offset, size)
	if err != nil {
		return Page[storage.Movie]{}, err
	}
	return Page[storage.Movie]{Items: items, Page: page, Size: size, TotalPages: totalPages, TotalItems: total}, nil
}

func (s *Service) ByCategory(ctx context.Context, category string, page, size int) (Page[storage.Movie], error) {
	if strings.TrimSpace(category) == "" {
		return Page[storage.Movie]{}, apperr.Validation("by_category", "Pick a category.")
	}
	if size <= 0 {
		size = CategoryPageSize
	}
	return s.movies(ctx, storage.MovieFilter{Category: category}, page, size)
}

func (s *Service) ByUploader(ctx context.Context, uploaderID int64, page, size int) (Page[storage.Movie], error) {
	if uploaderID == 0 {
		return Page[storage.Movie]{}, apperr.Validation("by_uploader", "Pick an uploader.")
	}
	if size <= 0 {
		size = CategoryPageSize
	}
	return s.movies(ctx, storage.MovieFilter{UploaderID: uploaderID}, page, size)
}

// ByLeadingLetter lists titles starting with letter, or with anything but a
// letter when letter is storage.NonLetter, in case-insensitive title order.
func (s *Service) ByLeadingLetter(ctx context.Context, letter string, page, size int) (Page[storage.Movie], error) {
	letter = strings.TrimSpace(letter)
	if letter != storage.NonLetter {
		r, n := utf8.DecodeRuneInString(letter)
		if n == 0 || n != len(letter) || !unicode.IsLetter(r) {
			return Page[storage.Movie]{}, apperr.Validation("by_leading_letter", "Send a single letter.")
		}
		letter = string(unicode.ToUpper(r))
	}
	return s.movies(ctx, storage.MovieFilter{Letter: letter}, page, size)
}

// ListRequests pages through pending requests, newest first.
func (s *Service) ListRequests(ctx context.Context, page, size int) (Page[storage.Request], error) {
	if size <= 0 {
		size = RequestPageSize
	}
	total, err := s.store.CountRequests(ctx, storage.RequestPending)
	if err != nil {
		return Page[storage.Request]{}, err
	}
	page, totalPages, offset := window(total, page, size)
	items, err := s.store.ListRequests(ctx, storage.RequestPending, offset, size)
	if err != nil {
		return Page[storage.Request]{}, err
	}
	return Page[storage.Request]{Items: items, Page: page, Size: size, TotalPages: totalPages, TotalItems: total}, nil
}

// Search ranks titles by fuzzy subsequence match, falling back to edit
// distance so small typos still find something.
func (s *Service) Search(ctx context.Context, text string, limit int) ([]storage.Movie, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("search", "Send part of a title to search for.")
	}
	if limit <= 0 {
		limit = SearchLimit
	}
	all, err := s.store.ListMovies(ctx, storage.MovieFilter{}, 0, 0)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(all))
	for i, m := range all {
		titles[i] = m.Title
	}

	ranks := fuzzy.RankFindNormalizedFold(text, titles)
	sort.Stable(ranks)
	out := make([]storage.Movie, 0, min(limit, len(ranks)))
	for _, r := range ranks {
		if len(out) == limit {
			break
		}
		out = append(out, all[r.OriginalIndex])
	}
	if len(out) > 0 {
		return out, nil
	}

	type scored struct {
		idx  int
		dist int
	}
	query := strings.ToLower(text)
	maxDist := max(1, utf8.RuneCountInString(query)/3)
	var near []scored
	for i, title := range titles {
		d := fuzzy.LevenshteinDistance(query, strings.ToLower(title))
		if d <= maxDist {
			near = append(near, scored{idx: i, dist: d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	for _, n := range near {
		if len(out) == limit {
			break
		}
		out = append(out, all[n.idx])
	}
	return out, nil
}
