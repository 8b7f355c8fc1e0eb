// Package storage holds the catalog records and the backends that persist them.
package storage

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Store is the key-indexed record store behind the bot. Implementations return
// apperr errors: missing records are not_found, duplicate adds are conflict and
// backend failures are store.
type Store interface {
	UpsertUser(ctx context.Context, u User) (created bool, err error)
	GetUser(ctx context.Context, id int64) (*User, error)
	MarkWelcomed(ctx context.Context, id int64) error

	AddAdmin(ctx context.Context, a Admin) error
	RemoveAdmin(ctx context.Context, id int64) error
	GetAdmin(ctx context.Context, id int64) (*Admin, error)
	ListAdmins(ctx context.Context) ([]Admin, error)

	AddChannel(ctx context.Context, c Channel) error
	RemoveChannel(ctx context.Context, chatID int64) error
	ListChannels(ctx context.Context) ([]Channel, error)

	CreateMovie(ctx context.Context, m *Movie) error
	GetMovie(ctx context.Context, id int64) (*Movie, error)
	DeleteMovie(ctx context.Context, id int64) error
	IncrementDownloads(ctx context.Context, id int64) (int64, error)
	CountMovies(ctx context.Context, f MovieFilter) (int, error)
	ListMovies(ctx context.Context, f MovieFilter, offset, limit int) ([]Movie, error)

	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id int64) (*Request, error)
	FulfillRequest(ctx context.Context, id int64) (*Request, error)
	CountRequests(ctx context.Context, status RequestStatus) (int, error)
	ListRequests(ctx context.Context, status RequestStatus, offset, limit int) ([]Request, error)

	Close(ctx context.Context) error
}

// NonLetter is the leading-letter bucket for titles that do not start with a letter.
const NonLetter = "#"

// LeadingLetter returns the upper-cased first letter of title, or NonLetter.
func LeadingLetter(title string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(title))
	if r == utf8.RuneError || !unicode.IsLetter(r) {
		return NonLetter
	}
	return string(unicode.ToUpper(r))
}
