package storage

import (
	"time"
)

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// IsStaff reports whether the role may curate the catalog.
func (r Role) IsStaff() bool { return r == RoleOwner || r == RoleAdmin }

type MovieType string

const (
	MovieSingle MovieType = "single"
	MovieSeries MovieType = "series"
)

// Unset marks an optional metadata field that was skipped. It is never rendered.
const Unset = ""

type Link struct {
	Label   string `bson:"label" json:"label"`
	URL     string `bson:"url" json:"url"`
	Episode int    `bson:"episode,omitempty" json:"episode,omitempty"`
}

type Uploader struct {
	ID   int64 `bson:"id" json:"id"`
	Role Role  `bson:"role" json:"role"`
}

type Movie struct {
	ID        int64     `bson:"_id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	Type      MovieType `bson:"type" json:"type"`
	Links     []Link    `bson:"links" json:"links"`
	Year      string    `bson:"year,omitempty" json:"year,omitempty"`
	Runtime   string    `bson:"runtime,omitempty" json:"runtime,omitempty"`
	Rating    string    `bson:"rating,omitempty" json:"rating,omitempty"`
	Category  string    `bson:"category" json:"category"`
	Language  string    `bson:"language" json:"language"`
	Uploader  Uploader  `bson:"uploader" json:"uploader"`
	Downloads int64     `bson:"downloads" json:"downloads"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Postable reports whether the movie has at least one downloadable link.
func (m *Movie) Postable() bool {
	for _, l := range m.Links {
		if l.URL != "" {
			return true
		}
	}
	return false
}

type User struct {
	ID          int64     `bson:"_id" json:"id"`
	FirstName   string    `bson:"first_name" json:"first_name"`
	Username    string    `bson:"username,omitempty" json:"username,omitempty"`
	SeenWelcome bool      `bson:"seen_welcome" json:"seen_welcome"`
	JoinedAt    time.Time `bson:"joined_at" json:"joined_at"`
}

type Admin struct {
	UserID    int64     `bson:"_id" json:"user_id"`
	ShortName string    `bson:"short_name" json:"short_name"`
	AddedBy   int64     `bson:"added_by" json:"added_by"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

type Channel struct {
	ChatID    int64     `bson:"_id" json:"chat_id"`
	Name      string    `bson:"name" json:"name"`
	ShortName string    `bson:"short_name" json:"short_name"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
)

type Request struct {
	ID        int64         `bson:"_id" json:"id"`
	UserID    int64         `bson:"user_id" json:"user_id"`
	Query     string        `bson:"query" json:"query"`
	Status    RequestStatus `bson:"status" json:"status"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

// MovieFilter selects a listing shape. At most one field is expected to be set;
// an empty filter matches the whole catalog.
type MovieFilter struct {
	Category   string
	UploaderID int64
	Letter     string
}

// ByTitle reports whether the listing is alphabetical rather than insertion ordered.
func (f MovieFilter) ByTitle() bool { return f.Letter != "" }
