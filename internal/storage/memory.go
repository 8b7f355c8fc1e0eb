package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"moviezone-tg-bot/internal/apperr"
)

// Memory is an in-process Store. When created with a path every committed
// mutation is written to a single JSON document; a failed write leaves the
// previous state in place.
type Memory struct {
	mu    sync.RWMutex
	path  string
	state *snapshot
	now   func() time.Time
}

type snapshot struct {
	NextMovieID   int64             `json:"next_movie_id"`
	NextRequestID int64             `json:"next_request_id"`
	Users         map[int64]User    `json:"users"`
	Admins        map[int64]Admin   `json:"admins"`
	Channels      map[int64]Channel `json:"channels"`
	Movies        map[int64]Movie   `json:"movies"`
	Requests      map[int64]Request `json:"requests"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		NextMovieID:   1,
		NextRequestID: 1,
		Users:         map[int64]User{},
		Admins:        map[int64]Admin{},
		Channels:      map[int64]Channel{},
		Movies:        map[int64]Movie{},
		Requests:      map[int64]Request{},
	}
}

func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		NextMovieID:   s.NextMovieID,
		NextRequestID: s.NextRequestID,
		Users:         make(map[int64]User, len(s.Users)),
		Admins:        make(map[int64]Admin, len(s.Admins)),
		Channels:      make(map[int64]Channel, len(s.Channels)),
		Movies:        make(map[int64]Movie, len(s.Movies)),
		Requests:      make(map[int64]Request, len(s.Requests)),
	}
	for k, v := range s.Users {
		c.Users[k] = v
	}
	for k, v := range s.Admins {
		c.Admins[k] = v
	}
	for k, v := range s.Channels {
		c.Channels[k] = v
	}
	for k, v := range s.Movies {
		c.Movies[k] = v
	}
	for k, v := range s.Requests {
		c.Requests[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{state: newSnapshot(), now: time.Now}
}

// OpenFile loads the JSON document at path, creating it on first use.
func OpenFile(path string) (*Memory, error) {
	m := &Memory{path: path, state: newSnapshot(), now: time.Now}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := m.write(m.state); err != nil {
			return nil, err
		}
		return m, nil
	case err != nil:
		return nil, apperr.Store("open_file", err)
	}
	loaded := newSnapshot()
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, apperr.Store("open_file", fmt.Errorf("decode %s: %w", path, err))
	}
	if loaded.NextMovieID < 1 {
		loaded.NextMovieID = 1
	}
	if loaded.NextRequestID < 1 {
		loaded.NextRequestID = 1
	}
	m.state = loaded
	return m, nil
}

func (m *Memory) write(s *snapshot) error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return apperr.Store("write", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperr.Store("write", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Store("write", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return apperr.Store("write", err)
	}
	return nil
}

// mutate applies fn to a copy of the state and commits it only when fn
// succeeds and the copy is persisted.
func (m *Memory) mutate(fn func(s *snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := m.write(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *Memory) UpsertUser(_ context.Context, u User) (bool, error) {
	created := false
	err := m.mutate(func(s *snapshot) error {
		existing, ok := s.Users[u.ID]
		if !ok {
			created = true
			if u.JoinedAt.IsZero() {
				u.JoinedAt = m.now()
			}
			s.Users[u.ID] = u
			return nil
		}
		existing.FirstName = u.FirstName
		existing.Username = u.Username
		s.Users[u.ID] = existing
		return nil
	})
	return created, err
}

func (m *Memory) GetUser(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.state.Users[id]
	if !ok {
		return nil, apperr.NotFound("get_user", fmt.Sprintf("user %d not found", id))
	}
	return &u, nil
}

func (m *Memory) MarkWelcomed(_ context.Context, id int64) error {
	return m.mutate(func(s *snapshot) error {
		u, ok := s.Users[id]
		if !ok {
			return apperr.NotFound("mark_welcomed", fmt.Sprintf("user %d not found", id))
		}
		u.SeenWelcome = true
		s.Users[id] = u
		return nil
	})
}

func (m *Memory) AddAdmin(_ context.Context, a Admin) error {
	return m.mutate(func(s *snapshot) error {
		if _, ok := s.Admins[a.UserID]; ok {
			return apperr.Conflict("add_admin", fmt.Sprintf("user %d is already an admin", a.UserID))
		}
		if a.AddedAt.IsZero() {
			a.AddedAt = m.now()
		}
		s.Admins[a.UserID] = a
		return nil
	})
}

func (m *Memory) RemoveAdmin(_ context.Context, id int64) error {
	return m.mutate(func(s *snapshot) error {
		if _, ok := s.Admins[id]; !ok {
			return apperr.NotFound("remove_admin", fmt.Sprintf("user %d is not an admin", id))
		}
		delete(s.Admins, id)
		return nil
	})
}

func (m *Memory) GetAdmin(_ context.Context, id int64) (*Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.state.Admins[id]
	if !ok {
		return nil, apperr.NotFound("get_admin", fmt.Sprintf("user %d is not an admin", id))
	}
	return &a, nil
}

func (m *Memory) ListAdmins(_ context.Context) ([]Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Admin, 0, len(m.state.Admins))
	for _, a := range m.state.Admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *Memory) AddChannel(_ context.Context, c Channel) error {
	return m.mutate(func(s *snapshot) error {
		if _, ok := s.Channels[c.ChatID]; ok {
			return apperr.Conflict("add_channel", fmt.Sprintf("channel %s is already configured", c.Name))
		}
		if c.AddedAt.IsZero() {
			c.AddedAt = m.now()
		}
		s.Channels[c.ChatID] = c
		return nil
	})
}

func (m *Memory) RemoveChannel(_ context.Context, chatID int64) error {
	return m.mutate(func(s *snapshot) error {
		if _, ok := s.Channels[chatID]; !ok {
			return apperr.NotFound("remove_channel", fmt.Sprintf("channel %d is not configured", chatID))
		}
		delete(s.Channels, chatID)
		return nil
	})
}

func (m *Memory) ListChannels(_ context.Context) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.state.Channels))
	for _, c := range m.state.Channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}

func (m *Memory) CreateMovie(_ context.Context, mv *Movie) error {
	return m.mutate(func(s *snapshot) error {
		rec := *mv
		rec.ID = s.NextMovieID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = m.now()
		}
		rec.Links = append([]Link(nil), mv.Links...)
		s.Movies[rec.ID] = rec
		s.NextMovieID++
		mv.ID = rec.ID
		mv.CreatedAt = rec.CreatedAt
		return nil
	})
}

func (m *Memory) GetMovie(_ context.Context, id int64) (*Movie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mv, ok := m.state.Movies[id]
	if !ok {
		return nil, apperr.NotFound("get_movie", fmt.Sprintf("movie %d not found", id))
	}
	return &mv, nil
}

func (m *Memory) DeleteMovie(_ context.Context, id int64) error {
	return m.mutate(func(s *snapshot) error {
		if _, ok := s.Movies[id]; !ok {
			return apperr.NotFound("delete_movie", fmt.Sprintf("movie %d not found", id))
		}
		delete(s.Movies, id)
		return nil
	})
}

func (m *Memory) IncrementDownloads(_ context.Context, id int64) (int64, error) {
	var count int64
	err := m.mutate(func(s *snapshot) error {
		mv, ok := s.Movies[id]
		if !ok {
			return apperr.NotFound("increment_downloads", fmt.Sprintf("movie %d not found", id))
		}
		mv.Downloads++
		s.Movies[id] = mv
		count = mv.Downloads
		return nil
	})
	return count, err
}

func (m *Memory) matching(f MovieFilter) []Movie {
	fold := cases.Fold()
	letter := ""
	if f.Letter != "" {
		letter = fold.String(f.Letter)
	}
	out := make([]Movie, 0)
	for _, mv := range m.state.Movies {
		if f.Category != "" && !strings.EqualFold(mv.Category, f.Category) {
			continue
		}
		if f.UploaderID != 0 && mv.Uploader.ID != f.UploaderID {
			continue
		}
		if letter != "" && fold.String(LeadingLetter(mv.Title)) != letter {
			continue
		}
		out = append(out, mv)
	}
	if f.ByTitle() {
		keys := make(map[int64]string, len(out))
		for _, mv := range out {
			keys[mv.ID] = fold.String(mv.Title)
		}
		sort.Slice(out, func(i, j int) bool {
			ki, kj := keys[out[i].ID], keys[out[j].ID]
			if ki != kj {
				return ki < kj
			}
			return out[i].ID < out[j].ID
		})
		return out
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) CountMovies(_ context.Context, f MovieFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(f)), nil
}

func (m *Memory) ListMovies(_ context.Context, f MovieFilter, offset, limit int) ([]Movie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return window(m.matching(f), offset, limit), nil
}

func (m *Memory) CreateRequest(_ context.Context, r *Request) error {
	return m.mutate(func(s *snapshot) error {
		rec := *r
		rec.ID = s.NextRequestID
		if rec.Status == "" {
			rec.Status = RequestPending
		}
		now := m.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = rec.CreatedAt
		s.Requests[rec.ID] = rec
		s.NextRequestID++
		*r = rec
		return nil
	})
}

func (m *Memory) GetRequest(_ context.Context, id int64) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.Requests[id]
	if !ok {
		return nil, apperr.NotFound("get_request", fmt.Sprintf("request %d not found", id))
	}
	return &r, nil
}

func (m *Memory) FulfillRequest(_ context.Context, id int64) (*Request, error) {
	var out Request
	err := m.mutate(func(s *snapshot) error {
		r, ok := s.Requests[id]
		if !ok {
			return apperr.NotFound("fulfill_request", fmt.Sprintf("request %d not found", id))
		}
		if r.Status == RequestFulfilled {
			return apperr.Conflict("fulfill_request", fmt.Sprintf("request %d is already fulfilled", id))
		}
		r.Status = RequestFulfilled
		r.UpdatedAt = m.now()
		s.Requests[id] = r
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) requests(status RequestStatus) []Request {
	out := make([]Request, 0)
	for _, r := range m.state.Requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *Memory) CountRequests(_ context.Context, status RequestStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests(status)), nil
}

func (m *Memory) ListRequests(_ context.Context, status RequestStatus, offset, limit int) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return window(m.requests(status), offset, limit), nil
}

func (m *Memory) Close(context.Context) error { return nil }

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ Store = (*Memory)(nil)

// IsNotFound is a convenience for callers that branch on a missing record.
func IsNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }
