package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
)

type libraryLink struct {
	Label   string `json:"label"`
	URL     string `json:"url"`
	Episode int    `json:"episode,omitempty"`
}

type libraryItem struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Type      string        `json:"type"`
	Category  string        `json:"category"`
	Language  string        `json:"language"`
	Year      string        `json:"year,omitempty"`
	Runtime   string        `json:"runtime,omitempty"`
	Rating    string        `json:"rating,omitempty"`
	Downloads int64         `json:"downloads"`
	Links     []libraryLink `json:"links"`
	CreatedAt time.Time     `json:"created_at"`
}

type libraryPage struct {
	Items      []libraryItem `json:"items"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	TotalItems int           `json:"total_items"`
}

func toLibraryItem(m storage.Movie) libraryItem {
	links := make([]libraryLink, 0, len(m.Links))
	for _, l := range m.Links {
		links = append(links, libraryLink{Label: l.Label, URL: l.URL, Episode: l.Episode})
	}
	return libraryItem{
		ID:        m.ID,
		Title:     m.Title,
		Type:      string(m.Type),
		Category:  m.Category,
		Language:  m.Language,
		Year:      m.Year,
		Runtime:   m.Runtime,
		Rating:    m.Rating,
		Downloads: m.Downloads,
		Links:     links,
		CreatedAt: m.CreatedAt,
	}
}

// library lists one category or one leading letter. Pages are 1-indexed
// here and clamped like the in-chat listings.
func (s *server) library(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.Query("size"))
	if size <= 0 || size > query.CategoryPageSize {
		size = query.CategoryPageSize
	}

	var (
		res query.Page[storage.Movie]
		err error
	)
	switch {
	case c.Query("category") != "":
		res, err = s.query.ByCategory(c.Request.Context(), c.Query("category"), page-1, size)
	case c.Query("letter") != "":
		res, err = s.query.ByLeadingLetter(c.Request.Context(), c.Query("letter"), page-1, size)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "category or letter is required"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	out := libraryPage{
		Items:      make([]libraryItem, 0, len(res.Items)),
		Page:       res.Page + 1,
		TotalPages: res.TotalPages,
		TotalItems: res.TotalItems,
	}
	for _, m := range res.Items {
		out.Items = append(out.Items, toLibraryItem(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) libraryItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}
	m, err := s.store.GetMovie(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLibraryItem(*m))
}

func (s *server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.Message(err, "bad request")})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.logger.Error("library request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
