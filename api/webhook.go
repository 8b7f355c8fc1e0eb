// Package handler exposes the bot over HTTP: the Telegram webhook, a health
// probe and a read-only JSON view of the catalog.
package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBytes caps webhook bodies; Telegram updates are far smaller.
const maxUpdateBytes = 2 << 20

type Updater interface {
	HandleUpdate(ctx context.Context, upd tg.Update)
}

type Deps struct {
	Updates Updater
	Query   *query.Service
	Store   storage.Store
	Secret  string
	Logger  hclog.Logger
}

type server struct {
	updates Updater
	query   *query.Service
	store   storage.Store
	secret  string
	logger  hclog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Query == nil {
		d.Query = query.NewService(d.Store)
	}
	s := &server{
		updates: d.Updates,
		query:   d.Query,
		store:   d.Store,
		secret:  d.Secret,
		logger:  d.Logger.Named("http"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/health", s.health)
	r.POST("/api/webhook", s.webhook)
	r.GET("/api/library", s.library)
	r.GET("/api/library/item", s.libraryItem)
	return r
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// webhook acknowledges every well-formed update with 200 so Telegram does
// not redeliver it; failures are reported to the user and logged instead.
func (s *server) webhook(c *gin.Context) {
	if s.secret != "" {
		got := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			s.logger.Warn("webhook call with a bad secret", "remote", c.ClientIP())
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpdateBytes)
	var upd tg.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		s.logger.Debug("malformed update", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}
	s.updates.HandleUpdate(c.Request.Context(), upd)
	c.Status(http.StatusOK)
}
