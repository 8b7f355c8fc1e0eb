// Package app wires configuration, storage, transport and the bot together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"moviezone-tg-bot/internal/access"
	"moviezone-tg-bot/internal/bot"
	"moviezone-tg-bot/internal/config"
	"moviezone-tg-bot/internal/events"
	"moviezone-tg-bot/internal/flows"
	"moviezone-tg-bot/internal/lifecycle"
	"moviezone-tg-bot/internal/query"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
	"moviezone-tg-bot/internal/workflow"
)

const (
	deletionQueueKey = "moviezone:deletions"
	pollTimeout      = 30 * time.Second
	updateTimeout    = 9 * time.Second
)

type App struct {
	Config    *config.Config
	Logger    hclog.Logger
	Store     storage.Store
	Query     *query.Service
	Client    *tg.Client
	Lifecycle *lifecycle.Manager
	Bot       *bot.Bot

	events events.Publisher
	redis  *redis.Client
}

func NewLogger(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "moviezone",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})
}

func New(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}
	a := &App{Config: cfg, Logger: logger}

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	a.Store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog store ready", "backend", cfg.Store)

	queue := a.deletionQueue(ctx)
	a.events = a.publisher()

	a.Client = tg.NewClientWithBase(cfg.TelegramAPI, cfg.BotToken, nil)
	a.Query = query.NewService(a.Store)
	guard := access.NewGuard(cfg.OwnerID, a.Store)

	a.Lifecycle = lifecycle.NewManager(a.Client, queue, lifecycle.Options{
		Delay:    cfg.CleanupDelay,
		Interval: cfg.SweepInterval,
	}, logger)

	engine := workflow.NewEngine(a.Client, a.Lifecycle, workflow.Options{
		Timeout:     cfg.SessionTimeout,
		IdleMenu:    access.Menu,
		SessionMenu: access.SessionMenu,
	}, logger)

	fd := flows.Deps{
		Store:           a.Store,
		Query:           a.Query,
		Guard:           guard,
		Catalog:         catalog,
		Gateway:         a.Client,
		Events:          a.events,
		BotUsername:     cfg.BotUsername,
		ChannelUsername: cfg.ChannelUsername,
		Logger:          logger,
	}
	if err := flows.Register(engine, fd); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to register dialogs: %w", err)
	}

	a.Bot = bot.New(bot.Deps{
		Gateway:     a.Client,
		Store:       a.Store,
		Guard:       guard,
		Query:       a.Query,
		Engine:      engine,
		Cleaner:     a.Lifecycle,
		Stats:       flows.NewStatsReport(fd),
		Catalog:     catalog,
		Events:      a.events,
		BotUsername: cfg.BotUsername,
		Logger:      logger,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Store == "mongo" {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return storage.NewMongo(cctx, cfg.MongoURI, cfg.MongoDB)
	}
	return storage.OpenFile(cfg.DataFile)
}

// deletionQueue prefers redis so scheduled deletions survive restarts, and
// falls back to memory when redis is not configured or unreachable.
func (a *App) deletionQueue(ctx context.Context) lifecycle.TimedQueue {
	if a.Config.RedisAddr == "" {
		return lifecycle.NewMemoryQueue()
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		a.Logger.Warn("redis unreachable, scheduled deletions kept in memory", "addr", a.Config.RedisAddr, "error", err)
		_ = rdb.Close()
		return lifecycle.NewMemoryQueue()
	}
	a.redis = rdb
	a.Logger.Info("deletion queue ready", "backend", "redis", "addr", a.Config.RedisAddr)
	return lifecycle.NewRedisQueue(rdb, deletionQueueKey, a.Logger)
}

func (a *App) publisher() events.Publisher {
	if a.Config.RabbitMQURL == "" {
		return events.Nop{}
	}
	p, err := events.DialAMQP(a.Config.RabbitMQURL, a.Logger)
	if err != nil {
		a.Logger.Warn("rabbitmq unreachable, catalog events disabled", "error", err)
		return events.Nop{}
	}
	return p
}

// Start launches the background sweep of expired messages.
func (a *App) Start() error {
	return a.Lifecycle.Start()
}

func (a *App) Close(ctx context.Context) error {
	if a.Lifecycle != nil {
		a.Lifecycle.Stop()
	}
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}

// HandleUpdate runs one update with a deadline and logs failures.
func (a *App) HandleUpdate(ctx context.Context, upd tg.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	if err := a.Bot.HandleUpdate(ctx, upd); err != nil {
		a.Logger.Error("failed to handle update", "update_id", upd.UpdateID, "error", err)
	}
}

// Poll receives updates with getUpdates until ctx is done. The webhook is
// removed first since Telegram refuses getUpdates while one is set.
func (a *App) Poll(ctx context.Context) error {
	poller := tg.NewClientWithBase(a.Config.TelegramAPI, a.Config.BotToken, &http.Client{Timeout: pollTimeout + 15*time.Second})
	if err := poller.DeleteWebhook(ctx, true); err != nil {
		a.Logger.Warn("failed to delete webhook", "error", err)
	}
	a.Logger.Info("polling started")

	offset := 0
	for {
		updates, err := poller.GetUpdates(ctx, offset, pollTimeout)
		if ctx.Err() != nil {
			a.Logger.Info("polling stopped")
			return nil
		}
		if err != nil {
			a.Logger.Warn("polling error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if len(updates) > 0 {
			a.Logger.Debug("polling received updates", "count", len(updates))
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			a.HandleUpdate(ctx, upd)
		}
	}
}
