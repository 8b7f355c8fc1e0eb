package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

type Config struct {
	BotToken        string `long:"bot-token" env:"BOT_TOKEN" description:"Telegram bot token"`
	BotUsername     string `long:"bot-username" env:"BOT_USERNAME" description:"Bot username used in deep links"`
	OwnerID         int64  `long:"owner-id" env:"OWNER_ID" description:"Telegram user id of the owner"`
	ChannelUsername string `long:"channel-username" env:"CHANNEL_USERNAME" description:"Public channel advertised in posts"`

	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	Polling       bool   `long:"polling" env:"LOCAL_POLLING" description:"Use long polling instead of the webhook"`
	WebhookSecret string `long:"webhook-secret" env:"WEBHOOK_SECRET" description:"Expected X-Telegram-Bot-Api-Secret-Token header (optional)"`
	TelegramAPI   string `long:"telegram-api" env:"TELEGRAM_API" default:"https://api.telegram.org" description:"Bot API server base url"`

	Store    string `long:"store" env:"STORE" default:"file" choice:"file" choice:"mongo" description:"Catalog backend"`
	DataFile string `long:"data-file" env:"DATA_FILE" default:"data/catalog.json" description:"JSON file for the file backend"`
	MongoURI string `long:"mongodb-uri" env:"MONGODB_URI" description:"MongoDB connection string"`
	MongoDB  string `long:"mongodb-db" env:"MONGODB_DB" default:"moviezone" description:"MongoDB database name"`

	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the deletion queue (optional)"`
	RabbitMQURL string `long:"rabbitmq-url" env:"RABBITMQ_URL" description:"AMQP url for catalog events (optional)"`
	CatalogFile string `long:"catalog-file" env:"CATALOG_FILE" default:"catalog.yml" description:"YAML file with categories and languages"`

	SessionTimeout time.Duration `long:"session-timeout" env:"SESSION_TIMEOUT" default:"10m" description:"Idle time after which a dialog is abandoned"`
	CleanupDelay   time.Duration `long:"cleanup-delay" env:"CLEANUP_DELAY" default:"48h" description:"Delay before bot replies to staff are deleted"`
	SweepInterval  time.Duration `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"1m" description:"How often expired messages are swept"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"trace, debug, info, warn or error"`
}

// Load parses args and the environment. It returns nil, nil when help was
// requested.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	cfg.ChannelUsername = strings.TrimPrefix(strings.TrimSpace(cfg.ChannelUsername), "@")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BotToken) == "" {
		problems = append(problems, "BOT_TOKEN is required")
	}
	if c.OwnerID == 0 {
		problems = append(problems, "OWNER_ID is required")
	}
	if c.Store == "mongo" && strings.TrimSpace(c.MongoURI) == "" {
		problems = append(problems, "MONGODB_URI is required when STORE=mongo")
	}
	if c.SessionTimeout <= 0 {
		problems = append(problems, "SESSION_TIMEOUT must be positive")
	}
	if c.CleanupDelay <= 0 {
		problems = append(problems, "CLEANUP_DELAY must be positive")
	}
	if c.SweepInterval <= 0 {
		problems = append(problems, "SWEEP_INTERVAL must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
