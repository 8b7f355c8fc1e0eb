// Command local runs the bot on a workstation: settings come from .env and
// updates arrive by long polling, so no public webhook url is needed.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"moviezone-tg-bot/internal/app"
	"moviezone-tg-bot/internal/config"
)

const defaultPort = "7955"

func main() {
	// Variables already in the environment win over .env.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "failed to read .env:", err)
	}
	port := strings.TrimPrefix(strings.TrimSpace(os.Getenv("PORT")), ":")
	if port == "" {
		port = defaultPort
	}
	_ = os.Setenv("PORT", port)

	cfg, err := config.Load(append([]string{"--polling"}, os.Args[1:]...))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg == nil {
		return
	}
	if err := app.Run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
