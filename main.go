package main

import (
	"fmt"
	"os"

	"moviezone-tg-bot/internal/app"
	"moviezone-tg-bot/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
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
