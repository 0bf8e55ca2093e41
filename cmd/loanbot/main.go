package main

import (
	"context"
	"errors"
	"log"

	"github.com/kopakash/loanbot/core/cmd"
	"github.com/kopakash/loanbot/internal/app"
)

func main() {
	err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "configs/config.yaml",
		LoadConfig:        app.LoadConfig,
		Bootstrap:         app.Bootstrap,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("loanbot: %v", err)
	}
}
