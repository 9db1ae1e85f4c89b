package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/auth"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel/imessage"
	signalchan "github.com/myndhyve/myndhyve-cli-sub001/internal/channel/signal"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel/slackchat"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel/whatsapp"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/cli"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/config"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	registry := channel.NewRegistry()
	registry.Register(imessage.New(imessage.Config{DBPath: cfg.IMessageDBPath}, logger))
	registry.Register(slackchat.New(slackchat.Config{
		BotToken: cfg.SlackBotToken,
		AppToken: cfg.SlackAppToken,
	}, logger))
	registry.Register(whatsapp.New(logger))
	registry.Register(signalchan.New(logger))

	authStore := auth.NewStore(cfg.CredentialsFile(), cfg.CloudURL+"/v1/auth/refresh", logger)

	app := cli.NewApp(version, cfg, registry, authStore, logger)
	os.Exit(app.Execute(os.Args[1:]))
}
