package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bontle/internal/config"
	"bontle/internal/console"
	"bontle/internal/dashboard"
	"bontle/internal/events"
	"bontle/internal/journal"
	"bontle/internal/queueapi"
	"bontle/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	// stdout belongs to the dashboard.
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.API.Timezone).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName + "-console",
	}, &logger)
	defer func() {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = shutdownTracing(ctxShutdown)
	}()

	database, err := journal.NewDB(cfg.Journal.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open journal error")
	}
	defer database.Close()

	client := queueapi.NewClient(cfg.API.BaseURL, cfg.APITimeout())
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		client.UseRedisCache(rdb, cfg.CacheTTL())
	}
	if rps, burst := cfg.RateLimit(); rps > 0 {
		client.UseRateLimit(rate.NewLimiter(rate.Limit(rps), burst))
	}

	bus := events.NewBus()
	ctrl := dashboard.New(client, dashboard.Options{
		Key:          "console",
		PollInterval: cfg.PollInterval(),
		Location:     loc,
		Bus:          bus,
		Journal:      database,
		Logger:       &logger,
	})
	defer ctrl.Close()

	con := console.New(ctrl, os.Stdin, os.Stdout, console.Options{
		ExportDir: cfg.Console.ExportDir,
		History:   database,
		Logger:    &logger,
	})
	bus.Subscribe(events.QueueRefreshed, con.OnEvent)

	if err := ctrl.LoadStores(ctx); err != nil {
		logger.Warn().Err(err).Str("base_url", cfg.API.BaseURL).Msg("could not load stores")
	}

	if err := con.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("console stopped")
	}
}
