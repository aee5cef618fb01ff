package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bontle/internal/bot"
	"bontle/internal/config"
	"bontle/internal/events"
	"bontle/internal/journal"
	"bontle/internal/metrics"
	"bontle/internal/queueapi"
	"bontle/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config")
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
		ServiceName: cfg.Telemetry.ServiceName,
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
	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		client.UseRedisCache(rdb, cfg.CacheTTL())
	}
	if rps, burst := cfg.RateLimit(); rps > 0 {
		client.UseRateLimit(rate.NewLimiter(rate.Limit(rps), burst))
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, cfg.APITimeout())
	if err := client.HealthCheck(checkCtx); err != nil {
		logger.Warn().Err(err).Str("base_url", cfg.API.BaseURL).Msg("backend is not reachable yet")
	}
	cancelCheck()

	b, err := bot.New(cfg.Telegram.BotToken, client, bot.Options{
		PollInterval: cfg.PollInterval(),
		Location:     loc,
		PageSize:     cfg.PageSize(),
		Debug:        cfg.Telegram.Debug,
		AllowedChats: cfg.Telegram.AllowedChats,
		Bus:          events.NewBus(),
		Journal:      database,
		History:      database,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}

	storesCtx, cancelStores := context.WithTimeout(ctx, cfg.APITimeout())
	if err := b.LoadStores(storesCtx); err != nil {
		logger.Warn().Err(err).Msg("store list unavailable, sessions will fetch it at login")
	}
	cancelStores()

	if err := config.Watch(ctx, configPath, 30*time.Second, func(updated *config.Config) {
		b.SetAllowedChats(updated.Telegram.AllowedChats)
		b.SetPageSize(updated.PageSize())
		b.SetPollInterval(updated.PollInterval())
	}); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
	}

	b.StartExpiryReminders(ctx, time.Minute, 5*time.Minute)

	backups := journal.NewBackupService(database, journal.BackupConfig{
		Dir:           cfg.Journal.BackupDir,
		Interval:      cfg.BackupInterval(),
		RetentionDays: cfg.Journal.BackupRetentionDays,
	}, &logger)
	go backups.Start(ctx)

	go startHealthServer(ctx, cfg.HealthCheckPort(), database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.PrometheusPort(), &logger)
	}

	logger.Info().Str("base_url", cfg.API.BaseURL).Dur("poll_interval", cfg.PollInterval()).Msg("staff bot started")
	b.Start(ctx)
	logger.Info().Msg("staff bot stopped")
}

func startHealthServer(ctx context.Context, port int, database *journal.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "journal not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
