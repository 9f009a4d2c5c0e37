// Package main is the entry point for the sentry monitoring agent: it
// polls market data on fixed cadences, evaluates long-watch and hot-entry
// trigger rules against a persisted rolling window, and delivers alerts
// through a deduplicated outbox to a message sender, while exposing health
// and admin endpoints over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/alerting"
	"github.com/aristath/sentry/internal/config"
	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/evaluation"
	"github.com/aristath/sentry/internal/httpapi"
	"github.com/aristath/sentry/internal/marketdata"
	"github.com/aristath/sentry/internal/scheduler"
	"github.com/aristath/sentry/internal/storage"
	"github.com/aristath/sentry/internal/webhook"
	"github.com/aristath/sentry/pkg/logger"
)

// outboxDrainInterval is how often the sender loop checks for pending
// outbox rows; publishing an alert only enqueues it for the next pass.
const outboxDrainInterval = 5 * time.Second

// shutdownTimeout bounds each of the final outbox pass and the HTTP server's
// own Shutdown, separately; the scheduler's drain in Stop has its own bound.
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.NodeEnv != "production"})
	log.Info().Msg("starting sentry")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone, falling back to UTC")
		loc = time.UTC
	}

	db, err := storage.New(storage.Config{Path: cfg.DatabaseURL, Profile: storage.ProfileLedger})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	coins := storage.NewCoinRepository(db.Conn())
	watches := storage.NewLongWatchRepository(db.Conn())
	hotEntries := storage.NewHotEntryRepository(db.Conn())
	rolling := storage.NewRollingWindowStore(db.Conn())
	schedules := storage.NewScheduleConfigRepository(db.Conn())
	alerts := storage.NewAlertRepository(db.Conn())
	mintEvents := storage.NewMintEventRepository(db.Conn())
	settings := storage.NewSettingsRepository(db.Conn(), log)

	adminConfirmHeader := "X-Admin-Confirm"
	if v, err := settings.Get("admin_confirm_header"); err != nil {
		log.Warn().Err(err).Msg("failed to read admin_confirm_header setting, using default")
	} else if v != nil && *v != "" {
		adminConfirmHeader = *v
	}

	market := marketdata.New(marketdata.Config{MinInterRequestDelay: cfg.DexscreenerRateLimit}, log)

	var stream *marketdata.StreamClient
	if cfg.WSEnabled {
		stream = marketdata.NewStreamClient(marketdata.DefaultStreamURL, streamUpdateHandler(coins, rolling, log), log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("streaming market data ingest failed to start, reconnecting in background")
		}
	}

	bus := alerting.NewBus()
	publisher := alerting.NewPublisher(bus, alerts, cfg.TelegramChatID, log)

	telegram := alerting.NewTelegramSender(cfg.TelegramBotToken, log)
	sender := alerting.NewSender(alerts, telegram, publisher, log)

	longEval := evaluation.NewLongEvaluator(coins, watches, rolling, market, publisher, schedules, log)
	hotEval := evaluation.NewHotEvaluator(hotEntries, market, publisher, log)

	sched := scheduler.New(loc, coins, watches, rolling, schedules, publisher, longEval, hotEval, log)

	var heliusHandler *webhook.HeliusHandler
	if cfg.HeliusWebhookSecret != "" || cfg.NodeEnv != "production" {
		heliusHandler, err = webhook.NewHeliusHandler(cfg.HeliusWebhookSecret, mintEvents, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct Helius webhook handler")
		}
	}

	srv := httpapi.New(httpapi.Config{
		Log:             log,
		Port:            cfg.HealthCheckPort,
		DB:              db,
		Alerts:          alerts,
		Market:          market,
		Scheduler:       sched,
		Helius:          heliusHandler,
		AdminConfirmKey: adminConfirmHeader,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	outboxDone := make(chan struct{})
	go runOutboxSenderLoop(ctx, sender, log, outboxDone)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.HealthCheckPort).Msg("HTTP server started")

	diagDump := make(chan os.Signal, 1)
	signal.Notify(diagDump, syscall.SIGUSR1)
	go func() {
		for range diagDump {
			path := ringDumpPath(cfg.DatabaseURL)
			if err := bus.DumpRing(path); err != nil {
				log.Error().Err(err).Msg("ring dump failed")
				continue
			}
			log.Info().Str("path", path).Msg("dumped alert bus ring to disk")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()
	<-outboxDone

	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Error().Err(err).Msg("streaming market data ingest shutdown error")
		}
	}

	sched.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := sender.DrainOnce(drainCtx); err != nil {
		log.Error().Err(err).Msg("final outbox drain failed")
	}
	drainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	shutdownCancel()

	log.Info().Msg("sentry stopped")
}

// ringDumpPath derives the crash-diagnostic ring dump path from the
// database path so it lands next to the data it correlates with.
func ringDumpPath(databaseURL string) string {
	return databaseURL + ".ring-dump.msgpack"
}

// streamUpdateHandler resolves a streamed pair update to a tracked coin,
// validates it with the same rules applied to polled snapshots, and folds it
// into the rolling window so the coin's aggregates reflect it before the next
// poll tick. It never replaces the authoritative poll, and a stream update
// for an unknown or deactivated coin is silently dropped.
func streamUpdateHandler(coins *storage.CoinRepository, rolling *storage.RollingWindowStore, log zerolog.Logger) func(marketdata.StreamUpdate) {
	return func(u marketdata.StreamUpdate) {
		coin, found, err := coins.GetByChainAndAddress(u.Chain, u.TokenAddress)
		if err != nil {
			log.Warn().Err(err).Str("chain", u.Chain).Str("token", u.TokenAddress).Msg("stream update: coin lookup failed")
			return
		}
		if !found || !coin.IsActive {
			return
		}

		pair := domain.PairInfo{
			ChainID:       u.Chain,
			BaseTokenAddr: u.TokenAddress,
			Symbol:        coin.Symbol,
			Price:         u.Price,
			MarketCap:     u.MarketCap,
			Volume24h:     u.Volume24h,
		}
		if ok, reason := marketdata.Validate(pair, nil); !ok {
			log.Debug().Str("symbol", coin.Symbol).Str("reason", reason).Msg("stream update failed validation, dropped")
			return
		}

		if _, err := rolling.Append(coin.CoinID, storage.Sample{
			TimestampSec: time.Now().Unix(),
			Price:        u.Price,
			Volume:       u.Volume24h,
			MarketCap:    u.MarketCap,
		}); err != nil {
			log.Warn().Err(err).Str("symbol", coin.Symbol).Msg("failed to fold stream update into rolling window")
		}
	}
}

// runOutboxSenderLoop drains the outbox on a fixed cadence until ctx is
// canceled. Only one drain runs at a time: passes run one after another on
// this goroutine, and ticks that fire during a slow pass are dropped by the
// ticker rather than queued.
func runOutboxSenderLoop(ctx context.Context, sender *alerting.Sender, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(outboxDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sender.DrainOnce(ctx); err != nil {
				log.Error().Err(err).Msg("outbox drain pass failed")
			}
		}
	}
}
