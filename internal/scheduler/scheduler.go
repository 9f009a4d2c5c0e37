package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/alerting"
	"github.com/aristath/sentry/internal/storage"
)

// shutdownDrain is how long Stop waits for in-flight ticks before tearing
// down.
const shutdownDrain = 30 * time.Second

// LongRunner executes one long-checkpoint tick end-to-end.
type LongRunner interface {
	Run(ctx context.Context, nowUtc int64) error
}

// HotRunner executes one hot-interval tick end-to-end.
type HotRunner interface {
	Run(ctx context.Context, nowUtc int64) error
}

// Scheduler drives four periodic job families on top of robfig/cron, each
// entry wrapped in a chained Recover/SkipIfStillRunning middleware so a
// running tick suppresses a colliding new one: each task runs at most once
// concurrently with itself.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	coins     *storage.CoinRepository
	watches   *storage.LongWatchRepository
	rolling   *storage.RollingWindowStore
	schedules *storage.ScheduleConfigRepository
	publisher *alerting.Publisher

	long LongRunner
	hot  HotRunner

	backfill *BackfillQueue

	wg       sync.WaitGroup
	lastTick atomic.Int64
}

// New constructs a Scheduler. loc is the IANA zone used to resolve
// anchorTimesLocal entries (TIMEZONE env var, default UTC).
func New(
	loc *time.Location,
	coins *storage.CoinRepository,
	watches *storage.LongWatchRepository,
	rolling *storage.RollingWindowStore,
	schedules *storage.ScheduleConfigRepository,
	publisher *alerting.Publisher,
	long LongRunner,
	hot HotRunner,
	log zerolog.Logger,
) *Scheduler {
	cronLog := log.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronPrinter{cronLog}), cron.SkipIfStillRunning(cronPrinter{cronLog})),
		),
		log:       cronLog,
		coins:     coins,
		watches:   watches,
		rolling:   rolling,
		schedules: schedules,
		publisher: publisher,
		long:      long,
		hot:       hot,
	}
	s.backfill = newBackfillQueue(rolling, log)
	return s
}

// Start registers every cron entry and starts the backfill worker and the
// cron driver loop. schedule is read once at startup to compute cadences;
// changes to ScheduleConfig at runtime take effect on the next restart, since
// cron entries are fixed once registered here.
func (s *Scheduler) Start(ctx context.Context) error {
	schedule, err := s.schedules.Get()
	if err != nil {
		return fmt.Errorf("load schedule config for job registration: %w", err)
	}

	for _, hhmm := range schedule.AnchorTimesLocal {
		spec, err := anchorCronSpec(hhmm)
		if err != nil {
			return fmt.Errorf("anchor time %q: %w", hhmm, err)
		}
		if _, err := s.cron.AddFunc(spec, s.wrap(ctx, JobTypeAnchorReport, s.runAnchorReport)); err != nil {
			return fmt.Errorf("register anchor report job for %q: %w", hhmm, err)
		}
	}

	longSpec := fmt.Sprintf("0 0 */%d * * *", clampHours(schedule.LongCheckpointHours))
	if _, err := s.cron.AddFunc(longSpec, s.wrap(ctx, JobTypeLongCheckpoint, s.runLongCheckpoint)); err != nil {
		return fmt.Errorf("register long checkpoint job: %w", err)
	}

	hotSpec := fmt.Sprintf("0 */%d * * * *", clampMinutes(schedule.HotIntervalMinutes))
	if _, err := s.cron.AddFunc(hotSpec, s.wrap(ctx, JobTypeHotInterval, s.runHotInterval)); err != nil {
		return fmt.Errorf("register hot interval job: %w", err)
	}

	if _, err := s.cron.AddFunc("0 0 * * * *", s.wrap(ctx, JobTypeRollingCleanup, s.runRollingCleanup)); err != nil {
		return fmt.Errorf("register rolling cleanup job: %w", err)
	}

	s.backfill.start()
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("scheduler started")
	return nil
}

// Stop stops accepting new ticks, waits up to shutdownDrain for in-flight
// ticks to finish, then tears down the backfill worker.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(shutdownDrain):
		s.log.Warn().Msg("in-flight scheduler ticks did not drain within the shutdown window")
	}

	drained := make(chan struct{})
	go func() { s.wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(shutdownDrain):
		s.log.Warn().Msg("in-flight job bodies did not drain within the shutdown window")
	}

	s.backfill.stop()
	s.log.Info().Msg("scheduler stopped")
}

// EnqueueBackfill schedules a one-off backfill job for a newly added coin.
func (s *Scheduler) EnqueueBackfill(job BackfillJob) {
	s.backfill.Enqueue(job)
}

// wrap adapts a tick function into the func() that cron.AddFunc expects,
// tracking in-flight job bodies via s.wg so Stop can wait on them.
func (s *Scheduler) wrap(ctx context.Context, jobType JobType, fn func(context.Context, int64) error) func() {
	return func() {
		s.wg.Add(1)
		defer s.wg.Done()
		now := time.Now().Unix()
		if err := fn(ctx, now); err != nil {
			s.log.Error().Err(err).Str("job", string(jobType)).Msg("job failed")
		}
		s.lastTick.Store(now)
	}
}

// LastTick returns the time of the most recently completed job tick, the
// zero time if none has run yet. Used by the /health endpoint's scheduler
// liveness check.
func (s *Scheduler) LastTick() time.Time {
	unix := s.lastTick.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func (s *Scheduler) runLongCheckpoint(ctx context.Context, now int64) error {
	return s.long.Run(ctx, now)
}

func (s *Scheduler) runHotInterval(ctx context.Context, now int64) error {
	return s.hot.Run(ctx, now)
}

// runRollingCleanup deletes samples older than the 73h retention horizon.
func (s *Scheduler) runRollingCleanup(_ context.Context, now int64) error {
	cutoff := now - int64(73*time.Hour/time.Second)
	deleted, err := s.rolling.DeleteOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("rolling cleanup: %w", err)
	}
	s.log.Debug().Int64("deleted", deleted).Msg("rolling cleanup tick")
	return nil
}

// runAnchorReport builds a snapshot of the long list and publishes it as a
// system alert.
func (s *Scheduler) runAnchorReport(_ context.Context, now int64) error {
	watches, err := s.watches.ListActive()
	if err != nil {
		return fmt.Errorf("list active long watches for anchor report: %w", err)
	}

	var lines []string
	for _, w := range watches {
		coin, ok, err := s.coins.Get(w.CoinID)
		if err != nil {
			return fmt.Errorf("load coin %d for anchor report: %w", w.CoinID, err)
		}
		if !ok {
			continue
		}
		state, hadState, err := s.rolling.GetLongState(w.CoinID)
		if err != nil {
			return fmt.Errorf("load long state for anchor report: %w", err)
		}
		if !hadState || state.LastPrice == nil {
			lines = append(lines, fmt.Sprintf("%s: warming up", coin.Symbol))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %.6g", coin.Symbol, *state.LastPrice))
	}

	message := "no active long watches"
	if len(lines) > 0 {
		message = strings.Join(lines, "\n")
	}

	return s.publisher.PublishSystemAlert(now, alerting.SystemAlertData{Code: "anchor_report", Message: message})
}

// anchorCronSpec turns an "HH:MM" into a seconds-precision robfig/cron spec
// evaluated in the Scheduler's configured location.
func anchorCronSpec(hhmm string) (string, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("expected HH:MM, got %q", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid hour in %q: %w", hhmm, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid minute in %q: %w", hhmm, err)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

func clampHours(h int) int {
	if h <= 0 {
		return 1
	}
	return h
}

func clampMinutes(m int) int {
	if m <= 0 {
		return 1
	}
	return m
}

// cronPrinter adapts a zerolog.Logger to cron.Logger for the Recover and
// SkipIfStillRunning middlewares.
type cronPrinter struct {
	log zerolog.Logger
}

func (p cronPrinter) Info(msg string, keysAndValues ...interface{}) {
	p.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (p cronPrinter) Error(err error, msg string, keysAndValues ...interface{}) {
	p.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
