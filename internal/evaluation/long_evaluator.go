// Package evaluation implements the long-watch and hot-entry trigger rules:
// fold the freshest market snapshot into rolling state and emit AlertEvents
// through the alerting Publisher.
package evaluation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/alerting"
	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/marketdata"
	"github.com/aristath/sentry/internal/storage"
)

const warmupMinHours = 12.0

// LongEvaluator runs the per-coin long-watch rule set on every checkpoint
// tick.
type LongEvaluator struct {
	coins      *storage.CoinRepository
	watches    *storage.LongWatchRepository
	rolling    *storage.RollingWindowStore
	market     *marketdata.Client
	publisher  *alerting.Publisher
	scheduleFn func() (domain.ScheduleConfig, error)
	log        zerolog.Logger
}

// NewLongEvaluator constructs a LongEvaluator.
func NewLongEvaluator(
	coins *storage.CoinRepository,
	watches *storage.LongWatchRepository,
	rolling *storage.RollingWindowStore,
	market *marketdata.Client,
	publisher *alerting.Publisher,
	schedules *storage.ScheduleConfigRepository,
	log zerolog.Logger,
) *LongEvaluator {
	return &LongEvaluator{
		coins:      coins,
		watches:    watches,
		rolling:    rolling,
		market:     market,
		publisher:  publisher,
		scheduleFn: schedules.Get,
		log:        log.With().Str("component", "long-evaluator").Logger(),
	}
}

// Run executes one checkpoint tick against every active LongWatch row.
func (e *LongEvaluator) Run(ctx context.Context, nowUtc int64) error {
	watches, err := e.watches.ListActive()
	if err != nil {
		return fmt.Errorf("list active long watches: %w", err)
	}
	if len(watches) == 0 {
		return nil
	}

	schedule, err := e.scheduleFn()
	if err != nil {
		return fmt.Errorf("load schedule config: %w", err)
	}

	requests := make([]marketdata.TokenRequest, 0, len(watches))
	coinByID := make(map[int64]domain.Coin, len(watches))
	for _, w := range watches {
		coin, ok, err := e.coins.Get(w.CoinID)
		if err != nil {
			return fmt.Errorf("load coin %d: %w", w.CoinID, err)
		}
		if !ok || !coin.IsActive {
			continue
		}
		coinByID[w.CoinID] = coin
		requests = append(requests, marketdata.TokenRequest{Chain: coin.Chain, TokenAddress: coin.TokenAddress})
	}

	snapshots, err := e.market.BatchGetTokens(ctx, requests)
	if err != nil {
		return fmt.Errorf("batch fetch long-watch snapshots: %w", err)
	}

	for _, w := range watches {
		coin, ok := coinByID[w.CoinID]
		if !ok {
			continue
		}
		key := (marketdata.TokenRequest{Chain: coin.Chain, TokenAddress: coin.TokenAddress}).Key()
		snapshot := snapshots[key]
		if snapshot == nil {
			continue
		}
		if ok, reason := marketdata.Validate(*snapshot, nil); !ok {
			e.log.Warn().Int64("coin_id", coin.CoinID).Str("reason", reason).Msg("dropping invalid snapshot")
			continue
		}
		if marketdata.IsAnomalous(*snapshot) {
			e.log.Warn().Int64("coin_id", coin.CoinID).Msg("anomalous snapshot, skipping fold this tick")
			continue
		}
		if err := e.evaluateOne(coin, w, schedule, *snapshot, nowUtc); err != nil {
			e.log.Error().Err(err).Int64("coin_id", coin.CoinID).Msg("long evaluation failed for coin")
		}
	}
	return nil
}

func (e *LongEvaluator) evaluateOne(coin domain.Coin, w domain.LongWatch, schedule domain.ScheduleConfig, snap domain.PairInfo, nowUtc int64) error {
	prevState, hadState, err := e.rolling.GetLongState(coin.CoinID)
	if err != nil {
		return fmt.Errorf("load prior long state: %w", err)
	}
	var prevLastMcap *float64
	if hadState {
		prevLastMcap = prevState.LastMcap
	}

	// Breakout compares against the 12h window as it stood before this
	// sample; once appended, the sample itself would set h12High.
	prior, err := e.rolling.Aggregates(coin.CoinID, nowUtc)
	if err != nil {
		return fmt.Errorf("load prior aggregates: %w", err)
	}

	state, err := e.rolling.Append(coin.CoinID, storage.Sample{
		TimestampSec: nowUtc,
		Price:        snap.Price,
		Volume:       snap.Volume24h,
		MarketCap:    snap.MarketCap,
	})
	if err != nil {
		return fmt.Errorf("fold sample into rolling state: %w", err)
	}

	warmedUp, err := e.rolling.IsWarmupComplete(coin.CoinID, nowUtc, warmupMinHours)
	if err != nil {
		return fmt.Errorf("check warmup: %w", err)
	}
	if !warmedUp {
		return nil
	}

	cooldownSec := int64(schedule.CooldownHours * 3600)
	price := snap.Price
	volume := snap.Volume24h

	if w.RetraceOn && schedule.GlobalRetraceOn && state.H72High != nil && cooldownElapsed(state.LastRetraceFireUtc, nowUtc, cooldownSec) {
		high := *state.H72High
		if price <= high*(1-w.RetracePct/100) {
			retraceFromHigh := (high - price) / high * 100
			if err := e.fireLongTrigger(coin, "retrace", nowUtc, alerting.LongTriggerData{
				CoinID: coin.CoinID, Symbol: coin.Symbol, TriggerType: "retrace",
				EvaluationTick: nowUtc, Price: price, RetraceFromHigh: retraceFromHigh,
			}); err != nil {
				return err
			}
		}
	}

	if w.StallOn && schedule.GlobalStallOn && state.V24Sum != nil && state.H12High != nil && state.H12Low != nil &&
		cooldownElapsed(state.LastStallFireUtc, nowUtc, cooldownSec) {
		volContraction := volume <= *state.V24Sum*(1-w.StallVolPct/100)
		priceCompressed := *state.H12High <= price*(1+w.StallBandPct/100) && *state.H12Low >= price*(1-w.StallBandPct/100)
		if volContraction && priceCompressed {
			if err := e.fireLongTrigger(coin, "stall", nowUtc, alerting.LongTriggerData{
				CoinID: coin.CoinID, Symbol: coin.Symbol, TriggerType: "stall",
				EvaluationTick: nowUtc, Price: price,
			}); err != nil {
				return err
			}
		}
	}

	if w.BreakoutOn && schedule.GlobalBreakoutOn && prior.H12High != nil && prior.V12Sum != nil &&
		cooldownElapsed(state.LastBreakoutFireUtc, nowUtc, cooldownSec) {
		priceBreak := price >= *prior.H12High*(1+w.BreakoutPct/100)
		volBreak := volume >= *prior.V12Sum*w.BreakoutVolX
		if priceBreak && volBreak {
			if err := e.fireLongTrigger(coin, "breakout", nowUtc, alerting.LongTriggerData{
				CoinID: coin.CoinID, Symbol: coin.Symbol, TriggerType: "breakout",
				EvaluationTick: nowUtc, Price: price,
			}); err != nil {
				return err
			}
		}
	}

	if w.McapOn && schedule.GlobalMcapOn && snap.MarketCap != nil && len(w.McapLevels) > 0 &&
		cooldownElapsed(state.LastMcapFireUtc, nowUtc, cooldownSec) {
		level, found := firstCrossedMcapLevel(w.McapLevels, *snap.MarketCap, prevLastMcap)
		if found {
			if err := e.fireLongTrigger(coin, "mcap", nowUtc, alerting.LongTriggerData{
				CoinID: coin.CoinID, Symbol: coin.Symbol, TriggerType: "mcap",
				EvaluationTick: nowUtc, Price: price, TargetLevel: level,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *LongEvaluator) fireLongTrigger(coin domain.Coin, triggerType string, nowUtc int64, data alerting.LongTriggerData) error {
	if err := e.publisher.PublishLongTrigger(coin.CoinID, nowUtc, data); err != nil {
		return fmt.Errorf("publish %s trigger: %w", triggerType, err)
	}
	if err := e.rolling.UpdateFireTimestamps(coin.CoinID, triggerType, nowUtc); err != nil {
		return fmt.Errorf("update %s fire timestamp: %w", triggerType, err)
	}
	return nil
}

// cooldownElapsed reports whether enough time has passed since the last fire.
// No prior fire (nil) always counts as eligible.
func cooldownElapsed(lastFireUtc *int64, nowUtc int64, cooldownSec int64) bool {
	if lastFireUtc == nil {
		return true
	}
	return nowUtc-*lastFireUtc >= cooldownSec
}

// firstCrossedMcapLevel returns the lowest configured level that the current
// market cap has newly crossed relative to prevLastMcap: sorted ascending,
// the first L with M >= L and (prevLastMcap undefined or prevLastMcap < L).
func firstCrossedMcapLevel(levels []float64, marketCap float64, prevLastMcap *float64) (float64, bool) {
	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)
	for _, level := range sorted {
		if marketCap < level {
			continue
		}
		if prevLastMcap == nil || *prevLastMcap < level {
			return level, true
		}
	}
	return 0, false
}
