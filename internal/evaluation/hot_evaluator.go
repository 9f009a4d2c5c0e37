package evaluation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/alerting"
	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/marketdata"
	"github.com/aristath/sentry/internal/storage"
)

// failsafeDrawdown is the 60% drawdown threshold (0.40 = 40% of anchor
// remaining) that fires the failsafe exit alert.
const failsafeDrawdown = 0.40

// HotEvaluator runs the one-shot hot-entry alert rules on every hot-interval
// tick.
type HotEvaluator struct {
	entries   *storage.HotEntryRepository
	market    *marketdata.Client
	publisher *alerting.Publisher
	log       zerolog.Logger
}

// NewHotEvaluator constructs a HotEvaluator.
func NewHotEvaluator(entries *storage.HotEntryRepository, market *marketdata.Client, publisher *alerting.Publisher, log zerolog.Logger) *HotEvaluator {
	return &HotEvaluator{
		entries:   entries,
		market:    market,
		publisher: publisher,
		log:       log.With().Str("component", "hot-evaluator").Logger(),
	}
}

// Run executes one hot-interval tick against every still-present HotEntry.
func (e *HotEvaluator) Run(ctx context.Context, nowUtc int64) error {
	entries, err := e.entries.ListAll()
	if err != nil {
		return fmt.Errorf("list hot entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	requests := make([]marketdata.TokenRequest, 0, len(entries))
	for _, entry := range entries {
		requests = append(requests, marketdata.TokenRequest{Chain: entry.Chain, TokenAddress: entry.ContractAddress})
	}
	snapshots, err := e.market.BatchGetTokens(ctx, requests)
	if err != nil {
		return fmt.Errorf("batch fetch hot-entry snapshots: %w", err)
	}

	for _, entry := range entries {
		key := (marketdata.TokenRequest{Chain: entry.Chain, TokenAddress: entry.ContractAddress}).Key()
		snapshot := snapshots[key]
		if snapshot == nil {
			continue
		}
		if ok, reason := marketdata.Validate(*snapshot, nil); !ok {
			e.log.Warn().Int64("hot_id", entry.HotID).Str("reason", reason).Msg("dropping invalid snapshot")
			continue
		}
		if err := e.evaluateOne(entry, *snapshot, nowUtc); err != nil {
			e.log.Error().Err(err).Int64("hot_id", entry.HotID).Msg("hot evaluation failed for entry")
		}
	}
	return nil
}

func (e *HotEvaluator) evaluateOne(entry domain.HotEntry, snap domain.PairInfo, nowUtc int64) error {
	price := snap.Price

	for _, target := range entry.PctTargets {
		if target.Fired {
			continue
		}
		threshold := entry.AnchorPrice * (1 + target.Value/100)
		fired := (target.Value > 0 && price >= threshold) || (target.Value < 0 && price <= threshold)
		if !fired {
			continue
		}
		delta := (price - entry.AnchorPrice) / entry.AnchorPrice * 100
		data := alerting.HotAlertData{
			HotID: entry.HotID, Symbol: entry.Symbol, AlertType: "hot_pct",
			Tick: nowUtc, Price: price, DeltaFromAnchor: delta, TargetValue: target.Value,
		}
		if err := e.publisher.PublishHotAlert(entry.HotID, nowUtc, data); err != nil {
			return fmt.Errorf("publish hot_pct alert: %w", err)
		}
		if err := e.entries.MarkPctFired(entry.HotID, target.Value); err != nil {
			return fmt.Errorf("mark pct target %.4f fired: %w", target.Value, err)
		}
	}

	if snap.MarketCap != nil && len(entry.McapTargets) > 0 {
		firedMcapLevels, err := e.firedMcapLevels(entry.HotID)
		if err != nil {
			return err
		}
		for _, level := range entry.McapTargets {
			if *snap.MarketCap < level {
				continue
			}
			if firedMcapLevels[level] {
				continue
			}
			data := alerting.HotAlertData{
				HotID: entry.HotID, Symbol: entry.Symbol, AlertType: "hot_mcap",
				Tick: nowUtc, Price: price, McapLevel: level,
			}
			if err := e.publisher.PublishHotAlert(entry.HotID, nowUtc, data); err != nil {
				return fmt.Errorf("publish hot_mcap alert: %w", err)
			}
			if err := e.entries.MarkMcapFired(entry.HotID, level); err != nil {
				return fmt.Errorf("mark mcap target %.4f fired: %w", level, err)
			}
		}
	}

	if !entry.FailsafeFired {
		priceDrawdown := price <= entry.AnchorPrice*failsafeDrawdown
		mcapDrawdown := entry.AnchorMcap != nil && snap.MarketCap != nil && *snap.MarketCap <= *entry.AnchorMcap*failsafeDrawdown
		if priceDrawdown || mcapDrawdown {
			data := alerting.HotAlertData{HotID: entry.HotID, Symbol: entry.Symbol, AlertType: "failsafe", Tick: nowUtc, Price: price}
			if err := e.publisher.PublishHotAlert(entry.HotID, nowUtc, data); err != nil {
				return fmt.Errorf("publish failsafe alert: %w", err)
			}
			if err := e.entries.MarkFailsafeFired(entry.HotID); err != nil {
				return fmt.Errorf("mark failsafe fired: %w", err)
			}
			entry.FailsafeFired = true
		}
	}

	if entry.FailsafeFired {
		allFired, err := e.entries.AllTriggersFired(entry.HotID)
		if err != nil {
			return fmt.Errorf("check all triggers fired: %w", err)
		}
		if allFired {
			if err := e.entries.Remove(entry.HotID); err != nil {
				return fmt.Errorf("remove fully-resolved hot entry: %w", err)
			}
		}
	}

	return nil
}

// firedMcapLevels reports, per mcap level, whether that one-shot trigger has
// already fired. HotEntry.McapTargets carries no per-level fired flag of its
// own; fired state lives solely in hot_trigger_state.
func (e *HotEvaluator) firedMcapLevels(hotID int64) (map[float64]bool, error) {
	states, err := e.entries.ListTriggerStates(hotID)
	if err != nil {
		return nil, fmt.Errorf("load mcap trigger states: %w", err)
	}
	fired := make(map[float64]bool, len(states))
	for _, s := range states {
		if s.Kind == domain.HotTriggerMcap && s.Fired {
			fired[s.Value] = true
		}
	}
	return fired, nil
}

// CreateEntry persists a new HotEntry and emits its entry_added notification,
// unconditionally of whether anchors/targets are set.
func (e *HotEvaluator) CreateEntry(entry domain.HotEntry, nowUtc int64) (domain.HotEntry, error) {
	created, err := e.entries.Create(entry)
	if err != nil {
		return domain.HotEntry{}, fmt.Errorf("create hot entry: %w", err)
	}
	data := alerting.HotAlertData{HotID: created.HotID, Symbol: created.Symbol, AlertType: "entry_added", Tick: nowUtc, Price: created.AnchorPrice}
	if err := e.publisher.PublishHotAlert(created.HotID, nowUtc, data); err != nil {
		return domain.HotEntry{}, fmt.Errorf("publish entry_added alert: %w", err)
	}
	return created, nil
}
