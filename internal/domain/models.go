// Package domain holds the core entities shared across the sentry monitoring
// agent: tracked coins, rolling-window state, hot-list entries, and alert
// bookkeeping.
package domain

// Coin identifies a tracked trading pair. (chain, tokenAddress) is unique;
// symbol is not and is resolved through SymbolAlias when needed.
type Coin struct {
	CoinID       int64
	Chain        string
	TokenAddress string
	Symbol       string
	Name         string
	Decimals     int
	IsActive     bool
	AddedAtUtc   int64
}

// SymbolAlias maps a free-form ticker to a Coin, since Symbol is not unique.
type SymbolAlias struct {
	Alias  string
	CoinID int64
}

// LongWatch is a coin's subscription to long-term multi-trigger monitoring.
type LongWatch struct {
	CoinID       int64
	RetraceOn    bool
	StallOn      bool
	BreakoutOn   bool
	McapOn       bool
	RetracePct   float64 // default 15.0
	StallVolPct  float64 // default 30.0
	StallBandPct float64 // default 5.0
	BreakoutPct  float64 // default 12.0
	BreakoutVolX float64 // default 1.5
	McapLevels   []float64
	AddedAtUtc   int64
}

// DefaultLongWatch returns a LongWatch with the standard out-of-the-box
// thresholds for a newly tracked coin.
func DefaultLongWatch(coinID int64, addedAtUtc int64) LongWatch {
	return LongWatch{
		CoinID:       coinID,
		RetraceOn:    true,
		StallOn:      true,
		BreakoutOn:   true,
		McapOn:       true,
		RetracePct:   15.0,
		StallVolPct:  30.0,
		StallBandPct: 5.0,
		BreakoutPct:  12.0,
		BreakoutVolX: 1.5,
		McapLevels:   nil,
		AddedAtUtc:   addedAtUtc,
	}
}

// LongState is the per-coin rolling-window cache, rebuildable from
// RollingDataPoint but kept denormalized so evaluators need a single record.
type LongState struct {
	CoinID     int64
	H12High    *float64
	H12Low     *float64
	H24High    *float64
	H24Low     *float64
	H72High    *float64
	H72Low     *float64
	V12Sum     *float64
	V24Sum     *float64
	LastPrice  *float64
	LastMcap   *float64
	LastUpdatedUtc int64

	LastRetraceFireUtc  *int64
	LastStallFireUtc    *int64
	LastBreakoutFireUtc *int64
	LastMcapFireUtc     *int64
}

// RollingDataPoint is a single append-only per-coin sample.
type RollingDataPoint struct {
	CoinID        int64
	TimestampSec  int64
	Price         float64
	Volume        float64
	MarketCap     *float64
}

// Aggregates is the set of rolling window aggregates served by
// RollingWindowStore.aggregates.
type Aggregates struct {
	H12High, H12Low *float64
	H24High, H24Low *float64
	H72High, H72Low *float64
	V12Sum, V24Sum  *float64
}

// PctTarget is one signed percentage target on a HotEntry. A HotEntry may have
// many; each fires at most once.
type PctTarget struct {
	Value float64 // signed; magnitude in (0, 100)
	Fired bool
}

// HotEntry is a per-entry quick-alert configuration: absolute anchors, signed
// price targets, a market-cap ladder, and an always-on drawdown failsafe.
type HotEntry struct {
	HotID           int64
	Chain           string
	ContractAddress string
	Symbol          string
	DisplayName     string
	CoinID          *int64
	AddedAtUtc      int64
	AnchorPrice     float64
	AnchorMcap      *float64
	PctTargets      []PctTarget
	McapTargets     []float64
	FailsafeFired   bool
}

// HotTriggerKind distinguishes the two one-shot trigger families on a HotEntry.
type HotTriggerKind string

const (
	HotTriggerPct  HotTriggerKind = "pct"
	HotTriggerMcap HotTriggerKind = "mcap"
)

// HotTriggerState is the materialized still-unfired/fired state for
// (hotId, kind, value). Once Fired flips true it is never re-consulted.
type HotTriggerState struct {
	HotID int64
	Kind  HotTriggerKind
	Value float64
	Fired bool
}

// AlertKind enumerates the alert families emitted by the evaluators.
type AlertKind string

const (
	AlertRetrace  AlertKind = "retrace"
	AlertStall    AlertKind = "stall"
	AlertBreakout AlertKind = "breakout"
	AlertMcap     AlertKind = "mcap"
	AlertHotPct   AlertKind = "hot_pct"
	AlertHotMcap  AlertKind = "hot_mcap"
	AlertFailsafe AlertKind = "failsafe"
)

// AlertHistory is an immutable audit record, one row per logically distinct
// alert. Fingerprint is the idempotency key.
type AlertHistory struct {
	AlertID     int64
	CoinID      *int64
	HotID       *int64
	TsUtc       int64
	Kind        AlertKind
	PayloadJSON string
	Fingerprint string
}

// OutboxRow is a pending (or delivered) outbound chat message.
type OutboxRow struct {
	OutboxID    int64
	TsUtc       int64
	ChatID      string
	Text        string
	Fingerprint string
	SentOk      bool
	SentTsUtc   *int64
	Failed      bool
}

// ScheduleConfig is the singleton tuning record for the scheduler and global
// kill-switches, mutated only via administrative commands.
type ScheduleConfig struct {
	AnchorTimesLocal    []string // "HH:MM"
	AnchorPeriodHours   int
	LongCheckpointHours int
	HotIntervalMinutes  int
	CooldownHours       float64
	GlobalRetraceOn     bool
	GlobalStallOn       bool
	GlobalBreakoutOn    bool
	GlobalMcapOn        bool
}

// DefaultScheduleConfig returns the out-of-the-box schedule configuration.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		AnchorTimesLocal:    []string{"09:00", "21:00"},
		AnchorPeriodHours:   12,
		LongCheckpointHours: 1,
		HotIntervalMinutes:  5,
		CooldownHours:       2,
		GlobalRetraceOn:     true,
		GlobalStallOn:       true,
		GlobalBreakoutOn:    true,
		GlobalMcapOn:        true,
	}
}

// PairInfo is the current market snapshot for one trading pair, as returned
// by MarketDataClient.BatchGetTokens.
type PairInfo struct {
	ChainID         string
	BaseTokenAddr   string
	Symbol          string
	Name            string
	Price           float64
	MarketCap       *float64
	Volume24h       float64
	PriceChange24h  float64
	Liquidity       *float64
	Metadata        map[string]any // imageUrl, websites, socials; formatter-only
}

// MintEvent is a persisted on-chain token-mint observation ingested from the
// webhook stream.
type MintEvent struct {
	ID        int64
	Signature string
	Mint      string
	TsUtc     int64
	Decimals  *int
	IsFirst   bool
}
