package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/aristath/sentry/internal/domain"
)

// RollingWindowStore maintains append-only per-coin time-series samples and
// serves window aggregates computed at query time. Appends for distinct
// coins proceed in parallel; appends for the same coin are serialized
// through a per-coin mutex so the derived LongState's lastUpdatedUtc stays
// monotonic.
type RollingWindowStore struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewRollingWindowStore constructs a RollingWindowStore.
func NewRollingWindowStore(db *sql.DB) *RollingWindowStore {
	return &RollingWindowStore{db: db, locks: make(map[int64]*sync.Mutex)}
}

func (s *RollingWindowStore) lockFor(coinID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[coinID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[coinID] = m
	}
	return m
}

// Sample is one observation to fold into the store.
type Sample struct {
	TimestampSec int64
	Price        float64
	Volume       float64
	MarketCap    *float64
}

// Append inserts sample and upserts the coin's derived LongState aggregates.
// The samples table remains the source of truth; LongState is rebuildable
// from it. Returns the freshly recomputed LongState.
func (s *RollingWindowStore) Append(coinID int64, sample Sample) (domain.LongState, error) {
	mu := s.lockFor(coinID)
	mu.Lock()
	defer mu.Unlock()

	var state domain.LongState
	err := WithTransaction(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO rolling_data_point (coin_id, timestamp_sec, price, volume, market_cap)
			VALUES (?, ?, ?, ?, ?)
		`, coinID, sample.TimestampSec, sample.Price, sample.Volume, sample.MarketCap)
		if err != nil {
			return fmt.Errorf("insert rolling data point: %w", err)
		}

		agg, err := s.aggregatesTx(tx, coinID, sample.TimestampSec)
		if err != nil {
			return err
		}

		state, err = s.upsertLongStateTx(tx, coinID, agg, sample)
		return err
	})
	if err != nil {
		return domain.LongState{}, err
	}
	return state, nil
}

// Aggregates returns the window highs/lows/volume sums for coinID as of now.
func (s *RollingWindowStore) Aggregates(coinID int64, now int64) (domain.Aggregates, error) {
	var agg domain.Aggregates
	row := s.db.QueryRow(windowAggregateQuery, windowAggregateArgs(coinID, now)...)
	if err := scanAggregates(row, &agg); err != nil {
		return domain.Aggregates{}, fmt.Errorf("aggregates for coin %d: %w", coinID, err)
	}
	return agg, nil
}

func (s *RollingWindowStore) aggregatesTx(tx *sql.Tx, coinID int64, now int64) (domain.Aggregates, error) {
	var agg domain.Aggregates
	row := tx.QueryRow(windowAggregateQuery, windowAggregateArgs(coinID, now)...)
	if err := scanAggregates(row, &agg); err != nil {
		return domain.Aggregates{}, fmt.Errorf("aggregates for coin %d: %w", coinID, err)
	}
	return agg, nil
}

// windowAggregateArgs builds the (coinID, threshold) pairs matching, in
// order, the eight subqueries of windowAggregateQuery: h12 high/low, h24
// high/low, h72 high/low, v12 sum, v24 sum.
func windowAggregateArgs(coinID int64, now int64) []any {
	from12 := now - 12*3600
	from24 := now - 24*3600
	from72 := now - 72*3600
	return []any{
		coinID, from12, coinID, from12,
		coinID, from24, coinID, from24,
		coinID, from72, coinID, from72,
		coinID, from12,
		coinID, from24,
	}
}

const windowAggregateQuery = `
SELECT
	(SELECT MAX(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT MIN(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT MAX(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT MIN(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT MAX(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT MIN(price) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT SUM(volume) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?),
	(SELECT SUM(volume) FROM rolling_data_point WHERE coin_id = ? AND timestamp_sec >= ?)
`

func scanAggregates(row *sql.Row, agg *domain.Aggregates) error {
	return row.Scan(
		&agg.H12High, &agg.H12Low,
		&agg.H24High, &agg.H24Low,
		&agg.H72High, &agg.H72Low,
		&agg.V12Sum, &agg.V24Sum,
	)
}

// upsertLongStateTx recomputes and writes LongState. The mcap trigger must be
// evaluated against the *previous* lastMcap, so callers needing that value
// should fetch LongState before calling Append.
func (s *RollingWindowStore) upsertLongStateTx(tx *sql.Tx, coinID int64, agg domain.Aggregates, sample Sample) (domain.LongState, error) {
	_, err := tx.Exec(`
		INSERT INTO long_state (
			coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
			v12_sum, v24_sum, last_price, last_mcap, last_updated_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin_id) DO UPDATE SET
			h12_high = excluded.h12_high, h12_low = excluded.h12_low,
			h24_high = excluded.h24_high, h24_low = excluded.h24_low,
			h72_high = excluded.h72_high, h72_low = excluded.h72_low,
			v12_sum = excluded.v12_sum, v24_sum = excluded.v24_sum,
			last_price = excluded.last_price,
			last_mcap = COALESCE(excluded.last_mcap, long_state.last_mcap),
			last_updated_utc = excluded.last_updated_utc
	`,
		coinID, agg.H12High, agg.H12Low, agg.H24High, agg.H24Low, agg.H72High, agg.H72Low,
		agg.V12Sum, agg.V24Sum, sample.Price, sample.MarketCap, sample.TimestampSec,
	)
	if err != nil {
		return domain.LongState{}, fmt.Errorf("upsert long state: %w", err)
	}

	row := tx.QueryRow(`
		SELECT coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
			v12_sum, v24_sum, last_price, last_mcap, last_updated_utc,
			last_retrace_fire_utc, last_stall_fire_utc, last_breakout_fire_utc, last_mcap_fire_utc
		FROM long_state WHERE coin_id = ?
	`, coinID)
	return scanLongStateRow(row)
}

// GetLongState fetches the current LongState for a coin, including the prior
// lastMcap that must be captured before an Append overwrites it.
func (s *RollingWindowStore) GetLongState(coinID int64) (domain.LongState, bool, error) {
	row := s.db.QueryRow(`
		SELECT coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
			v12_sum, v24_sum, last_price, last_mcap, last_updated_utc,
			last_retrace_fire_utc, last_stall_fire_utc, last_breakout_fire_utc, last_mcap_fire_utc
		FROM long_state WHERE coin_id = ?
	`, coinID)
	state, err := scanLongStateRow(row)
	if err == sql.ErrNoRows {
		return domain.LongState{}, false, nil
	}
	if err != nil {
		return domain.LongState{}, false, err
	}
	return state, true, nil
}

// UpdateFireTimestamps writes the lastXFireUtc fields after a trigger fires.
func (s *RollingWindowStore) UpdateFireTimestamps(coinID int64, field string, ts int64) error {
	allowed := map[string]string{
		"retrace":  "last_retrace_fire_utc",
		"stall":    "last_stall_fire_utc",
		"breakout": "last_breakout_fire_utc",
		"mcap":     "last_mcap_fire_utc",
	}
	column, ok := allowed[field]
	if !ok {
		return fmt.Errorf("unknown fire-timestamp field %q", field)
	}
	_, err := s.db.Exec(fmt.Sprintf("UPDATE long_state SET %s = ? WHERE coin_id = ?", column), ts, coinID)
	if err != nil {
		return fmt.Errorf("update %s for coin %d: %w", field, coinID, err)
	}
	return nil
}

func scanLongStateRow(row *sql.Row) (domain.LongState, error) {
	var st domain.LongState
	err := row.Scan(
		&st.CoinID, &st.H12High, &st.H12Low, &st.H24High, &st.H24Low, &st.H72High, &st.H72Low,
		&st.V12Sum, &st.V24Sum, &st.LastPrice, &st.LastMcap, &st.LastUpdatedUtc,
		&st.LastRetraceFireUtc, &st.LastStallFireUtc, &st.LastBreakoutFireUtc, &st.LastMcapFireUtc,
	)
	if err != nil {
		return domain.LongState{}, err
	}
	return st, nil
}

// SumVolume sums volume over [from, to) for a coin.
func (s *RollingWindowStore) SumVolume(coinID int64, from, to int64) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(volume) FROM rolling_data_point
		WHERE coin_id = ? AND timestamp_sec >= ? AND timestamp_sec < ?
	`, coinID, from, to).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum volume for coin %d: %w", coinID, err)
	}
	return sum.Float64, nil
}

// DataPointsCount returns how many samples are stored for a coin.
func (s *RollingWindowStore) DataPointsCount(coinID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM rolling_data_point WHERE coin_id = ?", coinID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count data points for coin %d: %w", coinID, err)
	}
	return n, nil
}

// IsWarmupComplete reports whether the earliest stored sample for coinID is
// at least minHours old, relative to now.
func (s *RollingWindowStore) IsWarmupComplete(coinID int64, now int64, minHours float64) (bool, error) {
	var earliest sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MIN(timestamp_sec) FROM rolling_data_point WHERE coin_id = ?
	`, coinID).Scan(&earliest)
	if err != nil {
		return false, fmt.Errorf("warmup check for coin %d: %w", coinID, err)
	}
	if !earliest.Valid {
		return false, nil
	}
	return float64(now-earliest.Int64) >= minHours*3600, nil
}

// DeleteOlderThan removes samples older than the retention horizon. Runs in
// its own short transaction so it never blocks a concurrent Append; on lock
// contention the caller's next hourly tick simply retries.
func (s *RollingWindowStore) DeleteOlderThan(cutoffUnix int64) (int64, error) {
	res, err := s.db.Exec("DELETE FROM rolling_data_point WHERE timestamp_sec < ?", cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("delete old rolling data points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
