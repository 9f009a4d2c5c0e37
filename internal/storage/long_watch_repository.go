package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentry/internal/domain"
)

// LongWatchRepository persists per-coin long-monitoring subscriptions.
type LongWatchRepository struct {
	db *sql.DB
}

// NewLongWatchRepository constructs a LongWatchRepository.
func NewLongWatchRepository(db *sql.DB) *LongWatchRepository {
	return &LongWatchRepository{db: db}
}

// Upsert creates or replaces the LongWatch row for a coin.
func (r *LongWatchRepository) Upsert(w domain.LongWatch) error {
	levels, err := json.Marshal(w.McapLevels)
	if err != nil {
		return fmt.Errorf("marshal mcap levels: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO long_watch (
			coin_id, retrace_on, stall_on, breakout_on, mcap_on,
			retrace_pct, stall_vol_pct, stall_band_pct, breakout_pct, breakout_vol_x,
			mcap_levels, added_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin_id) DO UPDATE SET
			retrace_on = excluded.retrace_on,
			stall_on = excluded.stall_on,
			breakout_on = excluded.breakout_on,
			mcap_on = excluded.mcap_on,
			retrace_pct = excluded.retrace_pct,
			stall_vol_pct = excluded.stall_vol_pct,
			stall_band_pct = excluded.stall_band_pct,
			breakout_pct = excluded.breakout_pct,
			breakout_vol_x = excluded.breakout_vol_x,
			mcap_levels = excluded.mcap_levels
	`,
		w.CoinID, boolToInt(w.RetraceOn), boolToInt(w.StallOn), boolToInt(w.BreakoutOn), boolToInt(w.McapOn),
		w.RetracePct, w.StallVolPct, w.StallBandPct, w.BreakoutPct, w.BreakoutVolX,
		string(levels), w.AddedAtUtc,
	)
	if err != nil {
		return fmt.Errorf("upsert long watch for coin %d: %w", w.CoinID, err)
	}
	return nil
}

// Get fetches the LongWatch for a coin. Returns (zero, false, nil) if absent.
func (r *LongWatchRepository) Get(coinID int64) (domain.LongWatch, bool, error) {
	row := r.db.QueryRow(`
		SELECT coin_id, retrace_on, stall_on, breakout_on, mcap_on,
			retrace_pct, stall_vol_pct, stall_band_pct, breakout_pct, breakout_vol_x,
			mcap_levels, added_at_utc
		FROM long_watch WHERE coin_id = ?
	`, coinID)
	return scanLongWatch(row)
}

// ListActive returns the LongWatch for every active coin, joined so callers
// get one row per watched coin without a second round trip.
func (r *LongWatchRepository) ListActive() ([]domain.LongWatch, error) {
	rows, err := r.db.Query(`
		SELECT lw.coin_id, lw.retrace_on, lw.stall_on, lw.breakout_on, lw.mcap_on,
			lw.retrace_pct, lw.stall_vol_pct, lw.stall_band_pct, lw.breakout_pct, lw.breakout_vol_x,
			lw.mcap_levels, lw.added_at_utc
		FROM long_watch lw
		JOIN coin c ON c.coin_id = lw.coin_id
		WHERE c.is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list active long watches: %w", err)
	}
	defer rows.Close()

	var out []domain.LongWatch
	for rows.Next() {
		w, _, err := scanLongWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Remove deletes the LongWatch for a coin and its LongState row, in one
// transaction.
func (r *LongWatchRepository) Remove(coinID int64) error {
	return WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM long_watch WHERE coin_id = ?", coinID); err != nil {
			return fmt.Errorf("remove long watch for coin %d: %w", coinID, err)
		}
		if _, err := tx.Exec("DELETE FROM long_state WHERE coin_id = ?", coinID); err != nil {
			return fmt.Errorf("remove long state for coin %d: %w", coinID, err)
		}
		return nil
	})
}

func scanLongWatch(s rowScanner) (domain.LongWatch, bool, error) {
	var w domain.LongWatch
	var retraceOn, stallOn, breakoutOn, mcapOn int
	var levelsJSON string

	err := s.Scan(
		&w.CoinID, &retraceOn, &stallOn, &breakoutOn, &mcapOn,
		&w.RetracePct, &w.StallVolPct, &w.StallBandPct, &w.BreakoutPct, &w.BreakoutVolX,
		&levelsJSON, &w.AddedAtUtc,
	)
	if err == sql.ErrNoRows {
		return domain.LongWatch{}, false, nil
	}
	if err != nil {
		return domain.LongWatch{}, false, fmt.Errorf("scan long watch: %w", err)
	}

	w.RetraceOn = retraceOn != 0
	w.StallOn = stallOn != 0
	w.BreakoutOn = breakoutOn != 0
	w.McapOn = mcapOn != 0

	if err := json.Unmarshal([]byte(levelsJSON), &w.McapLevels); err != nil {
		return domain.LongWatch{}, false, fmt.Errorf("unmarshal mcap levels: %w", err)
	}

	return w, true, nil
}
