package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentry/internal/domain"
)

// HotEntryRepository persists HotEntry rows and their HotTriggerState rows.
type HotEntryRepository struct {
	db *sql.DB
}

// NewHotEntryRepository constructs a HotEntryRepository.
func NewHotEntryRepository(db *sql.DB) *HotEntryRepository {
	return &HotEntryRepository{db: db}
}

// Create inserts a HotEntry and materializes its HotTriggerState rows, all
// inside one transaction so trigger-state rows are never observed as
// missing for a HotEntry that already exists.
func (r *HotEntryRepository) Create(e domain.HotEntry) (domain.HotEntry, error) {
	pctJSON, err := json.Marshal(e.PctTargets)
	if err != nil {
		return domain.HotEntry{}, fmt.Errorf("marshal pct targets: %w", err)
	}
	mcapJSON, err := json.Marshal(e.McapTargets)
	if err != nil {
		return domain.HotEntry{}, fmt.Errorf("marshal mcap targets: %w", err)
	}

	err = WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO hot_entry (
				chain, contract_address, symbol, display_name, coin_id,
				added_at_utc, anchor_price, anchor_mcap, pct_targets, mcap_targets, failsafe_fired
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, e.Chain, e.ContractAddress, e.Symbol, e.DisplayName, e.CoinID,
			e.AddedAtUtc, e.AnchorPrice, e.AnchorMcap, string(pctJSON), string(mcapJSON))
		if err != nil {
			return fmt.Errorf("insert hot entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("hot entry last insert id: %w", err)
		}
		e.HotID = id

		for _, t := range e.PctTargets {
			if _, err := tx.Exec(`
				INSERT INTO hot_trigger_state (hot_id, kind, value, fired) VALUES (?, ?, ?, 0)
			`, e.HotID, domain.HotTriggerPct, t.Value); err != nil {
				return fmt.Errorf("seed pct trigger state: %w", err)
			}
		}
		for _, v := range e.McapTargets {
			if _, err := tx.Exec(`
				INSERT INTO hot_trigger_state (hot_id, kind, value, fired) VALUES (?, ?, ?, 0)
			`, e.HotID, domain.HotTriggerMcap, v); err != nil {
				return fmt.Errorf("seed mcap trigger state: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.HotEntry{}, err
	}
	return e, nil
}

// ListAll returns every HotEntry still present (not yet removed by the
// failsafe entry-removal rule).
func (r *HotEntryRepository) ListAll() ([]domain.HotEntry, error) {
	rows, err := r.db.Query(`
		SELECT hot_id, chain, contract_address, symbol, display_name, coin_id,
			added_at_utc, anchor_price, anchor_mcap, pct_targets, mcap_targets, failsafe_fired
		FROM hot_entry
	`)
	if err != nil {
		return nil, fmt.Errorf("list hot entries: %w", err)
	}
	defer rows.Close()

	var out []domain.HotEntry
	for rows.Next() {
		e, err := scanHotEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanHotEntry(s rowScanner) (domain.HotEntry, error) {
	var e domain.HotEntry
	var displayName sql.NullString
	var pctJSON, mcapJSON string
	var failsafeFired int

	err := s.Scan(
		&e.HotID, &e.Chain, &e.ContractAddress, &e.Symbol, &displayName, &e.CoinID,
		&e.AddedAtUtc, &e.AnchorPrice, &e.AnchorMcap, &pctJSON, &mcapJSON, &failsafeFired,
	)
	if err != nil {
		return domain.HotEntry{}, fmt.Errorf("scan hot entry: %w", err)
	}
	e.DisplayName = displayName.String
	e.FailsafeFired = failsafeFired != 0

	if err := json.Unmarshal([]byte(pctJSON), &e.PctTargets); err != nil {
		return domain.HotEntry{}, fmt.Errorf("unmarshal pct targets: %w", err)
	}
	if err := json.Unmarshal([]byte(mcapJSON), &e.McapTargets); err != nil {
		return domain.HotEntry{}, fmt.Errorf("unmarshal mcap targets: %w", err)
	}
	return e, nil
}

// MarkPctFired flips a HotEntry's pct target to fired, in the entry's
// pct_targets JSON column and in hot_trigger_state, inside one transaction.
func (r *HotEntryRepository) MarkPctFired(hotID int64, value float64) error {
	return WithTransaction(r.db, func(tx *sql.Tx) error {
		return markTriggerFiredTx(tx, hotID, domain.HotTriggerPct, value, "pct_targets")
	})
}

// MarkMcapFired flips a HotEntry's mcap target to fired.
func (r *HotEntryRepository) MarkMcapFired(hotID int64, value float64) error {
	return WithTransaction(r.db, func(tx *sql.Tx) error {
		return markTriggerFiredTx(tx, hotID, domain.HotTriggerMcap, value, "mcap_targets")
	})
}

func markTriggerFiredTx(tx *sql.Tx, hotID int64, kind domain.HotTriggerKind, value float64, jsonColumn string) error {
	if _, err := tx.Exec(`
		INSERT INTO hot_trigger_state (hot_id, kind, value, fired) VALUES (?, ?, ?, 1)
		ON CONFLICT(hot_id, kind, value) DO UPDATE SET fired = 1
	`, hotID, kind, value); err != nil {
		return fmt.Errorf("mark trigger state fired: %w", err)
	}

	var raw string
	if err := tx.QueryRow(fmt.Sprintf("SELECT %s FROM hot_entry WHERE hot_id = ?", jsonColumn), hotID).Scan(&raw); err != nil {
		return fmt.Errorf("read %s: %w", jsonColumn, err)
	}

	if jsonColumn == "pct_targets" {
		var targets []domain.PctTarget
		if err := json.Unmarshal([]byte(raw), &targets); err != nil {
			return fmt.Errorf("unmarshal %s: %w", jsonColumn, err)
		}
		for i := range targets {
			if targets[i].Value == value {
				targets[i].Fired = true
			}
		}
		updated, err := json.Marshal(targets)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", jsonColumn, err)
		}
		if _, err := tx.Exec("UPDATE hot_entry SET pct_targets = ? WHERE hot_id = ?", string(updated), hotID); err != nil {
			return fmt.Errorf("persist %s: %w", jsonColumn, err)
		}
	}
	return nil
}

// MarkFailsafeFired sets failsafe_fired = 1 for a HotEntry.
func (r *HotEntryRepository) MarkFailsafeFired(hotID int64) error {
	if _, err := r.db.Exec("UPDATE hot_entry SET failsafe_fired = 1 WHERE hot_id = ?", hotID); err != nil {
		return fmt.Errorf("mark failsafe fired for hot entry %d: %w", hotID, err)
	}
	return nil
}

// ListTriggerStates returns every HotTriggerState row for a HotEntry, so
// callers can check per-level fired status without one query per target.
func (r *HotEntryRepository) ListTriggerStates(hotID int64) ([]domain.HotTriggerState, error) {
	rows, err := r.db.Query(`
		SELECT hot_id, kind, value, fired FROM hot_trigger_state WHERE hot_id = ?
	`, hotID)
	if err != nil {
		return nil, fmt.Errorf("list trigger states for hot entry %d: %w", hotID, err)
	}
	defer rows.Close()

	var out []domain.HotTriggerState
	for rows.Next() {
		var s domain.HotTriggerState
		var fired int
		if err := rows.Scan(&s.HotID, &s.Kind, &s.Value, &fired); err != nil {
			return nil, fmt.Errorf("scan trigger state: %w", err)
		}
		s.Fired = fired != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// AllTriggersFired reports whether every pct/mcap target on the entry has
// fired, the first half of the entry-removal rule.
func (r *HotEntryRepository) AllTriggersFired(hotID int64) (bool, error) {
	var unfired int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM hot_trigger_state WHERE hot_id = ? AND fired = 0
	`, hotID).Scan(&unfired)
	if err != nil {
		return false, fmt.Errorf("count unfired triggers for hot entry %d: %w", hotID, err)
	}
	return unfired == 0, nil
}

// Remove deletes a HotEntry (cascades hot_trigger_state via FK).
func (r *HotEntryRepository) Remove(hotID int64) error {
	if _, err := r.db.Exec("DELETE FROM hot_entry WHERE hot_id = ?", hotID); err != nil {
		return fmt.Errorf("remove hot entry %d: %w", hotID, err)
	}
	return nil
}
