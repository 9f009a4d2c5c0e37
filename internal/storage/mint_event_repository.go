package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/sentry/internal/domain"
)

// MintEventRepository persists webhook-ingested on-chain mint observations.
type MintEventRepository struct {
	db *sql.DB
}

// NewMintEventRepository constructs a MintEventRepository.
func NewMintEventRepository(db *sql.DB) *MintEventRepository {
	return &MintEventRepository{db: db}
}

// Create inserts a MintEvent. A duplicate signature is reported as
// (false, nil) rather than an error — the webhook's LRU dedup is the primary
// guard, this unique index is the persistence-layer backstop.
func (r *MintEventRepository) Create(e domain.MintEvent) (inserted bool, err error) {
	_, err = r.db.Exec(`
		INSERT INTO mint_event (signature, mint, ts_utc, decimals, is_first)
		VALUES (?, ?, ?, ?, ?)
	`, e.Signature, e.Mint, e.TsUtc, e.Decimals, boolToInt(e.IsFirst))
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("create mint event: %w", err)
	}
	return true, nil
}

// HasSeenMint reports whether any mint_event row already exists for mint,
// used by the first-mint heuristic.
func (r *MintEventRepository) HasSeenMint(mint string) (bool, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM mint_event WHERE mint = ?", mint).Scan(&n); err != nil {
		return false, fmt.Errorf("check mint history for %s: %w", mint, err)
	}
	return n > 0, nil
}
