package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/sentry/internal/domain"
)

// CoinRepository persists Coin and SymbolAlias rows.
type CoinRepository struct {
	db *sql.DB
}

// NewCoinRepository constructs a CoinRepository.
func NewCoinRepository(db *sql.DB) *CoinRepository {
	return &CoinRepository{db: db}
}

// Create inserts a new coin and returns it with CoinID populated.
func (r *CoinRepository) Create(c domain.Coin) (domain.Coin, error) {
	res, err := r.db.Exec(`
		INSERT INTO coin (chain, token_address, symbol, name, decimals, is_active, added_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.Chain, c.TokenAddress, c.Symbol, c.Name, c.Decimals, boolToInt(c.IsActive), c.AddedAtUtc)
	if err != nil {
		return domain.Coin{}, fmt.Errorf("create coin: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Coin{}, fmt.Errorf("create coin: last insert id: %w", err)
	}
	c.CoinID = id
	return c, nil
}

// Get fetches a coin by id. Returns (zero, false, nil) if not found.
func (r *CoinRepository) Get(coinID int64) (domain.Coin, bool, error) {
	row := r.db.QueryRow(`
		SELECT coin_id, chain, token_address, symbol, name, decimals, is_active, added_at_utc
		FROM coin WHERE coin_id = ?
	`, coinID)
	return scanCoin(row)
}

// GetByChainAndAddress fetches a coin by its unique (chain, tokenAddress) key.
func (r *CoinRepository) GetByChainAndAddress(chain, tokenAddress string) (domain.Coin, bool, error) {
	row := r.db.QueryRow(`
		SELECT coin_id, chain, token_address, symbol, name, decimals, is_active, added_at_utc
		FROM coin WHERE chain = ? AND token_address = ?
	`, chain, tokenAddress)
	return scanCoin(row)
}

// ResolveSymbol resolves a free-form ticker to a coin via symbol_alias,
// falling back to a direct symbol match among active coins if no alias exists.
func (r *CoinRepository) ResolveSymbol(alias string) (domain.Coin, bool, error) {
	var coinID int64
	err := r.db.QueryRow("SELECT coin_id FROM symbol_alias WHERE alias = ?", alias).Scan(&coinID)
	if err == nil {
		return r.Get(coinID)
	}
	if err != sql.ErrNoRows {
		return domain.Coin{}, false, fmt.Errorf("resolve alias %s: %w", alias, err)
	}

	row := r.db.QueryRow(`
		SELECT coin_id, chain, token_address, symbol, name, decimals, is_active, added_at_utc
		FROM coin WHERE symbol = ? AND is_active = 1 LIMIT 1
	`, alias)
	return scanCoin(row)
}

// AddAlias maps alias to coinID, replacing any prior mapping for that alias.
func (r *CoinRepository) AddAlias(alias string, coinID int64) error {
	_, err := r.db.Exec(`
		INSERT INTO symbol_alias (alias, coin_id) VALUES (?, ?)
		ON CONFLICT(alias) DO UPDATE SET coin_id = excluded.coin_id
	`, alias, coinID)
	if err != nil {
		return fmt.Errorf("add alias %s: %w", alias, err)
	}
	return nil
}

// ListActive returns all coins with is_active = 1.
func (r *CoinRepository) ListActive() ([]domain.Coin, error) {
	rows, err := r.db.Query(`
		SELECT coin_id, chain, token_address, symbol, name, decimals, is_active, added_at_utc
		FROM coin WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list active coins: %w", err)
	}
	defer rows.Close()

	var out []domain.Coin
	for rows.Next() {
		c, err := scanCoinRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Deactivate soft-deletes a coin. Cascading deletion of LongWatch/LongState/
// RollingDataPoint/AlertHistory/HotTriggerState is a hard delete driven by the
// schema's ON DELETE CASCADE, which Remove (not Deactivate) triggers.
func (r *CoinRepository) Deactivate(coinID int64) error {
	if _, err := r.db.Exec("UPDATE coin SET is_active = 0 WHERE coin_id = ?", coinID); err != nil {
		return fmt.Errorf("deactivate coin %d: %w", coinID, err)
	}
	return nil
}

// Remove hard-deletes a coin, cascading to all owned rows via the schema's
// ON DELETE CASCADE foreign keys.
func (r *CoinRepository) Remove(coinID int64) error {
	if _, err := r.db.Exec("DELETE FROM coin WHERE coin_id = ?", coinID); err != nil {
		return fmt.Errorf("remove coin %d: %w", coinID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoin(row *sql.Row) (domain.Coin, bool, error) {
	c, err := scanCoinRow(row)
	if err == sql.ErrNoRows {
		return domain.Coin{}, false, nil
	}
	if err != nil {
		return domain.Coin{}, false, fmt.Errorf("scan coin: %w", err)
	}
	return c, true, nil
}

func scanCoinRow(s rowScanner) (domain.Coin, error) {
	var c domain.Coin
	var name sql.NullString
	var decimals sql.NullInt64
	var isActive int
	err := s.Scan(&c.CoinID, &c.Chain, &c.TokenAddress, &c.Symbol, &name, &decimals, &isActive, &c.AddedAtUtc)
	if err != nil {
		return domain.Coin{}, err
	}
	c.Name = name.String
	c.Decimals = int(decimals.Int64)
	c.IsActive = isActive != 0
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
