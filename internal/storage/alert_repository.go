package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/aristath/sentry/internal/domain"
)

// AlertRepository persists AlertHistory and Outbox rows.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs an AlertRepository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// RecordAlertHistory inserts an immutable audit row. A unique-fingerprint
// collision is the dedup success path and is reported as (false, nil).
func (r *AlertRepository) RecordAlertHistory(h domain.AlertHistory) (inserted bool, err error) {
	_, err = r.db.Exec(`
		INSERT INTO alert_history (coin_id, hot_id, ts_utc, kind, payload_json, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.CoinID, h.HotID, h.TsUtc, h.Kind, h.PayloadJSON, h.Fingerprint)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("record alert history: %w", err)
	}
	return true, nil
}

// EnqueueOutbox inserts a pending outbound message. A unique-fingerprint
// collision means "already queued" and is reported as (false, nil).
func (r *AlertRepository) EnqueueOutbox(chatID, text, fingerprint string, tsUtc int64) (inserted bool, err error) {
	_, err = r.db.Exec(`
		INSERT INTO outbox (ts_utc, chat_id, text, fingerprint, sent_ok, failed)
		VALUES (?, ?, ?, ?, 0, 0)
	`, tsUtc, chatID, text, fingerprint)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue outbox: %w", err)
	}
	return true, nil
}

// DrainPending returns undelivered, non-failed outbox rows ordered
// (sentOk=false, tsUtc ASC) as required for at-least-once, in-order delivery.
func (r *AlertRepository) DrainPending(limit int) ([]domain.OutboxRow, error) {
	rows, err := r.db.Query(`
		SELECT outbox_id, ts_utc, chat_id, text, fingerprint, sent_ok, sent_ts_utc, failed
		FROM outbox WHERE sent_ok = 0 AND failed = 0
		ORDER BY ts_utc ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("drain pending outbox: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxRow
	for rows.Next() {
		var o domain.OutboxRow
		var sentOk, failed int
		if err := rows.Scan(&o.OutboxID, &o.TsUtc, &o.ChatID, &o.Text, &o.Fingerprint, &sentOk, &o.SentTsUtc, &failed); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		o.SentOk = sentOk != 0
		o.Failed = failed != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkSent flips sentOk=true with sentTsUtc=now for a delivered message.
func (r *AlertRepository) MarkSent(outboxID int64, sentTsUtc int64) error {
	if _, err := r.db.Exec(`
		UPDATE outbox SET sent_ok = 1, sent_ts_utc = ? WHERE outbox_id = ?
	`, sentTsUtc, outboxID); err != nil {
		return fmt.Errorf("mark outbox %d sent: %w", outboxID, err)
	}
	return nil
}

// MarkFailed marks a message as permanently undeliverable.
func (r *AlertRepository) MarkFailed(outboxID int64) error {
	if _, err := r.db.Exec("UPDATE outbox SET failed = 1 WHERE outbox_id = ?", outboxID); err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", outboxID, err)
	}
	return nil
}

// CleanupResult reports how many rows a retention sweep removed (or would
// remove, under dryRun) from each table.
type CleanupResult struct {
	AlertHistoryRows int64
	OutboxRows       int64
}

// CleanupOlderThan deletes (or, under dryRun, counts) AlertHistory rows and
// delivered/failed Outbox rows older than cutoffUnix, for the
// /database/cleanup admin endpoint. Pending (undelivered, unfailed) outbox
// rows are never swept regardless of age.
func (r *AlertRepository) CleanupOlderThan(cutoffUnix int64, dryRun bool) (CleanupResult, error) {
	var result CleanupResult

	if err := countOrDelete(r.db, dryRun,
		"SELECT COUNT(*) FROM alert_history WHERE ts_utc < ?",
		"DELETE FROM alert_history WHERE ts_utc < ?",
		cutoffUnix, &result.AlertHistoryRows); err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup alert_history: %w", err)
	}

	if err := countOrDelete(r.db, dryRun,
		"SELECT COUNT(*) FROM outbox WHERE ts_utc < ? AND (sent_ok = 1 OR failed = 1)",
		"DELETE FROM outbox WHERE ts_utc < ? AND (sent_ok = 1 OR failed = 1)",
		cutoffUnix, &result.OutboxRows); err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup outbox: %w", err)
	}

	return result, nil
}

func countOrDelete(db *sql.DB, dryRun bool, countQuery, deleteQuery string, cutoff int64, out *int64) error {
	if dryRun {
		return db.QueryRow(countQuery, cutoff).Scan(out)
	}
	res, err := db.Exec(deleteQuery, cutoff)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	*out = n
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
