package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentry/internal/domain"
)

// ScheduleConfigRepository persists the singleton ScheduleConfig row.
type ScheduleConfigRepository struct {
	db *sql.DB
}

// NewScheduleConfigRepository constructs a ScheduleConfigRepository.
func NewScheduleConfigRepository(db *sql.DB) *ScheduleConfigRepository {
	return &ScheduleConfigRepository{db: db}
}

// Get returns the singleton ScheduleConfig, seeding the standard defaults on
// first read if the row does not yet exist.
func (r *ScheduleConfigRepository) Get() (domain.ScheduleConfig, error) {
	row := r.db.QueryRow(`
		SELECT anchor_times_local, anchor_period_hours, long_checkpoint_hours, hot_interval_minutes,
			cooldown_hours, global_retrace_on, global_stall_on, global_breakout_on, global_mcap_on
		FROM schedule_config WHERE id = 1
	`)

	var cfg domain.ScheduleConfig
	var anchorTimesJSON string
	var retraceOn, stallOn, breakoutOn, mcapOn int

	err := row.Scan(&anchorTimesJSON, &cfg.AnchorPeriodHours, &cfg.LongCheckpointHours, &cfg.HotIntervalMinutes,
		&cfg.CooldownHours, &retraceOn, &stallOn, &breakoutOn, &mcapOn)
	if err == sql.ErrNoRows {
		def := domain.DefaultScheduleConfig()
		if err := r.Set(def); err != nil {
			return domain.ScheduleConfig{}, err
		}
		return def, nil
	}
	if err != nil {
		return domain.ScheduleConfig{}, fmt.Errorf("get schedule config: %w", err)
	}

	if err := json.Unmarshal([]byte(anchorTimesJSON), &cfg.AnchorTimesLocal); err != nil {
		return domain.ScheduleConfig{}, fmt.Errorf("unmarshal anchor times: %w", err)
	}
	cfg.GlobalRetraceOn = retraceOn != 0
	cfg.GlobalStallOn = stallOn != 0
	cfg.GlobalBreakoutOn = breakoutOn != 0
	cfg.GlobalMcapOn = mcapOn != 0

	return cfg, nil
}

// Set upserts the singleton ScheduleConfig row.
func (r *ScheduleConfigRepository) Set(cfg domain.ScheduleConfig) error {
	anchorTimesJSON, err := json.Marshal(cfg.AnchorTimesLocal)
	if err != nil {
		return fmt.Errorf("marshal anchor times: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO schedule_config (
			id, anchor_times_local, anchor_period_hours, long_checkpoint_hours, hot_interval_minutes,
			cooldown_hours, global_retrace_on, global_stall_on, global_breakout_on, global_mcap_on
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			anchor_times_local = excluded.anchor_times_local,
			anchor_period_hours = excluded.anchor_period_hours,
			long_checkpoint_hours = excluded.long_checkpoint_hours,
			hot_interval_minutes = excluded.hot_interval_minutes,
			cooldown_hours = excluded.cooldown_hours,
			global_retrace_on = excluded.global_retrace_on,
			global_stall_on = excluded.global_stall_on,
			global_breakout_on = excluded.global_breakout_on,
			global_mcap_on = excluded.global_mcap_on
	`, string(anchorTimesJSON), cfg.AnchorPeriodHours, cfg.LongCheckpointHours, cfg.HotIntervalMinutes,
		cfg.CooldownHours, boolToInt(cfg.GlobalRetraceOn), boolToInt(cfg.GlobalStallOn),
		boolToInt(cfg.GlobalBreakoutOn), boolToInt(cfg.GlobalMcapOn))
	if err != nil {
		return fmt.Errorf("set schedule config: %w", err)
	}
	return nil
}
