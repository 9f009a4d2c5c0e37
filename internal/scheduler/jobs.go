// Package scheduler wraps robfig/cron to drive the four periodic tasks
// (anchor report, long checkpoint, hot interval, rolling cleanup) plus the
// one-off "backfill on add" job, using a job shape (type, priority, payload)
// generalized across this domain's job families.
package scheduler

import "github.com/google/uuid"

// JobType names a scheduled job family.
type JobType string

const (
	JobTypeBackfill       JobType = "backfill"
	JobTypeAnchorReport   JobType = "anchor_report"
	JobTypeLongCheckpoint JobType = "long_checkpoint"
	JobTypeHotInterval    JobType = "hot_interval"
	JobTypeRollingCleanup JobType = "rolling_cleanup"
)

// Priority ranks a job for logging/introspection purposes; the scheduler
// itself runs every registered cron entry at its own cadence regardless of
// priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// BackfillJob is the payload for a one-off "seed rolling window on add" job.
// ID correlates this job's log lines across Enqueue and run, since several
// backfills for different coins can be in flight through the same worker.
type BackfillJob struct {
	ID     string
	CoinID int64
	Chain  string
	Symbol string
}

// NewBackfillJob constructs a BackfillJob with a fresh correlation ID.
func NewBackfillJob(coinID int64, chain, symbol string) BackfillJob {
	return BackfillJob{ID: uuid.NewString(), CoinID: coinID, Chain: chain, Symbol: symbol}
}
