package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/storage"
)

// backfillQueueCapacity bounds the buffered channel; a coin add that can't
// fit is logged and dropped rather than blocking the caller, since the coin
// still warms up naturally without backfill.
const backfillQueueCapacity = 64

// BackfillQueue carries the "backfill on add" one-off job for a newly
// registered coin. No historical source is wired in this build, so a job
// seeds no samples and the coin waits out the normal warm-up window. A
// buffered channel plus one worker goroutine, rather than a full priority
// queue, since this job family has exactly one shape and no retry/priority
// semantics of its own.
type BackfillQueue struct {
	rolling *storage.RollingWindowStore
	log     zerolog.Logger

	jobs chan BackfillJob
	done chan struct{}
}

func newBackfillQueue(rolling *storage.RollingWindowStore, log zerolog.Logger) *BackfillQueue {
	return &BackfillQueue{
		rolling: rolling,
		log:     log.With().Str("component", "backfill-queue").Logger(),
		jobs:    make(chan BackfillJob, backfillQueueCapacity),
		done:    make(chan struct{}),
	}
}

func (q *BackfillQueue) start() {
	go q.loop()
}

func (q *BackfillQueue) stop() {
	close(q.jobs)
	<-q.done
}

// Enqueue schedules a backfill job. If the queue is full the job is dropped
// and logged; the coin falls back to warming up naturally.
func (q *BackfillQueue) Enqueue(job BackfillJob) {
	select {
	case q.jobs <- job:
	default:
		q.log.Warn().Str("job_id", job.ID).Int64("coin_id", job.CoinID).Msg("backfill queue full, coin will warm up naturally")
	}
}

func (q *BackfillQueue) loop() {
	defer close(q.done)
	for job := range q.jobs {
		if err := q.run(job); err != nil {
			q.log.Error().Err(err).Int64("coin_id", job.CoinID).Msg("backfill job failed")
		}
	}
}

// run logs the job and returns without appending any sample:
// MarketDataClient exposes no historical-candle endpoint in this
// build, so there is no synthetic data to fabricate a price/volume sample
// from, and fabricating one risks poisoning the h72 high/low aggregates with
// a fictitious value. The coin simply enters warm-up naturally from its
// first live snapshot.
func (q *BackfillQueue) run(job BackfillJob) error {
	q.log.Debug().Str("job_id", job.ID).Int64("coin_id", job.CoinID).Str("symbol", job.Symbol).
		Msg("no historical source wired, coin entering warm-up naturally")
	return nil
}
