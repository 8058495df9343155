package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/observability"
	"github.com/tbourn/spark-backend/internal/repo"
)

// DefaultSweepInterval is used when Sweeper.Interval is not positive.
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically deletes expired queue entries and idempotency
// records, then refreshes the queue and session gauges. Reads never depend
// on it having run.
type Sweeper struct {
	DB       *gorm.DB
	Interval time.Duration
	Now      func() time.Time
}

// NewSweeper returns a Sweeper running every interval.
func NewSweeper(db *gorm.DB, interval time.Duration) *Sweeper {
	return &Sweeper{DB: db, Interval: interval}
}

// SweepResult reports what one pass removed.
type SweepResult struct {
	QueueEntries int64
	Idempotency  int64
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Info().Dur("interval", interval).Msg("sweeper started")
	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-t.C:
		}
	}
}

// SweepOnce performs a single reclamation pass.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now().UTC()
	}

	var res SweepResult
	n, err := repo.DeleteExpiredQueueEntries(ctx, w.DB, now)
	if err != nil {
		return res, err
	}
	res.QueueEntries = n
	observability.SweepReclaimed.Add(float64(n))

	if res.Idempotency, err = repo.DeleteExpiredIdempotency(ctx, w.DB, now); err != nil {
		return res, err
	}
	if n > 0 || res.Idempotency > 0 {
		log.Info().Int64("queue_entries", n).Int64("idempotency", res.Idempotency).Msg("sweeper reclaimed expired rows")
	}

	w.refreshGauges(ctx, now)
	return res, nil
}

func (w *Sweeper) refreshGauges(ctx context.Context, now time.Time) {
	live, expired, err := repo.QueueStats(ctx, w.DB, now)
	if err != nil {
		log.Warn().Err(err).Msg("queue stats unavailable")
		return
	}
	observability.QueueDepth.WithLabelValues("live").Set(float64(live))
	observability.QueueDepth.WithLabelValues("expired").Set(float64(expired))

	counts, err := repo.SessionStatusCounts(ctx, w.DB)
	if err != nil {
		log.Warn().Err(err).Msg("session stats unavailable")
		return
	}
	for _, st := range []domain.SessionStatus{domain.SessionOpen, domain.SessionClosed, domain.SessionAbandoned} {
		observability.SessionsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
