// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used to feed
// operational gauges (queue depth, sessions by status). Each function is
// context-aware and safe to call from services or background jobs.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
)

// QueueStats returns the number of live and expired-but-unswept queue rows
// as of now.
//
// Return values:
//   - live:    rows with expires_at > now
//   - expired: rows with expires_at <= now still physically present
//   - err:     database error, if any
func QueueStats(ctx context.Context, db *gorm.DB, now time.Time) (live, expired int64, err error) {
	q := db.WithContext(ctx).Model(&domain.QueueEntry{})

	if err = q.Where("expires_at > ?", now).Count(&live).Error; err != nil {
		return 0, 0, err
	}
	if err = db.WithContext(ctx).Model(&domain.QueueEntry{}).Where("expires_at <= ?", now).Count(&expired).Error; err != nil {
		return 0, 0, err
	}
	return live, expired, nil
}

// SessionStatusCounts returns the number of sessions per status. Statuses with
// no rows are reported as zero so gauges reset correctly.
func SessionStatusCounts(ctx context.Context, db *gorm.DB) (map[domain.SessionStatus]int64, error) {
	var rows []struct {
		Status domain.SessionStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := map[domain.SessionStatus]int64{
		domain.SessionOpen:      0,
		domain.SessionClosed:    0,
		domain.SessionAbandoned: 0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
