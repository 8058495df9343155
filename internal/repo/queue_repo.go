// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// matchmaking queue.
//
// Every function is keyed by user_id (the table's primary key) and consists of
// a single statement, so concurrent calls for the same user are serialized by
// the database: inserts are insert-if-absent through the primary key and
// deletes report their affected-row count, which callers treat as the only
// source of truth for "did I remove it".
//
// Expiry is a read-side concern: every lookup takes the caller's notion of
// "now" and ignores rows whose expires_at is not after it.
//
// Functions:
//
//   - InsertQueueEntry(ctx, db, entry) -> error
//     Inserts a row; ErrDuplicate when a row for the user already exists.
//
//   - PurgeExpiredQueueEntry(ctx, db, userID, now) -> (int64, error)
//     Removes the user's row only if it is expired.
//
//   - GetLiveQueueEntry(ctx, db, userID, now) -> (*domain.QueueEntry, error)
//     Returns the live row or ErrNotFound.
//
//   - DeleteLiveQueueEntry(ctx, db, userID, now) -> (int64, error)
//     Deletes the live row and returns the affected count (0 or 1).
//
//   - DeleteQueueEntry(ctx, db, userID) -> (int64, error)
//     Removes the user's row whatever its expiry (used before a re-enqueue).
//
//   - DeleteExpiredQueueEntries(ctx, db, now) -> (int64, error)
//     Bulk reclamation used by the expiry sweeper.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
)

// InsertQueueEntry persists e. If any row for e.UserID already exists (live
// or not yet purged) the primary key rejects the insert and ErrDuplicate is
// returned.
func InsertQueueEntry(ctx context.Context, db *gorm.DB, e *domain.QueueEntry) error {
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// PurgeExpiredQueueEntry deletes userID's entry if it expired at or before now.
// Live entries are left untouched.
func PurgeExpiredQueueEntry(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ? AND expires_at <= ?", userID, now).
		Delete(&domain.QueueEntry{})
	return res.RowsAffected, res.Error
}

// GetLiveQueueEntry returns userID's entry when it has not expired at now.
// Missing and expired rows both yield ErrNotFound.
func GetLiveQueueEntry(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteLiveQueueEntry removes userID's entry if it is still live at now and
// reports how many rows were removed.
func DeleteLiveQueueEntry(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Delete(&domain.QueueEntry{})
	return res.RowsAffected, res.Error
}

// DeleteQueueEntry removes userID's entry whether or not it is live.
func DeleteQueueEntry(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.QueueEntry{})
	return res.RowsAffected, res.Error
}

// DeleteExpiredQueueEntries removes every entry whose expires_at is at or
// before now and returns the number of rows reclaimed.
func DeleteExpiredQueueEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.QueueEntry{})
	return res.RowsAffected, res.Error
}
