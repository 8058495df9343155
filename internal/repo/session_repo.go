// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// Sessions are never deleted. All state transitions are conditional updates
// whose WHERE clause restates the guard of the transition; the returned bool
// is true exactly when one row was affected. Callers must not replace that
// result with a prior SELECT.
//
// Functions:
//
//   - InsertSession(ctx, db, s) -> error
//   - GetSession(ctx, db, id) -> (*domain.Session, error)
//   - GetActiveSession(ctx, db, userID) -> (*domain.Session, error)
//   - ListJoinableSessions(ctx, db, guestID, limit) -> ([]domain.Session, error)
//   - ClaimGuestSlot(ctx, db, sessionID, guestID) -> (bool, error)
//   - CloseSession(ctx, db, sessionID, hostID, now) -> (bool, error)
//   - AbandonSession(ctx, db, sessionID, hostID, guestID, now) -> (bool, error)
//   - ClearGuest(ctx, db, sessionID, guestID) -> (bool, error)
//   - CountUserSessions / ListUserSessionsPage (history)
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
)

// InsertSession persists s. A violation of the open-session unique indexes
// (host already hosting or guesting an open session) returns ErrDuplicate.
func InsertSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSession fetches a session by id regardless of status.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSession returns the open session in which userID is host or guest,
// or ErrNotFound.
func GetActiveSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("status = ? AND (host_id = ? OR guest_id = ?)", domain.SessionOpen, userID, userID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListJoinableSessions returns up to limit open sessions with a vacant guest
// slot that guestID does not host, oldest first.
func ListJoinableSessions(ctx context.Context, db *gorm.DB, guestID string, limit int) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("status = ? AND guest_id IS NULL AND host_id <> ?", domain.SessionOpen, guestID).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimGuestSlot sets guest_id on sessionID if, at the moment of the write,
// the session is open, its guest slot is vacant and guestID is not its host.
// ErrDuplicate is returned when guestID already holds another open session.
func ClaimGuestSlot(ctx context.Context, db *gorm.DB, sessionID, guestID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ? AND guest_id IS NULL AND host_id <> ?", sessionID, domain.SessionOpen, guestID).
		Update("guest_id", guestID)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			// guestID became a participant of another open session.
			return false, ErrDuplicate
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CloseSession moves an open, guest-less session hosted by hostID to closed.
func CloseSession(ctx context.Context, db *gorm.DB, sessionID, hostID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ? AND host_id = ? AND guest_id IS NULL", sessionID, domain.SessionOpen, hostID).
		Updates(map[string]any{"status": domain.SessionClosed, "closed_at": now})
	return res.RowsAffected == 1, res.Error
}

// AbandonSession moves an open session hosted by hostID whose guest is still
// guestID to abandoned.
func AbandonSession(ctx context.Context, db *gorm.DB, sessionID, hostID, guestID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ? AND host_id = ? AND guest_id = ?", sessionID, domain.SessionOpen, hostID, guestID).
		Updates(map[string]any{"status": domain.SessionAbandoned, "closed_at": now})
	return res.RowsAffected == 1, res.Error
}

// ClearGuest vacates the guest slot of an open session currently held by guestID.
func ClearGuest(ctx context.Context, db *gorm.DB, sessionID, guestID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ? AND guest_id = ?", sessionID, domain.SessionOpen, guestID).
		Update("guest_id", gorm.Expr("NULL"))
	return res.RowsAffected == 1, res.Error
}

// CountUserSessions returns how many sessions (any status) userID hosted or joined.
func CountUserSessions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("host_id = ? OR guest_id = ?", userID, userID).
		Count(&total).Error
	return total, err
}

// ListUserSessionsPage returns a page of userID's sessions, newest first.
//
// A guest who left an open session is no longer recorded on it, so history
// only reflects the slot as it is stored now.
func ListUserSessionsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("host_id = ? OR guest_id = ?", userID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
