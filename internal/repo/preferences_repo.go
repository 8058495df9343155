// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the per-user
// preferences and location rows that queue snapshots are taken from.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/spark-backend/internal/domain"
)

// GetPreferences returns the stored preferences of userID or ErrNotFound.
func GetPreferences(ctx context.Context, db *gorm.DB, userID string) (*domain.Preferences, error) {
	var p domain.Preferences
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPreferences inserts p or overwrites every column of the existing row.
func UpsertPreferences(ctx context.Context, db *gorm.DB, p *domain.Preferences) error {
	p.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(p).Error
}

// GetLocation returns the stored location of userID or ErrNotFound.
func GetLocation(ctx context.Context, db *gorm.DB, userID string) (*domain.Location, error) {
	var l domain.Location
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertLocation inserts l or replaces the stored location blob.
func UpsertLocation(ctx context.Context, db *gorm.DB, l *domain.Location) error {
	l.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(l).Error
}
