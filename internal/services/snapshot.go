package services

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/repo"
)

// Snapshot is the preferences/location pair frozen into a queue entry.
type Snapshot struct {
	Preferences datatypes.JSON
	Location    datatypes.JSON
}

// SnapshotSource fetches the current snapshot of a user. db may be a
// transaction handle; implementations must read through it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, db *gorm.DB, userID string) (Snapshot, error)
}

// StoredSnapshots reads the user_preferences and user_locations rows.
// Users without saved preferences get domain.DefaultPreferences; users
// without a location get a JSON null.
type StoredSnapshots struct{}

// Snapshot implements SnapshotSource.
func (StoredSnapshots) Snapshot(ctx context.Context, db *gorm.DB, userID string) (Snapshot, error) {
	prefs, err := repo.GetPreferences(ctx, db, userID)
	if errors.Is(err, repo.ErrNotFound) {
		d := domain.DefaultPreferences(userID)
		prefs, err = &d, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	p, err := json.Marshal(prefs)
	if err != nil {
		return Snapshot{}, err
	}

	loc := datatypes.JSON("null")
	l, err := repo.GetLocation(ctx, db, userID)
	switch {
	case err == nil && len(l.Data) > 0:
		loc = l.Data
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return Snapshot{}, err
	}
	return Snapshot{Preferences: datatypes.JSON(p), Location: loc}, nil
}
