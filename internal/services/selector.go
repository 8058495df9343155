package services

import (
	"context"
	"math/rand"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/repo"
)

// SessionSelector proposes open sessions for a joining guest, in the order
// they should be claimed. Proposals are only hints: the guest slot is taken
// by a conditional update, so a selector never has to guarantee that a
// candidate is still joinable.
type SessionSelector interface {
	Candidates(ctx context.Context, db *gorm.DB, guestID string, limit int) ([]domain.Session, error)
}

// OldestFirst proposes the longest-waiting hosts first.
type OldestFirst struct{}

// Candidates implements SessionSelector.
func (OldestFirst) Candidates(ctx context.Context, db *gorm.DB, guestID string, limit int) ([]domain.Session, error) {
	return repo.ListJoinableSessions(ctx, db, guestID, limit)
}

// Shuffled draws candidates from the Window oldest joinable sessions in
// random order, spreading concurrent joiners over several hosts.
type Shuffled struct {
	Window int
}

// Candidates implements SessionSelector.
func (s Shuffled) Candidates(ctx context.Context, db *gorm.DB, guestID string, limit int) ([]domain.Session, error) {
	window := s.Window
	if window < limit {
		window = limit
	}
	out, err := repo.ListJoinableSessions(ctx, db, guestID, window)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SelectorByName maps a configuration value to a selector. Unknown names
// fall back to OldestFirst.
func SelectorByName(name string, window int) SessionSelector {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "random", "shuffled":
		return Shuffled{Window: window}
	default:
		return OldestFirst{}
	}
}
