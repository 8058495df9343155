// Package services – PreferencesService
//
// This file maintains the per-user preferences and location rows that
// Enqueue snapshots. Edits never reach a pending queue entry: the snapshot is
// frozen at enqueue time.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/repo"
)

// Accepted target_gender values after normalization.
var targetGenders = map[string]bool{"any": true, "men": true, "women": true, "nonbinary": true}

// PreferencesService validates and persists preferences and locations.
type PreferencesService struct {
	DB    *gorm.DB
	Retry RetryPolicy
}

// NewPreferencesService constructs a PreferencesService.
func NewPreferencesService(db *gorm.DB) *PreferencesService {
	return &PreferencesService{DB: db, Retry: DefaultRetryPolicy()}
}

// Get returns userID's preferences, or the defaults when none were saved.
func (s *PreferencesService) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	var out *domain.Preferences
	err := s.Retry.Do(ctx, "get_preferences", func() error {
		p, err := repo.GetPreferences(ctx, s.DB, userID)
		if errors.Is(err, repo.ErrNotFound) {
			d := domain.DefaultPreferences(userID)
			p, err = &d, nil
		}
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update validates p and stores it as userID's preferences.
func (s *PreferencesService) Update(ctx context.Context, userID string, p domain.Preferences) (*domain.Preferences, error) {
	p.UserID = userID
	p.TargetGender = normalizeGender(p.TargetGender)
	if err := ValidatePreferences(p); err != nil {
		return nil, err
	}
	if len(p.ExtraOptions) == 0 {
		p.ExtraOptions = nil
	}
	err := s.Retry.Do(ctx, "update_preferences", func() error {
		return repo.UpsertPreferences(ctx, s.DB, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetLocation stores raw as userID's location. raw must be a JSON object.
func (s *PreferencesService) SetLocation(ctx context.Context, userID string, raw json.RawMessage) (*domain.Location, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, ErrInvalidLocation
	}
	l := &domain.Location{UserID: userID, Data: datatypes.JSON(raw)}
	err := s.Retry.Do(ctx, "set_location", func() error {
		return repo.UpsertLocation(ctx, s.DB, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ValidatePreferences checks the ranges accepted for stored preferences.
func ValidatePreferences(p domain.Preferences) error {
	if !targetGenders[p.TargetGender] {
		return ErrInvalidGender
	}
	if p.AgeMin < 18 || p.AgeMax > 120 || p.AgeMin > p.AgeMax {
		return ErrInvalidAgeRange
	}
	if p.MaxDistance <= 0 {
		return ErrInvalidDistance
	}
	return nil
}

func normalizeGender(g string) string {
	// Casers are stateful; one per call.
	g = cases.Lower(language.Und).String(strings.TrimSpace(g))
	if g == "" {
		return "any"
	}
	return g
}
