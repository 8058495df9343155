// Package services – MatchmakingService
//
// This file implements MatchmakingService, which owns the matchmaking queue:
// admitting a user with a frozen preferences/location snapshot, removing
// them, and answering whether they are still waiting.
//
// Every mutation is keyed by user_id, the queue table's primary key, so the
// database serializes concurrent calls for the same user. Expired rows are
// treated as absent by every read; the Sweeper only reclaims space.
//
// Observability: all public methods are OpenTelemetry-instrumented and count
// their outcome in observability.QueueOps.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/events"
	"github.com/tbourn/spark-backend/internal/observability"
	"github.com/tbourn/spark-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQueueTTL is how long an entry stays matchable when no TTL is configured.
const DefaultQueueTTL = 10 * time.Minute

// MatchmakingService manages queue entries.
type MatchmakingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// TTL is added to the enqueue time to compute expires_at.
	TTL time.Duration
	// Snapshots supplies preferences/location for EnqueueCurrent and re-enqueues.
	Snapshots SnapshotSource
	// Events receives lifecycle notifications after commit. Nil disables them.
	Events events.Publisher
	// Retry bounds local retries of transient storage errors.
	Retry RetryPolicy
	// Now returns the current time; tests replace it to move the clock.
	Now func() time.Time
}

// NewMatchmakingService constructs a MatchmakingService with default TTL,
// stored snapshots and retry policy.
func NewMatchmakingService(db *gorm.DB) *MatchmakingService {
	return &MatchmakingService{
		DB:        db,
		TTL:       DefaultQueueTTL,
		Snapshots: StoredSnapshots{},
		Retry:     DefaultRetryPolicy(),
	}
}

func (s *MatchmakingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MatchmakingService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultQueueTTL
}

// Enqueue admits userID with the given snapshot. It fails with
// ErrAlreadyQueued when a live entry exists; an expired leftover row is
// purged first so it never blocks a new entry.
func (s *MatchmakingService) Enqueue(ctx context.Context, userID string, preferences, location datatypes.JSON) (*domain.QueueEntry, error) {
	ctx, span := otel.Tracer("services/MatchmakingService").Start(ctx, "Enqueue",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var out *domain.QueueEntry
	err := s.Retry.Do(ctx, "enqueue", func() error {
		now := s.now()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := s.insertEntry(ctx, tx, userID, Snapshot{Preferences: preferences, Location: location}, now)
			if err != nil {
				return err
			}
			out = e
			return nil
		})
	})
	observability.QueueOps.WithLabelValues("enqueue", resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Debug().Str("user_id", userID).Time("expires_at", out.ExpiresAt).Msg("queue: enqueued")
	publish(ctx, s.Events, events.New(events.QueueEnqueued, userID, out.EnqueuedAt))
	return out, nil
}

// EnqueueCurrent admits userID with a snapshot of their stored preferences
// and location taken now.
func (s *MatchmakingService) EnqueueCurrent(ctx context.Context, userID string) (*domain.QueueEntry, error) {
	src := s.Snapshots
	if src == nil {
		src = StoredSnapshots{}
	}
	snap, err := src.Snapshot(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return s.Enqueue(ctx, userID, snap.Preferences, snap.Location)
}

// Dequeue removes and returns userID's live entry, or fails with ErrNotQueued.
// Of two concurrent calls exactly one succeeds.
func (s *MatchmakingService) Dequeue(ctx context.Context, userID string) (*domain.QueueEntry, error) {
	ctx, span := otel.Tracer("services/MatchmakingService").Start(ctx, "Dequeue",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var out *domain.QueueEntry
	err := s.Retry.Do(ctx, "dequeue", func() error {
		now := s.now()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := takeEntry(ctx, tx, userID, now)
			if err != nil {
				return err
			}
			out = e
			return nil
		})
	})
	observability.QueueOps.WithLabelValues("dequeue", resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	publish(ctx, s.Events, events.New(events.QueueDequeued, userID, s.now()))
	return out, nil
}

// Peek returns userID's live entry without modifying it.
func (s *MatchmakingService) Peek(ctx context.Context, userID string) (*domain.QueueEntry, error) {
	ctx, span := otel.Tracer("services/MatchmakingService").Start(ctx, "Peek",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var out *domain.QueueEntry
	err := s.Retry.Do(ctx, "peek", func() error {
		e, err := repo.GetLiveQueueEntry(ctx, s.DB, userID, s.now())
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotQueued
		}
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsQueued reports whether userID has a live entry. Expired rows count as absent.
func (s *MatchmakingService) IsQueued(ctx context.Context, userID string) (bool, error) {
	_, err := s.Peek(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotQueued):
		return false, nil
	default:
		return false, err
	}
}

// insertEntry purges an expired leftover and inserts a fresh entry inside tx.
func (s *MatchmakingService) insertEntry(ctx context.Context, tx *gorm.DB, userID string, snap Snapshot, now time.Time) (*domain.QueueEntry, error) {
	if _, err := repo.PurgeExpiredQueueEntry(ctx, tx, userID, now); err != nil {
		return nil, err
	}
	e := newEntry(userID, snap, now, s.ttl())
	if err := repo.InsertQueueEntry(ctx, tx, e); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	return e, nil
}

// requeue puts userID back in the queue with a freshly fetched snapshot and
// a fresh TTL, replacing any entry the user may still hold.
func (s *MatchmakingService) requeue(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*domain.QueueEntry, error) {
	src := s.Snapshots
	if src == nil {
		src = StoredSnapshots{}
	}
	snap, err := src.Snapshot(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := repo.DeleteQueueEntry(ctx, tx, userID); err != nil {
		return nil, err
	}
	e := newEntry(userID, snap, now, s.ttl())
	if err := repo.InsertQueueEntry(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// takeEntry reads and deletes userID's live entry inside tx. The delete's
// affected-row count decides the outcome.
func takeEntry(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*domain.QueueEntry, error) {
	e, err := repo.GetLiveQueueEntry(ctx, tx, userID, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotQueued
	}
	if err != nil {
		return nil, err
	}
	n, err := repo.DeleteLiveQueueEntry(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotQueued
	}
	return e, nil
}

func newEntry(userID string, snap Snapshot, now time.Time, ttl time.Duration) *domain.QueueEntry {
	prefs := snap.Preferences
	if len(prefs) == 0 {
		prefs = datatypes.JSON("null")
	}
	loc := snap.Location
	if len(loc) == 0 {
		loc = datatypes.JSON("null")
	}
	return &domain.QueueEntry{
		UserID:              userID,
		PreferencesSnapshot: prefs,
		LocationSnapshot:    loc,
		EnqueuedAt:          now,
		ExpiresAt:           now.Add(ttl),
	}
}

// publish delivers e after commit. Failures are logged and counted only.
func publish(ctx context.Context, p events.Publisher, e events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(context.WithoutCancel(ctx), e); err != nil {
		observability.EventPublishFailures.WithLabelValues(string(e.Type)).Inc()
		log.Warn().Err(err).Str("event", string(e.Type)).Str("user_id", e.UserID).Msg("event publish failed")
	}
}

// resultLabel maps an operation error to a bounded metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyQueued):
		return "already_queued"
	case errors.Is(err, ErrNotQueued):
		return "not_queued"
	case errors.Is(err, ErrAlreadyInSession):
		return "already_in_session"
	case errors.Is(err, ErrNotInSession):
		return "not_in_session"
	case errors.Is(err, ErrNoSessionAvailable):
		return "no_session_available"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
