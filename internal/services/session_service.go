// Package services – SessionService
//
// This file implements the session lifecycle state machine:
//
//	(none)          CreateSession(host)   -> open (guest empty), host dequeued
//	open, no guest  JoinSession(guest)    -> open (guest set), guest dequeued
//	open, no guest  LeaveSession(host)    -> closed
//	open, guest     LeaveSession(host)    -> abandoned, guest re-enqueued
//	open, guest     LeaveSession(guest)   -> open (guest cleared)
//
// Each operation runs in one transaction. Transitions are conditional
// updates whose affected-row count is the only source of truth; the partial
// unique indexes on open sessions back the "one open session per user" rule.
// Events are published after commit.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/events"
	"github.com/tbourn/spark-backend/internal/observability"
	"github.com/tbourn/spark-backend/internal/repo"
	"github.com/tbourn/spark-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultJoinCandidates is how many open sessions JoinSession tries to claim.
	DefaultJoinCandidates = 5

	// leaveAttempts bounds how often LeaveSession re-reads the row after a
	// conditional update lost against a concurrent change.
	leaveAttempts = 3

	// Idempotency scopes for replayable POSTs.
	ScopeCreateSession = "session.create"
	ScopeJoinSession   = "session.join"
)

// SessionService applies session transitions.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Queue owns queue entries; its TTL, snapshot source and clock are reused
	// for dequeues and re-enqueues performed by transitions.
	Queue *MatchmakingService
	// Selector proposes sessions for JoinSession. Nil means OldestFirst.
	Selector SessionSelector
	// JoinCandidates caps how many sessions one JoinSession attempts.
	JoinCandidates int
	// Events receives lifecycle notifications after commit. Nil disables them.
	Events events.Publisher
	// Retry bounds local retries of transient storage errors.
	Retry RetryPolicy
	// IdempotencyTTL is how long a replayable POST result is remembered.
	IdempotencyTTL time.Duration
}

// NewSessionService constructs a SessionService sharing q's storage and clock.
func NewSessionService(db *gorm.DB, q *MatchmakingService) *SessionService {
	return &SessionService{
		DB:             db,
		Queue:          q,
		Selector:       OldestFirst{},
		JoinCandidates: DefaultJoinCandidates,
		Events:         q.Events,
		Retry:          q.Retry,
		IdempotencyTTL: 24 * time.Hour,
	}
}

func (s *SessionService) now() time.Time { return s.Queue.now() }

func (s *SessionService) selector() SessionSelector {
	if s.Selector == nil {
		return OldestFirst{}
	}
	return s.Selector
}

// CreateSession opens a session hosted by hostID. The host must hold a live
// queue entry (ErrNotQueued) and must not be in an open session
// (ErrAlreadyInSession). The entry is consumed by the same transaction.
func (s *SessionService) CreateSession(ctx context.Context, hostID, modeID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "CreateSession",
		trace.WithAttributes(
			attribute.String("user.id", hostID),
			attribute.String("mode.id", modeID),
		),
	)
	defer span.End()

	var out *domain.Session
	err := s.Retry.Do(ctx, "create_session", func() error {
		now := s.now()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.GetLiveQueueEntry(ctx, tx, hostID, now); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ErrNotQueued
				}
				return err
			}
			if err := ensureNoActiveSession(ctx, tx, hostID); err != nil {
				return err
			}
			if _, err := takeEntry(ctx, tx, hostID, now); err != nil {
				return err
			}

			sess := &domain.Session{
				ID:        uuid.NewString(),
				Status:    domain.SessionOpen,
				HostID:    hostID,
				ModeID:    modeID,
				CreatedAt: now,
			}
			if err := repo.InsertSession(ctx, tx, sess); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return ErrAlreadyInSession
				}
				return err
			}
			out = sess
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		reject("create", err)
		return nil, err
	}

	observability.SessionTransitions.WithLabelValues("created").Inc()
	log.Debug().Str("session_id", out.ID).Str("host_id", hostID).Msg("session: created")
	publish(ctx, s.Events, events.New(events.SessionCreated, hostID, out.CreatedAt).WithSession(out.ID, ""))
	return out, nil
}

// JoinSession places guestID into the guest slot of an open session chosen
// by the selector. Guards are checked in order: live queue entry
// (ErrNotQueued), no open session (ErrAlreadyInSession), a claimable slot
// (ErrNoSessionAvailable). The slot is claimed with a compare-and-swap so a
// concurrent joiner can never overwrite it.
func (s *SessionService) JoinSession(ctx context.Context, guestID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "JoinSession",
		trace.WithAttributes(attribute.String("user.id", guestID)),
	)
	defer span.End()

	limit := s.JoinCandidates
	if limit <= 0 {
		limit = DefaultJoinCandidates
	}

	var out *domain.Session
	err := s.Retry.Do(ctx, "join_session", func() error {
		now := s.now()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.GetLiveQueueEntry(ctx, tx, guestID, now); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ErrNotQueued
				}
				return err
			}
			if err := ensureNoActiveSession(ctx, tx, guestID); err != nil {
				return err
			}

			candidates, err := s.selector().Candidates(ctx, tx, guestID, limit)
			if err != nil {
				return err
			}
			var claimed string
			for _, c := range candidates {
				ok, err := repo.ClaimGuestSlot(ctx, tx, c.ID, guestID)
				if errors.Is(err, repo.ErrDuplicate) {
					return ErrAlreadyInSession
				}
				if err != nil {
					return err
				}
				if ok {
					claimed = c.ID
					break
				}
				observability.JoinClaimConflicts.Inc()
			}
			if claimed == "" {
				return ErrNoSessionAvailable
			}

			// The entry may have been consumed concurrently; the claim is
			// rolled back with the transaction in that case.
			if _, err := takeEntry(ctx, tx, guestID, now); err != nil {
				return err
			}

			sess, err := repo.GetSession(ctx, tx, claimed)
			if err != nil {
				return err
			}
			out = sess
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		reject("join", err)
		return nil, err
	}

	observability.SessionTransitions.WithLabelValues("joined").Inc()
	log.Debug().Str("session_id", out.ID).Str("guest_id", guestID).Msg("session: joined")
	publish(ctx, s.Events, events.New(events.SessionJoined, guestID, s.now()).WithSession(out.ID, out.HostID))
	return out, nil
}

// leaveOutcome records which transition LeaveSession applied.
type leaveOutcome struct {
	transition string
	formerPeer string
	requeued   *domain.QueueEntry
}

// LeaveSession removes userID from their open session and returns the row
// as it is after the transition:
//
//   - host, no guest:   closed
//   - host, guest:      abandoned, guest re-enqueued in the same transaction
//   - guest:            still open, guest slot cleared
//
// ErrNotInSession is returned when userID has no open session.
func (s *SessionService) LeaveSession(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "LeaveSession",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var (
		out     *domain.Session
		outcome leaveOutcome
	)
	err := s.Retry.Do(ctx, "leave_session", func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sess, oc, err := s.leave(ctx, tx, userID)
			if err != nil {
				return err
			}
			out, outcome = sess, oc
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		reject("leave", err)
		return nil, err
	}

	observability.SessionTransitions.WithLabelValues(outcome.transition).Inc()
	log.Debug().Str("session_id", out.ID).Str("user_id", userID).Str("transition", outcome.transition).Msg("session: left")
	if outcome.requeued != nil {
		log.Debug().Str("user_id", outcome.formerPeer).Time("expires_at", outcome.requeued.ExpiresAt).Msg("queue: requeued after abandon")
	}

	at := s.now()
	switch outcome.transition {
	case "closed":
		publish(ctx, s.Events, events.New(events.SessionClosed, userID, at).WithSession(out.ID, ""))
	case "abandoned":
		publish(ctx, s.Events, events.New(events.SessionAbandoned, userID, at).WithSession(out.ID, outcome.formerPeer))
		publish(ctx, s.Events, events.New(events.QueueRequeued, outcome.formerPeer, at).WithSession(out.ID, userID))
	case "guest_left":
		publish(ctx, s.Events, events.New(events.SessionGuestLeft, userID, at).WithSession(out.ID, out.HostID))
	}
	return out, nil
}

// leave decides and applies one transition inside tx. When the conditional
// update affects no row the session changed after it was read, so the
// decision is taken again from a fresh read.
func (s *SessionService) leave(ctx context.Context, tx *gorm.DB, userID string) (*domain.Session, leaveOutcome, error) {
	for attempt := 0; attempt < leaveAttempts; attempt++ {
		now := s.now()
		sess, err := repo.GetActiveSession(ctx, tx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, leaveOutcome{}, ErrNotInSession
		}
		if err != nil {
			return nil, leaveOutcome{}, err
		}

		var (
			ok bool
			oc leaveOutcome
		)
		switch {
		case sess.HostID == userID && !sess.HasGuest():
			oc.transition = "closed"
			ok, err = repo.CloseSession(ctx, tx, sess.ID, userID, now)
		case sess.HostID == userID:
			guest := *sess.GuestID
			oc.transition, oc.formerPeer = "abandoned", guest
			ok, err = repo.AbandonSession(ctx, tx, sess.ID, userID, guest, now)
			if err == nil && ok {
				// Ordered after the abandonment update; both commit or neither.
				oc.requeued, err = s.Queue.requeue(ctx, tx, guest, now)
			}
		default:
			oc.transition, oc.formerPeer = "guest_left", sess.HostID
			ok, err = repo.ClearGuest(ctx, tx, sess.ID, userID)
		}
		if err != nil {
			return nil, leaveOutcome{}, err
		}
		if !ok {
			continue
		}

		after, err := repo.GetSession(ctx, tx, sess.ID)
		if err != nil {
			return nil, leaveOutcome{}, err
		}
		return after, oc, nil
	}
	return nil, leaveOutcome{}, errConcurrentUpdate
}

// GetActiveSession returns the open session in which userID is host or
// guest, or ErrSessionNotFound.
func (s *SessionService) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "GetActiveSession",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var out *domain.Session
	err := s.Retry.Do(ctx, "get_active_session", func() error {
		sess, err := repo.GetActiveSession(ctx, s.DB, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a page of every session userID hosted or currently guests,
// newest first. It applies defaults for invalid page/pageSize and returns
// the total count.
func (s *SessionService) History(ctx context.Context, userID string, page, pageSize int) ([]domain.Session, int64, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.ClampPage(page, pageSize)
	offset := utils.Offset(page, pageSize)

	var (
		items []domain.Session
		total int64
	)
	err := s.Retry.Do(ctx, "history", func() error {
		var err error
		total, err = repo.CountUserSessions(ctx, s.DB, userID)
		if err != nil || total == 0 {
			return err
		}
		items, err = repo.ListUserSessionsPage(ctx, s.DB, userID, offset, pageSize)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Session{}
	}
	return items, total, nil
}

// Replay returns the session produced by an earlier request carrying the same
// idempotency key in scope. ok is false when there is nothing to replay.
func (s *SessionService) Replay(ctx context.Context, userID, scope, key string) (*domain.Session, bool) {
	if key == "" {
		return nil, false
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, s.now())
	if err != nil {
		return nil, false
	}
	sess, err := repo.GetSession(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil, false
	}
	return sess, true
}

// Remember stores the outcome of a replayable request. Failures are logged;
// a lost record only means a retry is evaluated again.
func (s *SessionService) Remember(ctx context.Context, userID, scope, key, sessionID string, status int) {
	if key == "" {
		return
	}
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := repo.CreateIdempotency(ctx, s.DB, userID, scope, key, sessionID, status, ttl); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Warn().Err(err).Str("user_id", userID).Str("scope", scope).Msg("idempotency record not stored")
	}
}

// HasReplay reports whether a stored result exists for (userID, scope, key).
func (s *SessionService) HasReplay(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func ensureNoActiveSession(ctx context.Context, tx *gorm.DB, userID string) error {
	_, err := repo.GetActiveSession(ctx, tx, userID)
	switch {
	case err == nil:
		return ErrAlreadyInSession
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return err
	}
}

func reject(op string, err error) {
	observability.SessionRejections.WithLabelValues(op, resultLabel(err)).Inc()
}
