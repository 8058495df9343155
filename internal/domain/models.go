// Package domain defines the persistence models for the matchmaking queue,
// sessions, and user preferences. These types are mapped with GORM and form
// the core data layer of the backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	// SessionOpen is the only non-terminal state. A session is open from
	// creation until its host leaves.
	SessionOpen SessionStatus = "open"
	// SessionClosed is reached when the host leaves a session without a guest.
	SessionClosed SessionStatus = "closed"
	// SessionAbandoned is reached when the host leaves while a guest is present.
	SessionAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionAbandoned
}

// QueueEntry represents a user waiting to be matched. The user id is the
// primary key, so the table holds at most one row per user.
//
// Fields:
//   - UserID: identifier of the waiting user (primary key).
//   - PreferencesSnapshot: preferences captured at enqueue time; never updated.
//   - LocationSnapshot: location captured at enqueue time; never updated.
//   - EnqueuedAt: time the entry was created.
//   - ExpiresAt: EnqueuedAt + queue TTL. Rows past this instant are treated as
//     absent by every read and removed by the sweeper.
type QueueEntry struct {
	UserID              string         `json:"user_id"              gorm:"type:varchar(64);primaryKey"`
	PreferencesSnapshot datatypes.JSON `json:"preferences_snapshot" swaggertype:"object"`
	LocationSnapshot    datatypes.JSON `json:"location_snapshot"    swaggertype:"object"`
	EnqueuedAt          time.Time      `json:"enqueued_at"          gorm:"not null"`
	ExpiresAt           time.Time      `json:"expires_at"           gorm:"not null;index:idx_queue_expires"`
}

// TableName returns the database table name for QueueEntry.
func (QueueEntry) TableName() string { return "matchmaking_queue" }

// Live reports whether the entry is still matchable at now.
func (q QueueEntry) Live(now time.Time) bool { return now.Before(q.ExpiresAt) }

// Session is a (potential) two-party pairing. Rows are never deleted; closed
// and abandoned sessions are retained as history.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Status: open, closed or abandoned (enforced by DB constraint).
//   - HostID: the user who created the session; never changes.
//   - GuestID: the user occupying the guest slot, nil when vacant.
//   - ModeID: opaque category chosen by the host.
//   - CreatedAt: creation timestamp.
//   - ClosedAt: set exactly when Status leaves open.
type Session struct {
	ID        string        `json:"id"                  gorm:"type:char(36);primaryKey"`
	Status    SessionStatus `json:"status"              gorm:"type:varchar(16);not null;index:idx_sessions_status_created,priority:1;check:status IN ('open','closed','abandoned')"`
	HostID    string        `json:"host_id"             gorm:"type:varchar(64);not null;index"`
	GuestID   *string       `json:"guest_id"            gorm:"type:varchar(64);index"`
	ModeID    string        `json:"mode_id"             gorm:"type:varchar(64);not null"`
	CreatedAt time.Time     `json:"created_at"          gorm:"not null;index:idx_sessions_status_created,priority:2"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// HasGuest reports whether the guest slot is occupied.
func (s Session) HasGuest() bool { return s.GuestID != nil && *s.GuestID != "" }

// IsParticipant reports whether userID is the host or the guest of s.
func (s Session) IsParticipant(userID string) bool {
	return s.HostID == userID || (s.GuestID != nil && *s.GuestID == userID)
}

// Preferences holds what a user is looking for. A copy of the row is frozen
// into every queue entry the user creates.
type Preferences struct {
	UserID       string         `json:"-"             gorm:"type:varchar(64);primaryKey"`
	TargetGender string         `json:"target_gender" gorm:"type:varchar(32);not null;default:'any'"`
	AgeMin       int            `json:"age_min"       gorm:"not null;default:18"`
	AgeMax       int            `json:"age_max"       gorm:"not null;default:70"`
	MaxDistance  int            `json:"max_distance"  gorm:"not null;default:50"`
	ExtraOptions datatypes.JSON `json:"extra_options,omitempty" swaggertype:"object"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Preferences.
func (Preferences) TableName() string { return "user_preferences" }

// DefaultPreferences returns the preferences used for users that never saved any.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:       userID,
		TargetGender: "any",
		AgeMin:       18,
		AgeMax:       70,
		MaxDistance:  50,
	}
}

// Location is the last known position a user shared. It is stored as an
// opaque JSON blob and only copied into queue entries.
type Location struct {
	UserID    string         `json:"-"         gorm:"type:varchar(64);primaryKey"`
	Data      datatypes.JSON `json:"location"  swaggertype:"object"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Location.
func (Location) TableName() string { return "user_locations" }
