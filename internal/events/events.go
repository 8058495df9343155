// Package events publishes queue and session lifecycle notifications to an
// external broker. Publishing happens after the owning transaction commits
// and is best effort: a failed publish never undoes a state transition.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle notification.
type Type string

// Event types emitted by the services.
const (
	QueueEnqueued    Type = "queue.enqueued"
	QueueDequeued    Type = "queue.dequeued"
	QueueRequeued    Type = "queue.requeued"
	SessionCreated   Type = "session.created"
	SessionJoined    Type = "session.joined"
	SessionClosed    Type = "session.closed"
	SessionAbandoned Type = "session.abandoned"
	SessionGuestLeft Type = "session.guest_left"
)

// Event is the JSON envelope put on the wire.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id,omitempty"`
	PeerID     string    `json:"peer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New returns an event of type t about userID stamped with a fresh id.
func New(t Type, userID string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, UserID: userID, OccurredAt: at.UTC()}
}

// WithSession returns a copy of e that references a session and, optionally,
// the other participant.
func (e Event) WithSession(sessionID, peerID string) Event {
	e.SessionID = sessionID
	e.PeerID = peerID
	return e
}

// Encode serializes e as JSON.
func Encode(e Event) ([]byte, error) { return json.Marshal(e) }

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no backend is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Recorder keeps published events in memory. Tests use it to assert which
// notifications a transition produced.
type Recorder struct {
	ch chan Event
}

// NewRecorder returns a Recorder buffering up to n events.
func NewRecorder(n int) *Recorder { return &Recorder{ch: make(chan Event, n)} }

// Publish implements Publisher. Events beyond the buffer are dropped.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
