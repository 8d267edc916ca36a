package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the liveness state of a ChatSession. DESTROYED has no
// stored representation: a destroyed session is simply gone.
type SessionState string

const (
	StateActive              SessionState = "ACTIVE"
	StateVerificationPending SessionState = "VERIFICATION_PENDING"
	StateDestroyed           SessionState = "DESTROYED"
)

// ChatSession is a two-party conversation with its own liveness timer and
// consent flags.
type ChatSession struct {
	ID                   uuid.UUID  `json:"id"`
	User1ID              uuid.UUID  `json:"user1_id"`
	User2ID              uuid.UUID  `json:"user2_id"`
	User1Code            string     `json:"-"`
	User2Code            string     `json:"-"`
	LastVerifiedAt       time.Time  `json:"last_verification"`
	NextVerificationAt   time.Time  `json:"next_verification"`
	VerificationPending  bool       `json:"verification_pending"`
	VerificationDeadline *time.Time `json:"verification_deadline,omitempty"`
	User1WantsDelete     bool       `json:"user1_wants_delete"`
	User2WantsDelete     bool       `json:"user2_wants_delete"`
	CreatedAt            time.Time  `json:"created_at"`
}

// State returns ACTIVE or VERIFICATION_PENDING.
func (s ChatSession) State() SessionState {
	if s.VerificationPending {
		return StateVerificationPending
	}
	return StateActive
}

// IsParticipant reports whether userID is one of the two participants.
func (s ChatSession) IsParticipant(userID uuid.UUID) bool {
	return userID == s.User1ID || userID == s.User2ID
}

// Participants returns both user ids, user1 first.
func (s ChatSession) Participants() []uuid.UUID {
	return []uuid.UUID{s.User1ID, s.User2ID}
}

// PeerOf returns the other participant.
func (s ChatSession) PeerOf(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case s.User1ID:
		return s.User2ID, true
	case s.User2ID:
		return s.User1ID, true
	}
	return uuid.Nil, false
}

// PeerCode returns the code a caller must present to verify: the code
// stored for the other participant.
func (s ChatSession) PeerCode(userID uuid.UUID) (string, bool) {
	switch userID {
	case s.User1ID:
		return s.User2Code, true
	case s.User2ID:
		return s.User1Code, true
	}
	return "", false
}

// WantsDelete returns the consent flag of userID.
func (s ChatSession) WantsDelete(userID uuid.UUID) bool {
	switch userID {
	case s.User1ID:
		return s.User1WantsDelete
	case s.User2ID:
		return s.User2WantsDelete
	}
	return false
}

// BothWantDelete reports whether mutual consent for deletion exists.
func (s ChatSession) BothWantDelete() bool {
	return s.User1WantsDelete && s.User2WantsDelete
}

// DueAt derives the next verification time from the last verification, so a
// stale stored deadline or a changed interval never drifts the schedule.
func (s ChatSession) DueAt(interval time.Duration) time.Time {
	return s.LastVerifiedAt.Add(interval)
}

// DestroyAt is the moment a pending session is destroyed. The stored
// deadline is the one advertised to participants; it is never earlier than
// DueAt(interval)+grace.
func (s ChatSession) DestroyAt(interval, grace time.Duration) time.Time {
	floor := s.DueAt(interval).Add(grace)
	if s.VerificationDeadline != nil && s.VerificationDeadline.After(floor) {
		return *s.VerificationDeadline
	}
	return floor
}
