// Package escalation drives the per-session crisis response state machine.
package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/crisis-engine/internal/detection"
)

// State is the escalation lifecycle position for one session.
type State string

const (
	StateMonitoring State = "monitoring"
	StateAlerted    State = "alerted"
	StateEscalating State = "escalating"
	StateConnected  State = "connected"
	StateResolved   State = "resolved"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateResolved
}

func (s State) rank() int {
	switch s {
	case StateMonitoring:
		return 0
	case StateAlerted:
		return 1
	case StateEscalating:
		return 2
	case StateConnected:
		return 3
	case StateResolved:
		return 4
	}
	return -1
}

// Channel is how the person is talking to us.
type Channel string

const (
	ChannelText  Channel = "text"
	ChannelVoice Channel = "voice"
	ChannelVideo Channel = "video"
)

// Identity distinguishes signed-in users from anonymous sessions.
type Identity string

const (
	IdentityAnonymous  Identity = "anonymous"
	IdentityIdentified Identity = "identified"
)

// SessionKind tags the session with its channel and identity variant so
// escalation behavior can branch exhaustively instead of probing loose
// attributes.
type SessionKind struct {
	Channel  Channel  `json:"channel"`
	Identity Identity `json:"identity"`
}

func (k SessionKind) Valid() bool {
	switch k.Channel {
	case ChannelText, ChannelVoice, ChannelVideo:
	default:
		return false
	}
	switch k.Identity {
	case IdentityAnonymous, IdentityIdentified:
	default:
		return false
	}
	return true
}

// DefaultKind is assumed when the caller does not say otherwise.
func DefaultKind() SessionKind {
	return SessionKind{Channel: ChannelText, Identity: IdentityIdentified}
}

// Step is one recorded state-machine iteration.
type Step struct {
	At       time.Time          `json:"at"`
	Severity detection.Severity `json:"severity"`
	From     State              `json:"from"`
	To       State              `json:"to"`
	Actions  []string           `json:"actions,omitempty"`
}

// Session is the mutable per-session escalation record. All access goes
// through the orchestrator's per-session lock.
type Session struct {
	ID            string             `json:"id"`
	UserRef       string             `json:"userRef"`
	Kind          SessionKind        `json:"kind"`
	State         State              `json:"state"`
	Severity      detection.Severity `json:"severity"`
	Locked        bool               `json:"locked"`
	DispatchFired bool               `json:"dispatchFired,omitempty"`
	LineSessionID string             `json:"lineSessionId,omitempty"`
	EventID       uuid.UUID          `json:"eventId,omitempty"`
	StartedAt     time.Time          `json:"startedAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	History       []Step             `json:"history,omitempty"`
}

// Snapshot is an immutable copy handed to stream subscribers and admin reads.
type Snapshot struct {
	Session
}

func (s *Session) snapshot() Snapshot {
	copied := *s
	copied.History = append([]Step(nil), s.History...)
	return Snapshot{Session: copied}
}
