// Package events owns the durable CrisisEvent record and the async delivery
// plumbing (outbox + queue) that carries escalation side effects to the
// worker.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/crisis-engine/internal/detection"
)

// Source identifies the independent channel a signal arrived on.
type Source string

const (
	SourceJournal    Source = "journal"
	SourceMood       Source = "mood"
	SourceChat       Source = "chat"
	SourceAssessment Source = "assessment"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceJournal, SourceMood, SourceChat, SourceAssessment:
		return true
	}
	return false
}

// CrisisEvent is the durable unit tracked across a session. One event exists
// per (user, source, text) within the dedupe window; re-submissions refresh
// LastSeenAt instead of creating a second event.
type CrisisEvent struct {
	ID             uuid.UUID          `json:"id"`
	UserRef        string             `json:"userRef"`
	Source         Source             `json:"source"`
	Severity       detection.Severity `json:"severity"`
	Confidence     float64            `json:"confidence"`
	TextHash       string             `json:"textHash"`
	Excerpt        string             `json:"excerpt"`
	Resolved       bool               `json:"resolved"`
	ResponseTimeMs *int64             `json:"responseTimeMs,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	LastSeenAt     time.Time          `json:"lastSeenAt"`
}

// NotificationJobType distinguishes worker job payloads.
type NotificationJobType string

const (
	JobNotifyContact     NotificationJobType = "notify-contact"
	JobEmergencyDispatch NotificationJobType = "emergency-dispatch"
)

// NotificationJob is the payload carried over the queue to the escalation
// worker. Delivery is asynchronous: enqueue failures never block the
// user-facing response.
type NotificationJob struct {
	ID        uuid.UUID           `json:"id"`
	Type      NotificationJobType `json:"type"`
	UserRef   string              `json:"userRef"`
	SessionID string              `json:"sessionId"`
	Severity  detection.Severity  `json:"severity"`
	Override  bool                `json:"override,omitempty"`
	Message   string              `json:"message"`
	CreatedAt time.Time           `json:"createdAt"`
}
