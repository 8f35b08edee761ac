package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

// Contact is one person the user listed for crisis notifications.
type Contact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// ContactDirectory resolves a user's emergency contacts.
type ContactDirectory interface {
	Contacts(ctx context.Context, userRef string) ([]Contact, error)
}

// ConsentReader re-checks permission at delivery time.
type ConsentReader interface {
	GetConsent(ctx context.Context, userRef string) (ledger.ConsentRecord, error)
}

// Service delivers queued notification jobs. Consent is re-checked at
// delivery time so a revocation between enqueue and delivery suppresses the
// send; safety-override jobs skip the check.
type Service struct {
	directory ContactDirectory
	consent   ConsentReader
	sms       SMSSender
	email     EmailSender
	audit     ledger.Appender
	logger    *logging.Logger
}

func NewService(directory ContactDirectory, consent ConsentReader, sms SMSSender, email EmailSender, audit ledger.Appender, logger *logging.Logger) *Service {
	if directory == nil {
		panic("notify: contact directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		directory: directory,
		consent:   consent,
		sms:       sms,
		email:     email,
		audit:     audit,
		logger:    logger.Component("notify"),
	}
}

// Handle processes one job. An error means no contact could be reached and
// the job should be retried.
func (s *Service) Handle(ctx context.Context, job events.NotificationJob) error {
	if !job.Override && s.consent != nil {
		record, err := s.consent.GetConsent(ctx, job.UserRef)
		if err != nil {
			return fmt.Errorf("notify: consent check: %w", err)
		}
		if !record.DataSharing {
			s.logger.Info("delivery suppressed, consent not granted", "user_ref", job.UserRef, "job_id", job.ID)
			s.appendAudit(ctx, ledger.Entry{
				Actor:      "notify",
				Action:     ledger.ActionConsentDenied,
				SubjectRef: job.UserRef,
				Outcome:    "delivery suppressed, consent revoked or absent",
				Severity:   job.Severity,
			})
			return nil
		}
	}

	contacts, err := s.directory.Contacts(ctx, job.UserRef)
	if err != nil {
		return fmt.Errorf("notify: resolve contacts: %w", err)
	}
	if len(contacts) == 0 {
		s.logger.Warn("no emergency contacts on file", "user_ref", job.UserRef)
		return nil
	}

	message := job.Message
	if job.Type == events.JobEmergencyDispatch {
		message = "URGENT: " + message
	}

	var delivered int
	var errs []error
	for _, contact := range contacts {
		if err := s.deliver(ctx, contact, job, message); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("notify: all deliveries failed: %w", errors.Join(errs...))
	}
	s.appendAudit(ctx, ledger.Entry{
		Actor:      "notify",
		Action:     ledger.ActionContactNotified,
		SubjectRef: job.UserRef,
		Outcome:    fmt.Sprintf("delivered to %d of %d contacts", delivered, len(contacts)),
		Severity:   job.Severity,
	})
	return nil
}

// deliver prefers SMS and falls back to email for the same contact.
func (s *Service) deliver(ctx context.Context, contact Contact, job events.NotificationJob, message string) error {
	if contact.Phone != "" && s.sms != nil {
		err := s.sms.SendSMS(ctx, contact.Phone, message)
		if err == nil {
			return nil
		}
		s.logger.Warn("sms delivery failed", "error", err, "user_ref", job.UserRef)
	}
	if contact.Email != "" && s.email != nil {
		err := s.email.Send(ctx, EmailMessage{
			To:      contact.Email,
			ToName:  contact.Name,
			Subject: "Crisis alert for someone who trusts you",
			Body:    message,
		})
		if err == nil {
			return nil
		}
		s.logger.Warn("email delivery failed", "error", err, "user_ref", job.UserRef)
	}
	return fmt.Errorf("notify: contact %q unreachable", contact.Name)
}

func (s *Service) appendAudit(ctx context.Context, entry ledger.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed", "error", err, "action", entry.Action)
	}
}
