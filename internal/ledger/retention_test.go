package ledger

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/crisis-engine/internal/detection"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

type fakeEventPurger struct {
	calls []detection.Severity
}

func (f *fakeEventPurger) PurgeOlderThan(_ context.Context, severity detection.Severity, _ time.Time) (int64, error) {
	f.calls = append(f.calls, severity)
	return 2, nil
}

func TestPurgerCriticalFloorEnforced(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	purger := NewPurger(db, NewAuditLedger(db, nil), nil,
		Thresholds{detection.SeverityCritical: 24 * time.Hour}, nil, nil)

	assert.Equal(t, criticalRetentionFloor, purger.thresholds[detection.SeverityCritical],
		"configured value below the floor is raised")
}

func TestPurgeExpiredSweepsAndWritesSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec("DELETE FROM audit_events").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	events := &fakeEventPurger{}
	purger := NewPurger(db, NewAuditLedger(db, nil), events,
		Thresholds{detection.SeverityLow: 90 * 24 * time.Hour}, nil, nil)

	total, err := purger.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, events.calls, 2, "crisis events purged per class")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredArchivesBeforeDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "actor", "action", "subject_ref", "outcome", "severity", "flagged", "details", "created_at",
	}).AddRow("id-1", "orchestrator", string(ActionEmergencyDispatch), "user-1", "dispatched",
		string(detection.SeverityCritical), true, nil, now.AddDate(-8, 0, 0))

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := &fakeS3{}
	purger := NewPurger(db, NewAuditLedger(db, nil), nil,
		Thresholds{detection.SeverityCritical: criticalRetentionFloor}, nil, nil).
		WithArchive(store, "audit-archive")
	purger.now = func() time.Time { return now }

	total, err := purger.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, store.objects, 1)
	for key, data := range store.objects {
		assert.Contains(t, key, "audit/v1/purged/critical/")
		assert.Contains(t, string(data), "escalation.emergency_dispatch")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredSkipsClassWhenArchiveFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "actor", "action", "subject_ref", "outcome", "severity", "flagged", "details", "created_at",
	}).AddRow("id-1", "orchestrator", string(ActionResolved), "user-1", "resolved",
		string(detection.SeverityCritical), false, nil, time.Now().AddDate(-8, 0, 0))

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WillReturnRows(rows)

	store := &fakeS3{err: assert.AnError}
	purger := NewPurger(db, NewAuditLedger(db, nil), nil,
		Thresholds{detection.SeverityCritical: criticalRetentionFloor}, nil, nil).
		WithArchive(store, "audit-archive")

	total, err := purger.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total, "unarchived entries are kept, not purged")
	require.NoError(t, mock.ExpectationsWereMet())
}
