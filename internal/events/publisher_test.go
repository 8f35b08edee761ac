package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/crisis-engine/internal/detection"
)

func TestPublisherPrefersOutbox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO notification_outbox").
		WithArgs(pgxmock.AnyArg(), "user-1", "notify-contact", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	queue := NewMemoryQueue(1)
	pub := NewPublisher(NewOutboxStore(mock), queue, nil)

	err = pub.Publish(context.Background(), NotificationJob{
		Type:     JobNotifyContact,
		UserRef:  "user-1",
		Severity: detection.SeverityHigh,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, queue.ch, "outbox path must not touch the queue directly")
}

func TestPublisherDirectQueueWhenNoOutbox(t *testing.T) {
	queue := NewMemoryQueue(1)
	pub := NewPublisher(nil, queue, nil)

	err := pub.Publish(context.Background(), NotificationJob{
		Type:     JobEmergencyDispatch,
		UserRef:  "user-2",
		Severity: detection.SeverityCritical,
		Override: true,
	})
	require.NoError(t, err)

	messages, err := queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var job NotificationJob
	require.NoError(t, json.Unmarshal([]byte(messages[0].Body), &job))
	assert.Equal(t, JobEmergencyDispatch, job.Type)
	assert.NotEqual(t, uuid.Nil, job.ID, "publish assigns an id")
	assert.False(t, job.CreatedAt.IsZero())
	assert.True(t, job.Override)
}

func TestPublisherDropsWithoutTransport(t *testing.T) {
	pub := NewPublisher(nil, nil, nil)
	err := pub.Publish(context.Background(), NotificationJob{Type: JobNotifyContact})
	assert.NoError(t, err, "missing transport degrades to a logged drop")
}
