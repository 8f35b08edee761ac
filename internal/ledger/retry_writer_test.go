package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAppender struct {
	mu       sync.Mutex
	failures int
	entries  []Entry
}

func (a *flakyAppender) Append(_ context.Context, entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return errors.New("ledger down")
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *flakyAppender) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func TestRetryWriterPassThrough(t *testing.T) {
	inner := &flakyAppender{}
	writer := NewRetryWriter(inner, nil, nil)

	require.NoError(t, writer.Append(context.Background(), Entry{Action: ActionResourcesShown, SubjectRef: "user-1"}))
	assert.Equal(t, 1, inner.count())
	assert.Empty(t, writer.queue)
}

func TestRetryWriterQueuesFailure(t *testing.T) {
	inner := &flakyAppender{failures: 1}
	writer := NewRetryWriter(inner, nil, nil)

	require.NoError(t, writer.Append(context.Background(), Entry{Action: ActionConnected, SubjectRef: "user-1"}),
		"append never surfaces the failure to the caller")
	assert.Equal(t, 0, inner.count())
	assert.Len(t, writer.queue, 1)
}

func TestRetryWriterDrainRecovers(t *testing.T) {
	inner := &flakyAppender{failures: 1}
	writer := NewRetryWriter(inner, nil, nil)

	require.NoError(t, writer.Append(context.Background(), Entry{Action: ActionConnected, SubjectRef: "user-1"}))
	writer.drain(context.Background())

	assert.Equal(t, 1, inner.count())
	assert.Empty(t, writer.queue)
}

func TestRetryWriterDrainRetriesWithBackoff(t *testing.T) {
	// First attempt (in Append) and the first two drain attempts fail.
	inner := &flakyAppender{failures: 3}
	writer := NewRetryWriter(inner, nil, nil)

	require.NoError(t, writer.Append(context.Background(), Entry{Action: ActionConnected, SubjectRef: "user-1"}))

	start := time.Now()
	writer.drain(context.Background())
	assert.Equal(t, 1, inner.count())
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "backoff between attempts")
}

func TestRetryWriterDropsWhenQueueFull(t *testing.T) {
	inner := &flakyAppender{failures: 1000}
	writer := NewRetryWriter(inner, nil, nil)
	writer.queue = make(chan Entry, 1)

	require.NoError(t, writer.Append(context.Background(), Entry{SubjectRef: "a"}))
	require.NoError(t, writer.Append(context.Background(), Entry{SubjectRef: "b"}), "full queue drops instead of blocking")
	assert.Len(t, writer.queue, 1)
}
