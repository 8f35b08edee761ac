package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/events"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, 6*time.Hour)
}

func TestRedisStoreAppendRecent(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	entry := WindowEntry{
		EventID:    uuid.New(),
		Source:     events.SourceChat,
		Severity:   detection.SeverityHigh,
		Confidence: 0.8,
		Excerpt:    "i want to die",
		TextHash:   "hash-1",
		ObservedAt: now,
	}
	require.NoError(t, store.Append(ctx, "user-1", entry))

	entries, err := store.Recent(ctx, "user-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.EventID, entries[0].EventID)
	assert.Equal(t, detection.SeverityHigh, entries[0].Severity)
	assert.True(t, entries[0].ObservedAt.Equal(now))
}

func TestRedisStoreRecentExcludesOlder(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	old := WindowEntry{EventID: uuid.New(), Source: events.SourceMood, Severity: detection.SeverityLow, TextHash: "a", ObservedAt: now.Add(-2 * time.Hour)}
	fresh := WindowEntry{EventID: uuid.New(), Source: events.SourceChat, Severity: detection.SeverityMedium, TextHash: "b", ObservedAt: now}
	require.NoError(t, store.Append(ctx, "user-1", old))
	require.NoError(t, store.Append(ctx, "user-1", fresh))

	entries, err := store.Recent(ctx, "user-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fresh.EventID, entries[0].EventID)
}

func TestRedisStoreTouchMovesScore(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	entry := WindowEntry{EventID: uuid.New(), Source: events.SourceChat, Severity: detection.SeverityHigh, TextHash: "h", ObservedAt: now.Add(-20 * time.Second)}
	require.NoError(t, store.Append(ctx, "user-1", entry))
	require.NoError(t, store.Touch(ctx, "user-1", entry, now))

	entries, err := store.Recent(ctx, "user-1", now.Add(-10*time.Second))
	require.NoError(t, err)
	require.Len(t, entries, 1, "touch must not duplicate the member")
	assert.Equal(t, entry.EventID, entries[0].EventID)
	assert.True(t, entries[0].ObservedAt.Equal(now))
}

func TestRedisStoreAppendPrunesExpired(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	stale := WindowEntry{EventID: uuid.New(), Source: events.SourceJournal, Severity: detection.SeverityMedium, TextHash: "s", ObservedAt: now.Add(-7 * time.Hour)}
	require.NoError(t, store.Append(ctx, "user-1", stale))
	fresh := WindowEntry{EventID: uuid.New(), Source: events.SourceChat, Severity: detection.SeverityLow, TextHash: "f", ObservedAt: now}
	require.NoError(t, store.Append(ctx, "user-1", fresh))

	entries, err := store.Recent(ctx, "user-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fresh.EventID, entries[0].EventID)
}

func TestRedisStoreUsersIsolated(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, "user-1", WindowEntry{EventID: uuid.New(), Source: events.SourceChat, Severity: detection.SeverityHigh, TextHash: "x", ObservedAt: now}))

	entries, err := store.Recent(ctx, "user-2", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
