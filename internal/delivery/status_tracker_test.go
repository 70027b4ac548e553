package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is a map-backed cache.Store for tests. TTLs are recorded but
// never enforced; expiry behaviour belongs to the store implementations.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string][]byte{}}
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func newTestTracker(t *testing.T) (*StatusTracker, *memoryStore) {
	t.Helper()

	store := newMemoryStore()
	tracker, err := NewStatusTracker(store, TrackerOptions{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return tracker, store
}

func TestStatusTrackerLifecycle(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Initialize(ctx, "msg-1", []string{"alice", "bob"}))

	pending, exists, err := tracker.Pending(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.ElementsMatch(t, []string{"alice", "bob"}, pending)

	require.NoError(t, tracker.MarkAcknowledged(ctx, "msg-1", "alice"))
	// Idempotent.
	require.NoError(t, tracker.MarkAcknowledged(ctx, "msg-1", "alice"))
	// Untracked recipients are ignored.
	require.NoError(t, tracker.MarkAcknowledged(ctx, "msg-1", "mallory"))

	pending, _, err = tracker.Pending(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, pending)

	require.NoError(t, tracker.Complete(ctx, "msg-1"))
	_, exists, err = tracker.Pending(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, store.entries)
}

func TestStatusTrackerSnapshot(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Initialize(ctx, "msg-1", []string{"alice", "bob"}))
	require.NoError(t, tracker.MarkAcknowledged(ctx, "msg-1", "alice"))

	snapshot, exists, err := tracker.Snapshot(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, map[string]bool{"alice": true, "bob": false}, snapshot)

	_, exists, err = tracker.Snapshot(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStatusTrackerInitializeNoRecipients(t *testing.T) {
	tracker, store := newTestTracker(t)

	require.NoError(t, tracker.Initialize(context.Background(), "msg-1", nil))
	assert.Empty(t, store.entries)
}

func TestStatusTrackerMarkOnMissingRecord(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// Acking after the record was finalized must not resurrect it.
	require.NoError(t, tracker.MarkAcknowledged(context.Background(), "gone", "alice"))
}

func TestStatusTrackerAwaitAllResolves(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Initialize(ctx, "msg-1", []string{"alice"}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = tracker.MarkAcknowledged(ctx, "msg-1", "alice")
	}()

	remaining, err := tracker.AwaitAllOrTimeout(ctx, "msg-1", []string{"alice"}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Empty(t, store.entries)
}

func TestStatusTrackerAwaitAllTimesOut(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Initialize(ctx, "msg-1", []string{"alice", "bob"}))
	require.NoError(t, tracker.MarkAcknowledged(ctx, "msg-1", "alice"))

	remaining, err := tracker.AwaitAllOrTimeout(ctx, "msg-1", []string{"alice", "bob"}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, remaining)
	// Record is deleted even on timeout.
	assert.Empty(t, store.entries)
}

func TestStatusTrackerAwaitAllCancelled(t *testing.T) {
	tracker, store := newTestTracker(t)

	require.NoError(t, tracker.Initialize(context.Background(), "msg-1", []string{"alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	remaining, err := tracker.AwaitAllOrTimeout(ctx, "msg-1", []string{"alice"}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"alice"}, remaining)
	// Cancellation cleans the record up just like completion and timeout.
	assert.Empty(t, store.entries)
}
