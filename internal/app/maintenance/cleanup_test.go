package maintenance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/cache"
	"github.com/parleychat/parley/internal/database/testutil"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/presence"
)

type staleSession struct {
	id    string
	alive bool
}

func (s *staleSession) ID() string       { return s.id }
func (s *staleSession) MemberID() string { return s.id }
func (s *staleSession) Alive() bool      { return s.alive }

func (s *staleSession) Deliver(context.Context, string, any) (json.RawMessage, error) {
	return nil, nil
}

func (s *staleSession) Push(string, any) error { return nil }

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	registry := presence.NewRegistry()
	registry.Register("dead", &staleSession{id: "conn-dead"})
	registry.Register("live", &staleSession{id: "conn-live", alive: true})

	// One expired and one fresh cache entry.
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "fresh", []byte("a"), time.Hour))
	expired := models.CacheEntry{Key: "expired", Value: []byte("b"), ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, db.Create(&expired).Error)

	cleaner := NewCleaner(registry, store, WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))))
	require.NoError(t, cleaner.RunOnce(ctx))

	assert.Equal(t, []string{"live"}, registry.ListOnline())

	_, ok, err := store.Get(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCleanerStartAndStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	registry := presence.NewRegistry()
	registry.Register("dead", &staleSession{id: "conn-dead"})

	cleaner := NewCleaner(registry, store, WithSweepSchedule("@every 10ms"), WithPurgeSchedule("@every 10ms"))
	require.NoError(t, cleaner.Start())
	defer func() { <-cleaner.Stop().Done() }()

	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
