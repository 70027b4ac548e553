package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/cache"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/pkg/logger"
)

const (
	defaultSweepSpec = "@every 10s"
	defaultPurgeSpec = "@every 5m"
)

// Cleaner coordinates background maintenance: sweeping dead sessions out of
// the presence registry and purging expired acknowledgment records from the
// database-backed cache. Redis expires its own keys, so the purge job is only
// wired when the database store is in use.
type Cleaner struct {
	registry *presence.Registry
	store    *cache.DatabaseStore
	cron     *cron.Cron
	log      *zap.Logger

	sweepSchedule string
	purgeSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSweepSchedule overrides the cron specification for presence sweeps.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron specification for cache purges.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil store skips the purge job.
func NewCleaner(registry *presence.Registry, store *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		registry:      registry,
		store:         store,
		sweepSchedule: defaultSweepSpec,
		purgeSchedule: defaultPurgeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.registry != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			c.registry.Sweep()
		}); err != nil {
			return err
		}
	}

	if c.store != nil {
		if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := c.store.PurgeExpired(ctx); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.registry != nil {
		c.registry.Sweep()
	}

	if c.store != nil {
		if _, err := c.store.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
