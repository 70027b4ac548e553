package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/parleychat/parley/internal/cache"
)

const statusKeyPrefix = "message_status:"

const (
	defaultStatusTTL    = time.Hour
	defaultPollInterval = time.Second
)

// TrackerOptions tunes acknowledgment record lifetimes.
type TrackerOptions struct {
	// TTL bounds how long an acknowledgment record may outlive its fan-out.
	// Records are deleted on completion; the TTL is the backstop for crashes
	// mid-delivery.
	TTL time.Duration
	// PollInterval paces AwaitAllOrTimeout's status checks.
	PollInterval time.Duration
}

// StatusTracker records which recipients have acknowledged a message. Records
// live in the cache store under one key per message and hold a recipient to
// acknowledged flag map, so a Redis-backed store keeps delivery state across
// server restarts while the database store serves single-node deployments.
type StatusTracker struct {
	store cache.Store
	opts  TrackerOptions

	// Serialises read-modify-write cycles on status records. Fan-out workers
	// for the same message ack concurrently.
	mu sync.Mutex
}

// NewStatusTracker constructs a StatusTracker on the supplied store.
func NewStatusTracker(store cache.Store, opts TrackerOptions) (*StatusTracker, error) {
	if store == nil {
		return nil, errors.New("status tracker: store is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultStatusTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &StatusTracker{store: store, opts: opts}, nil
}

// Initialize creates the acknowledgment record with every recipient pending.
// A message with no recipients gets no record.
func (t *StatusTracker) Initialize(ctx context.Context, messageID string, recipients []string) error {
	if messageID == "" {
		return errors.New("status tracker: message id is required")
	}
	if len(recipients) == 0 {
		return nil
	}

	record := make(map[string]bool, len(recipients))
	for _, recipient := range recipients {
		record[recipient] = false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx, messageID, record)
}

// MarkAcknowledged flips the recipient's flag. It is idempotent, and a record
// that has already been finalized or expired is a quiet no-op.
func (t *StatusTracker) MarkAcknowledged(ctx context.Context, messageID, memberID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok, err := t.readLocked(ctx, messageID)
	if err != nil || !ok {
		return err
	}

	acked, tracked := record[memberID]
	if !tracked || acked {
		return nil
	}

	record[memberID] = true
	return t.writeLocked(ctx, messageID, record)
}

// Snapshot returns the full recipient to acknowledged flag map for the
// message. The boolean reports whether a record exists at all.
func (t *StatusTracker) Snapshot(ctx context.Context, messageID string) (map[string]bool, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLocked(ctx, messageID)
}

// Pending returns the recipients still awaiting acknowledgment. The boolean
// reports whether a record exists at all.
func (t *StatusTracker) Pending(ctx context.Context, messageID string) ([]string, bool, error) {
	t.mu.Lock()
	record, ok, err := t.readLocked(ctx, messageID)
	t.mu.Unlock()
	if err != nil || !ok {
		return nil, ok, err
	}

	var pending []string
	for recipient, acked := range record {
		if !acked {
			pending = append(pending, recipient)
		}
	}
	return pending, true, nil
}

// Complete deletes the acknowledgment record.
func (t *StatusTracker) Complete(ctx context.Context, messageID string) error {
	return t.store.Delete(ctx, statusKeyPrefix+messageID)
}

// AwaitAllOrTimeout polls the record until every listed member has
// acknowledged, the timeout elapses or the context is cancelled, then deletes
// the record. It returns the members that never acknowledged. The fan-out path
// resolves acknowledgments through per-session channels; this wrapper serves
// callers that only hold a message id.
func (t *StatusTracker) AwaitAllOrTimeout(ctx context.Context, messageID string, members []string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		remaining, err := t.outstanding(ctx, messageID, members)
		if err != nil {
			return nil, err
		}
		if len(remaining) == 0 {
			return nil, t.Complete(ctx, messageID)
		}

		select {
		case <-ctx.Done():
			// The cancelled context cannot drive store calls, so the delete
			// runs on its own short deadline.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			err := t.Complete(cleanupCtx, messageID)
			cancel()
			return remaining, multierr.Append(ctx.Err(), err)
		case <-deadline.C:
			if err := t.Complete(ctx, messageID); err != nil {
				return remaining, err
			}
			return remaining, nil
		case <-ticker.C:
		}
	}
}

func (t *StatusTracker) outstanding(ctx context.Context, messageID string, members []string) ([]string, error) {
	t.mu.Lock()
	record, ok, err := t.readLocked(ctx, messageID)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var remaining []string
	for _, member := range members {
		if !ok || !record[member] {
			remaining = append(remaining, member)
		}
	}
	return remaining, nil
}

func (t *StatusTracker) readLocked(ctx context.Context, messageID string) (map[string]bool, bool, error) {
	raw, ok, err := t.store.Get(ctx, statusKeyPrefix+messageID)
	if err != nil || !ok {
		return nil, ok, err
	}

	var record map[string]bool
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("status tracker: decode record: %w", err)
	}
	return record, true, nil
}

func (t *StatusTracker) writeLocked(ctx context.Context, messageID string, record map[string]bool) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("status tracker: encode record: %w", err)
	}
	return t.store.Set(ctx, statusKeyPrefix+messageID, raw, t.opts.TTL)
}
