package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/parleychat/parley/pkg/logger"
	"github.com/parleychat/parley/pkg/metrics"
)

// Session is a live transport attachment for one member. The gateway owns the
// concrete implementation; the registry and the delivery coordinator only see
// this surface.
type Session interface {
	// ID uniquely identifies the underlying connection, not the member.
	ID() string
	// MemberID identifies the member the session authenticated as.
	MemberID() string
	// Deliver sends an event and blocks until the peer acknowledges it or ctx
	// expires. The returned payload is the acknowledgment body.
	Deliver(ctx context.Context, event string, payload any) (json.RawMessage, error)
	// Push sends an event without waiting for an acknowledgment.
	Push(event string, payload any) error
	// Alive reports whether the underlying transport is still usable.
	Alive() bool
}

// Registry is the single source of truth for which members are online. It maps
// a member id to its one active session; registering a new session for a
// member silently replaces the previous one (last writer wins).
//
// Registry is safe for concurrent use. Reads taken while sessions connect and
// disconnect are snapshots: a member listed as online may be gone by the time
// a delivery is attempted, which the delivery layer reports as unreachable
// rather than treating as an error.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	log      *zap.Logger
}

// NewRegistry constructs an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		log:      logger.WithModule("presence"),
	}
}

// Register binds the session to the member id, replacing any prior session.
func (r *Registry) Register(memberID string, session Session) {
	if memberID == "" || session == nil {
		return
	}

	r.mu.Lock()
	prior := r.sessions[memberID]
	r.sessions[memberID] = session
	size := len(r.sessions)
	r.mu.Unlock()

	if prior != nil && prior.ID() != session.ID() {
		r.log.Debug("session replaced", zap.String("member_id", memberID))
	}
	metrics.OnlineMembers.Set(float64(size))
}

// Lookup resolves the live session for a member. The boolean is false when the
// member is offline; a nil session is never returned alongside true.
func (r *Registry) Lookup(memberID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[memberID]
	return session, ok
}

// ListOnline returns a sorted snapshot of member ids with an active session.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for memberID := range r.sessions {
		ids = append(ids, memberID)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Remove drops the member's session, if any.
func (r *Registry) Remove(memberID string) {
	r.mu.Lock()
	delete(r.sessions, memberID)
	size := len(r.sessions)
	r.mu.Unlock()

	metrics.OnlineMembers.Set(float64(size))
}

// RemoveBySession drops the registry entry bound to the supplied session and
// returns the member id it belonged to. A session that was already replaced by
// a newer one for the same member is left untouched. Linear in registry size,
// which is acceptable at chat-service scale.
func (r *Registry) RemoveBySession(session Session) (string, bool) {
	if session == nil {
		return "", false
	}

	r.mu.Lock()
	var memberID string
	found := false
	for id, candidate := range r.sessions {
		if candidate.ID() == session.ID() {
			memberID = id
			found = true
			break
		}
	}
	if found {
		delete(r.sessions, memberID)
	}
	size := len(r.sessions)
	r.mu.Unlock()

	if found {
		metrics.OnlineMembers.Set(float64(size))
	}
	return memberID, found
}

// Sweep evicts sessions whose transport is no longer alive and returns the
// member ids that were dropped. Run periodically by the maintenance cleaner;
// false negatives are tolerated until the next sweep.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	var evicted []string
	for memberID, session := range r.sessions {
		if !session.Alive() {
			delete(r.sessions, memberID)
			evicted = append(evicted, memberID)
		}
	}
	size := len(r.sessions)
	r.mu.Unlock()

	if len(evicted) > 0 {
		sort.Strings(evicted)
		r.log.Info("swept stale sessions", zap.Strings("member_ids", evicted))
		metrics.OnlineMembers.Set(float64(size))
	}
	return evicted
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
