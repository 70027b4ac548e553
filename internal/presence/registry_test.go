package presence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id       string
	memberID string
	alive    bool
}

func (f *fakeSession) ID() string       { return f.id }
func (f *fakeSession) MemberID() string { return f.memberID }
func (f *fakeSession) Alive() bool      { return f.alive }

func (f *fakeSession) Deliver(_ context.Context, _ string, _ any) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeSession) Push(_ string, _ any) error { return nil }

func newFakeSession(id, memberID string) *fakeSession {
	return &fakeSession{id: id, memberID: memberID, alive: true}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	session := newFakeSession("conn-1", "member-1")

	registry.Register("member-1", session)

	got, ok := registry.Lookup("member-1")
	require.True(t, ok)
	assert.Equal(t, "conn-1", got.ID())

	_, ok = registry.Lookup("member-2")
	assert.False(t, ok)
}

func TestRegistryLastWriterWins(t *testing.T) {
	registry := NewRegistry()
	first := newFakeSession("conn-1", "member-1")
	second := newFakeSession("conn-2", "member-1")

	registry.Register("member-1", first)
	registry.Register("member-1", second)

	got, ok := registry.Lookup("member-1")
	require.True(t, ok)
	assert.Equal(t, "conn-2", got.ID())
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryIgnoresEmptyRegistration(t *testing.T) {
	registry := NewRegistry()

	registry.Register("", newFakeSession("conn-1", ""))
	registry.Register("member-1", nil)

	assert.Equal(t, 0, registry.Count())
}

func TestRegistryListOnlineSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register("charlie", newFakeSession("conn-3", "charlie"))
	registry.Register("alice", newFakeSession("conn-1", "alice"))
	registry.Register("bob", newFakeSession("conn-2", "bob"))

	assert.Equal(t, []string{"alice", "bob", "charlie"}, registry.ListOnline())
}

func TestRegistryRemove(t *testing.T) {
	registry := NewRegistry()
	registry.Register("member-1", newFakeSession("conn-1", "member-1"))

	registry.Remove("member-1")

	_, ok := registry.Lookup("member-1")
	assert.False(t, ok)

	// Removing an absent member is a no-op.
	registry.Remove("member-1")
	assert.Equal(t, 0, registry.Count())
}

func TestRegistryRemoveBySession(t *testing.T) {
	registry := NewRegistry()
	session := newFakeSession("conn-1", "member-1")
	registry.Register("member-1", session)

	memberID, ok := registry.RemoveBySession(session)
	require.True(t, ok)
	assert.Equal(t, "member-1", memberID)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistryRemoveBySessionSkipsReplaced(t *testing.T) {
	registry := NewRegistry()
	stale := newFakeSession("conn-1", "member-1")
	fresh := newFakeSession("conn-2", "member-1")

	registry.Register("member-1", stale)
	registry.Register("member-1", fresh)

	// The stale connection closing must not evict the fresh session.
	_, ok := registry.RemoveBySession(stale)
	assert.False(t, ok)

	got, ok := registry.Lookup("member-1")
	require.True(t, ok)
	assert.Equal(t, "conn-2", got.ID())
}

func TestRegistrySweepEvictsDeadSessions(t *testing.T) {
	registry := NewRegistry()
	alive := newFakeSession("conn-1", "alice")
	dead := newFakeSession("conn-2", "bob")
	dead.alive = false

	registry.Register("alice", alive)
	registry.Register("bob", dead)

	evicted := registry.Sweep()
	assert.Equal(t, []string{"bob"}, evicted)
	assert.Equal(t, []string{"alice"}, registry.ListOnline())

	// A second sweep with nothing stale returns nothing.
	assert.Empty(t, registry.Sweep())
}
