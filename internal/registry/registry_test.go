package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

type noopPersister struct{}

func (noopPersister) Apply(op transition.PersistOp) {}

func TestCreate_AssignsIDAndRegistersActor(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	actor := r.Create(types.Session{ProjectPath: "/tmp/proj"})
	assert.NotEmpty(t, actor.ID())

	got, ok := r.Get(actor.ID())
	assert.True(t, ok)
	assert.Equal(t, actor, got)
}

func TestRemove_StopsActorAndClearsAlias(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	actor := r.Create(types.Session{ID: "sess-1", ProjectPath: "/tmp/proj"})
	r.LinkAlias(types.ProviderReasoning, "thread-1", actor.ID())

	r.Remove(actor.ID())

	_, ok := r.Get(actor.ID())
	assert.False(t, ok)
	_, ok = r.ResolveAlias(types.ProviderReasoning, "thread-1")
	assert.False(t, ok)
}

func TestLinkAlias_ResolvesBackToSessionID(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	r.LinkAlias(types.ProviderShell, "thread-abc", "sess-xyz")

	id, ok := r.ResolveAlias(types.ProviderShell, "thread-abc")
	require.True(t, ok)
	assert.Equal(t, "sess-xyz", id)

	_, ok = r.ResolveAlias(types.ProviderReasoning, "thread-abc")
	assert.False(t, ok, "alias is scoped per provider")
}

func TestPutPending_LinkAliasClearsPendingEntry(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	r.PutPending("sess-1", types.ProviderReasoning, "/tmp/proj")
	r.LinkAlias(types.ProviderReasoning, "thread-1", "sess-1")

	expired := r.SweepPending()
	assert.Empty(t, expired, "linking an alias should retire the pending placeholder")
}

func TestSweepPending_EvictsOnlyExpiredEntries(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	r.PutPending("fresh", types.ProviderReasoning, "/tmp/a")
	r.mu.Lock()
	r.pending["stale"] = &PendingSession{SessionID: "stale", CreatedAt: time.Now().Add(-PendingTTL * 2)}
	r.mu.Unlock()

	expired := r.SweepPending()
	assert.Equal(t, []string{"stale"}, expired)
}

func TestWithNamingGuard_RejectsConcurrentCall(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go r.WithNamingGuard("sess-1", func() {
		close(started)
		<-block
	})
	<-started

	ran := r.WithNamingGuard("sess-1", func() {})
	assert.False(t, ran, "a second naming call for the same session must be rejected while one is in flight")
	close(block)
}

func TestTouchProject_OrdersMostRecentFirst(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	r.TouchProject("/a")
	r.TouchProject("/b")
	r.TouchProject("/a")

	assert.Equal(t, []string{"/a", "/b"}, r.RecentProjects(10))
}

func TestPublishList_DeliversToSubscribers(t *testing.T) {
	r := New(noopPersister{})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.SubscribeList(ctx)
	require.NoError(t, err)

	r.Create(types.Session{ProjectPath: "/tmp/proj"})

	select {
	case msg := <-ch:
		require.NotNil(t, msg)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sessions_list frame after Create")
	}
}
