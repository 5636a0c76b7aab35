package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

type noopPersister struct{}

func (noopPersister) Apply(op transition.PersistOp) {}

func newTestIngestor() (*Ingestor, *registry.Registry) {
	reg := registry.New(noopPersister{})
	return New(reg, nil, []string{"**/.shell-agent/sessions/**"}), reg
}

func TestHandleSessionStart_RegistersPendingPlaceholder(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindSessionStart, SessionID: "sess-1", Cwd: "/tmp/proj"})

	_, ok := reg.Get("sess-1")
	assert.False(t, ok, "SessionStart alone must not materialize a row")

	expired := reg.SweepPending()
	assert.NotContains(t, expired, "sess-1", "not yet expired")
}

func TestHandleSessionEnd_DiscardsUnmaterializedPending(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindSessionStart, SessionID: "sess-1", Cwd: "/tmp/proj"})
	h.process(Payload{Kind: KindSessionEnd, SessionID: "sess-1"})

	_, ok := reg.Get("sess-1")
	assert.False(t, ok)
}

func TestHandleStatusEvent_MaterializesOnFirstRealEvent(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindSessionStart, SessionID: "sess-1", Cwd: "/tmp/proj"})
	h.process(Payload{Kind: KindStatusEvent, SessionID: "sess-1", Cwd: "/tmp/proj", HookName: HookUserPromptSubmit})

	actor, ok := reg.Get("sess-1")
	require.True(t, ok, "a UserPromptSubmit status event must materialize the session")
	assert.Equal(t, types.WorkWorking, actor.GetSummary().WorkStatus)
}

func TestHandleStatusEvent_StopMovesToWaiting(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindStatusEvent, SessionID: "sess-1", Cwd: "/tmp/proj", HookName: HookUserPromptSubmit})
	h.process(Payload{Kind: KindStatusEvent, SessionID: "sess-1", Cwd: "/tmp/proj", HookName: HookStop})

	actor, ok := reg.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, types.WorkWaiting, actor.GetSummary().WorkStatus)
}

func TestHandleToolEvent_RecordsLastTool(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindToolEvent, SessionID: "sess-1", Cwd: "/tmp/proj", ToolName: "read_file"})

	actor, ok := reg.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, "read_file", actor.GetSession().LastTool)
}

func TestHandleSubagentEvent_TracksActiveSubagent(t *testing.T) {
	h, reg := newTestIngestor()
	h.process(Payload{Kind: KindSubagentEvent, SessionID: "sess-1", Cwd: "/tmp/proj", SubagentID: "sub-1", SubagentType: "reviewer"})

	actor, ok := reg.Get("sess-1")
	require.True(t, ok)
	full := actor.GetSession()
	assert.Equal(t, "sub-1", full.ActiveSubagentID)
	assert.Equal(t, "reviewer", full.ActiveSubagentType)
}

func TestIsShellAgentPayload_FiltersByTranscriptGlob(t *testing.T) {
	h, _ := newTestIngestor()
	assert.True(t, h.isShellAgentPayload(Payload{TranscriptPath: "/home/u/.shell-agent/sessions/abc.jsonl"}))
	assert.False(t, h.isShellAgentPayload(Payload{TranscriptPath: "/home/u/.reasoning-agent/projects/abc.jsonl"}))
}

func TestIsShellAgentPayload_FiltersByModelMarker(t *testing.T) {
	h, _ := newTestIngestor()
	assert.True(t, h.isShellAgentPayload(Payload{Model: "shell-agent-mini"}))
	assert.False(t, h.isShellAgentPayload(Payload{Model: "reasoning-large"}))
}

func TestResolveOwner_RoutesManagedThreadToOwner(t *testing.T) {
	h, reg := newTestIngestor()
	owner := reg.Create(types.Session{ID: "owner-1", Provider: types.ProviderReasoning, ProjectPath: "/tmp/proj"})
	reg.LinkAlias(types.ProviderReasoning, "sub-thread-1", owner.ID())

	h.process(Payload{Kind: KindToolEvent, SessionID: "sub-thread-1", Cwd: "/tmp/proj", ToolName: "write_file"})

	assert.Equal(t, "write_file", owner.GetSession().LastTool)
	_, ok := reg.Get("sub-thread-1")
	assert.False(t, ok, "a managed thread never gets its own row")
}

func TestMaterialize_PrunesStaleEmptyShellsInSameProject(t *testing.T) {
	h, reg := newTestIngestor()
	stale := reg.Create(types.Session{
		ID: "stale-1", Provider: types.ProviderReasoning, ProjectPath: "/tmp/proj",
		Status: types.StatusActive, WorkStatus: types.WorkWaiting,
		LastActivityAt: "2000-01-01T00:00:00Z",
	})

	h.process(Payload{Kind: KindStatusEvent, SessionID: "sess-new", Cwd: "/tmp/proj", HookName: HookUserPromptSubmit})

	assert.Equal(t, types.WorkEnded, stale.GetSummary().WorkStatus)
	_, ok := reg.Get("sess-new")
	assert.True(t, ok)
}

var _ = sessionactor.Persister(noopPersister{})
