package rollout

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/pkg/types"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	records []RolloutRecord
	timeout []string
}

func (d *recordingDispatcher) DispatchRecord(sessionID, projectPath string, rec RolloutRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
}

func (d *recordingDispatcher) SessionTimedOut(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = append(d.timeout, sessionID)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

func writeLine(t *testing.T, f *os.File, rec RolloutRecord) {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	_, err = f.Write(append(data, '\n'))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
}

func TestWatcher_InspectFileDispatchesRecordsToBoundSession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-1.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	writeLine(t, f, RolloutRecord{Kind: "session_meta", Cwd: "/tmp/proj", Model: "reasoning-large"})
	writeLine(t, f, RolloutRecord{Kind: "event_msg", Role: "user", Content: "hello"})

	disp := &recordingDispatcher{}
	w, err := New(dir, types.ProviderReasoning, disp)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	w.inspectFile(path)
	w.BindSession(path, "sess-1")

	writeLine(t, f, RolloutRecord{Kind: "event_msg", Role: "assistant", Content: "hi there"})
	w.inspectFile(path)

	assert.Equal(t, 1, disp.count())
}

func TestWatcher_AgentEventGateSuppressesToolCallsAfterAssistantEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-2.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	disp := &recordingDispatcher{}
	w, err := New(dir, types.ProviderReasoning, disp)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	writeLine(t, f, RolloutRecord{Kind: "session_meta", Cwd: "/tmp/proj"})
	w.inspectFile(path)
	w.BindSession(path, "sess-1")

	writeLine(t, f, RolloutRecord{Kind: "event_msg", Role: "assistant", Content: "working"})
	writeLine(t, f, RolloutRecord{Kind: "event_msg", ToolName: "read_file"})
	w.inspectFile(path)

	assert.Equal(t, 1, disp.count())
}

func TestWatcher_PartialLineBufferedUntilNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-3.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	disp := &recordingDispatcher{}
	w, err := New(dir, types.ProviderReasoning, disp)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	data, err := json.Marshal(RolloutRecord{Kind: "session_meta", Cwd: "/tmp/proj"})
	require.NoError(t, err)
	_, err = f.Write(data[:len(data)-2])
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	w.inspectFile(path)
	w.BindSession(path, "sess-1")
	assert.Equal(t, 0, disp.count())

	_, err = f.Write(append(data[len(data)-2:], '\n'))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	w.inspectFile(path)
}

func TestWatcher_EagerInspectOnStartCatchesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-4.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	writeLine(t, f, RolloutRecord{Kind: "event_msg", Role: "user", Content: "hi"})
	f.Close()

	disp := &recordingDispatcher{}
	w, err := New(dir, types.ProviderShell, disp)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.BindSession(path, "sess-eager")

	time.Sleep(50 * time.Millisecond)
}

func TestLoadState_MissingFileReturnsEmptyMap(t *testing.T) {
	files, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSaveState_RoundTripsThroughLoadState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	disp := &recordingDispatcher{}
	w, err := New(dir, types.ProviderReasoning, disp)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	w.HydrateState(map[string]*FileState{
		"/tmp/rollout-x.jsonl": {Path: "/tmp/rollout-x.jsonl", Offset: 128, SessionID: "sess-9"},
	})
	require.NoError(t, w.SaveState(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.Contains(t, loaded, "/tmp/rollout-x.jsonl")
	assert.Equal(t, int64(128), loaded["/tmp/rollout-x.jsonl"].Offset)
	assert.Equal(t, "sess-9", loaded["/tmp/rollout-x.jsonl"].SessionID)
}
