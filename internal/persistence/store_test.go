package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "orbitdock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSeedSession(t *testing.T, s *Store, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`INSERT INTO sessions (id, provider, project_path, status, work_status, started_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, types.ProviderReasoning, "/tmp/proj", types.StatusActive, types.WorkWaiting, now, now)
	require.NoError(t, err)
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := openTestStore(t)
	var count int
	err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApply_MessageAppendPersistsAndBatchFlushes(t *testing.T) {
	s := openTestStore(t)
	mustSeedSession(t, s, "sess-1")

	s.Apply(transition.MessageAppendOp{
		SessionID: "sess-1",
		Message:   types.Message{Type: types.MessageUser, Content: "hello"},
	})

	require.Eventually(t, func() bool {
		msgs, err := s.loadMessages(context.Background(), "sess-1")
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRecordDecision_StampsApprovalHistory(t *testing.T) {
	s := openTestStore(t)
	mustSeedSession(t, s, "sess-1")

	s.Apply(transition.ApprovalRequestedOp{SessionID: "sess-1", RequestID: "req-1", Type: types.ApprovalExec})
	require.Eventually(t, func() bool {
		rows, err := s.ApprovalHistory(context.Background(), "sess-1")
		return err == nil && len(rows) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.RecordDecision(context.Background(), "sess-1", "req-1", "Approved"))

	rows, err := s.ApprovalHistory(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "approved", rows[0].Decision)
}

func TestAppConfig_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfig(ctx, "rollout_cursor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "rollout_cursor", "42"))
	v, ok, err := s.GetConfig(ctx, "rollout_cursor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestLoadActiveSessions_ReturnsOnlyActive(t *testing.T) {
	s := openTestStore(t)
	mustSeedSession(t, s, "sess-active")
	_, err := s.db.Exec(`UPDATE sessions SET status=? WHERE id='sess-active'`, types.StatusActive)
	require.NoError(t, err)

	sessions, err := s.LoadActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-active", sessions[0].ID)
}

func TestComputeUnifiedDiff_NoChangeIsEmpty(t *testing.T) {
	assert.Empty(t, ComputeUnifiedDiff("a.go", "same", "same"))
	assert.NotEmpty(t, ComputeUnifiedDiff("a.go", "before", "after"))
}
