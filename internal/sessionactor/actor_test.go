package sessionactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

type fakePersister struct {
	ops []transition.PersistOp
}

func (f *fakePersister) Apply(op transition.PersistOp) { f.ops = append(f.ops, op) }

func newTestActor() (*Actor, *fakePersister) {
	p := &fakePersister{}
	sess := types.Session{ID: "sess-1", ProjectPath: "/tmp/proj", Status: types.StatusActive}
	return New(sess, p), p
}

func TestNew_PublishesInitialSnapshot(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	snap := a.GetSummary()
	assert.Equal(t, "sess-1", snap.ID)
	assert.Equal(t, int64(0), snap.Revision)
}

func TestApplyDelta_PersistsAndBumpsRevision(t *testing.T) {
	a, p := newTestActor()
	defer a.Stop()

	a.ApplyDelta(transition.TurnStarted{})

	assert.Equal(t, types.WorkWorking, a.GetSummary().WorkStatus)
	assert.Equal(t, int64(1), a.GetSummary().Revision)
	require.Len(t, p.ops, 1)
	_, ok := p.ops[0].(transition.SessionUpdateOp)
	assert.True(t, ok)
}

func TestAddMessageAndBroadcast_AppendsMessage(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	a.AddMessageAndBroadcast(types.Message{Type: types.MessageUser, Content: "hello"})

	assert.Equal(t, 1, a.GetMessageCount())
	sess := a.GetSession()
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "hello", sess.Messages[0].Content)
}

func TestEndLocally_EndsSessionOnceAndIgnoresFurtherDeltas(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	a.EndLocally("daemon_restart")
	assert.Equal(t, types.WorkEnded, a.GetSummary().WorkStatus)
	revAfterEnd := a.GetSummary().Revision

	a.ApplyDelta(transition.TurnStarted{})
	assert.Equal(t, revAfterEnd, a.GetSummary().Revision, "ended session must ignore further inputs")
}

func TestSubscribe_ReplaysBufferedEventsSinceRevision(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	a.AddMessageAndBroadcast(types.Message{Type: types.MessageUser, Content: "one"})
	a.AddMessageAndBroadcast(types.Message{Type: types.MessageUser, Content: "two"})

	replay, gap, ch, subID := a.Subscribe(1)
	defer a.Unsubscribe(subID)

	assert.False(t, gap)
	require.Len(t, replay, 1)
	assert.Equal(t, types.MsgMessageAppended, replay[0].Type)

	a.AddMessageAndBroadcast(types.Message{Type: types.MessageUser, Content: "three"})
	select {
	case msg := <-ch:
		assert.Equal(t, types.MsgMessageAppended, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a live broadcast after subscribing")
	}
}

func TestSubscribe_ZeroRevisionNeverReportsGap(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	replay, gap, _, subID := a.Subscribe(0)
	defer a.Unsubscribe(subID)

	assert.False(t, gap)
	assert.Empty(t, replay)
}

func TestTakeHandle_RejectsSecondHandle(t *testing.T) {
	a, _ := newTestActor()
	defer a.Stop()

	require.NoError(t, a.TakeHandle(&stubHandle{}))
	assert.Error(t, a.TakeHandle(&stubHandle{}))

	a.ReleaseHandle()
	assert.Nil(t, a.Connector())
}

type stubHandle struct{}

func (stubHandle) SendMessage(ctx context.Context, content string, images []types.ImageRef) error {
	return nil
}
func (stubHandle) Interrupt(ctx context.Context) error                        { return nil }
func (stubHandle) SetModel(ctx context.Context, model, effort string) error   { return nil }
func (stubHandle) Approve(ctx context.Context, requestID, decision string) error { return nil }
func (stubHandle) AnswerQuestion(ctx context.Context, requestID, answer string) error {
	return nil
}
func (stubHandle) Close() error { return nil }
