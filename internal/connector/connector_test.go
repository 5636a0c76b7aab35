package connector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robdel12/orbitdock/internal/transition"
)

type recordingSink struct {
	inputs []transition.Input
}

func (r *recordingSink) ProcessEvent(in transition.Input) { r.inputs = append(r.inputs, in) }

func TestDispatchFrame_AssistantContentBecomesMessageCreated(t *testing.T) {
	sink := &recordingSink{}
	payload, _ := json.Marshal(sdkEvent{Role: "assistant", Content: "hello there"})

	dispatchFrame(sink, inboundFrame{Type: "assistant", Payload: payload})

	require.Len(t, sink.inputs, 1)
	msg, ok := sink.inputs[0].(transition.MessageCreated)
	require.True(t, ok)
	assert.Equal(t, "hello there", msg.Message.Content)
}

func TestDispatchFrame_ToolProgressBecomesToolMessage(t *testing.T) {
	sink := &recordingSink{}
	payload, _ := json.Marshal(sdkEvent{ToolName: "bash", Output: "ok", IsError: false})

	dispatchFrame(sink, inboundFrame{Type: "tool_progress", Payload: payload})

	require.Len(t, sink.inputs, 1)
	msg, ok := sink.inputs[0].(transition.MessageCreated)
	require.True(t, ok)
	assert.Equal(t, "bash", msg.Message.ToolName)
	assert.Equal(t, "ok", msg.Message.ToolOutput)
}

func TestDispatchFrame_ResultWithDiffEmitsDiffThenTurnCompleted(t *testing.T) {
	sink := &recordingSink{}
	payload, _ := json.Marshal(sdkEvent{Usage: nil, Diff: "diff --git a b"})

	dispatchFrame(sink, inboundFrame{Type: "result", Payload: payload})

	require.Len(t, sink.inputs, 2)
	diff, ok := sink.inputs[0].(transition.DiffUpdated)
	require.True(t, ok)
	assert.Equal(t, "diff --git a b", diff.Diff)
	_, ok = sink.inputs[1].(transition.TurnCompleted)
	assert.True(t, ok)
}

func TestDispatchFrame_KeepAliveIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	dispatchFrame(sink, inboundFrame{Type: "keep_alive"})
	assert.Empty(t, sink.inputs)
}

// echoScript is a tiny shell-driven NDJSON peer used to exercise process's
// stdio plumbing without a real collaborator CLI: every control_request it
// receives is answered with a matching control_response.
const echoScript = `while IFS= read -r line; do
  case "$line" in
    *control_request*)
      id=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
      printf '{"type":"control_response","subtype":"success","request_id":"%s"}\n' "$id"
      ;;
  esac
done
`

func TestProcess_SendControlRoundTripsThroughEchoScript(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := startProcess(ctx, "/bin/sh", []string{"-c", echoScript}, t.TempDir(), nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.sendControl(ctx, "interrupt", nil)
	assert.NoError(t, err)
}

func TestProcess_CloseTerminatesSubprocess(t *testing.T) {
	ctx := context.Background()
	p, err := startProcess(ctx, "/bin/sh", []string{"-c", "sleep 30"}, t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
}
