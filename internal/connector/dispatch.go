package connector

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

// sdkEvent is the subset of stdout-frame fields the dispatcher cares about,
// decoded lazily from inboundFrame.Payload: stream_event/assistant/result/
// tool_progress variants carry provider-specific shapes underneath a common
// envelope.
type sdkEvent struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolName   string `json:"tool_name"`
	ToolUseID  string `json:"tool_use_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error"`
	Diff       string `json:"diff"`
	Plan       string `json:"plan"`
	Usage      *types.TokenUsage `json:"usage"`
}

// dispatchFrame translates one decoded stdout frame into zero or more
// transition.Input deltas against actor. can_use_tool control requests are
// handled by the caller (reasoning.go/shell.go) before it gets here.
func dispatchFrame(actor actorSink, frame inboundFrame) {
	switch frame.Type {
	case "system":
		// Session/init bookkeeping frames carry no session-visible delta.
	case "assistant", "user":
		var ev sdkEvent
		if len(frame.Payload) > 0 {
			_ = json.Unmarshal(frame.Payload, &ev)
		}
		dispatchContentEvent(actor, frame.Type, ev)
	case "stream_event":
		var ev sdkEvent
		if len(frame.Payload) > 0 {
			_ = json.Unmarshal(frame.Payload, &ev)
		}
		if ev.ToolName != "" {
			dispatchToolEvent(actor, ev)
		}
	case "tool_progress":
		var ev sdkEvent
		if len(frame.Payload) > 0 {
			_ = json.Unmarshal(frame.Payload, &ev)
		}
		dispatchToolEvent(actor, ev)
	case "result":
		var ev sdkEvent
		if len(frame.Payload) > 0 {
			_ = json.Unmarshal(frame.Payload, &ev)
		}
		if ev.Usage != nil {
			actor.ProcessEvent(transition.TokensUpdated{Usage: *ev.Usage})
		}
		if ev.Diff != "" {
			actor.ProcessEvent(transition.DiffUpdated{Diff: ev.Diff})
		}
		actor.ProcessEvent(transition.TurnCompleted{})
	case "keep_alive", "auth_status":
		// No session-visible effect; these exist to keep stdin/stdout alive.
	default:
		log.Debug().Str("frame_type", frame.Type).Msg("connector: unhandled stdout frame")
	}
}

func dispatchContentEvent(actor actorSink, frameType string, ev sdkEvent) {
	if ev.Content == "" {
		return
	}
	msgType := types.MessageAssistant
	if frameType == "user" || ev.Role == "user" {
		msgType = types.MessageUser
	}
	actor.ProcessEvent(transition.MessageCreated{Message: types.Message{
		Type:      msgType,
		Content:   ev.Content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

func dispatchToolEvent(actor actorSink, ev sdkEvent) {
	if ev.ToolName == "" {
		return
	}
	actor.ProcessEvent(transition.MessageCreated{Message: types.Message{
		Type:       types.MessageTool,
		ToolName:   ev.ToolName,
		ToolOutput: ev.Output,
		IsError:    ev.IsError,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// actorSink is the narrow slice of sessionactor.Actor the dispatcher needs;
// defined locally so this file doesn't import sessionactor just for a type
// it already depends on transitively via reasoning.go/shell.go.
type actorSink interface {
	ProcessEvent(in transition.Input)
}
