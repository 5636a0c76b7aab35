package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

// EnvReasoningArgs lets an operator pass extra flags to the reasoning CLI
// without a config schema change, mirroring EnvReasoningBin in internal/config.
const EnvReasoningArgs = "ORBITDOCK_REASONING_ARGS"

// ReasoningConnector drives one ReasoningAgent CLI subprocess for a direct
// session, translating its NDJSON stdout into transition.Input deltas and its
// can_use_tool permission prompts into ApprovalRequested deltas.
type ReasoningConnector struct {
	proc  *process
	actor *sessionactor.Actor
}

// SpawnReasoning starts a fresh ReasoningAgent CLI process for a brand new
// session: no --resume flag.
func SpawnReasoning(ctx context.Context, bin, dir, model, effort string, actor *sessionactor.Actor) (*ReasoningConnector, error) {
	args := reasoningArgs(model, effort, "")
	return startReasoning(ctx, bin, dir, args, actor)
}

// ResumeReasoning reattaches to an existing thread via its external thread ID.
// The caller enforces the resume timeout via ctx.
func ResumeReasoning(ctx context.Context, bin, dir, externalThreadID string, actor *sessionactor.Actor) (*ReasoningConnector, error) {
	args := reasoningArgs("", "", externalThreadID)
	return startReasoning(ctx, bin, dir, args, actor)
}

func reasoningArgs(model, effort, resumeID string) []string {
	args := []string{"--output-format", "stream-json", "--input-format", "stream-json"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if effort != "" {
		args = append(args, "--reasoning-effort", effort)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	if extra := os.Getenv(EnvReasoningArgs); extra != "" {
		args = append(args, extra)
	}
	return args
}

func startReasoning(ctx context.Context, bin, dir string, args []string, actor *sessionactor.Actor) (*ReasoningConnector, error) {
	rc := &ReasoningConnector{actor: actor}
	proc, err := startProcess(ctx, bin, args, dir, rc.onFrame)
	if err != nil {
		return nil, fmt.Errorf("spawn reasoning connector: %w", err)
	}
	rc.proc = proc
	return rc, nil
}

func (rc *ReasoningConnector) onFrame(frame inboundFrame) {
	if frame.Type == "control_request" && frame.Subtype == "can_use_tool" {
		rc.handlePermissionPrompt(frame)
		return
	}
	dispatchFrame(rc.actor, frame)
}

// handlePermissionPrompt surfaces a can_use_tool control request as an
// ApprovalRequested delta; the actual allow/deny reply is sent later from
// Approve, once the client responds to an approve_tool command.
func (rc *ReasoningConnector) handlePermissionPrompt(frame inboundFrame) {
	rc.actor.ProcessEvent(transition.ApprovalRequested{
		RequestID: frame.RequestID,
		Type:      types.ApprovalExec,
	})
}

func (rc *ReasoningConnector) SendMessage(ctx context.Context, content string, images []types.ImageRef) error {
	return rc.proc.sendUser(content)
}

func (rc *ReasoningConnector) Interrupt(ctx context.Context) error {
	_, err := rc.proc.sendControl(ctx, "interrupt", nil)
	return err
}

func (rc *ReasoningConnector) SetModel(ctx context.Context, model, effort string) error {
	payload, _ := json.Marshal(map[string]string{"model": model, "effort": effort})
	_, err := rc.proc.sendControl(ctx, "set_model", func(f *outboundFrame) {
		f.Input = payload
	})
	return err
}

func (rc *ReasoningConnector) Approve(ctx context.Context, requestID, decision string) error {
	behavior := "deny"
	if types.IsApprovingDecision(decision) {
		behavior = "allow"
	}
	return rc.proc.writeFrame(outboundFrame{
		Type:      "control_response",
		RequestID: requestID,
		Subtype:   "success",
		Behavior:  behavior,
	})
}

func (rc *ReasoningConnector) AnswerQuestion(ctx context.Context, requestID, answer string) error {
	payload, _ := json.Marshal(map[string]string{"answer": answer})
	return rc.proc.writeFrame(outboundFrame{
		Type:      "control_response",
		RequestID: requestID,
		Subtype:   "success",
		Response:  payload,
	})
}

func (rc *ReasoningConnector) Close() error {
	return rc.proc.Close()
}

// ResumeTimeout bounds a full resume attempt, retries included.
const ResumeTimeout = 15 * time.Second

// ResumeBackoff is the retry schedule for a lazy reasoning spin-up: short
// exponential backoff capped at ResumeTimeout total elapsed time.
func ResumeBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = ResumeTimeout
	return backoff.WithContext(b, ctx)
}
