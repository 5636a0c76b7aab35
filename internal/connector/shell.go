package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

// TakeoverTimeout bounds a lazy takeover of a passive ShellAgent thread
// a 10s takeover/lazy spin-up timeout.
const TakeoverTimeout = 10 * time.Second

// ShellConnector drives one ShellAgent CLI subprocess for a direct session.
// It speaks the same NDJSON control protocol as ReasoningConnector; the two
// are kept as separate types because their CLI flags and default sandbox
// posture differ.
type ShellConnector struct {
	proc  *process
	actor *sessionactor.Actor
}

// SpawnShell starts a fresh ShellAgent CLI process.
func SpawnShell(ctx context.Context, bin, dir, model string, actor *sessionactor.Actor) (*ShellConnector, error) {
	return startShell(ctx, bin, dir, shellArgs(model, ""), actor)
}

// TakeoverShell attaches a connector to a session that was previously
// tracked passively via internal/rollout, handing it a live control channel
// for the first time, the takeover path.
func TakeoverShell(ctx context.Context, bin, dir, externalThreadID string, actor *sessionactor.Actor) (*ShellConnector, error) {
	return startShell(ctx, bin, dir, shellArgs("", externalThreadID), actor)
}

func shellArgs(model, resumeID string) []string {
	args := []string{"--output-format", "stream-json", "--input-format", "stream-json"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	return args
}

func startShell(ctx context.Context, bin, dir string, args []string, actor *sessionactor.Actor) (*ShellConnector, error) {
	sc := &ShellConnector{actor: actor}
	proc, err := startProcess(ctx, bin, args, dir, sc.onFrame)
	if err != nil {
		return nil, fmt.Errorf("spawn shell connector: %w", err)
	}
	sc.proc = proc
	return sc, nil
}

func (sc *ShellConnector) onFrame(frame inboundFrame) {
	if frame.Type == "control_request" && frame.Subtype == "can_use_tool" {
		sc.actor.ProcessEvent(transition.ApprovalRequested{
			RequestID: frame.RequestID,
			Type:      types.ApprovalExec,
		})
		return
	}
	dispatchFrame(sc.actor, frame)
}

func (sc *ShellConnector) SendMessage(ctx context.Context, content string, images []types.ImageRef) error {
	return sc.proc.sendUser(content)
}

func (sc *ShellConnector) Interrupt(ctx context.Context) error {
	_, err := sc.proc.sendControl(ctx, "interrupt", nil)
	return err
}

func (sc *ShellConnector) SetModel(ctx context.Context, model, effort string) error {
	payload, _ := json.Marshal(map[string]string{"model": model})
	_, err := sc.proc.sendControl(ctx, "set_model", func(f *outboundFrame) {
		f.Input = payload
	})
	return err
}

func (sc *ShellConnector) Approve(ctx context.Context, requestID, decision string) error {
	behavior := "deny"
	if types.IsApprovingDecision(decision) {
		behavior = "allow"
	}
	return sc.proc.writeFrame(outboundFrame{
		Type:      "control_response",
		RequestID: requestID,
		Subtype:   "success",
		Behavior:  behavior,
	})
}

func (sc *ShellConnector) AnswerQuestion(ctx context.Context, requestID, answer string) error {
	payload, _ := json.Marshal(map[string]string{"answer": answer})
	return sc.proc.writeFrame(outboundFrame{
		Type:      "control_response",
		RequestID: requestID,
		Subtype:   "success",
		Response:  payload,
	})
}

func (sc *ShellConnector) Close() error {
	return sc.proc.Close()
}

// TakeoverBackoff is the retry schedule bounding TakeoverTimeout overall.
func TakeoverBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 150 * time.Millisecond
	b.MaxElapsedTime = TakeoverTimeout
	return backoff.WithContext(b, ctx)
}
