// Package transition implements the pure state-transition core for a session:
// Transition(state, input, now) -> (state', effects). No IO, no locking, no
// goroutines — fully unit-testable, and the only place session business logic
// lives. internal/sessionactor is the sole caller: it owns the mailbox loop,
// executes the returned effects (persistence writes via internal/persistence,
// broadcasts to the actor's own subscribers), and discards nothing.
package transition

import (
	"github.com/robdel12/orbitdock/pkg/types"
)

// WorkPhase is the internal work-phase state machine that projects onto the
// wire-visible types.WorkStatus.
type WorkPhase int

const (
	PhaseIdle WorkPhase = iota
	PhaseWorking
	PhaseAwaitingApproval
	PhaseEnded
)

// State is the pure data snapshot a session's actor folds Inputs into.
type State struct {
	ID       string
	Revision int64
	Phase    WorkPhase

	// Populated only while Phase == PhaseAwaitingApproval.
	ApprovalRequestID string
	ApprovalType       types.ApprovalType
	ProposedAmendment  []string

	// Populated only while Phase == PhaseEnded.
	EndReason string

	Messages       []types.Message
	TokenUsage     types.TokenUsage
	CurrentDiff    string
	CurrentPlan    string
	CustomName     string
	ProjectPath    string
	LastActivityAt string
}

// WorkStatus projects the internal phase onto the wire enum.
func (s State) WorkStatus() types.WorkStatus {
	switch s.Phase {
	case PhaseWorking:
		return types.WorkWorking
	case PhaseAwaitingApproval:
		if s.ApprovalType == types.ApprovalQuestion {
			return types.WorkQuestion
		}
		return types.WorkPermission
	case PhaseEnded:
		return types.WorkEnded
	default:
		return types.WorkWaiting
	}
}

// Input is one variant per connector event. Implementations
// are value types in this package; switch on concrete type in Transition.
type Input interface{ isInput() }

type TurnStarted struct{}
type TurnCompleted struct{}
type TurnAborted struct{ Reason string }
type MessageCreated struct{ Message types.Message }
type MessageUpdated struct {
	MessageID  string
	Content    *string
	ToolOutput *string
	IsError    *bool
	DurationMs *int64
}
type ApprovalRequested struct {
	RequestID         string
	Type              types.ApprovalType
	Command           *string
	FilePath          *string
	Diff              *string
	Question          *string
	ProposedAmendment []string
}
type TokensUpdated struct{ Usage types.TokenUsage }
type DiffUpdated struct{ Diff string }
type PlanUpdated struct{ Plan string }
type ThreadNameUpdated struct{ Name string }
type SessionEnded struct{ Reason string }
type ContextCompacted struct{}
type UndoStarted struct{ Message *string }
type UndoCompleted struct {
	Success bool
	Message *string
}
type ThreadRolledBack struct{ NumTurns int }
type ErrorOccurred struct{ Text string }

func (TurnStarted) isInput()       {}
func (TurnCompleted) isInput()     {}
func (TurnAborted) isInput()       {}
func (MessageCreated) isInput()    {}
func (MessageUpdated) isInput()    {}
func (ApprovalRequested) isInput() {}
func (TokensUpdated) isInput()     {}
func (DiffUpdated) isInput()       {}
func (PlanUpdated) isInput()       {}
func (ThreadNameUpdated) isInput() {}
func (SessionEnded) isInput()      {}
func (ContextCompacted) isInput()  {}
func (UndoStarted) isInput()       {}
func (UndoCompleted) isInput()     {}
func (ThreadRolledBack) isInput()  {}
func (ErrorOccurred) isInput()     {}

// Effect describes IO the caller must execute: a durable write, a broadcast,
// or both, always in the order returned (persist before emit).
type Effect interface{ isEffect() }

// PersistEffect wraps a durable write for internal/persistence to apply.
type PersistEffect struct{ Op PersistOp }

// EmitEffect wraps a frame for internal/sessionactor to broadcast. Revision is
// left zero; the actor stamps it right before publishing.
type EmitEffect struct{ Message *types.ServerMessage }

func (PersistEffect) isEffect() {}
func (EmitEffect) isEffect()    {}

// PersistOp is one durable write a session's Transition call can request.
// internal/persistence type-switches on the concrete variant.
type PersistOp interface{ isPersistOp() }

type SessionUpdateOp struct {
	ID             string
	WorkStatus     *types.WorkStatus
	LastActivityAt *string
}
type SessionEndOp struct {
	ID     string
	Reason string
}
type MessageAppendOp struct {
	SessionID string
	Message   types.Message
}
type MessageUpdateOp struct {
	SessionID  string
	MessageID  string
	Content    *string
	ToolOutput *string
	DurationMs *int64
	IsError    *bool
}
type TokensUpdateOp struct {
	SessionID string
	Usage     types.TokenUsage
}
type TurnStateUpdateOp struct {
	SessionID string
	Diff      *string
	Plan      *string
}
type SetCustomNameOp struct {
	SessionID  string
	CustomName *string
}
type ApprovalRequestedOp struct {
	SessionID         string
	RequestID         string
	Type              types.ApprovalType
	ToolName          *string
	Command           *string
	FilePath          *string
	Cwd               *string
	ProposedAmendment []string
}

func (SessionUpdateOp) isPersistOp()      {}
func (SessionEndOp) isPersistOp()         {}
func (MessageAppendOp) isPersistOp()      {}
func (MessageUpdateOp) isPersistOp()      {}
func (TokensUpdateOp) isPersistOp()       {}
func (TurnStateUpdateOp) isPersistOp()    {}
func (SetCustomNameOp) isPersistOp()      {}
func (ApprovalRequestedOp) isPersistOp()  {}

func ptr[T any](v T) *T { return &v }

// waiting builds the SessionUpdate+SessionDelta effect pair shared by every
// transition that returns the turn to Waiting (TurnCompleted, TurnAborted,
// Error, UndoCompleted, ThreadRolledBack).
func waiting(sid, now string) []Effect {
	ws := types.WorkWaiting
	return []Effect{
		PersistEffect{Op: SessionUpdateOp{ID: sid, WorkStatus: &ws, LastActivityAt: &now}},
		EmitEffect{Message: &types.ServerMessage{
			Type:      types.MsgSessionSnapshot,
			SessionID: sid,
		}},
	}
}

// Transition folds one Input into State, returning the updated state and the
// ordered effects the caller must execute (persist, then emit).
func Transition(state State, input Input, now string) (State, []Effect) {
	if state.Phase == PhaseEnded {
		return state, nil
	}

	sid := state.ID
	var effects []Effect

	switch in := input.(type) {

	case TurnStarted:
		state.Phase = PhaseWorking
		state.LastActivityAt = now
		ws := types.WorkWorking
		effects = append(effects,
			PersistEffect{Op: SessionUpdateOp{ID: sid, WorkStatus: &ws, LastActivityAt: &now}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgSessionSnapshot, SessionID: sid}},
		)

	case TurnCompleted:
		if state.Phase == PhaseWorking {
			state.Phase = PhaseIdle
		}
		state.LastActivityAt = now
		effects = append(effects, waiting(sid, now)...)

	case TurnAborted:
		state.Phase = PhaseIdle
		state.LastActivityAt = now
		effects = append(effects, waiting(sid, now)...)

	case ErrorOccurred:
		_ = in
		state.Phase = PhaseIdle
		state.LastActivityAt = now
		effects = append(effects, waiting(sid, now)...)

	case MessageCreated:
		msg := in.Message
		msg.SessionID = sid

		isDup := false
		if msg.Type == types.MessageUser {
			start := len(state.Messages) - 5
			if start < 0 {
				start = 0
			}
			for _, m := range state.Messages[start:] {
				if m.Type == types.MessageUser && m.Content == msg.Content {
					isDup = true
					break
				}
			}
		}

		if !isDup {
			state.Messages = append(state.Messages, msg)
			state.LastActivityAt = now
			effects = append(effects,
				PersistEffect{Op: MessageAppendOp{SessionID: sid, Message: msg}},
				EmitEffect{Message: &types.ServerMessage{Type: types.MsgMessageAppended, SessionID: sid, Message: &msg}},
			)
		}

	case MessageUpdated:
		effects = append(effects,
			PersistEffect{Op: MessageUpdateOp{
				SessionID: sid, MessageID: in.MessageID, Content: in.Content,
				ToolOutput: in.ToolOutput, DurationMs: in.DurationMs, IsError: in.IsError,
			}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgMessageUpdated, SessionID: sid}},
		)

	case ApprovalRequested:
		state.Phase = PhaseAwaitingApproval
		state.ApprovalRequestID = in.RequestID
		state.ApprovalType = in.Type
		state.ProposedAmendment = in.ProposedAmendment
		state.LastActivityAt = now

		toolName := "Bash"
		switch in.Type {
		case types.ApprovalEdit:
			toolName = "Edit"
		case types.ApprovalQuestion:
			toolName = "Question"
		}

		approval := &types.PendingApproval{
			RequestID:         in.RequestID,
			Type:              in.Type,
			ProposedAmendment: in.ProposedAmendment,
		}
		if in.Command != nil {
			approval.Command = *in.Command
		}
		if in.FilePath != nil {
			approval.FilePath = *in.FilePath
		}
		if in.Diff != nil {
			approval.Diff = *in.Diff
		}
		if in.Question != nil {
			approval.Question = *in.Question
		}

		effects = append(effects,
			PersistEffect{Op: ApprovalRequestedOp{
				SessionID: sid, RequestID: in.RequestID, Type: in.Type, ToolName: &toolName,
				Command: in.Command, FilePath: in.FilePath, Cwd: ptr(state.ProjectPath),
				ProposedAmendment: in.ProposedAmendment,
			}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgApprovalRequested, SessionID: sid, Approval: approval}},
		)

	case TokensUpdated:
		state.TokenUsage = in.Usage
		effects = append(effects,
			PersistEffect{Op: TokensUpdateOp{SessionID: sid, Usage: in.Usage}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgTokensUpdated, SessionID: sid, Tokens: &in.Usage}},
		)

	case DiffUpdated:
		state.CurrentDiff = in.Diff
		effects = append(effects,
			PersistEffect{Op: TurnStateUpdateOp{SessionID: sid, Diff: ptr(in.Diff)}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgDiffUpdated, SessionID: sid, Diff: in.Diff}},
		)

	case PlanUpdated:
		state.CurrentPlan = in.Plan
		effects = append(effects,
			PersistEffect{Op: TurnStateUpdateOp{SessionID: sid, Plan: ptr(in.Plan)}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgPlanUpdated, SessionID: sid, Plan: in.Plan}},
		)

	case ThreadNameUpdated:
		state.CustomName = in.Name
		state.LastActivityAt = now
		effects = append(effects,
			PersistEffect{Op: SetCustomNameOp{SessionID: sid, CustomName: ptr(in.Name)}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgThreadNameUpdated, SessionID: sid, Name: in.Name}},
		)

	case SessionEnded:
		state.Phase = PhaseEnded
		state.EndReason = in.Reason
		state.LastActivityAt = now
		effects = append(effects,
			PersistEffect{Op: SessionEndOp{ID: sid, Reason: in.Reason}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgSessionEnded, SessionID: sid}},
		)

	case UndoStarted:
		state.Phase = PhaseWorking
		state.LastActivityAt = now
		ws := types.WorkWorking
		msg := ""
		if in.Message != nil {
			msg = *in.Message
		}
		effects = append(effects,
			PersistEffect{Op: SessionUpdateOp{ID: sid, WorkStatus: &ws, LastActivityAt: &now}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgSessionSnapshot, SessionID: sid}},
			EmitEffect{Message: &types.ServerMessage{Type: types.MsgStartupProgress, SessionID: sid, Progress: msg}},
		)

	case UndoCompleted:
		state.Phase = PhaseIdle
		state.LastActivityAt = now
		effects = append(effects, waiting(sid, now)...)
		effects = append(effects, EmitEffect{Message: &types.ServerMessage{Type: types.MsgSessionSnapshot, SessionID: sid}})

	case ThreadRolledBack:
		state.Phase = PhaseIdle
		state.LastActivityAt = now
		effects = append(effects, waiting(sid, now)...)
		effects = append(effects, EmitEffect{Message: &types.ServerMessage{Type: types.MsgSessionSnapshot, SessionID: sid}})

	case ContextCompacted:
		effects = append(effects, EmitEffect{Message: &types.ServerMessage{Type: types.MsgStartupProgress, SessionID: sid, Progress: "context_compacted"}})
	}

	return state, effects
}
