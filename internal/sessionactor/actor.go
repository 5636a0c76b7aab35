// Package sessionactor runs one goroutine per live session:
// every mutation is folded through internal/transition on that goroutine's
// mailbox, persisted, and broadcast to subscribers as a revision-stamped
// types.ServerMessage. Readers never take a lock — they read an
// atomically-swapped types.Snapshot.
package sessionactor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/event"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

// EventLogCapacity bounds the replay ring buffer kept for Subscribe's
// gap-detection fallback.
const EventLogCapacity = 1000

// BroadcastCapacity bounds each subscriber's live channel; a slow reader is
// dropped rather than allowed to back-pressure the actor.
const BroadcastCapacity = 512

// Persister applies a transition.PersistOp durably. internal/persistence.Store
// is the production implementation; tests may supply a fake.
type Persister interface {
	Apply(op transition.PersistOp)
}

// ConnectorHandle is the subset of internal/connector's facade an actor needs
// to hand turn-control to a spawned collaborator. Defined here, not imported
// from internal/connector, so internal/connector can depend on this
// package's types instead of the reverse.
type ConnectorHandle interface {
	SendMessage(ctx context.Context, content string, images []types.ImageRef) error
	Interrupt(ctx context.Context) error
	SetModel(ctx context.Context, model, effort string) error
	Approve(ctx context.Context, requestID, decision string) error
	AnswerQuestion(ctx context.Context, requestID, answer string) error
	Close() error
}

// Actor owns one session's mutable state and is the only goroutine allowed to
// touch it. All other goroutines interact via the exported methods, which
// enqueue a job onto the mailbox and block on a reply channel.
type Actor struct {
	id       string
	mailbox  chan func()
	done     chan struct{}
	snapshot atomic.Pointer[types.Snapshot]

	session   types.Session
	connector ConnectorHandle

	persister Persister

	log     []logEntry
	subs    map[int64]chan *types.ServerMessage
	nextSub int64
}

type logEntry struct {
	revision int64
	msg      *types.ServerMessage
}

// New starts an actor for session and begins its mailbox loop.
func New(session types.Session, persister Persister) *Actor {
	a := &Actor{
		id:        session.ID,
		mailbox:   make(chan func(), 64),
		done:      make(chan struct{}),
		session:   session,
		persister: persister,
		subs:      make(map[int64]chan *types.ServerMessage),
	}
	a.snapshot.Store(snapshotPtr(types.SnapshotOf(&a.session)))
	go a.run()
	return a
}

func snapshotPtr(s types.Snapshot) *types.Snapshot { return &s }

func (a *Actor) run() {
	defer close(a.done)
	for job := range a.mailbox {
		job()
	}
}

// Stop drains and closes the mailbox. The actor must not be used afterward.
func (a *Actor) Stop() {
	close(a.mailbox)
	<-a.done
}

// ID returns the session ID this actor owns.
func (a *Actor) ID() string { return a.id }

// call enqueues fn on the mailbox and blocks until it runs, returning fn's
// result. Used by every exported accessor/mutator so all session state is
// only ever touched from the actor's own goroutine.
func call[T any](a *Actor, fn func() T) T {
	reply := make(chan T, 1)
	a.mailbox <- func() { reply <- fn() }
	return <-reply
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// stateFromSession projects the actor's current session into the reduced
// transition.State transition.Transition folds inputs through.
func (a *Actor) stateFromSession() transition.State {
	phase := transition.PhaseIdle
	switch a.session.WorkStatus {
	case types.WorkWorking:
		phase = transition.PhaseWorking
	case types.WorkPermission, types.WorkQuestion:
		phase = transition.PhaseAwaitingApproval
	case types.WorkEnded:
		phase = transition.PhaseEnded
	}

	st := transition.State{
		ID:             a.session.ID,
		Revision:       a.session.Revision,
		Phase:          phase,
		Messages:       a.session.Messages,
		TokenUsage:     a.session.Tokens,
		CurrentDiff:    a.session.CurrentDiff,
		CurrentPlan:    a.session.Plan,
		CustomName:     a.session.CustomName,
		ProjectPath:    a.session.ProjectPath,
		LastActivityAt: a.session.LastActivityAt,
		EndReason:      a.session.EndReason,
	}
	if a.session.PendingApproval != nil {
		st.ApprovalRequestID = a.session.PendingApproval.RequestID
		st.ApprovalType = a.session.PendingApproval.Type
		st.ProposedAmendment = a.session.PendingApproval.ProposedAmendment
	}
	return st
}

// foldState writes transition's output State back onto the actor's session.
func (a *Actor) foldState(st transition.State) {
	a.session.WorkStatus = st.WorkStatus()
	a.session.Status = types.StatusActive
	if st.Phase == transition.PhaseEnded {
		a.session.Status = types.StatusEnded
		a.session.EndedAt = nowRFC3339()
	}
	a.session.EndReason = st.EndReason
	a.session.Messages = st.Messages
	a.session.Tokens = st.TokenUsage
	a.session.CurrentDiff = st.CurrentDiff
	a.session.Plan = st.CurrentPlan
	a.session.CustomName = st.CustomName
	a.session.LastActivityAt = st.LastActivityAt

	if st.Phase == transition.PhaseAwaitingApproval {
		a.session.PendingApproval = &types.PendingApproval{
			RequestID:         st.ApprovalRequestID,
			Type:              st.ApprovalType,
			ProposedAmendment: st.ProposedAmendment,
		}
	} else {
		a.session.PendingApproval = nil
	}
}

// applyInput is the heart of the actor: fold one transition.Input, persist
// and broadcast the resulting effects, and publish a fresh snapshot. Must
// only be called from inside the mailbox goroutine.
func (a *Actor) applyInput(in transition.Input) {
	st := a.stateFromSession()
	newSt, effects := transition.Transition(st, in, nowRFC3339())
	if len(effects) > 0 {
		a.session.Revision++
	}
	a.foldState(newSt)

	for _, eff := range effects {
		switch e := eff.(type) {
		case transition.PersistEffect:
			if a.persister != nil {
				a.persister.Apply(e.Op)
			}
		case transition.EmitEffect:
			e.Message.Revision = a.session.Revision
			a.broadcast(e.Message)
		}
	}

	a.publishSnapshot()
}

// broadcast appends msg to the replay log and fans it out to every live
// subscriber channel; a subscriber too slow to keep up is dropped instead of
// stalling the actor (a "lagged" fallback).
func (a *Actor) broadcast(msg *types.ServerMessage) {
	a.log = append(a.log, logEntry{revision: msg.Revision, msg: msg})
	if len(a.log) > EventLogCapacity {
		a.log = a.log[len(a.log)-EventLogCapacity:]
	}

	for id, ch := range a.subs {
		select {
		case ch <- msg:
		default:
			delete(a.subs, id)
			close(ch)
		}
	}
}

// Subscribe registers a live feed of this session's outbound messages and
// returns any buffered events since sinceRevision as replay. gap is true
// when sinceRevision has already aged out of the replay log, telling the
// caller to fall back to a fresh subscribe_session snapshot instead of
// trusting replay. subID must be passed to Unsubscribe when the caller is
// done.
func (a *Actor) Subscribe(sinceRevision int64) (replay []*types.ServerMessage, gap bool, ch <-chan *types.ServerMessage, subID int64) {
	type result struct {
		ch     chan *types.ServerMessage
		id     int64
		gap    bool
		replay []*types.ServerMessage
	}
	res := call(a, func() result {
		gapped := sinceRevision > 0 && len(a.log) > 0 && sinceRevision < a.log[0].revision-1
		var missed []*types.ServerMessage
		if !gapped {
			for _, e := range a.log {
				if e.revision > sinceRevision {
					missed = append(missed, e.msg)
				}
			}
		}
		out := make(chan *types.ServerMessage, BroadcastCapacity)
		id := a.nextSub
		a.nextSub++
		a.subs[id] = out
		return result{ch: out, id: id, gap: gapped, replay: missed}
	})
	return res.replay, res.gap, res.ch, res.id
}

// Unsubscribe removes subID's feed, returned previously by Subscribe.
func (a *Actor) Unsubscribe(subID int64) {
	call(a, func() struct{} {
		if ch, ok := a.subs[subID]; ok {
			delete(a.subs, subID)
			close(ch)
		}
		return struct{}{}
	})
}

func (a *Actor) publishSnapshot() {
	snap := types.SnapshotOf(&a.session)
	a.snapshot.Store(&snap)
	event.Publish(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Snapshot: snap},
	})
}

// ApplyDelta folds a connector-originated transition.Input into the session.
func (a *Actor) ApplyDelta(in transition.Input) {
	call(a, func() struct{} {
		a.applyInput(in)
		return struct{}{}
	})
}

// ProcessEvent is an alias for ApplyDelta kept for call sites that read more
// naturally talking about "hook events" than "deltas" (internal/hooks).
func (a *Actor) ProcessEvent(in transition.Input) { a.ApplyDelta(in) }

// AddMessageAndBroadcast appends msg via the normal MessageCreated path.
func (a *Actor) AddMessageAndBroadcast(msg types.Message) {
	a.ApplyDelta(transition.MessageCreated{Message: msg})
}

// SetCustomNameAndNotify renames the session (e.g. after AI naming completes).
func (a *Actor) SetCustomNameAndNotify(name string) {
	a.ApplyDelta(transition.ThreadNameUpdated{Name: name})
}

// EndLocally ends the session without a connector round-trip, e.g. when the
// daemon reaps an orphaned direct session at startup.
func (a *Actor) EndLocally(reason string) {
	a.ApplyDelta(transition.SessionEnded{Reason: reason})
}

// SetLastTool records the most recent tool invocation for the sessions-list
// sidebar without going through the full transition pipeline (it is display
// metadata, not part of the persisted work-status state machine).
func (a *Actor) SetLastTool(name string) {
	call(a, func() struct{} {
		a.session.LastTool = name
		a.session.LastToolAt = nowRFC3339()
		a.session.ToolCount++
		a.publishSnapshot()
		return struct{}{}
	})
}

// SetSubagent records a subagent starting (id non-empty) or the active
// subagent ending (id empty clears ActiveSubagentID, endedID marks that
// entry's EndedAt) (SubagentEvent hooks).
func (a *Actor) SetSubagent(id, agentType, endedID string) {
	call(a, func() struct{} {
		if id != "" {
			a.session.ActiveSubagentID = id
			a.session.ActiveSubagentType = agentType
			a.session.Subagents = append(a.session.Subagents, types.Subagent{
				ID: id, Type: agentType, StartedAt: nowRFC3339(),
			})
		}
		if endedID != "" {
			for i := range a.session.Subagents {
				if a.session.Subagents[i].ID == endedID {
					a.session.Subagents[i].EndedAt = nowRFC3339()
				}
			}
			if a.session.ActiveSubagentID == endedID {
				a.session.ActiveSubagentID = ""
				a.session.ActiveSubagentType = ""
			}
		}
		a.publishSnapshot()
		return struct{}{}
	})
}

// IncrementCompactCount bumps the compact counter (PreCompact hook).
func (a *Actor) IncrementCompactCount() {
	call(a, func() struct{} {
		a.session.CompactCount++
		a.publishSnapshot()
		return struct{}{}
	})
}

// SetSummary writes an AI-extracted summary if the session doesn't already
// have one, returning whether it was applied.
func (a *Actor) SetSummary(summary string) bool {
	return call(a, func() bool {
		if a.session.Summary != "" || summary == "" {
			return false
		}
		a.session.Summary = summary
		a.publishSnapshot()
		return true
	})
}

// SetTranscriptPath records where a connector's rollout/JSONL file lives.
func (a *Actor) SetTranscriptPath(path string) {
	call(a, func() struct{} {
		a.session.TranscriptPath = path
		return struct{}{}
	})
}

// SetModel updates the session's active model/effort (UpdateSessionConfig).
func (a *Actor) SetModel(model, effort string) {
	call(a, func() struct{} {
		a.session.Model = model
		if effort != "" {
			a.session.Effort = effort
		}
		a.publishSnapshot()
		return struct{}{}
	})
}

// TakeHandle installs a connector handle once C7's lazy spin-up succeeds,
// flipping the session to direct integration.
func (a *Actor) TakeHandle(handle ConnectorHandle) error {
	return call(a, func() error {
		if a.connector != nil {
			return fmt.Errorf("session %s already has a connector handle", a.id)
		}
		a.connector = handle
		a.session.IntegrationMode = types.IntegrationDirect
		a.publishSnapshot()
		return nil
	})
}

// ReleaseHandle drops the connector handle (end of session, or takeover by a
// new direct client), returning the session to passive integration.
func (a *Actor) ReleaseHandle() {
	call(a, func() struct{} {
		if a.connector != nil {
			_ = a.connector.Close()
			a.connector = nil
		}
		a.session.IntegrationMode = types.IntegrationPassive
		a.publishSnapshot()
		return struct{}{}
	})
}

// Connector returns the currently installed handle, or nil if the session is
// passive (no live collaborator process attached).
func (a *Actor) Connector() ConnectorHandle {
	return call(a, func() ConnectorHandle { return a.connector })
}

// GetSummary returns the lock-free lightweight read model.
func (a *Actor) GetSummary() types.Snapshot {
	if s := a.snapshot.Load(); s != nil {
		return *s
	}
	return types.Snapshot{}
}

// GetSession returns a deep-enough copy of the full session for a
// subscribe_session snapshot frame.
func (a *Actor) GetSession() types.Session {
	return call(a, func() types.Session {
		cp := a.session
		cp.Messages = append([]types.Message(nil), a.session.Messages...)
		return cp
	})
}

// GetMessageCount returns len(session.Messages) without blocking on a full
// session copy.
func (a *Actor) GetMessageCount() int {
	return call(a, func() int { return len(a.session.Messages) })
}

// GetSummaryField reads an arbitrary field off the session on the actor's
// mailbox goroutine, via a caller-supplied projector, for a caller that needs
// one odd field (e.g. ExternalThreadID) without a full GetSession copy.
func GetSummaryField[T any](a *Actor, project func(s *types.Session) T) T {
	return call(a, func() T { return project(&a.session) })
}

// TakePendingApproval returns the session's pending approval without
// clearing it; the approval and the session's work status stay as they are
// until a later input changes them.
func (a *Actor) TakePendingApproval() *types.PendingApproval {
	return call(a, func() *types.PendingApproval {
		p := a.session.PendingApproval
		return p
	})
}

// LoadTranscriptAndSync replaces the session's message log wholesale, for
// history loaded from an on-disk transcript rather than a live stream of
// deltas.
func (a *Actor) LoadTranscriptAndSync(messages []types.Message) {
	call(a, func() struct{} {
		a.session.Messages = messages
		a.session.Revision++
		a.publishSnapshot()
		a.broadcast(&types.ServerMessage{
			Type:      types.MsgSessionSnapshot,
			SessionID: a.id,
			Revision:  a.session.Revision,
		})
		log.Debug().Str("session", a.id).Int("messages", len(messages)).Msg("transcript synced")
		return struct{}{}
	})
}
