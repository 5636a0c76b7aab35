// Package hooks ingests the out-of-band hook messages ReasoningAgent's CLI
// posts to /api/hook. Unlike the rollout watcher, which
// passively discovers ShellAgent sessions by tailing files, a hook payload is
// pushed to the daemon the instant the CLI's own hook fires — the tradeoff is
// that SessionStart carries no guarantee a real turn will ever follow, so
// session rows are materialized lazily on the first event that proves the
// thread is actually doing something.
package hooks

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/internal/vcs"
	"github.com/robdel12/orbitdock/pkg/types"
)

// Kind discriminates the five hook message variants the CLI emits.
type Kind string

const (
	KindSessionStart   Kind = "session_start"
	KindSessionEnd     Kind = "session_end"
	KindStatusEvent    Kind = "status_event"
	KindToolEvent      Kind = "tool_event"
	KindSubagentEvent  Kind = "subagent_event"
)

// Status event hook names, matching the CLI's own hook identifiers.
const (
	HookUserPromptSubmit = "UserPromptSubmit"
	HookStop             = "Stop"
	HookNotification     = "Notification"
	HookPreCompact       = "PreCompact"
)

// EmptyShellIdle is how long a Waiting, unnamed ReasoningAgent session sits
// before a fresh materialization in the same project prunes it.
const EmptyShellIdle = 300 * time.Second

// shellAgentModelMarker appears in a hook payload's model string when the
// event actually belongs to a ShellAgent-driven thread routed through the
// wrong channel; such payloads are C5's concern, not ours.
const shellAgentModelMarker = "shell-agent"

// Payload is the decoded body of POST /api/hook. Only the fields relevant to
// Kind are populated by the CLI for any given message.
type Payload struct {
	SessionID           string `json:"session_id"`
	Kind                Kind   `json:"kind"`
	HookName            string `json:"hook_name,omitempty"`
	NotificationSubtype string `json:"notification_subtype,omitempty"`
	Cwd                 string `json:"cwd,omitempty"`
	TranscriptPath      string `json:"transcript_path,omitempty"`
	Model               string `json:"model,omitempty"`
	Source              string `json:"source,omitempty"` // "resume", "clear", "startup"
	ToolName             string `json:"tool_name,omitempty"`
	SubagentID           string `json:"subagent_id,omitempty"`
	SubagentType         string `json:"subagent_type,omitempty"`
	SubagentEndedID      string `json:"subagent_ended_id,omitempty"`
	EndReason            string `json:"reason,omitempty"`
}

// TranscriptSummarizer extracts an AI-generated summary from a transcript
// file, when one is present (the Stop-hook summary-extraction step). Kept as
// an interface so tests don't need a real transcript on disk.
type TranscriptSummarizer interface {
	Summarize(transcriptPath string) (string, bool)
}

// Ingestor turns hook payloads into registry/actor mutations. It is the sole
// writer of ReasoningAgent-originated, hook-driven session state.
type Ingestor struct {
	registry      *registry.Registry
	summarizer    TranscriptSummarizer
	shellGlobs    []string
}

// New creates an Ingestor. shellTranscriptGlobs are doublestar patterns
// matched against a payload's transcript path to filter out events that
// actually belong to a ShellAgent thread.
func New(reg *registry.Registry, summarizer TranscriptSummarizer, shellTranscriptGlobs []string) *Ingestor {
	return &Ingestor{registry: reg, summarizer: summarizer, shellGlobs: shellTranscriptGlobs}
}

// Ingest processes payload asynchronously; the caller (internal/server's
// hook.go) has already returned 204 to the CLI by the time this runs.
func (h *Ingestor) Ingest(p Payload) {
	go h.process(p)
}

func (h *Ingestor) process(p Payload) {
	if h.isShellAgentPayload(p) {
		return
	}

	switch p.Kind {
	case KindSessionStart:
		h.handleSessionStart(p)
	case KindSessionEnd:
		h.handleSessionEnd(p)
	case KindStatusEvent:
		h.handleStatusEvent(p)
	case KindToolEvent:
		h.handleToolEvent(p)
	case KindSubagentEvent:
		h.handleSubagentEvent(p)
	default:
		log.Warn().Str("kind", string(p.Kind)).Msg("unrecognized hook payload kind")
	}
}

// isShellAgentPayload filters out payloads whose
// transcript path falls under a ShellAgent session directory, or whose model
// string names one, belongs to C5 and must be ignored here.
func (h *Ingestor) isShellAgentPayload(p Payload) bool {
	if strings.Contains(strings.ToLower(p.Model), shellAgentModelMarker) {
		return true
	}
	if p.TranscriptPath == "" {
		return false
	}
	clean := strings.TrimPrefix(filepath.ToSlash(p.TranscriptPath), "/")
	for _, g := range h.shellGlobs {
		if ok, _ := doublestar.Match(g, clean); ok {
			return true
		}
	}
	return false
}

// resolveOwner follows the managed-thread alias ("managed-
// thread routing"): if sessionID belongs to a subagent thread owned by a
// direct session, events route to the owner instead of materializing their
// own row.
func (h *Ingestor) resolveOwner(sessionID string) string {
	if owner, ok := h.registry.ResolveAlias(types.ProviderReasoning, sessionID); ok {
		return owner
	}
	return sessionID
}

func (h *Ingestor) handleSessionStart(p Payload) {
	owner := h.resolveOwner(p.SessionID)
	if owner != p.SessionID {
		return // managed thread: no row of its own
	}
	if _, ok := h.registry.Get(p.SessionID); ok {
		return // already materialized, e.g. a resumed thread
	}
	h.registry.PutPending(p.SessionID, types.ProviderReasoning, p.Cwd)
}

func (h *Ingestor) handleSessionEnd(p Payload) {
	owner := h.resolveOwner(p.SessionID)
	if actor, ok := h.registry.Get(owner); ok {
		actor.ProcessEvent(transition.SessionEnded{Reason: valueOr(p.EndReason, "session_end")})
		return
	}
	// No materialized session: a pending placeholder is discarded silently.
	h.registry.Remove(p.SessionID)
}

func (h *Ingestor) handleStatusEvent(p Payload) {
	owner := h.resolveOwner(p.SessionID)
	actor, ok := h.registry.Get(owner)
	if !ok {
		actor, ok = h.materialize(p.SessionID, p.Cwd, p.TranscriptPath, p.Source)
		if !ok {
			return
		}
	}

	switch p.HookName {
	case HookUserPromptSubmit:
		actor.ProcessEvent(transition.TurnStarted{})
	case HookStop:
		if actor.GetSummary().WorkStatus != types.WorkEnded {
			actor.ProcessEvent(transition.TurnCompleted{})
		}
		h.extractSummary(actor, p.TranscriptPath)
	case HookNotification:
		h.applyNotification(actor, p.NotificationSubtype)
	case HookPreCompact:
		actor.IncrementCompactCount()
	default:
		log.Warn().Str("hook", p.HookName).Msg("unrecognized status-event hook name")
	}
}

func (h *Ingestor) applyNotification(actor *sessionactor.Actor, subtype string) {
	switch subtype {
	case "permission", "permission_request":
		actor.ProcessEvent(transition.ApprovalRequested{RequestID: "", Type: types.ApprovalExec})
	case "question", "ask_user_question":
		q := ""
		actor.ProcessEvent(transition.ApprovalRequested{RequestID: "", Type: types.ApprovalQuestion, Question: &q})
	default:
		actor.ProcessEvent(transition.TurnCompleted{})
	}
}

func (h *Ingestor) extractSummary(actor *sessionactor.Actor, transcriptPath string) {
	if h.summarizer == nil || transcriptPath == "" {
		return
	}
	summary, ok := h.summarizer.Summarize(transcriptPath)
	if !ok {
		return
	}
	actor.SetSummary(summary)
}

func (h *Ingestor) handleToolEvent(p Payload) {
	owner := h.resolveOwner(p.SessionID)
	actor, ok := h.registry.Get(owner)
	if !ok {
		actor, ok = h.materialize(p.SessionID, p.Cwd, p.TranscriptPath, p.Source)
		if !ok {
			return
		}
	}
	actor.SetLastTool(p.ToolName)
}

func (h *Ingestor) handleSubagentEvent(p Payload) {
	owner := h.resolveOwner(p.SessionID)
	actor, ok := h.registry.Get(owner)
	if !ok {
		actor, ok = h.materialize(p.SessionID, p.Cwd, p.TranscriptPath, p.Source)
		if !ok {
			return
		}
	}
	actor.SetSubagent(p.SubagentID, p.SubagentType, p.SubagentEndedID)
}

// materialize creates a real registered actor for sessionID from the
// payload's cwd, transcript path and source, the deferred-materialization
// step. It works the same whether or not a SessionStart placeholder exists:
// the placeholder's fields are not read, and the entry itself stays in the
// pending cache until SweepPending evicts it.
func (h *Ingestor) materialize(sessionID, fallbackCwd, transcriptPath, source string) (*sessionactor.Actor, bool) {
	if actor, ok := h.registry.Get(sessionID); ok {
		return actor, true
	}

	cwd := fallbackCwd
	if cwd == "" {
		return nil, false
	}

	h.pruneStaleEmptyShells(cwd)

	session := types.Session{
		ID:              sessionID,
		Provider:        types.ProviderReasoning,
		IntegrationMode: types.IntegrationPassive,
		ProjectPath:     cwd,
		ProjectName:     filepath.Base(cwd),
		GitBranch:       vcs.GetBranch(cwd),
		CurrentCwd:      cwd,
		TranscriptPath:  transcriptPath,
		Source:          source,
		Status:          types.StatusActive,
		WorkStatus:      types.WorkWaiting,
		StartedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		LastActivityAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}

	if source == "resume" || source == "clear" {
		if forkedFrom, ok := h.mostRecentSessionInProject(cwd, sessionID); ok {
			session.ForkedFromSessionID = forkedFrom
		}
	}

	actor := h.registry.Create(session)
	h.registry.TouchProject(cwd)
	return actor, true
}

// pruneStaleEmptyShells ends every Waiting, unnamed session in projectPath
// whose last activity predates EmptyShellIdle.
func (h *Ingestor) pruneStaleEmptyShells(projectPath string) {
	cutoff := time.Now().Add(-EmptyShellIdle)
	for _, actor := range h.registry.All() {
		snap := actor.GetSummary()
		if snap.ProjectPath != projectPath || snap.WorkStatus != types.WorkWaiting {
			continue
		}
		full := actor.GetSession()
		if full.CustomName != "" {
			continue
		}
		lastActivity, err := time.Parse(time.RFC3339Nano, full.LastActivityAt)
		if err != nil || lastActivity.After(cutoff) {
			continue
		}
		actor.EndLocally("stale_empty_shell")
	}
}

// mostRecentSessionInProject finds the most-recently-active ReasoningAgent
// session sharing projectPath, excluding excludeID, to use as a fork origin.
func (h *Ingestor) mostRecentSessionInProject(projectPath, excludeID string) (string, bool) {
	var bestID string
	var bestAt time.Time
	found := false
	for _, actor := range h.registry.All() {
		if actor.ID() == excludeID {
			continue
		}
		snap := actor.GetSummary()
		if snap.ProjectPath != projectPath || snap.Provider != types.ProviderReasoning {
			continue
		}
		lastActivity, _ := time.Parse(time.RFC3339Nano, actor.GetSession().LastActivityAt)
		if !found || lastActivity.After(bestAt) {
			bestID, bestAt = snap.ID, lastActivity
			found = true
		}
	}
	if !found {
		return "", false
	}
	return bestID, true
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
