package persistence

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/robdel12/orbitdock/pkg/types"
)

// MaxRestoredSessions bounds the startup load sweep.
const MaxRestoredSessions = 1000

// StalePassiveWindow is how long a passive session may sit idle before the
// daemon's startup sweep ends it outright.
const StalePassiveWindow = 15 * time.Minute

// EmptyShellIdle is how long a session with zero messages and no custom name
// may sit before the startup sweep prunes it as an abandoned shell.
const EmptyShellIdle = 5 * time.Minute

// LoadActiveSessions restores up to MaxRestoredSessions rows with
// status='active', most recently active first, for the daemon to re-attach
// actors to at startup.
func (s *Store) LoadActiveSessions(ctx context.Context) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, integration_mode, project_path, project_name, git_branch, git_sha,
		       current_cwd, model, effort, transcript_path, custom_name, summary,
		       approval_policy, sandbox_mode, permission_mode, source, agent_type,
		       status, work_status, input_tokens, output_tokens, cached_tokens, context_window,
		       current_diff, plan, started_at, last_activity_at, ended_at, end_reason, revision,
		       forked_from_session_id, external_thread_id, first_prompt, last_message,
		       prompt_count, tool_count, compact_count, last_tool, last_tool_at
		FROM sessions WHERE status='active' ORDER BY last_activity_at DESC LIMIT ?`, MaxRestoredSessions)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		msgs, err := s.loadMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Messages = msgs
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(rows *sql.Rows) (types.Session, error) {
	var sess types.Session
	var integrationMode, projectName, gitBranch, gitSHA, cwd, model, effort, transcriptPath,
		customName, summary, approvalPolicy, sandboxMode, permissionMode, source, agentType,
		currentDiff, plan, endedAt, endReason, forkedFrom, externalThreadID, firstPrompt,
		lastMessage, lastTool, lastToolAt sql.NullString

	err := rows.Scan(&sess.ID, &sess.Provider, &integrationMode, &sess.ProjectPath, &projectName,
		&gitBranch, &gitSHA, &cwd, &model, &effort, &transcriptPath, &customName, &summary,
		&approvalPolicy, &sandboxMode, &permissionMode, &source, &agentType,
		&sess.Status, &sess.WorkStatus, &sess.Tokens.InputTokens, &sess.Tokens.OutputTokens,
		&sess.Tokens.CachedTokens, &sess.Tokens.ContextWindow, &currentDiff, &plan,
		&sess.StartedAt, &sess.LastActivityAt, &endedAt, &endReason, &sess.Revision,
		&forkedFrom, &externalThreadID, &firstPrompt, &lastMessage,
		&sess.PromptCount, &sess.ToolCount, &sess.CompactCount, &lastTool, &lastToolAt)
	if err != nil {
		return sess, fmt.Errorf("scan session row: %w", err)
	}

	sess.IntegrationMode = types.IntegrationMode(integrationMode.String)
	sess.ProjectName, sess.GitBranch, sess.GitSHA, sess.CurrentCwd = projectName.String, gitBranch.String, gitSHA.String, cwd.String
	sess.Model, sess.Effort, sess.TranscriptPath = model.String, effort.String, transcriptPath.String
	sess.CustomName, sess.Summary = customName.String, summary.String
	sess.ApprovalPolicy, sess.SandboxMode, sess.PermissionMode = approvalPolicy.String, sandboxMode.String, permissionMode.String
	sess.Source, sess.AgentType = source.String, agentType.String
	sess.CurrentDiff, sess.Plan = currentDiff.String, plan.String
	sess.EndedAt, sess.EndReason = endedAt.String, endReason.String
	sess.ForkedFromSessionID, sess.ExternalThreadID = forkedFrom.String, externalThreadID.String
	sess.FirstPrompt, sess.LastMessage = firstPrompt.String, lastMessage.String
	sess.LastTool, sess.LastToolAt = lastTool.String, lastToolAt.String
	return sess, nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, type, content, tool_name, tool_input, tool_output, is_error, timestamp, duration_ms, images_json
		FROM messages WHERE session_id=? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var toolName, toolInput, toolOutput, imagesJSON sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sequence, &m.Type, &m.Content, &toolName, &toolInput, &toolOutput, &m.IsError, &m.Timestamp, &durationMs, &imagesJSON); err != nil {
			return nil, err
		}
		m.ToolName, m.ToolInput, m.ToolOutput = toolName.String, toolInput.String, toolOutput.String
		m.DurationMs = durationMs.Int64
		if imagesJSON.Valid && imagesJSON.String != "" {
			_ = json.Unmarshal([]byte(imagesJSON.String), &m.Images)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SweepStalePassive returns session IDs with status='active',
// integration_mode='passive' whose last_activity_at predates
// StalePassiveWindow — candidates the daemon ends outright at startup rather
// than re-attaching, since nothing will ever resume driving them.
func (s *Store) SweepStalePassive(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-StalePassiveWindow).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status='active' AND integration_mode='passive' AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SweepEmptyShells returns session IDs with no messages, no custom name, and
// last_activity_at predating EmptyShellIdle: sessions a connector was spun up
// for but that never produced a single turn.
func (s *Store) SweepEmptyShells(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-EmptyShellIdle).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id FROM sessions s
		WHERE s.status='active'
		  AND (s.custom_name IS NULL OR s.custom_name = '')
		  AND s.last_activity_at < ?
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.session_id = s.id)`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rolloutEvent is the minimal shape shared by both connectors' JSONL
// transcript dialects; internal/rollout decodes the provider-specific
// payload, this package only needs tool_use/tool_result pairing for replay.
type rolloutEvent struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	ToolUseID string          `json:"tool_use_id"`
	Output    string          `json:"output"`
	IsError   bool            `json:"is_error"`
	Timestamp string          `json:"timestamp"`
}

// LoadTranscript reads a connector's on-disk JSONL rollout file and replays
// it into the Message log, pairing each tool_result line back to the
// tool_use line that started it by tool_use_id ("dual-dialect
// transcript loading ... tool_use/tool_result pairing"). provider is not
// consulted: ReasoningAgent and ShellAgent transcripts share this
// JSONL-per-line shape closely enough that one scanner reads both.
func LoadTranscript(path string, provider types.Provider) ([]types.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	pending := make(map[string]int) // tool_use_id -> index in out awaiting its result
	var out []types.Message
	seq := int64(0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev rolloutEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // skip malformed lines rather than aborting the whole load
		}

		switch ev.Type {
		case "tool_use":
			msg := types.Message{
				Sequence:  seq,
				Type:      types.MessageTool,
				ToolName:  ev.ToolName,
				ToolInput: string(ev.ToolInput),
				Timestamp: ev.Timestamp,
			}
			seq++
			out = append(out, msg)
			if ev.ToolUseID != "" {
				pending[ev.ToolUseID] = len(out) - 1
			}
		case "tool_result":
			if idx, ok := pending[ev.ToolUseID]; ok {
				out[idx].ToolOutput = ev.Output
				out[idx].IsError = ev.IsError
				delete(pending, ev.ToolUseID)
				continue
			}
			msg := types.Message{Sequence: seq, Type: types.MessageToolResult, Content: ev.Output, IsError: ev.IsError, Timestamp: ev.Timestamp}
			seq++
			out = append(out, msg)
		default:
			mt := types.MessageAssistant
			if ev.Role == "user" {
				mt = types.MessageUser
			}
			out = append(out, types.Message{Sequence: seq, Type: mt, Content: ev.Content, Timestamp: ev.Timestamp})
			seq++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return out, nil
}

// ComputeUnifiedDiff builds a unified diff between before and after using
// Myers' diff algorithm, backing the current_diff/diff_history fields C1's
// DiffUpdated input carries.
func ComputeUnifiedDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(before, diffs)
	if len(patches) == 0 {
		return ""
	}
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, dmp.PatchToText(patches))
}

// summaryMaxChars bounds the thread-name/summary text pulled from a
// transcript's last assistant turn, for the Stop-hook summary step.
const summaryMaxChars = 200

// Summarizer implements internal/hooks' TranscriptSummarizer by reading the
// transcript straight off disk rather than keeping a parsed copy around.
type Summarizer struct{}

// Summarize returns the last assistant message's content, truncated, as a
// best-effort thread summary. ok is false when the transcript has no
// assistant turn to summarize.
func (Summarizer) Summarize(transcriptPath string) (string, bool) {
	messages, err := LoadTranscript(transcriptPath, types.ProviderReasoning)
	if err != nil {
		return "", false
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type != types.MessageAssistant || messages[i].Content == "" {
			continue
		}
		text := messages[i].Content
		if len(text) > summaryMaxChars {
			text = text[:summaryMaxChars]
		}
		return text, true
	}
	return "", false
}
