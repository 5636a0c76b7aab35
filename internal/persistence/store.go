// Package persistence is the single-writer, batched SQLite store behind
// every transition.PersistOp. A single background goroutine
// owns the *sql.DB handle; every other goroutine hands it work through a
// channel, so there is never write contention on the database file even
// though dozens of session actors apply deltas concurrently.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/pkg/types"
)

// Batch flush thresholds: flush on count>=50 or every 100ms, whichever first.
const (
	batchMaxOps    = 50
	batchMaxDelay  = 100 * time.Millisecond
	queueDepth     = 2048
	busyTimeoutMS  = 5000
)

// Store is the single-writer SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	queue  chan transition.PersistOp
	closed chan struct{}
	done   chan struct{}
}

// Open opens (creating if absent) the SQLite database at path, applies the
// WAL/busy_timeout/synchronous pragmas the store needs, migrates the
// schema, and starts the batched writer goroutine.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, busyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer: avoid SQLITE_BUSY across goroutines

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	s := &Store{
		db:     db,
		queue:  make(chan transition.PersistOp, queueDepth),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Apply enqueues op for the background writer. Never blocks the caller on
// disk IO; satisfies internal/sessionactor.Persister.
func (s *Store) Apply(op transition.PersistOp) {
	select {
	case s.queue <- op:
	case <-s.closed:
	}
}

// writeLoop batches queued ops by count or time and flushes each batch in a
// single transaction.
func (s *Store) writeLoop() {
	defer close(s.done)

	ticker := time.NewTicker(batchMaxDelay)
	defer ticker.Stop()

	batch := make([]transition.PersistOp, 0, batchMaxOps)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			log.Error().Err(err).Int("ops", len(batch)).Msg("persistence: batch flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, op)
			if len(batch) >= batchMaxOps {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.closed:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case op := <-s.queue:
					batch = append(batch, op)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) flushBatch(ops []transition.PersistOp) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := applyOp(tx, op); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func applyOp(tx *sql.Tx, op transition.PersistOp) error {
	switch o := op.(type) {
	case transition.SessionUpdateOp:
		return applySessionUpdate(tx, o)
	case transition.SessionEndOp:
		_, err := tx.Exec(`UPDATE sessions SET status=?, ended_at=?, end_reason=? WHERE id=?`,
			types.StatusEnded, nowRFC3339(), o.Reason, o.ID)
		return err
	case transition.MessageAppendOp:
		return applyMessageAppend(tx, o)
	case transition.MessageUpdateOp:
		return applyMessageUpdate(tx, o)
	case transition.TokensUpdateOp:
		_, err := tx.Exec(`UPDATE sessions SET input_tokens=?, output_tokens=?, cached_tokens=?, context_window=? WHERE id=?`,
			o.Usage.InputTokens, o.Usage.OutputTokens, o.Usage.CachedTokens, o.Usage.ContextWindow, o.SessionID)
		return err
	case transition.TurnStateUpdateOp:
		return applyTurnState(tx, o)
	case transition.SetCustomNameOp:
		var name any
		if o.CustomName != nil {
			name = *o.CustomName
		}
		_, err := tx.Exec(`UPDATE sessions SET custom_name=? WHERE id=?`, name, o.SessionID)
		return err
	case transition.ApprovalRequestedOp:
		return applyApprovalRequested(tx, o)
	default:
		return fmt.Errorf("persistence: unknown PersistOp %T", op)
	}
}

func applySessionUpdate(tx *sql.Tx, o transition.SessionUpdateOp) error {
	if o.WorkStatus != nil && o.LastActivityAt != nil {
		_, err := tx.Exec(`UPDATE sessions SET work_status=?, last_activity_at=? WHERE id=?`, *o.WorkStatus, *o.LastActivityAt, o.ID)
		return err
	}
	if o.WorkStatus != nil {
		_, err := tx.Exec(`UPDATE sessions SET work_status=? WHERE id=?`, *o.WorkStatus, o.ID)
		return err
	}
	if o.LastActivityAt != nil {
		_, err := tx.Exec(`UPDATE sessions SET last_activity_at=? WHERE id=?`, *o.LastActivityAt, o.ID)
		return err
	}
	return nil
}

func applyMessageAppend(tx *sql.Tx, o transition.MessageAppendOp) error {
	msg := o.Message
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	images, err := json.Marshal(msg.Images)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO messages (id, session_id, sequence, type, content, tool_name, tool_input, tool_output, is_error, timestamp, duration_ms, images_json)
		VALUES (?, ?, (SELECT COALESCE(MAX(sequence), -1) + 1 FROM messages WHERE session_id=?), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, o.SessionID, o.SessionID, msg.Type, msg.Content, msg.ToolName, msg.ToolInput, msg.ToolOutput, msg.IsError, msg.Timestamp, msg.DurationMs, string(images))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE sessions SET last_message=?, prompt_count = prompt_count + ? WHERE id=?`,
		msg.Content, promptIncrement(msg.Type), o.SessionID)
	return err
}

func promptIncrement(t types.MessageType) int {
	if t == types.MessageUser {
		return 1
	}
	return 0
}

func applyMessageUpdate(tx *sql.Tx, o transition.MessageUpdateOp) error {
	if o.Content != nil {
		if _, err := tx.Exec(`UPDATE messages SET content=? WHERE id=? AND session_id=?`, *o.Content, o.MessageID, o.SessionID); err != nil {
			return err
		}
	}
	if o.ToolOutput != nil {
		if _, err := tx.Exec(`UPDATE messages SET tool_output=? WHERE id=? AND session_id=?`, *o.ToolOutput, o.MessageID, o.SessionID); err != nil {
			return err
		}
	}
	if o.DurationMs != nil {
		if _, err := tx.Exec(`UPDATE messages SET duration_ms=? WHERE id=? AND session_id=?`, *o.DurationMs, o.MessageID, o.SessionID); err != nil {
			return err
		}
	}
	if o.IsError != nil {
		if _, err := tx.Exec(`UPDATE messages SET is_error=? WHERE id=? AND session_id=?`, *o.IsError, o.MessageID, o.SessionID); err != nil {
			return err
		}
	}
	return nil
}

func applyTurnState(tx *sql.Tx, o transition.TurnStateUpdateOp) error {
	if o.Diff != nil {
		if _, err := tx.Exec(`UPDATE sessions SET current_diff=? WHERE id=?`, *o.Diff, o.SessionID); err != nil {
			return err
		}
	}
	if o.Plan != nil {
		if _, err := tx.Exec(`UPDATE sessions SET plan=? WHERE id=?`, *o.Plan, o.SessionID); err != nil {
			return err
		}
	}
	return nil
}

func applyApprovalRequested(tx *sql.Tx, o transition.ApprovalRequestedOp) error {
	var toolName, command, filePath, cwd any
	if o.ToolName != nil {
		toolName = *o.ToolName
	}
	if o.Command != nil {
		command = *o.Command
	}
	if o.FilePath != nil {
		filePath = *o.FilePath
	}
	if o.Cwd != nil {
		cwd = *o.Cwd
	}
	amendment, err := json.Marshal(o.ProposedAmendment)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO approval_history (session_id, request_id, type, tool_name, command, file_path, cwd, proposed_amendment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.RequestID, o.Type, toolName, command, filePath, cwd, string(amendment), nowRFC3339())
	return err
}

// RecordDecision durably stamps an approval_history row's decision. It
// writes directly rather than through the batched queue, so the decision is
// visible once it returns. internal/server's ApproveTool/AnswerQuestion
// handlers do not call it.
func (s *Store) RecordDecision(ctx context.Context, sessionID, requestID, decision string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE approval_history SET decision=?, decided_at=? WHERE session_id=? AND request_id=? AND decision IS NULL`,
		types.NormalizeDecision(decision), nowRFC3339(), sessionID, requestID)
	return err
}

// ApprovalHistory returns past approval decisions for a session, newest first.
func (s *Store) ApprovalHistory(ctx context.Context, sessionID string) ([]types.ApprovalHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request_id, type, tool_name, command, file_path, cwd, decision, proposed_amendment, created_at, decided_at
		 FROM approval_history WHERE session_id=? ORDER BY id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ApprovalHistoryRow
	for rows.Next() {
		var r types.ApprovalHistoryRow
		var toolName, command, filePath, cwd, decision, amendment, decidedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RequestID, &r.Type, &toolName, &command, &filePath, &cwd, &decision, &amendment, &r.CreatedAt, &decidedAt); err != nil {
			return nil, err
		}
		r.ToolName, r.Command, r.FilePath, r.Cwd = toolName.String, command.String, filePath.String, cwd.String
		r.Decision, r.ProposedAmendment, r.DecidedAt = decision.String, amendment.String, decidedAt.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetConfig/SetConfig back a small app_config KV store used for pieces of
// daemon state that don't belong on any one session (e.g. the last-seen
// rollout watcher cursor).
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// AddReviewComment appends a row to the review comments table.
func (s *Store) AddReviewComment(ctx context.Context, c types.ReviewComment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_comments (session_id, turn, file_path, line, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Turn, c.FilePath, c.Line, c.Body, nowRFC3339())
	return err
}

// Close flushes any pending batch and closes the database handle.
func (s *Store) Close() error {
	close(s.closed)
	<-s.done
	return s.db.Close()
}

// DB exposes the underlying handle for synchronous reads outside the
// batched write path.
func (s *Store) DB() *sql.DB { return s.db }

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }
