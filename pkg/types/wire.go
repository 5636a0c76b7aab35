package types

// ServerMessageType discriminates outbound WebSocket frames. Every frame has a
// top-level snake_case "type"; deltas additionally carry "revision".
type ServerMessageType string

const (
	MsgSessionSnapshot    ServerMessageType = "session_snapshot"
	MsgSessionsList       ServerMessageType = "sessions_list"
	MsgSessionCreated     ServerMessageType = "session_created"
	MsgSessionEnded       ServerMessageType = "session_ended"
	MsgMessageAppended    ServerMessageType = "message_appended"
	MsgMessageUpdated     ServerMessageType = "message_updated"
	MsgApprovalRequested  ServerMessageType = "approval_requested"
	MsgTokensUpdated      ServerMessageType = "tokens_updated"
	MsgDiffUpdated        ServerMessageType = "diff_updated"
	MsgPlanUpdated        ServerMessageType = "plan_updated"
	MsgThreadNameUpdated  ServerMessageType = "thread_name_updated"
	MsgShellStarted       ServerMessageType = "shell_started"
	MsgShellOutput        ServerMessageType = "shell_output"
	MsgSkillsUpdated      ServerMessageType = "skills_updated"
	MsgMcpToolsUpdated    ServerMessageType = "mcp_tools_updated"
	MsgStartupProgress    ServerMessageType = "startup_progress"
	MsgDirectoryListing   ServerMessageType = "directory_listing"
	MsgRecentProjects     ServerMessageType = "recent_projects"
	MsgError              ServerMessageType = "error"
	MsgLagged             ServerMessageType = "lagged"
)

// DirEntry mirrors internal/project's Entry in the wire layer, so
// internal/server doesn't need to import internal/project's package just to
// shape a response.
type DirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// ServerMessage is the envelope every outbound frame is serialized through.
// Revision is omitted (zero value) for frames that are not per-session deltas
// (e.g. SessionsList, Error).
type ServerMessage struct {
	Type     ServerMessageType `json:"type"`
	Revision int64             `json:"revision,omitempty"`

	Session  *Session  `json:"session,omitempty"`
	Sessions []Snapshot `json:"sessions,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Approval *PendingApproval `json:"approval,omitempty"`

	Tokens *TokenUsage `json:"tokens,omitempty"`
	Diff   string      `json:"diff,omitempty"`
	Plan   string       `json:"plan,omitempty"`
	Name   string       `json:"name,omitempty"`

	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	Skills   []string `json:"skills,omitempty"`
	McpTools []string `json:"mcp_tools,omitempty"`
	Progress string   `json:"progress,omitempty"`

	Path    string     `json:"path,omitempty"`
	Entries []DirEntry `json:"entries,omitempty"`
	Recent  []string   `json:"recent,omitempty"`

	Kind         ErrorKind `json:"kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	SessionID string `json:"session_id,omitempty"`
}

// ErrorKind is the error-kind taxonomy (kinds, not Go types).
type ErrorKind string

const (
	ErrParseError          ErrorKind = "parse_error"
	ErrNotFound            ErrorKind = "not_found"
	ErrAlreadyActive       ErrorKind = "already_active"
	ErrNotPassive          ErrorKind = "not_passive"
	ErrTakeFailed          ErrorKind = "take_failed"
	ErrInvalidArgument     ErrorKind = "invalid_argument"
	ErrShellAgentError     ErrorKind = "shell_agent_error"
	ErrReasoningAgentError ErrorKind = "reasoning_agent_error"
	ErrTimeout             ErrorKind = "timeout"
	ErrChannelClosed       ErrorKind = "channel_closed"
	ErrForkFailed          ErrorKind = "fork_failed"
	ErrDBError             ErrorKind = "db_error"
	ErrApprovalListFailed  ErrorKind = "approval_list_failed"
	ErrApprovalDeleteFailed ErrorKind = "approval_delete_failed"
	ErrModelListFailed     ErrorKind = "model_list_failed"
	ErrBrowseError         ErrorKind = "browse_error"
	ErrLagged              ErrorKind = "lagged"
	ErrShellError          ErrorKind = "shell_error"
)

// ClientCommandType discriminates inbound WebSocket frames.
type ClientCommandType string

const (
	CmdSubscribeList        ClientCommandType = "subscribe_list"
	CmdSubscribeSession     ClientCommandType = "subscribe_session"
	CmdUnsubscribeSession   ClientCommandType = "unsubscribe_session"
	CmdCreateSession        ClientCommandType = "create_session"
	CmdSendMessage          ClientCommandType = "send_message"
	CmdSteerTurn            ClientCommandType = "steer_turn"
	CmdApproveTool          ClientCommandType = "approve_tool"
	CmdAnswerQuestion       ClientCommandType = "answer_question"
	CmdInterruptSession     ClientCommandType = "interrupt_session"
	CmdCompactContext       ClientCommandType = "compact_context"
	CmdUndoLastTurn         ClientCommandType = "undo_last_turn"
	CmdRollbackTurns        ClientCommandType = "rollback_turns"
	CmdRenameSession        ClientCommandType = "rename_session"
	CmdUpdateSessionConfig  ClientCommandType = "update_session_config"
	CmdResumeSession        ClientCommandType = "resume_session"
	CmdTakeoverSession      ClientCommandType = "takeover_session"
	CmdForkSession          ClientCommandType = "fork_session"
	CmdEndSession           ClientCommandType = "end_session"
	CmdExecuteShell         ClientCommandType = "execute_shell"
	CmdBrowseDirectory      ClientCommandType = "browse_directory"
	CmdListRecentProjects   ClientCommandType = "list_recent_projects"
)

// ClientCommand is the envelope every inbound frame is deserialized through.
type ClientCommand struct {
	Type ClientCommandType `json:"type"`

	SessionID     string `json:"session_id,omitempty"`
	SinceRevision *int64 `json:"since_revision,omitempty"`

	Provider Provider `json:"provider,omitempty"`
	Cwd      string   `json:"cwd,omitempty"`
	Model    string   `json:"model,omitempty"`
	Effort   string   `json:"effort,omitempty"`

	ApprovalPolicy string `json:"approval_policy,omitempty"`
	SandboxMode    string `json:"sandbox_mode,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`

	Content  string     `json:"content,omitempty"`
	Skills   []string   `json:"skills,omitempty"`
	Images   []ImageRef `json:"images,omitempty"`
	Mentions []string   `json:"mentions,omitempty"`

	RequestID     string `json:"request_id,omitempty"`
	Decision      string `json:"decision,omitempty"`
	Message       string `json:"message,omitempty"`
	Interrupt     bool   `json:"interrupt,omitempty"`
	UpdatedInput  string `json:"updated_input,omitempty"`

	NumTurns int `json:"num_turns,omitempty"`

	Name string `json:"name,omitempty"`

	NthUserMessage *int `json:"nth_user_message,omitempty"`

	Command string `json:"command,omitempty"`
	Timeout int    `json:"timeout,omitempty"`

	Path string `json:"path,omitempty"`
}
