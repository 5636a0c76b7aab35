package event

import "github.com/robdel12/orbitdock/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Session *types.Session `json:"session"`
}

// SessionUpdatedData is the data for session.updated events: a fresh
// lock-free snapshot after a Transition produced a new revision.
type SessionUpdatedData struct {
	Snapshot types.Snapshot `json:"snapshot"`
}

// SessionEndedData is the data for session.ended events.
type SessionEndedData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason,omitempty"`
}

// MessageAppendedData is the data for message.appended events.
type MessageAppendedData struct {
	SessionID string         `json:"sessionID"`
	Message   *types.Message `json:"message"`
}

// DiffUpdatedData is the data for diff.updated events.
type DiffUpdatedData struct {
	SessionID string `json:"sessionID"`
	Diff      string `json:"diff"`
}

// PlanUpdatedData is the data for plan.updated events.
type PlanUpdatedData struct {
	SessionID string `json:"sessionID"`
	Plan      string `json:"plan"`
}

// TokensUpdatedData is the data for tokens.updated events.
type TokensUpdatedData struct {
	SessionID string           `json:"sessionID"`
	Tokens    types.TokenUsage `json:"tokens"`
}

// ApprovalRequestedData describes a session's pending approval. No EventType
// is published with it; permission.required events carry PermissionRequiredData.
type ApprovalRequestedData struct {
	SessionID string                 `json:"sessionID"`
	Approval  *types.PendingApproval `json:"approval"`
}

// PermissionRequiredData is the data for permission.required events,
// published by permission.Checker.
type PermissionRequiredData struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionID"`
	PermissionType string   `json:"permissionType"`
	Pattern        []string `json:"pattern"`
	Title          string   `json:"title"`
}

// ApprovalResolvedData describes an approval decision. No EventType is
// published with it; permission.resolved events carry PermissionResolvedData.
type ApprovalResolvedData struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Decision  string `json:"decision"`
}

// PermissionResolvedData is the data for permission.resolved events,
// published by permission.Checker.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Granted   bool   `json:"granted"`
}

// VcsBranchUpdatedData is the data for vcs.branch_updated events.
type VcsBranchUpdatedData struct {
	Branch string `json:"branch"`
}

// ShellOutputData is the data for shell.output events.
type ShellOutputData struct {
	SessionID string `json:"sessionID"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Done      bool   `json:"done"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}
