// Package permission gates the two operations that drive a session into
// work_status=permission: ExecuteShell commands and file edits proposed by
// the connected agent. It
// manages per-session approval state so the same exec pattern or edit type doesn't
// re-prompt the user every turn.
//
// # Overview
//
// The permission system operates on a session-based model where each session can
// accumulate its own "approved for session" state. It supports three policy-level
// actions:
//   - Allow: Automatically approve the operation
//   - Deny: Automatically reject the operation
//   - Ask: Prompt the user for consent
//
// # Approval Types
//
// The system handles the three ApprovalType values from pkg/types:
//
//   - exec: Shell command execution with pattern-based matching
//   - edit: File modification operations
//   - question: Free-form questions raised by the agent
//
// # Core Components
//
// ## Checker
//
// The Checker is the central component that manages permission requests and approvals.
// It maintains session-based state for approved permissions and handles user prompts
// through an event system.
//
//	checker := NewChecker()
//	req := Request{
//		Type:      types.ApprovalExec,
//		SessionID: "session-123",
//		Pattern:   []string{"git *"},
//		Title:     "Execute git command",
//	}
//	err := checker.Check(ctx, req, ActionAsk)
//
// ## Bash Command Parsing
//
// The system includes sophisticated bash command parsing that extracts command names,
// arguments, and subcommands for fine-grained exec matching:
//
//	commands, err := ParseBashCommand("git commit -m 'fix bug'")
//	// Returns: []BashCommand{{Name: "git", Subcommand: "commit", Args: ["commit", "-m", "fix bug"]}}
//
// ## Pattern Matching
//
// Exec permissions support wildcard patterns with hierarchical matching:
//   - "git commit *" - Matches git commit with any arguments
//   - "git *" - Matches any git subcommand
//   - "git" - Matches git command exactly
//   - "*" - Matches any command
//
// # Permission Configuration
//
// AgentPermissions defines the default approval policy:
//
//	permissions := AgentPermissions{
//		Edit:     ActionAsk,
//		Question: ActionAsk,
//		Exec: map[string]PermissionAction{
//			"git *":  ActionAllow,
//			"rm *":   ActionAsk,
//			"sudo *": ActionDeny,
//		},
//	}
//
// # Session Management
//
// The system maintains per-session state for approved permissions. When a user
// grants "approved_for_session", it's remembered for the rest of the session:
//
//	// Clear all approvals for a session
//	checker.ClearSession("session-123")
//
//	// Check if permission is already approved
//	if checker.IsApproved("session-123", types.ApprovalExec) {
//		// Skip asking user
//	}
//
// # Error Handling
//
// Permission denials are represented by RejectedError, which includes context
// about the denied operation:
//
//	if err != nil && IsRejectedError(err) {
//		rejErr := err.(*RejectedError)
//		log.Printf("approval denied for %s: %s", rejErr.Type, rejErr.Message)
//	}
//
// # Event Integration
//
// The permission system integrates with internal/event to notify connected
// clients about approval requests and their resolution.
//
// # Thread Safety
//
// All components in this package are thread-safe and can be used concurrently
// across multiple goroutines handling different user sessions.
package permission