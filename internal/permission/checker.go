package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/robdel12/orbitdock/internal/event"
	"github.com/robdel12/orbitdock/pkg/types"
)

// Checker handles approval checks and their resolution for one daemon
// process. One Checker is shared across all sessions; all state is keyed by
// session ID.
type Checker struct {
	mu       sync.RWMutex
	approved map[string]map[types.ApprovalType]bool // sessionID -> type -> approved for session
	patterns map[string]map[string]bool             // sessionID -> exec pattern -> approved for session
	pending  map[string]chan Response               // requestID -> response channel
}

// NewChecker creates a new permission checker.
func NewChecker() *Checker {
	return &Checker{
		approved: make(map[string]map[types.ApprovalType]bool),
		patterns: make(map[string]map[string]bool),
		pending:  make(map[string]chan Response),
	}
}

// Check performs an approval check based on policy configuration.
func (c *Checker) Check(ctx context.Context, req Request, action PermissionAction) error {
	switch action {
	case ActionAllow:
		return nil
	case ActionDeny:
		return &RejectedError{
			SessionID: req.SessionID,
			Type:      req.Type,
			FilePath:  req.FilePath,
			Metadata:  req.Metadata,
			Message:   "approval denied by policy",
		}
	case ActionAsk:
		return c.Ask(ctx, req)
	}
	return nil
}

// Ask prompts the user for approval, short-circuiting if this session has
// already approved this type or a matching exec pattern "for session".
func (c *Checker) Ask(ctx context.Context, req Request) error {
	c.mu.RLock()
	if sessionApprovals, ok := c.approved[req.SessionID]; ok {
		if sessionApprovals[req.Type] {
			c.mu.RUnlock()
			return nil
		}
	}

	if len(req.Pattern) > 0 {
		if sessionPatterns, ok := c.patterns[req.SessionID]; ok {
			allApproved := true
			for _, p := range req.Pattern {
				if !sessionPatterns[p] {
					allApproved = false
					break
				}
			}
			if allApproved {
				c.mu.RUnlock()
				return nil
			}
		}
	}
	c.mu.RUnlock()

	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	respChan := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:             req.ID,
			SessionID:      req.SessionID,
			PermissionType: string(req.Type),
			Pattern:        req.Pattern,
			Title:          req.Title,
		},
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-respChan:
		switch types.NormalizeDecision(resp.Decision) {
		case "once":
			return nil
		case "approved_for_session", "approved_always":
			c.approve(req.SessionID, req.Type, req.Pattern)
			return nil
		case "reject":
			return &RejectedError{
				SessionID: req.SessionID,
				Type:      req.Type,
				FilePath:  req.FilePath,
				Metadata:  req.Metadata,
				Message:   "approval rejected by user",
			}
		}
	}
	return nil
}

// Respond handles a user's decision on a pending approval.
func (c *Checker) Respond(requestID string, decision string) {
	c.mu.RLock()
	ch, ok := c.pending[requestID]
	c.mu.RUnlock()

	if ok {
		ch <- Response{
			RequestID: requestID,
			Decision:  decision,
		}
	}

	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			ID:      requestID,
			Granted: types.NormalizeDecision(decision) != "reject",
		},
	})
}

// approve marks an approval type and exec patterns as approved for a session.
func (c *Checker) approve(sessionID string, approvalType types.ApprovalType, patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.approved[sessionID] == nil {
		c.approved[sessionID] = make(map[types.ApprovalType]bool)
	}
	c.approved[sessionID][approvalType] = true

	if len(patterns) > 0 {
		if c.patterns[sessionID] == nil {
			c.patterns[sessionID] = make(map[string]bool)
		}
		for _, p := range patterns {
			c.patterns[sessionID][p] = true
		}
	}
}

// IsApproved checks if an approval type is already approved for a session.
func (c *Checker) IsApproved(sessionID string, approvalType types.ApprovalType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if sessionApprovals, ok := c.approved[sessionID]; ok {
		return sessionApprovals[approvalType]
	}
	return false
}

// IsPatternApproved checks if a specific exec pattern is approved for a session.
func (c *Checker) IsPatternApproved(sessionID string, pattern string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if sessionPatterns, ok := c.patterns[sessionID]; ok {
		return sessionPatterns[pattern]
	}
	return false
}

// ClearSession clears all "for session" approvals, called when a session ends.
func (c *Checker) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.approved, sessionID)
	delete(c.patterns, sessionID)
}

// ApprovePattern explicitly approves an exec pattern for a session.
func (c *Checker) ApprovePattern(sessionID string, pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.patterns[sessionID] == nil {
		c.patterns[sessionID] = make(map[string]bool)
	}
	c.patterns[sessionID][pattern] = true
}
