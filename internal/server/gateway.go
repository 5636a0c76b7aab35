package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/event"
	"github.com/robdel12/orbitdock/internal/permission"
	"github.com/robdel12/orbitdock/internal/project"
	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/shellexec"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/internal/vcs"
	"github.com/robdel12/orbitdock/pkg/types"
)

// wsSendCapacity bounds a connection's outbound buffer; a client too slow to
// drain it is disconnected rather than allowed to back-pressure the daemon.
const wsSendCapacity = 256

// sessionFeed tracks one actor subscription a connection is relaying.
type sessionFeed struct {
	subID  int64
	cancel context.CancelFunc
}

// conn is the per-WebSocket-connection state: its send queue, and which
// session/list feeds it currently relays.
type conn struct {
	srv  *Server
	send chan []byte

	mu      sync.Mutex
	feeds   map[string]*sessionFeed
	listCtx context.CancelFunc

	permUnsub func()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: upgrade failed")
		return
	}
	defer ws.Close()

	c := &conn{srv: s, send: make(chan []byte, wsSendCapacity), feeds: make(map[string]*sessionFeed)}
	c.permUnsub = event.Subscribe(event.PermissionRequired, c.onPermissionRequired)
	defer c.teardown()

	if s.mcp != nil {
		if tools := s.mcp.Tools(); len(tools) > 0 {
			names := make([]string, len(tools))
			for i, t := range tools {
				names[i] = t.Name
			}
			c.writeJSON(&types.ServerMessage{Type: types.MsgMcpToolsUpdated, McpTools: names})
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(1, msg); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var cmd types.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError(types.ErrParseError, "", "malformed command: "+err.Error())
			continue
		}
		c.dispatch(r.Context(), cmd)
	}

	close(c.send)
	<-done
}

func (c *conn) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.feeds {
		f.cancel()
	}
	if c.listCtx != nil {
		c.listCtx()
	}
	if c.permUnsub != nil {
		c.permUnsub()
	}
}

func (c *conn) writeJSON(v *types.ServerMessage) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("gateway: marshal outbound frame")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Msg("gateway: connection too slow, dropping frame")
	}
}

func (c *conn) sendError(kind types.ErrorKind, sessionID, msg string) {
	c.writeJSON(&types.ServerMessage{Type: types.MsgError, Kind: kind, ErrorMessage: msg, SessionID: sessionID})
}

// onPermissionRequired relays a shellexec-originated ad hoc permission
// prompt (not a connector control request) to any connection subscribed to
// that session.
func (c *conn) onPermissionRequired(ev event.Event) {
	data, ok := ev.Data.(event.PermissionRequiredData)
	if !ok {
		return
	}
	c.mu.Lock()
	_, subscribed := c.feeds[data.SessionID]
	c.mu.Unlock()
	if !subscribed {
		return
	}
	c.writeJSON(&types.ServerMessage{
		Type:      types.MsgApprovalRequested,
		SessionID: data.SessionID,
		Approval: &types.PendingApproval{
			RequestID: data.ID,
			Type:      types.ApprovalType(data.PermissionType),
		},
	})
}

func (c *conn) dispatch(ctx context.Context, cmd types.ClientCommand) {
	switch cmd.Type {
	case types.CmdSubscribeList:
		c.handleSubscribeList(ctx)
	case types.CmdSubscribeSession:
		c.handleSubscribeSession(cmd)
	case types.CmdUnsubscribeSession:
		c.handleUnsubscribeSession(cmd)
	case types.CmdCreateSession:
		c.handleCreateSession(ctx, cmd)
	case types.CmdSendMessage:
		c.handleSendMessage(ctx, cmd)
	case types.CmdSteerTurn:
		c.handleSteerTurn(ctx, cmd)
	case types.CmdApproveTool:
		c.handleApproveTool(ctx, cmd)
	case types.CmdAnswerQuestion:
		c.handleAnswerQuestion(ctx, cmd)
	case types.CmdInterruptSession:
		c.handleInterruptSession(ctx, cmd)
	case types.CmdCompactContext:
		c.handleCompactContext(ctx, cmd)
	case types.CmdUndoLastTurn:
		c.handleUndoLastTurn(ctx, cmd)
	case types.CmdRollbackTurns:
		c.handleRollbackTurns(ctx, cmd)
	case types.CmdRenameSession:
		c.handleRenameSession(cmd)
	case types.CmdUpdateSessionConfig:
		c.handleUpdateSessionConfig(ctx, cmd)
	case types.CmdResumeSession:
		c.handleResumeSession(ctx, cmd)
	case types.CmdTakeoverSession:
		c.handleTakeoverSession(ctx, cmd)
	case types.CmdForkSession:
		c.handleForkSession(cmd)
	case types.CmdEndSession:
		c.handleEndSession(cmd)
	case types.CmdExecuteShell:
		c.handleExecuteShell(ctx, cmd)
	case types.CmdBrowseDirectory:
		c.handleBrowseDirectory(cmd)
	case types.CmdListRecentProjects:
		c.handleListRecentProjects()
	default:
		c.sendError(types.ErrInvalidArgument, cmd.SessionID, "unrecognized command type")
	}
}

func (c *conn) handleSubscribeList(ctx context.Context) {
	c.mu.Lock()
	if c.listCtx != nil {
		c.mu.Unlock()
		return
	}
	listCtx, cancel := context.WithCancel(ctx)
	c.listCtx = cancel
	c.mu.Unlock()

	ch, err := c.srv.registry.SubscribeList(listCtx)
	if err != nil {
		c.sendError(types.ErrChannelClosed, "", "subscribe_list failed: "+err.Error())
		return
	}

	c.srv.registry.PublishList()

	go func() {
		for msg := range ch {
			select {
			case c.send <- append([]byte(nil), msg.Payload...):
			default:
			}
			msg.Ack()
		}
	}()
}

func (c *conn) handleSubscribeSession(cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}

	since := int64(0)
	if cmd.SinceRevision != nil {
		since = *cmd.SinceRevision
	}

	replay, gap, ch, subID := actor.Subscribe(since)
	if gap {
		actor.Unsubscribe(subID)
		c.sendSnapshot(actor)
		replay, gap, ch, subID = actor.Subscribe(actor.GetSummary().Revision)
		if gap {
			actor.Unsubscribe(subID)
			return
		}
	} else {
		c.sendSnapshot(actor)
	}
	for _, m := range replay {
		c.writeJSON(m)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if old, exists := c.feeds[cmd.SessionID]; exists {
		old.cancel()
		actor.Unsubscribe(old.subID)
	}
	c.feeds[cmd.SessionID] = &sessionFeed{subID: subID, cancel: cancel}
	c.mu.Unlock()

	go func() {
		defer actor.Unsubscribe(subID)
		for {
			select {
			case <-feedCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				c.writeJSON(m)
			}
		}
	}()
}

func (c *conn) sendSnapshot(actor *sessionactor.Actor) {
	sess := actor.GetSession()
	c.writeJSON(&types.ServerMessage{Type: types.MsgSessionSnapshot, SessionID: sess.ID, Revision: sess.Revision, Session: &sess})
}

func (c *conn) handleUnsubscribeSession(cmd types.ClientCommand) {
	c.mu.Lock()
	feed, ok := c.feeds[cmd.SessionID]
	if ok {
		delete(c.feeds, cmd.SessionID)
	}
	c.mu.Unlock()
	if ok {
		feed.cancel()
	}
}

func (c *conn) handleCreateSession(ctx context.Context, cmd types.ClientCommand) {
	if cmd.Provider == "" || cmd.Cwd == "" {
		c.sendError(types.ErrInvalidArgument, "", "create_session requires provider and cwd")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	session := types.Session{
		Provider:        cmd.Provider,
		IntegrationMode: types.IntegrationDirect,
		ProjectPath:     cmd.Cwd,
		ProjectName:     project.Name(cmd.Cwd),
		GitBranch:       vcs.GetBranch(cmd.Cwd),
		Model:           cmd.Model,
		Effort:          cmd.Effort,
		ApprovalPolicy:  cmd.ApprovalPolicy,
		SandboxMode:     cmd.SandboxMode,
		PermissionMode:  cmd.PermissionMode,
		Status:          types.StatusActive,
		WorkStatus:      types.WorkWaiting,
		StartedAt:       now,
		LastActivityAt:  now,
	}
	actor := c.srv.registry.Create(session)

	handle, err := connector.Spawn(ctx, c.srv.cfg.Bins, cmd.Provider, cmd.Cwd, cmd.Model, cmd.Effort, actor)
	if err != nil {
		c.sendError(types.ErrTakeFailed, actor.ID(), "failed to start collaborator process: "+err.Error())
		return
	}
	if err := actor.TakeHandle(handle); err != nil {
		c.sendError(types.ErrAlreadyActive, actor.ID(), err.Error())
		return
	}

	c.writeJSON(&types.ServerMessage{Type: types.MsgSessionCreated, SessionID: actor.ID()})
	if len(cmd.Content) > 0 {
		c.handleSendMessage(ctx, types.ClientCommand{SessionID: actor.ID(), Content: cmd.Content, Images: cmd.Images})
	}
}

func (c *conn) connectorFor(sessionID string) (*sessionactor.Actor, sessionactor.ConnectorHandle, bool) {
	actor, ok := c.srv.registry.Get(sessionID)
	if !ok {
		c.sendError(types.ErrNotFound, sessionID, "session not found")
		return nil, nil, false
	}
	handle := actor.Connector()
	if handle == nil {
		c.sendError(types.ErrNotPassive, sessionID, "session has no live connector")
		return actor, nil, false
	}
	return actor, handle, true
}

func (c *conn) handleSendMessage(ctx context.Context, cmd types.ClientCommand) {
	actor, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	actor.AddMessageAndBroadcast(types.Message{Type: types.MessageUser, Content: cmd.Content, Images: cmd.Images})
	if err := handle.SendMessage(ctx, cmd.Content, cmd.Images); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "send failed: "+err.Error())
	}
}

func (c *conn) handleSteerTurn(ctx context.Context, cmd types.ClientCommand) {
	actor, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	actor.AddMessageAndBroadcast(types.Message{Type: types.MessageSteer, Content: cmd.Content})
	if err := handle.SendMessage(ctx, cmd.Content, nil); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "steer failed: "+err.Error())
	}
}

func (c *conn) handleApproveTool(ctx context.Context, cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	pending := actor.TakePendingApproval()
	if handle := actor.Connector(); handle != nil && pending != nil && pending.RequestID == cmd.RequestID {
		if err := handle.Approve(ctx, cmd.RequestID, cmd.Decision); err != nil {
			c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "approve failed: "+err.Error())
		}
		return
	}
	c.srv.perms.Respond(cmd.RequestID, cmd.Decision)
}

func (c *conn) handleAnswerQuestion(ctx context.Context, cmd types.ClientCommand) {
	_, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	if err := handle.AnswerQuestion(ctx, cmd.RequestID, cmd.Message); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "answer failed: "+err.Error())
	}
}

func (c *conn) handleInterruptSession(ctx context.Context, cmd types.ClientCommand) {
	actor, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	if err := handle.Interrupt(ctx); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "interrupt failed: "+err.Error())
		return
	}
	actor.ApplyDelta(transition.TurnAborted{Reason: "user_interrupt"})
}

func (c *conn) handleCompactContext(ctx context.Context, cmd types.ClientCommand) {
	actor, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	actor.IncrementCompactCount()
	actor.ApplyDelta(transition.ContextCompacted{})
	if err := handle.SendMessage(ctx, "/compact", nil); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "compact failed: "+err.Error())
	}
}

func (c *conn) handleUndoLastTurn(ctx context.Context, cmd types.ClientCommand) {
	actor, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	actor.ApplyDelta(transition.UndoStarted{Message: nil})
	if err := handle.SendMessage(ctx, "/undo", nil); err != nil {
		actor.ApplyDelta(transition.UndoCompleted{Success: false})
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "undo failed: "+err.Error())
		return
	}
	actor.ApplyDelta(transition.UndoCompleted{Success: true})
}

func (c *conn) handleRollbackTurns(ctx context.Context, cmd types.ClientCommand) {
	if cmd.NumTurns <= 0 {
		c.sendError(types.ErrInvalidArgument, cmd.SessionID, "rollback_turns requires num_turns > 0")
		return
	}
	_, handle, ok := c.connectorFor(cmd.SessionID)
	if !ok {
		return
	}
	if err := handle.SendMessage(ctx, "/rewind "+strconv.Itoa(cmd.NumTurns), nil); err != nil {
		c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "rollback failed: "+err.Error())
		return
	}
	if actor, ok := c.srv.registry.Get(cmd.SessionID); ok {
		actor.ApplyDelta(transition.ThreadRolledBack{NumTurns: cmd.NumTurns})
	}
}

func (c *conn) handleRenameSession(cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	actor.SetCustomNameAndNotify(cmd.Name)
}

func (c *conn) handleUpdateSessionConfig(ctx context.Context, cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	actor.SetModel(cmd.Model, cmd.Effort)
	if handle := actor.Connector(); handle != nil {
		if err := handle.SetModel(ctx, cmd.Model, cmd.Effort); err != nil {
			c.sendError(types.ErrReasoningAgentError, cmd.SessionID, "update config failed: "+err.Error())
		}
	}
}

func (c *conn) handleResumeSession(ctx context.Context, cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	if actor.Connector() != nil {
		c.sendError(types.ErrAlreadyActive, cmd.SessionID, "session already has a live connector")
		return
	}
	sess := actor.GetSession()
	handle, err := connector.Resume(ctx, c.srv.cfg.Bins, sess.Provider, sess.ProjectPath, sess.ExternalThreadID, actor)
	if err != nil {
		c.sendError(types.ErrTakeFailed, cmd.SessionID, "resume failed: "+err.Error())
		return
	}
	if err := actor.TakeHandle(handle); err != nil {
		c.sendError(types.ErrAlreadyActive, cmd.SessionID, err.Error())
	}
}

func (c *conn) handleTakeoverSession(ctx context.Context, cmd types.ClientCommand) {
	c.handleResumeSession(ctx, cmd)
}

func (c *conn) handleForkSession(cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	src := actor.GetSession()

	nthCopy := len(src.Messages)
	if cmd.NthUserMessage != nil {
		seen := 0
		for i, m := range src.Messages {
			if m.Type == types.MessageUser {
				seen++
				if seen == *cmd.NthUserMessage {
					nthCopy = i + 1
					break
				}
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	forked := types.Session{
		Provider:            src.Provider,
		IntegrationMode:     types.IntegrationPassive,
		ProjectPath:         src.ProjectPath,
		ProjectName:         src.ProjectName,
		GitBranch:           src.GitBranch,
		Model:               src.Model,
		Effort:              src.Effort,
		Messages:            append([]types.Message(nil), src.Messages[:nthCopy]...),
		Status:              types.StatusActive,
		WorkStatus:          types.WorkWaiting,
		StartedAt:           now,
		LastActivityAt:      now,
		ForkedFromSessionID: src.ID,
	}
	child := c.srv.registry.Create(forked)
	c.writeJSON(&types.ServerMessage{Type: types.MsgSessionCreated, SessionID: child.ID()})
}

func (c *conn) handleEndSession(cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	actor.ReleaseHandle()
	actor.EndLocally("user_requested")
	c.srv.perms.ClearSession(cmd.SessionID)
}

func (c *conn) handleExecuteShell(ctx context.Context, cmd types.ClientCommand) {
	actor, ok := c.srv.registry.Get(cmd.SessionID)
	if !ok {
		c.sendError(types.ErrNotFound, cmd.SessionID, "session not found")
		return
	}
	sess := actor.GetSession()

	c.writeJSON(&types.ServerMessage{Type: types.MsgShellStarted, SessionID: cmd.SessionID, Name: cmd.Command})

	result, err := c.srv.shell.Run(ctx, cmd.SessionID, sess.ProjectPath, cmd.Command, cmd.Timeout, func(chunk shellexec.Chunk) {
		c.writeJSON(&types.ServerMessage{Type: types.MsgShellOutput, SessionID: cmd.SessionID, Stdout: chunk.Stdout, Stderr: chunk.Stderr})
	})
	if err != nil {
		if permission.IsRejectedError(err) {
			c.sendError(types.ErrTakeFailed, cmd.SessionID, "shell command denied")
			return
		}
		c.sendError(types.ErrShellError, cmd.SessionID, err.Error())
		return
	}

	exitCode := result.ExitCode
	c.writeJSON(&types.ServerMessage{Type: types.MsgShellOutput, SessionID: cmd.SessionID, ExitCode: &exitCode})
}

func (c *conn) handleBrowseDirectory(cmd types.ClientCommand) {
	entries, err := project.Browse(cmd.Path)
	if err != nil {
		c.sendError(types.ErrBrowseError, "", err.Error())
		return
	}
	wireEntries := make([]types.DirEntry, len(entries))
	for i, e := range entries {
		wireEntries[i] = types.DirEntry{Name: e.Name, Path: e.Path, IsDir: e.IsDir}
	}
	c.writeJSON(&types.ServerMessage{Type: types.MsgDirectoryListing, Path: cmd.Path, Entries: wireEntries})
}

func (c *conn) handleListRecentProjects() {
	c.writeJSON(&types.ServerMessage{Type: types.MsgRecentProjects, Recent: c.srv.registry.RecentProjects(0)})
}
