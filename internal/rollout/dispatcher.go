package rollout

import (
	"time"

	"github.com/robdel12/orbitdock/internal/project"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/internal/transition"
	"github.com/robdel12/orbitdock/internal/vcs"
	"github.com/robdel12/orbitdock/pkg/types"
)

// RegistryDispatcher is the Dispatcher a passive-integration provider's
// Watcher feeds: it materializes a registry row the first time a session's
// rollout file is seen and folds every subsequent record into the matching
// actor, the ShellAgent passive-discovery path.
type RegistryDispatcher struct {
	registry *registry.Registry
	provider types.Provider
}

// NewRegistryDispatcher builds a Dispatcher that registers passive sessions
// under provider.
func NewRegistryDispatcher(reg *registry.Registry, provider types.Provider) *RegistryDispatcher {
	return &RegistryDispatcher{registry: reg, provider: provider}
}

// DispatchRecord implements Dispatcher.
func (d *RegistryDispatcher) DispatchRecord(sessionID, projectPath string, record RolloutRecord) {
	actor, ok := d.registry.Get(sessionID)
	if !ok {
		actor = d.materialize(sessionID, projectPath, record)
	}

	switch record.Kind {
	case "session_meta":
		if record.Model != "" {
			actor.SetModel(record.Model, "")
		}
	case "turn_context":
		// Nothing session-visible yet; the event_msg/response_item records
		// that follow carry the actual content.
	case "event_msg":
		d.dispatchEventMsg(actor, record)
	case "response_item":
		d.dispatchResponseItem(actor, record)
	}
}

func (d *RegistryDispatcher) dispatchEventMsg(actor *sessionactor.Actor, record RolloutRecord) {
	switch record.Role {
	case "user":
		actor.ProcessEvent(transition.TurnStarted{})
		actor.ProcessEvent(transition.MessageCreated{Message: types.Message{
			Type:    types.MessageUser,
			Content: record.Content,
		}})
	case "assistant":
		actor.ProcessEvent(transition.MessageCreated{Message: types.Message{
			Type:    types.MessageAssistant,
			Content: record.Content,
		}})
		actor.ProcessEvent(transition.TurnCompleted{})
	}
}

func (d *RegistryDispatcher) dispatchResponseItem(actor *sessionactor.Actor, record RolloutRecord) {
	if record.ToolName == "" {
		return
	}
	actor.SetLastTool(record.ToolName)
	actor.ProcessEvent(transition.MessageCreated{Message: types.Message{
		Type:       types.MessageTool,
		ToolName:   record.ToolName,
		ToolOutput: record.Output,
		IsError:    record.IsError,
	}})
}

func (d *RegistryDispatcher) materialize(sessionID, projectPath string, record RolloutRecord) *sessionactor.Actor {
	cwd := projectPath
	if cwd == "" {
		cwd = record.Cwd
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	session := types.Session{
		ID:              sessionID,
		Provider:        d.provider,
		IntegrationMode: types.IntegrationPassive,
		ProjectPath:     cwd,
		ProjectName:     project.Name(cwd),
		GitBranch:       vcs.GetBranch(cwd),
		Model:           record.Model,
		Status:          types.StatusActive,
		WorkStatus:      types.WorkWaiting,
		StartedAt:       now,
		LastActivityAt:  now,
	}
	actor := d.registry.Create(session)
	d.registry.TouchProject(cwd)
	return actor
}

// SessionTimedOut implements Dispatcher: a quiet rollout file means the
// provider's own process exited without a matching hook, so the daemon ends
// the session itself.
func (d *RegistryDispatcher) SessionTimedOut(sessionID string) {
	if actor, ok := d.registry.Get(sessionID); ok {
		actor.EndLocally("rollout_inactivity")
	}
}
