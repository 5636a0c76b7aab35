package connector

import (
	"context"
	"fmt"

	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/pkg/types"
)

// Binaries names the configured collaborator CLI paths, resolved once at
// daemon startup from internal/config (ORBITDOCK_REASONING_BIN/ORBITDOCK_SHELL_BIN).
type Binaries struct {
	Reasoning string
	Shell     string
}

// Spawn starts a brand new collaborator process for a provider and installs
// it on actor via TakeHandle, the create_session path.
func Spawn(ctx context.Context, bins Binaries, provider types.Provider, dir, model, effort string, actor *sessionactor.Actor) (sessionactor.ConnectorHandle, error) {
	switch provider {
	case types.ProviderReasoning:
		return SpawnReasoning(ctx, bins.Reasoning, dir, model, effort, actor)
	case types.ProviderShell:
		return SpawnShell(ctx, bins.Shell, dir, model, actor)
	default:
		return nil, fmt.Errorf("connector: unknown provider %q", provider)
	}
}

// Resume reattaches to an existing external thread (resume_session), bounded
// by ResumeTimeout/TakeoverTimeout depending on provider.
func Resume(ctx context.Context, bins Binaries, provider types.Provider, dir, externalThreadID string, actor *sessionactor.Actor) (sessionactor.ConnectorHandle, error) {
	switch provider {
	case types.ProviderReasoning:
		ctx, cancel := context.WithTimeout(ctx, ResumeTimeout)
		defer cancel()
		return ResumeReasoning(ctx, bins.Reasoning, dir, externalThreadID, actor)
	case types.ProviderShell:
		ctx, cancel := context.WithTimeout(ctx, TakeoverTimeout)
		defer cancel()
		return TakeoverShell(ctx, bins.Shell, dir, externalThreadID, actor)
	default:
		return nil, fmt.Errorf("connector: unknown provider %q", provider)
	}
}
