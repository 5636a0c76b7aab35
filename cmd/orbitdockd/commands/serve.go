package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/config"
	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/hooks"
	"github.com/robdel12/orbitdock/internal/mcp"
	"github.com/robdel12/orbitdock/internal/permission"
	"github.com/robdel12/orbitdock/internal/persistence"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/rollout"
	"github.com/robdel12/orbitdock/internal/server"
	"github.com/robdel12/orbitdock/internal/shellexec"
	"github.com/robdel12/orbitdock/pkg/types"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides config/default)")
}

func runServe(cmd *cobra.Command, args []string) error {
	home := config.ResolveHome()
	paths := config.GetPaths(home)
	if err := os.MkdirAll(paths.Root, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(home)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	token, err := auth.LoadOrCreate(paths.Token)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	store, err := persistence.Open(paths.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := registry.New(store)
	defer reg.Close()

	restoreSessions(reg, store)

	perms := permission.NewChecker()
	shellExecutor := shellexec.New(
		shellexec.WithPermissionChecker(perms),
		shellexec.WithExecPermissions(map[string]permission.PermissionAction{}),
		shellexec.WithExternalDirAction(permission.ActionAsk),
	)

	ingestor := hooks.New(reg, persistence.Summarizer{}, []string{
		fmt.Sprintf("**/%s/**", strings.TrimPrefix(trimHome(cfg.ShellSessionsDir, home), "/")),
	})

	mcpClient := connectMCPServers(cfg.MCP)

	var watchers []*rollout.Watcher
	if !cfg.DisableRolloutWatcher {
		shellWatcher, err := rollout.New(cfg.ShellSessionsDir, types.ProviderShell, rollout.NewRegistryDispatcher(reg, types.ProviderShell))
		if err != nil {
			log.Warn().Err(err).Msg("failed to start shell-agent rollout watcher")
		} else {
			if files, err := rollout.LoadState(paths.RolloutState); err != nil {
				log.Warn().Err(err).Msg("failed to load rollout watcher state")
			} else {
				shellWatcher.HydrateState(files)
			}
			watchers = append(watchers, shellWatcher)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, w := range watchers {
		w.Start(ctx)
	}

	srv := server.New(server.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		Token:       token,
		Bins:        connector.Binaries{Reasoning: cfg.ReasoningBin, Shell: cfg.ShellBin},
	}, reg, ingestor, perms, shellExecutor, mcpClient)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info().Msg("shutting down")
	for _, w := range watchers {
		w.Stop()
		if err := w.SaveState(paths.RolloutState); err != nil {
			log.Warn().Err(err).Msg("failed to save rollout watcher state")
		}
	}
	if mcpClient != nil {
		if err := mcpClient.Close(); err != nil {
			log.Warn().Err(err).Msg("mcp client close error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}

// restoreSessions re-attaches actors to every row the store has marked
// active, then ends the ones a startup sweep decides are too stale to keep
// around.
func restoreSessions(reg *registry.Registry, store *persistence.Store) {
	ctx := context.Background()

	sessions, err := store.LoadActiveSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load active sessions")
		return
	}
	for _, sess := range sessions {
		reg.Create(sess)
	}
	log.Info().Int("count", len(sessions)).Msg("restored active sessions")

	stale, err := store.SweepStalePassive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stale-passive sweep failed")
	}
	for _, id := range stale {
		if actor, ok := reg.Get(id); ok {
			actor.EndLocally("stale_passive_startup_sweep")
		}
	}

	emptyShells, err := store.SweepEmptyShells(ctx)
	if err != nil {
		log.Error().Err(err).Msg("empty-shell sweep failed")
	}
	for _, id := range emptyShells {
		if actor, ok := reg.Get(id); ok {
			actor.EndLocally("stale_empty_shell_startup_sweep")
		}
	}
}

// trimHome strips the configured sessions directory down to a path relative
// to home. The hook filter glob built from it is prefixed with "**/", so it
// matches a transcript path under that directory whether the payload reports
// it absolute (under the CLI's own $HOME) or relative to home.
func trimHome(dir, home string) string {
	if len(dir) > len(home) && dir[:len(home)] == home {
		return dir[len(home)+1:]
	}
	return dir
}

// connectMCPServers dials every configured MCP server and returns a client
// exposing their combined tool list, skipping (and logging) any server that
// fails to connect so one bad config doesn't block the rest of startup.
func connectMCPServers(servers map[string]types.MCPServerConfig) *mcp.Client {
	if len(servers) == 0 {
		return nil
	}
	client := mcp.NewClient()
	ctx := context.Background()
	for name, sc := range servers {
		if sc.Enabled != nil && !*sc.Enabled {
			continue
		}
		cfg := &mcp.Config{
			Enabled:     true,
			Type:        mcp.TransportType(sc.Type),
			URL:         sc.URL,
			Headers:     sc.Headers,
			Command:     sc.Command,
			Environment: sc.Environment,
			Timeout:     sc.Timeout,
		}
		if err := client.AddServer(ctx, name, cfg); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
		}
	}
	return client
}
