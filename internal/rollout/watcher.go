// Package rollout watches a provider's on-disk rollout/transcript directory
// and turns file writes into session deltas. It is the
// passive-integration complement to internal/connector: a provider's own
// session.jsonl append is the only signal a passive session ever gets.
//
// Grounded on internal/vcs's fsnotify.Watcher idiom (watch a directory,
// debounce, publish on change) generalized from "one git HEAD" to "many
// per-file read cursors".
package rollout

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/pkg/types"
)

// DebounceWindow coalesces bursts of writes to the same file into a single
// inspection, debounced 150ms.
const DebounceWindow = 150 * time.Millisecond

// EagerInspectWindow is how far back the watcher looks at startup for
// rollout files that may have been written while the daemon was down: a
// 15-min eager-inspect window.
const EagerInspectWindow = 15 * time.Minute

// InactivityTimeout ends a passive session whose rollout file has gone quiet,
// since nothing else will ever tell the daemon the provider process exited:
// a 120s per-session inactivity timeout.
const InactivityTimeout = 120 * time.Second

// FileState is the cursor and classification the watcher keeps per rollout
// file.
type FileState struct {
	Path            string
	Offset          int64
	TailBuffer      []byte
	SessionID       string
	ProjectPath     string
	ModelProvider   string
	IgnoreExisting  bool
	PendingToolCall map[string]bool
	SawUserEvent    bool
	SawAgentEvent   bool
	LastSeenAt      time.Time
}

// Dispatcher receives record-level events the watcher parses out of a
// provider's rollout file; RegistryDispatcher is the implementation the
// daemon uses.
type Dispatcher interface {
	// DispatchRecord handles one parsed JSONL record for the session
	// identified by sessionID, the ID bound to the file through BindSession.
	DispatchRecord(sessionID, projectPath string, record RolloutRecord)
	// SessionTimedOut is called when a tracked file has gone quiet past
	// InactivityTimeout.
	SessionTimedOut(sessionID string)
}

// RolloutRecord is one decoded line of a provider's rollout JSONL file.
// The rollout log names these record kinds: session_meta, turn_context, event_msg,
// response_item.
type RolloutRecord struct {
	Kind      string `json:"kind"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Model     string `json:"model,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Watcher tails every rollout file under Dir that matches the configured
// provider's naming convention and feeds parsed records to a Dispatcher.
type Watcher struct {
	dir        string
	provider   types.Provider
	dispatcher Dispatcher

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]*FileState

	debounce map[string]*time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher over dir (e.g. ~/.reasoning-agent/sessions) for the
// given provider. The caller starts it with Start.
func New(dir string, provider types.Provider, dispatcher Dispatcher) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err == nil {
		_ = fsw.Add(dir)
	}

	return &Watcher{
		dir:        dir,
		provider:   provider,
		dispatcher: dispatcher,
		fsw:        fsw,
		files:      make(map[string]*FileState),
		debounce:   make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start performs the eager-inspect startup sweep and begins watching for
// further writes.
func (w *Watcher) Start(ctx context.Context) {
	w.eagerInspect()
	go w.run(ctx)
	go w.inactivitySweep(ctx)
}

// Stop tears down the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleInspect(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("dir", w.dir).Msg("rollout watcher error")
		}
	}
}

// scheduleInspect debounces repeated writes to the same file into a single
// inspectFile call after DebounceWindow of quiet.
func (w *Watcher) scheduleInspect(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.debounce[path]; ok {
		t.Stop()
	}
	w.debounce[path] = time.AfterFunc(DebounceWindow, func() {
		w.inspectFile(path)
	})
}

// eagerInspect walks dir once at startup, inspecting every rollout file
// modified within EagerInspectWindow — catching writes made while the daemon
// was down.
func (w *Watcher) eagerInspect() {
	cutoff := time.Now().Add(-EagerInspectWindow)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		w.inspectFile(filepath.Join(w.dir, e.Name()))
	}
}

// inactivitySweep periodically ends sessions whose files have gone quiet
// past InactivityTimeout.
func (w *Watcher) inactivitySweep(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			cutoff := time.Now().Add(-InactivityTimeout)
			for path, st := range w.files {
				if st.SessionID != "" && st.LastSeenAt.Before(cutoff) {
					sid := st.SessionID
					delete(w.files, path)
					go w.dispatcher.SessionTimedOut(sid)
				}
			}
			w.mu.Unlock()
		}
	}
}
