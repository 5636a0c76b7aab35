package rollout

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// persistedState is the on-disk shape of the watcher's per-file cursors,
// written to config.Paths.RolloutState so a restart doesn't re-read rollout
// files from the beginning.
type persistedState struct {
	Files map[string]*FileState `json:"files"`
}

// LoadState reads a previously saved cursor file. A missing file is not an
// error — it just means every rollout file starts at offset 0.
func LoadState(path string) (map[string]*FileState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*FileState), nil
	}
	if err != nil {
		return nil, err
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return make(map[string]*FileState), nil
	}
	if st.Files == nil {
		st.Files = make(map[string]*FileState)
	}
	return st.Files, nil
}

// SaveState persists the watcher's current cursors so the next startup's
// eager-inspect pass resumes rather than replays.
func (w *Watcher) SaveState(path string) error {
	w.mu.Lock()
	st := persistedState{Files: make(map[string]*FileState, len(w.files))}
	for k, v := range w.files {
		st.Files[k] = v
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// HydrateState seeds the watcher's in-memory cursors from a previously
// loaded state map, e.g. after LoadState at daemon startup.
func (w *Watcher) HydrateState(files map[string]*FileState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range files {
		w.files[k] = v
	}
}

// inspectFile reads newly appended bytes from path since the last known
// offset, splits them into complete JSONL lines, and dispatches each parsed
// record. Partial trailing lines are kept in TailBuffer until the next
// write completes them.
func (w *Watcher) inspectFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	w.mu.Lock()
	st, ok := w.files[path]
	if !ok {
		st = &FileState{
			Path:            path,
			ProjectPath:     "",
			PendingToolCall: make(map[string]bool),
		}
		w.files[path] = st
	}
	offset := st.Offset
	tail := st.TailBuffer
	w.mu.Unlock()

	info, err := f.Stat()
	if err != nil || info.Size() < offset {
		// File truncated or replaced; restart from the top.
		offset = 0
		tail = nil
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	var lines []string
	buf := tail
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			if buf[len(buf)-1] == '\n' {
				lines = append(lines, string(buf[:len(buf)-1]))
				buf = nil
			}
		}
		if err != nil {
			break
		}
	}

	newOffset, _ := f.Seek(0, os.SEEK_CUR)

	for _, line := range lines {
		if line == "" {
			continue
		}
		var rec RolloutRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping malformed rollout line")
			continue
		}
		w.handleRecord(st, rec)
	}

	w.mu.Lock()
	st.Offset = newOffset
	st.TailBuffer = buf
	st.LastSeenAt = time.Now()
	w.mu.Unlock()
}

// handleRecord classifies and dispatches one rollout record, applying the
// agent-event gate: once an assistant event has been seen in the current
// turn, raw tool_call records are suppressed in favor of the agent's own
// narration.
func (w *Watcher) handleRecord(st *FileState, rec RolloutRecord) {
	switch rec.Kind {
	case "session_meta":
		w.mu.Lock()
		if rec.Cwd != "" {
			st.ProjectPath = rec.Cwd
		}
		if rec.Model != "" {
			st.ModelProvider = rec.Model
		}
		w.mu.Unlock()
	case "event_msg", "response_item":
		if rec.Role == "assistant" {
			w.mu.Lock()
			st.SawAgentEvent = true
			w.mu.Unlock()
		} else if rec.Role == "user" {
			w.mu.Lock()
			st.SawUserEvent = true
			st.SawAgentEvent = false
			w.mu.Unlock()
		}
		if rec.ToolName != "" {
			w.mu.Lock()
			gated := st.SawAgentEvent
			w.mu.Unlock()
			if gated {
				return
			}
		}
	}

	if st.SessionID == "" {
		return
	}
	w.dispatcher.DispatchRecord(st.SessionID, st.ProjectPath, rec)
}

// BindSession associates a discovered rollout file with a session ID.
// Records are dispatched only for files bound this way; the watcher does not
// bind files on its own, and records read before a file is bound are not
// replayed.
func (w *Watcher) BindSession(path, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.files[path]; ok {
		st.SessionID = sessionID
	}
}

// Provider reports the provider this watcher instance is scoped to.
func (w *Watcher) Provider() string {
	return string(w.provider)
}

// Dir reports the directory this watcher instance is scoped to.
func (w *Watcher) Dir() string {
	return filepath.Clean(w.dir)
}
