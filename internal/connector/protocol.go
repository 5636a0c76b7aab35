// Package connector spawns and drives the collaborator CLI processes behind
// a Direct session under the ReasoningAgent CLI protocol: one
// subprocess per session, NDJSON framed over stdin/stdout, a control-request/
// control-response round trip for everything that isn't a plain event.
//
// Grounded on internal/mcp's exec.Command + goroutine-per-stream plumbing
// (the daemon already talks NDJSON-like framed protocols to one other kind
// of subprocess); this package generalizes that to a persistent, bidirectional
// control channel instead of a request/response SDK transport.
package connector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ControlTimeout bounds a single control-request round trip.
const ControlTimeout = 30 * time.Second

// inboundFrame is the tagged union of every message a collaborator process
// can write to stdout.
type inboundFrame struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	ToolUseID  string          `json:"toolUseID,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// outboundFrame is the tagged union of every message the daemon writes to a
// collaborator process's stdin.
type outboundFrame struct {
	Type                string          `json:"type"`
	RequestID           string          `json:"request_id,omitempty"`
	Content             string          `json:"content,omitempty"`
	Behavior            string          `json:"behavior,omitempty"`
	Input               json.RawMessage `json:"input,omitempty"`
	ToolUseID           string          `json:"toolUseID,omitempty"`
	UpdatedPermissions  json.RawMessage `json:"updatedPermissions,omitempty"`
	Subtype             string          `json:"subtype,omitempty"`
	Response            json.RawMessage `json:"response,omitempty"`
}

// process owns one collaborator subprocess's stdio plumbing: a single writer
// goroutine is never needed (control requests are infrequent enough to write
// synchronously under a mutex), but reads run on a dedicated goroutine that
// hands each frame to onFrame.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan inboundFrame

	onFrame func(inboundFrame)

	closeOnce sync.Once
	closed    chan struct{}
}

// startProcess launches bin with args in dir and begins reading its stdout.
// onFrame is invoked on a dedicated goroutine for every decoded line that
// isn't consumed as a control-response reply.
func startProcess(ctx context.Context, bin string, args []string, dir string, onFrame func(inboundFrame)) (*process, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[string]chan inboundFrame),
		onFrame: onFrame,
		closed:  make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

func (p *process) readLoop() {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Warn().Err(err).Msg("connector: malformed stdout frame")
			continue
		}

		if frame.Type == "control_response" && frame.RequestID != "" {
			p.pendingMu.Lock()
			ch, ok := p.pending[frame.RequestID]
			if ok {
				delete(p.pending, frame.RequestID)
			}
			p.pendingMu.Unlock()
			if ok {
				ch <- frame
				continue
			}
		}

		if p.onFrame != nil {
			p.onFrame(frame)
		}
	}
	close(p.closed)
}

// sendControl writes a control_request frame and blocks for its matching
// control_response, up to ControlTimeout.
func (p *process) sendControl(ctx context.Context, kind string, build func(*outboundFrame)) (inboundFrame, error) {
	id := uuid.NewString()
	frame := outboundFrame{Type: "control_request", RequestID: id, Subtype: kind}
	if build != nil {
		build(&frame)
	}

	reply := make(chan inboundFrame, 1)
	p.pendingMu.Lock()
	p.pending[id] = reply
	p.pendingMu.Unlock()

	if err := p.writeFrame(frame); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return inboundFrame{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, ControlTimeout)
	defer cancel()

	select {
	case resp := <-reply:
		if resp.Subtype == "error" {
			return resp, fmt.Errorf("connector control request failed: %s", resp.Error)
		}
		return resp, nil
	case <-timeoutCtx.Done():
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return inboundFrame{}, fmt.Errorf("connector control request %q timed out", kind)
	case <-p.closed:
		return inboundFrame{}, fmt.Errorf("connector process exited before replying to %q", kind)
	}
}

// sendUser writes a plain user message frame without waiting for a reply.
func (p *process) sendUser(content string) error {
	return p.writeFrame(outboundFrame{Type: "user", Content: content})
}

func (p *process) writeFrame(frame outboundFrame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	_, err = p.stdin.Write(data)
	return err
}

// Close terminates the subprocess, signaling it via stdin close first and
// falling back to a kill if it doesn't exit promptly.
func (p *process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		done := make(chan struct{})
		go func() {
			_ = p.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-done
		}
	})
	return err
}
