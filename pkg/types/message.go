package types

// MessageType enumerates the kinds of entries in a session's ordered log.
type MessageType string

const (
	MessageUser       MessageType = "user"
	MessageAssistant  MessageType = "assistant"
	MessageThinking   MessageType = "thinking"
	MessageTool       MessageType = "tool"
	MessageToolResult MessageType = "tool_result"
	MessageSteer      MessageType = "steer"
	MessageShell      MessageType = "shell"
)

// MaxImageBytes bounds how large an attached image's inline value/disk-path
// reference may be, under a 500-byte guard.
const MaxImageBytes = 500

// ImageRef is an attached image: either an inline value URI or a path to a file
// already extracted to disk, never both.
type ImageRef struct {
	Value string `json:"value,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Message is one entry in a session's ordered log.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Sequence  int64       `json:"sequence"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`

	ToolName  string `json:"tool_name,omitempty"`
	ToolInput string `json:"tool_input,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	Timestamp  string  `json:"timestamp"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Images     []ImageRef `json:"images,omitempty"`
}
