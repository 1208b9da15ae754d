// Package models defines the shared message and LLM data structures used
// across channels, the plugin kernel, and the agent loop.
package models

import "time"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// IncomingMessage is the normalized envelope a channel adapter produces
// for every wire message it receives. ID is unique within
// (ChannelType, ChannelID).
type IncomingMessage struct {
	ID          string
	ChannelType string
	ChannelID   string
	SenderID    string
	SenderName  string
	Content     string
	Timestamp   time.Time
	ReplyTo     string
	Media       []Attachment
	Metadata    map[string]any
}

// DedupKey renders the at-most-once processing key for this message.
func (m IncomingMessage) DedupKey() string {
	return m.ChannelType + ":" + m.ChannelID + ":" + m.ID
}

// OutgoingMessage is a reply routed to a channel adapter by channel type.
type OutgoingMessage struct {
	ChannelType string
	ChannelID   string
	Content     string
	ReplyTo     string
	Media       []Attachment
	Metadata    map[string]any
}

// Attachment references media downloaded by a channel adapter.
type Attachment struct {
	Type     string // "image", "document", "audio", "video"
	Path     string // local path after download
	URL      string
	MimeType string
	Size     int64
}

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant turns requesting tools
	ToolCallID string     // tool turns answering a call
}

// ToolCall is a tool invocation requested by the model. Arguments is the
// raw JSON string as received over the wire.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LLMResponse is the normalized result of one chat completion.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Model     string
	TokensIn  int
	TokensOut int
}

// HasToolCalls reports whether the model requested tool execution.
func (r *LLMResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
