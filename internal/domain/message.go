package domain

import (
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content block types.
const (
	BlockText     = "text"
	BlockImageURL = "image_url"
	BlockImage    = "image" // vendor-structured image block, see ImageSource
)

// ImageRef holds an embeddable image reference (URL or data URI).
type ImageRef struct {
	URL string `json:"url"`
}

// ImageSource is the vendor-structured base64 image payload used by backends
// that do not accept data URIs.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one typed element of a message's content list.
type ContentBlock struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *ImageRef    `json:"image_url,omitempty"`
	Source   *ImageSource `json:"source,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds an image reference block from a URL or data URI.
func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImageURL, ImageURL: &ImageRef{URL: url}}
}

// Message represents a single message in a conversation. Content is always a
// list of typed blocks, never a bare string; NewMessage and Normalize enforce
// this.
type Message struct {
	ID               string         `json:"id"`
	Role             string         `json:"role"`
	Content          []ContentBlock `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	FromTool         string         `json:"from_tool,omitempty"`
	IsError          bool           `json:"is_error"`
	CreatedAt        time.Time      `json:"created_at"`
	ExtraInfo        map[string]any `json:"extra_info,omitempty"`
}

// NewMessage creates a normalized message from a bare text string.
// Empty or whitespace-only text yields an empty content list.
func NewMessage(role, text string) Message {
	m := Message{
		ID:        NewMessageID(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	if strings.TrimSpace(text) != "" {
		m.Content = []ContentBlock{TextBlock(text)}
	}
	m.Normalize()
	return m
}

// NewToolMessage creates a normalized tool observation linked to a call.
func NewToolMessage(call ToolCall, blocks []ContentBlock, isError bool) Message {
	m := Message{
		ID:         NewMessageID(),
		Role:       RoleTool,
		Content:    blocks,
		ToolCallID: call.ID,
		FromTool:   call.Name,
		IsError:    isError,
		CreatedAt:  time.Now(),
	}
	m.Normalize()
	return m
}

// NewMessageID generates a ULID for a message.
func NewMessageID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Normalize trims text blocks and drops blocks that are empty after trimming.
// It is idempotent: normalizing an already-normalized message is a no-op.
func (m *Message) Normalize() {
	if m.Content == nil {
		m.Content = []ContentBlock{}
		return
	}
	out := m.Content[:0]
	for _, b := range m.Content {
		if b.Type == BlockText {
			b.Text = strings.TrimSpace(b.Text)
			if b.Text == "" {
				continue
			}
		}
		out = append(out, b)
	}
	m.Content = out
}

// Text returns the flat text projection of the message: text blocks are
// concatenated, image blocks render as an "<image>" placeholder, and a
// message with no content at all falls back to its serialized tool calls.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			parts = append(parts, b.Text)
		case BlockImageURL, BlockImage:
			parts = append(parts, "<image>")
		}
	}
	if len(parts) == 0 {
		for _, tc := range m.ToolCalls {
			data, err := json.Marshal(tc)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// HasImage reports whether any content block carries an image.
func (m Message) HasImage() bool {
	for _, b := range m.Content {
		if b.Type == BlockImageURL || b.Type == BlockImage {
			return true
		}
	}
	return false
}

// ToolCall represents a model's request to invoke a tool. Arguments hold the
// raw JSON argument object; SetArguments re-serializes parsed arguments so
// that downstream logging is deterministic.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParseArguments decodes the call's arguments into a JSON object. An empty
// argument string means "no arguments" and yields a nil map. A non-object
// payload is an error.
func (c *ToolCall) ParseArguments() (map[string]any, error) {
	if len(c.Arguments) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return nil, WrapOp("parse tool arguments", err)
	}
	return args, nil
}

// SetArguments canonicalizes args back into the call.
func (c *ToolCall) SetArguments(args map[string]any) error {
	if args == nil {
		c.Arguments = nil
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return WrapOp("canonicalize tool arguments", err)
	}
	c.Arguments = data
	return nil
}
