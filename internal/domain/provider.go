package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// BackendFamily identifies which model family an endpoint belongs to.
// Vendor-conditional message reshaping is keyed by this enum rather than by
// string matching scattered through the call path.
type BackendFamily string

const (
	FamilyOpenAI BackendFamily = "openai"
	FamilyClaude BackendFamily = "claude"
	FamilyGemini BackendFamily = "gemini"
	FamilyOther  BackendFamily = "other"
)

// DetectFamily infers the backend family from a model name.
func DetectFamily(model string) BackendFamily {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return FamilyClaude
	case strings.Contains(m, "gemini"):
		return FamilyGemini
	case strings.Contains(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3"):
		return FamilyOpenAI
	default:
		return FamilyOther
	}
}

// MultimodalByName reports whether a model name looks like a multimodal model.
// Used only when the config does not state multimodality explicitly.
func MultimodalByName(model string) bool {
	m := strings.ToLower(model)
	for _, word := range []string{"gpt", "claude", "gemini", "vl"} {
		if strings.Contains(m, word) {
			return true
		}
	}
	return false
}

// RunOptions carries the optional parts of a model call.
type RunOptions struct {
	// Tools, when non-nil, switches the call into function-calling mode; the
	// reply must then contain at least one tool call.
	Tools []ToolSchema
	// ResponseSchema, when non-nil, requests structured output validated
	// against this JSON schema and re-serialized canonically.
	ResponseSchema json.RawMessage
}

// Completion is one validated model reply.
type Completion struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
	Model   string  `json:"model"`
}

// ModelClient is the model/completion layer: a retry wrapper over one or more
// chat-completion endpoints bound to a configured alias.
type ModelClient interface {
	Run(ctx context.Context, messages []Message, opts RunOptions) (*Completion, error)
	Alias() string
	Model() string
	Family() BackendFamily
	Multimodal() bool
	MaxContextTokens() int
}
