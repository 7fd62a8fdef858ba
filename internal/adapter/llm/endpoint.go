package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
)

// endpoint is one chat-completion backend behind a circuit breaker.
type endpoint struct {
	cfg     config.EndpointConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*chatResponse]
	logger  *slog.Logger
}

func newEndpoint(cfg config.EndpointConfig, timeout time.Duration, logger *slog.Logger) *endpoint {
	settings := gobreaker.Settings{
		Name:        cfg.Model + "@" + cfg.BaseURL,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &endpoint{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*chatResponse](settings),
		logger:  logger,
	}
}

func (e *endpoint) name() string {
	return e.cfg.Model + "@" + e.cfg.BaseURL
}

// Wire types for the OpenAI-compatible chat completion protocol.

type wireMessage struct {
	Role             string         `json:"role"`
	Content          any            `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolSchema `json:"function"`
}

type wireToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *wireJSONSchema `json:"json_schema,omitempty"`
}

type wireJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Tools          []wireTool      `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role             string         `json:"role"`
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content,omitempty"`
			ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// toWireMessages flattens domain messages into the wire format. Tool and
// assistant messages carry flat text; user messages keep their block list so
// image content survives.
func toWireMessages(messages []domain.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:             m.Role,
			ReasoningContent: m.ReasoningContent,
			ToolCallID:       m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		if m.Role == domain.RoleUser && m.HasImage() {
			wm.Content = m.Content
		} else {
			wm.Content = m.Text()
		}
		out = append(out, wm)
	}
	return out
}

// call performs one chat completion against this endpoint and validates the
// reply: at least one choice; in function-calling mode at least one tool call;
// otherwise non-empty content.
func (e *endpoint) call(ctx context.Context, messages []domain.Message, opts domain.RunOptions, nativeSchema bool) (*domain.Completion, error) {
	req := chatRequest{
		Model:       e.cfg.Model,
		Messages:    toWireMessages(messages),
		Temperature: e.cfg.Temperature,
		TopP:        e.cfg.TopP,
		MaxTokens:   e.cfg.MaxTokens,
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	if opts.ResponseSchema != nil && nativeSchema {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &wireJSONSchema{
				Name:   "response",
				Schema: opts.ResponseSchema,
				Strict: true,
			},
		}
	}

	resp, err := e.breaker.Execute(func() (*chatResponse, error) {
		return e.doChatRequest(ctx, &req)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewDomainError("endpoint.call", domain.ErrNoChoices, e.name())
	}

	choice := resp.Choices[0]
	msg := domain.Message{
		ID:               domain.NewMessageID(),
		Role:             domain.RoleAssistant,
		ReasoningContent: choice.Message.ReasoningContent,
		CreatedAt:        time.Now(),
	}
	if choice.Message.Content != "" {
		msg.Content = []domain.ContentBlock{domain.TextBlock(choice.Message.Content)}
	}
	msg.Normalize()
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	if len(opts.Tools) > 0 && len(msg.ToolCalls) == 0 {
		return nil, domain.NewDomainError("endpoint.call", domain.ErrNoToolCall, e.name())
	}
	if len(opts.Tools) == 0 && len(msg.Content) == 0 {
		return nil, domain.NewDomainError("endpoint.call", domain.ErrEmptyCompletion, e.name())
	}

	model := resp.Model
	if model == "" {
		model = e.cfg.Model
	}
	return &domain.Completion{
		Message: msg,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: model,
	}, nil
}

func (e *endpoint) doChatRequest(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapOp("marshal chat request", err)
	}
	data, err := e.doJSONRequest(ctx, e.cfg.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, domain.WrapOp("decode chat response", err)
	}
	return &resp, nil
}

func (e *endpoint) doJSONRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapOp("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	httpResp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, domain.WrapOp("http request", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, domain.WrapOp("read response body", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, data)
	}
	return data, nil
}

// mapHTTPError converts backend status codes to domain sentinels so the retry
// layer and callers can branch with errors.Is.
func mapHTTPError(status int, body []byte) error {
	detail := apiErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewDomainError("llm request", domain.ErrRateLimit, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewDomainError("llm request", domain.ErrAuthInvalid, detail)
	case status >= 500:
		return domain.NewDomainError("llm request", domain.ErrServerError,
			fmt.Sprintf("status %d: %s", status, detail))
	default:
		return fmt.Errorf("llm request: unexpected status %d: %s", status, detail)
	}
}

func apiErrorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return string(body)
}
