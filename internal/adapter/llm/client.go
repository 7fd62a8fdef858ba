package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
	"presenter-ai/internal/infra/tracer"
)

// Client implements domain.ModelClient over one or more OpenAI-compatible
// endpoints bound to a configured alias. Retries cycle through the endpoints
// round-robin; a concurrency semaphore and an optional rate limiter pace the
// calls.
type Client struct {
	alias         string
	family        domain.BackendFamily
	multimodal    bool
	contextWindow int
	softParsing   bool
	minImageSize  int
	retryTimes    int

	endpoints []*endpoint
	sem       chan struct{}
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New builds a client for the alias from its model configuration.
func New(alias string, mc config.ModelConfig, limits config.LimitsConfig, logger *slog.Logger) (*Client, error) {
	eps := mc.AllEndpoints()
	if len(eps) == 0 {
		return nil, domain.NewDomainError("llm.New", domain.ErrModelNotFound,
			fmt.Sprintf("model %q has no endpoints", alias))
	}

	c := &Client{
		alias:         alias,
		family:        domain.DetectFamily(eps[0].Model),
		contextWindow: mc.ContextWindow,
		softParsing:   mc.SoftParsing,
		minImageSize:  mc.MinImageSize,
		retryTimes:    limits.RetryTimes,
		logger:        logger.With("model", alias),
	}
	if c.contextWindow <= 0 {
		c.contextWindow = limits.ContextBudget
	}
	if mc.Multimodal != nil {
		c.multimodal = *mc.Multimodal
	} else {
		c.multimodal = domain.MultimodalByName(eps[0].Model)
	}

	maxConcurrent := mc.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	c.sem = make(chan struct{}, maxConcurrent)

	if mc.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(mc.RequestsPerSecond), 1)
	}

	for _, ep := range eps {
		c.endpoints = append(c.endpoints, newEndpoint(ep, limits.CallTimeout, c.logger))
	}
	return c, nil
}

func (c *Client) Alias() string                { return c.alias }
func (c *Client) Model() string                { return c.endpoints[0].cfg.Model }
func (c *Client) Family() domain.BackendFamily { return c.family }
func (c *Client) Multimodal() bool             { return c.multimodal }
func (c *Client) MaxContextTokens() int        { return c.contextWindow }

// Run performs one validated chat completion. Each attempt targets the next
// endpoint in round-robin order; when every attempt fails the returned error
// aggregates each endpoint's failure.
func (c *Client) Run(ctx context.Context, messages []domain.Message, opts domain.RunOptions) (*domain.Completion, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.run")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("llm.alias", c.alias),
		tracer.IntAttr("llm.messages", len(messages)),
	)

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	nativeSchema := opts.ResponseSchema != nil && !c.softParsing

	var failures []string
	for attempt := 0; attempt < c.retryTimes; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		ep := c.endpoints[attempt%len(c.endpoints)]

		completion, err := ep.call(ctx, messages, opts, nativeSchema)
		if err == nil && opts.ResponseSchema != nil {
			err = c.applyResponseSchema(completion, opts.ResponseSchema)
		}
		if err == nil {
			tracer.SetOK(span)
			return completion, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("model call failed",
			"endpoint", ep.name(), "attempt", attempt+1, "error", err)
		failures = append(failures, fmt.Sprintf("[%s] %v", ep.name(), err))
	}

	err := domain.NewDomainError("Client.Run", domain.ErrModelExhausted,
		fmt.Sprintf("%d attempts: %s", c.retryTimes, strings.Join(failures, "; ")))
	tracer.RecordError(span, err)
	return nil, err
}

// applyResponseSchema extracts the JSON payload from the completion, validates
// it against the requested schema, and replaces the content with the canonical
// serialization.
func (c *Client) applyResponseSchema(completion *domain.Completion, schema json.RawMessage) error {
	raw, err := ExtractJSON(completion.Message.Text())
	if err != nil {
		return err
	}
	if err := validateAgainstSchema(raw, schema); err != nil {
		return err
	}
	completion.Message.Content = []domain.ContentBlock{domain.TextBlock(string(raw))}
	return nil
}

func validateAgainstSchema(payload, schema json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(schema)); err != nil {
		return domain.WrapOp("add response schema", err)
	}
	compiled, err := compiler.Compile("response.json")
	if err != nil {
		return domain.WrapOp("compile response schema", err)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return domain.WrapOp("decode structured output", err)
	}
	if err := compiled.Validate(value); err != nil {
		return domain.WrapOp("validate structured output", err)
	}
	return nil
}
