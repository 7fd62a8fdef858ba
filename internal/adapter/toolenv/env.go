package toolenv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
	"presenter-ai/internal/infra/logger"
	"presenter-ai/internal/infra/tracer"
)

// Options configures one environment session.
type Options struct {
	Workspace  string
	TaskID     string
	Providers  []config.ProviderConfig
	Limits     config.LimitsConfig
	Sandbox    config.SandboxConfig
	Validators map[string]OutcomeValidator
	ImageGen   ImageGenerator
	// ExtraEnv is merged into every subprocess provider's environment.
	ExtraEnv map[string]string
	Logger   *slog.Logger
}

// Environment multiplexes tool calls across the connected providers for one
// run. It implements domain.ToolEnvironment: Execute never returns an error,
// failures come back as error-tagged tool messages so the model can react.
type Environment struct {
	workspace   string
	catalog     *domain.ToolCatalog
	providers   map[string]toolProvider
	callTimeout time.Duration
	cutoff      int
	maxLogLen   int
	logger      *slog.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	historyMu sync.Mutex
	history   []toolRecord
}

type toolRecord struct {
	Time      time.Time       `json:"time"`
	Provider  string          `json:"provider"`
	Tool      string          `json:"tool"`
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Elapsed   time.Duration   `json:"elapsed_ms"`
}

// Open prepares the workspace, reaps any stale sandbox left by an earlier run
// of the same task, connects every configured provider concurrently, and
// builds the tool catalog. The catalog is immutable for the session.
func Open(ctx context.Context, opts Options) (*Environment, error) {
	if err := os.MkdirAll(filepath.Join(opts.Workspace, "history"), 0o755); err != nil {
		return nil, domain.WrapOp("create workspace", err)
	}

	if err := reapStaleSandbox(ctx, opts.Sandbox, sandboxContainerName(opts.TaskID), opts.Logger); err != nil {
		return nil, err
	}

	extra := map[string]string{"WORKSPACE_DIR": opts.Workspace}
	for k, v := range opts.ExtraEnv {
		extra[k] = v
	}
	cfgs := make([]config.ProviderConfig, len(opts.Providers))
	copy(cfgs, opts.Providers)
	for i := range cfgs {
		if err := cfgs[i].ExpandEnv(extra); err != nil {
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Limits.ConnectTimeout)
	defer cancel()

	connected, err := connectAll(connectCtx, cfgs, opts.Logger)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		workspace:   opts.Workspace,
		catalog:     domain.NewToolCatalog(),
		providers:   make(map[string]toolProvider, len(connected)+1),
		callTimeout: opts.Limits.CallTimeout,
		cutoff:      opts.Limits.ToolCutoffLen,
		maxLogLen:   opts.Limits.MaxLogLen,
		logger:      opts.Logger,
		schemas:     make(map[string]*jsonschema.Schema),
	}

	register := func(name string, p toolProvider) error {
		schemas, err := p.schemas(connectCtx)
		if err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		env.providers[name] = p
		for _, s := range schemas {
			env.catalog.Add(name, s)
		}
		return nil
	}

	for i, p := range connected {
		if err := register(cfgs[i].Name, p); err != nil {
			env.closeProviders()
			return nil, err
		}
	}
	builtin := newBuiltinProvider(opts.Workspace, opts.Validators, opts.ImageGen)
	if err := register(domain.ProviderBuiltin, builtin); err != nil {
		env.closeProviders()
		return nil, err
	}

	env.snapshotCatalog()
	env.logger.Info("tool environment ready",
		"providers", len(env.providers), "tools", len(env.catalog.Order))
	return env, nil
}

func (e *Environment) Workspace() string            { return e.workspace }
func (e *Environment) Catalog() *domain.ToolCatalog { return e.catalog }

// Execute runs one tool call end to end: argument parsing, schema validation,
// dispatch with a per-call timeout, result shaping, and truncation. Every
// failure mode produces an error-tagged tool message instead of an error.
func (e *Environment) Execute(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "env.execute")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool.name", call.Name))

	start := time.Now()
	msg := e.execute(ctx, call)
	e.record(call, msg, time.Since(start))

	e.logger.Debug("tool executed",
		"tool", call.Name,
		"is_error", msg.IsError,
		"elapsed", time.Since(start),
		"result", logger.Clip(msg.Text(), e.maxLogLen))
	return msg
}

func (e *Environment) execute(ctx context.Context, call domain.ToolCall) domain.Message {
	args, err := call.ParseArguments()
	if err != nil {
		return errorMessage(call, fmt.Sprintf("Invalid tool arguments: %v", err))
	}

	providerName, ok := e.catalog.Provider(call.Name)
	if !ok {
		return errorMessage(call, fmt.Sprintf("Tool `%s` not found.", call.Name))
	}
	provider := e.providers[providerName]

	if err := e.validateArgs(call.Name, args); err != nil {
		return errorMessage(call, fmt.Sprintf("Invalid arguments for tool `%s`: %v", call.Name, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	blocks, isError, err := provider.call(callCtx, call.Name, args)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return errorMessage(call, fmt.Sprintf("Tool `%s` timed out after %s.", call.Name, e.callTimeout))
	case err != nil:
		return errorMessage(call, fmt.Sprintf("Tool `%s` failed: %v", call.Name, err))
	}

	blocks, err = e.shapeBlocks(call, blocks)
	if err != nil {
		return errorMessage(call, err.Error())
	}
	return domain.NewToolMessage(call, blocks, isError)
}

// shapeBlocks enforces the single-block result contract: exactly one text or
// one image block. Text that is itself a data URI becomes an image block;
// oversized text is truncated into the workspace.
func (e *Environment) shapeBlocks(call domain.ToolCall, blocks []domain.ContentBlock) ([]domain.ContentBlock, error) {
	if len(blocks) == 0 {
		return []domain.ContentBlock{domain.TextBlock("(no output)")}, nil
	}
	if len(blocks) > 1 {
		return nil, domain.NewDomainError("Environment.Execute", domain.ErrBadToolResult,
			fmt.Sprintf("tool `%s` returned %d blocks", call.Name, len(blocks)))
	}

	b := blocks[0]
	if b.Type == domain.BlockText {
		if strings.HasPrefix(b.Text, "data:image/") {
			return []domain.ContentBlock{domain.ImageBlock(b.Text)}, nil
		}
		text, err := truncateResult(e.workspace, call.Name, b.Text, e.cutoff)
		if err != nil {
			return nil, err
		}
		return []domain.ContentBlock{domain.TextBlock(text)}, nil
	}
	return []domain.ContentBlock{b}, nil
}

func (e *Environment) validateArgs(tool string, args map[string]any) error {
	schema, ok := e.catalog.Tool(tool)
	if !ok || len(schema.Parameters) == 0 {
		return nil
	}

	e.schemaMu.Lock()
	compiled, cached := e.schemas[tool]
	e.schemaMu.Unlock()
	if !cached {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(tool+".json", bytes.NewReader(schema.Parameters)); err != nil {
			return nil // unparseable schema: let the provider decide
		}
		var err error
		compiled, err = compiler.Compile(tool + ".json")
		if err != nil {
			return nil
		}
		e.schemaMu.Lock()
		e.schemas[tool] = compiled
		e.schemaMu.Unlock()
	}

	// Round-trip through JSON so numbers carry the types the validator expects.
	var value any = map[string]any{}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
	}
	return compiled.Validate(value)
}

func errorMessage(call domain.ToolCall, text string) domain.Message {
	return domain.NewToolMessage(call, []domain.ContentBlock{domain.TextBlock(text)}, true)
}

func (e *Environment) record(call domain.ToolCall, msg domain.Message, elapsed time.Duration) {
	provider, _ := e.catalog.Provider(call.Name)
	rec := toolRecord{
		Time:      time.Now(),
		Provider:  provider,
		Tool:      call.Name,
		CallID:    call.ID,
		Arguments: call.Arguments,
		Result:    msg.Text(),
		IsError:   msg.IsError,
		Elapsed:   elapsed / time.Millisecond,
	}
	e.historyMu.Lock()
	e.history = append(e.history, rec)
	e.historyMu.Unlock()
}

// snapshotCatalog writes the discovered catalog for debugging.
func (e *Environment) snapshotCatalog() {
	path := filepath.Join(e.workspace, "history", "tool_catalog.json")
	data, err := json.MarshalIndent(e.catalog, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.logger.Warn("catalog snapshot failed", "error", err)
	}
}

// Close disconnects every provider and flushes the tool call history to
// history/tool_history.jsonl.
func (e *Environment) Close() error {
	e.closeProviders()
	return e.flushHistory()
}

func (e *Environment) closeProviders() {
	for name, p := range e.providers {
		if err := p.close(); err != nil {
			e.logger.Warn("provider close error", "provider", name, "error", err)
		}
	}
}

func (e *Environment) flushHistory() error {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	if len(e.history) == 0 {
		return nil
	}

	path := filepath.Join(e.workspace, "history", "tool_history.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.WrapOp("open tool history", err)
	}

	enc := json.NewEncoder(f)
	for _, rec := range e.history {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return domain.WrapOp("write tool history", err)
		}
	}
	e.history = nil
	return f.Close()
}
