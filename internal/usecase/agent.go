package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/logger"
	"presenter-ai/internal/infra/tracer"
)

// Reasoning tools must be the only call in a reply; they inspect or plan and
// their output is meaningless interleaved with side-effecting calls.
var reasoningTools = map[string]bool{
	domain.ToolThink: true,
	"inspect_slide":  true,
}

// sandboxPreamble is appended to the system prompt of agents that can run
// shell commands. Formatted with the current date, the workspace path, and
// the tool output cutoff.
const sandboxPreamble = `

<Environment>
Current date: %s
Working directory: %s
Platform: Debian Linux container

All shell commands run inside an isolated sandbox container. The working
directory is shared between the sandbox and the host; files written anywhere
else are lost when the command finishes. You can install any packages or
command-line tools you need.
</Environment>

<Task Guidelines>
- Tool output longer than %d characters is truncated at the preceding line
  break. The full content is saved locally and readable via read_file with
  the offset parameter.
- Every response must contain a valid tool call.
</Task Guidelines>`

// AgentOptions configures one agent instance.
type AgentOptions struct {
	Name     string
	Role     domain.RoleConfig
	Client   domain.ModelClient
	Env      domain.ToolEnvironment
	Language string
	// Vars feeds the role's instruction template on the first turn.
	Vars map[string]any
	// CutoffLen is the tool output truncation threshold, surfaced to the
	// model in the sandbox preamble.
	CutoffLen int
	Logger    *slog.Logger
	MaxLogLen int
}

// Agent runs one role's action/execute cycle against the tool environment
// until a confirmed finalize call terminates the loop.
type Agent struct {
	name     string
	role     domain.RoleConfig
	client   domain.ModelClient
	env      domain.ToolEnvironment
	tools    []domain.ToolSchema
	conv     *Conversation
	governor *budgetGovernor
	vars     map[string]any
	logger   *slog.Logger
	maxLog   int
}

// NewAgent selects the role's tool subset from the environment catalog and
// starts the conversation with the role's system prompt. Image inspection
// tools are withheld from non-multimodal models; when the agent can run shell
// commands the system prompt gains the sandbox preamble.
func NewAgent(opts AgentOptions) (*Agent, error) {
	tools, err := domain.SelectTools(opts.Env.Catalog(), opts.Role)
	if err != nil {
		return nil, domain.WrapOp("agent "+opts.Name, err)
	}
	if !opts.Client.Multimodal() {
		kept := tools[:0]
		for _, t := range tools {
			if t.Name == "inspect_slide" {
				continue
			}
			kept = append(kept, t)
		}
		tools = kept
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	system, err := opts.Role.SystemPrompt(language)
	if err != nil {
		return nil, domain.WrapOp("agent "+opts.Name, err)
	}
	for _, t := range tools {
		if t.Name == "execute_command" {
			system += fmt.Sprintf(sandboxPreamble,
				time.Now().Format("2006-01-02"), opts.Env.Workspace(), opts.CutoffLen)
			break
		}
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		name:     opts.Name,
		role:     opts.Role,
		client:   opts.Client,
		env:      opts.Env,
		tools:    tools,
		conv:     NewConversation(system),
		governor: newBudgetGovernor(opts.Client.MaxContextTokens()),
		vars:     opts.Vars,
		logger:   log.With("agent", opts.Name),
		maxLog:   opts.MaxLogLen,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Conversation exposes the transcript, for persistence and tests.
func (a *Agent) Conversation() *Conversation { return a.conv }

// Action runs one model turn: on the first turn it renders the role's
// instruction template into the opening user message; every turn passes the
// budget governor before the model is called, so notices land in the
// conversation and the hard stop fires before a doomed request is sent.
func (a *Agent) Action(ctx context.Context) (domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.action")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("agent.name", a.name))

	if a.conv.OnlySystem() {
		first, err := a.renderInstruction()
		if err != nil {
			return domain.Message{}, err
		}
		a.conv.Append(domain.NewMessage(domain.RoleUser, first))
	}

	notice, err := a.governor.check(a.conv.Cost().Total)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, err
	}
	if notice != "" {
		a.logger.Warn("context notice injected", "notice", logger.Clip(notice, a.maxLog))
		a.conv.Append(domain.NewMessage(domain.RoleUser, notice))
	}

	completion, err := a.client.Run(ctx, a.conv.Messages(), domain.RunOptions{Tools: a.tools})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, err
	}

	usage := completion.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = estimateTokens(append(a.conv.Messages(), completion.Message))
	}
	a.conv.AddUsage(usage)
	a.conv.Append(completion.Message)

	a.logger.Info("model reply",
		"tool_calls", len(completion.Message.ToolCalls),
		"cost", a.conv.Cost().String(),
		"content", logger.Clip(completion.Message.Text(), a.maxLog))
	return completion.Message, nil
}

// Execute dispatches one reply's tool calls. Malformed arguments and misused
// reasoning tools become synthetic error observations without dispatch; the
// rest run concurrently and the batch waits for every call. Observations are
// appended in call order. When a finalize call's result echoes its declared
// outcome exactly, the loop is done and that outcome is returned.
func (a *Agent) Execute(ctx context.Context, calls []domain.ToolCall) (string, []domain.Message, bool) {
	results := make([]domain.Message, len(calls))
	dispatch := make([]bool, len(calls))
	finalizeIdx := -1
	var declaredOutcome string

	for i := range calls {
		call := &calls[i]
		args, err := call.ParseArguments()
		if err != nil {
			results[i] = syntheticError(*call, fmt.Sprintf("Invalid tool arguments: %v", err))
			continue
		}
		if reasoningTools[call.Name] && len(calls) > 1 {
			results[i] = syntheticError(*call,
				fmt.Sprintf("Tool `%s` must be the only call in a reply.", call.Name))
			continue
		}
		if call.Name == domain.ToolFinalize {
			if args == nil {
				args = map[string]any{}
			}
			declaredOutcome, _ = args["outcome"].(string)
			args["agent_name"] = a.name
			if err := call.SetArguments(args); err != nil {
				results[i] = syntheticError(*call, err.Error())
				continue
			}
			finalizeIdx = i
		}
		dispatch[i] = true
	}

	var wg sync.WaitGroup
	for i := range calls {
		if !dispatch[i] {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.env.Execute(ctx, calls[i])
		}(i)
	}
	wg.Wait()

	msgs := make([]domain.Message, 0, len(results))
	for _, r := range results {
		r = adaptObservation(r, a.client.Family())
		a.conv.Append(r)
		msgs = append(msgs, r)
	}

	if finalizeIdx >= 0 {
		final := results[finalizeIdx]
		if !final.IsError && final.Text() == declaredOutcome {
			return declaredOutcome, msgs, true
		}
	}
	return "", msgs, false
}

// Loop drives action/execute cycles until a confirmed finalize, emitting
// every assistant reply and tool observation as it is produced.
func (a *Agent) Loop(ctx context.Context, emit func(domain.Message)) (string, error) {
	for {
		reply, err := a.Action(ctx)
		if err != nil {
			return "", err
		}
		emit(reply)

		if len(reply.ToolCalls) == 0 {
			nudge := "You must respond with a tool call. Call `finalize` when the task is complete."
			a.conv.Append(domain.NewMessage(domain.RoleUser, nudge))
			continue
		}

		outcome, msgs, done := a.Execute(ctx, reply.ToolCalls)
		for _, m := range msgs {
			emit(m)
		}
		if done {
			a.logger.Info("agent finished", "outcome", outcome, "cost", a.conv.Cost().String())
			return outcome, nil
		}
	}
}

func (a *Agent) renderInstruction() (string, error) {
	tmpl, err := template.New("instruction").Option("missingkey=error").Parse(a.role.Instruction)
	if err != nil {
		return "", domain.WrapOp("parse instruction template", err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, a.vars); err != nil {
		return "", domain.WrapOp("render instruction template", err)
	}
	return b.String(), nil
}

func syntheticError(call domain.ToolCall, text string) domain.Message {
	return domain.NewToolMessage(call, []domain.ContentBlock{domain.TextBlock(text)}, true)
}

// SaveHistory persists the agent's transcript, a config/cost summary, and, if
// any error observations occurred, a one-message context window around each.
// Called on every terminal exit of the loop, normal or not.
func (a *Agent) SaveHistory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.WrapOp("create history dir", err)
	}

	messages := a.conv.Messages()
	if err := writeJSONL(filepath.Join(dir, a.name+"-history.jsonl"), func(enc *json.Encoder) error {
		for _, m := range messages {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return domain.WrapOp("write history", err)
	}

	toolNames := make([]string, 0, len(a.tools))
	for _, t := range a.tools {
		toolNames = append(toolNames, t.Name)
	}
	summary := map[string]any{
		"agent": a.name,
		"model": a.client.Alias(),
		"cost":  a.conv.Cost(),
		"tools": toolNames,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal agent summary", err)
	}
	if err := os.WriteFile(filepath.Join(dir, a.name+"-config.json"), data, 0o644); err != nil {
		return domain.WrapOp("write agent summary", err)
	}

	var windows [][]domain.Message
	for i, m := range messages {
		if !m.IsError {
			continue
		}
		lo, hi := i-1, i+2
		if lo < 0 {
			lo = 0
		}
		if hi > len(messages) {
			hi = len(messages)
		}
		windows = append(windows, messages[lo:hi])
	}
	if len(windows) == 0 {
		return nil
	}
	err = writeJSONL(filepath.Join(dir, a.name+"-errors.jsonl"), func(enc *json.Encoder) error {
		for _, w := range windows {
			if err := enc.Encode(w); err != nil {
				return err
			}
		}
		return nil
	})
	return domain.WrapOp("write error windows", err)
}

func writeJSONL(path string, write func(*json.Encoder) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(json.NewEncoder(f)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
