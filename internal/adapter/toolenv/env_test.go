package toolenv

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenter-ai/internal/domain"
)

// fakeProvider is a scripted toolProvider for tests.
type fakeProvider struct {
	tools   []domain.ToolSchema
	handler func(ctx context.Context, tool string, args map[string]any) ([]domain.ContentBlock, bool, error)
	closed  bool
}

func (f *fakeProvider) schemas(context.Context) ([]domain.ToolSchema, error) { return f.tools, nil }

func (f *fakeProvider) call(ctx context.Context, tool string, args map[string]any) ([]domain.ContentBlock, bool, error) {
	return f.handler(ctx, tool, args)
}

func (f *fakeProvider) close() error {
	f.closed = true
	return nil
}

func newTestEnv(t *testing.T, provider *fakeProvider) *Environment {
	t.Helper()
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "history"), 0o755))

	env := &Environment{
		workspace:   workspace,
		catalog:     domain.NewToolCatalog(),
		providers:   map[string]toolProvider{"fake": provider},
		callTimeout: 2 * time.Second,
		cutoff:      4192,
		maxLogLen:   1024,
		logger:      slog.New(slog.DiscardHandler),
		schemas:     make(map[string]*jsonschema.Schema),
	}
	for _, s := range provider.tools {
		env.catalog.Add("fake", s)
	}
	return env
}

func echoCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestExecuteSuccess(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "echo"}},
		handler: func(_ context.Context, _ string, args map[string]any) ([]domain.ContentBlock, bool, error) {
			text, _ := args["text"].(string)
			return []domain.ContentBlock{domain.TextBlock(text)}, false, nil
		},
	}
	env := newTestEnv(t, p)

	msg := env.Execute(context.Background(), echoCall("c1", "echo", `{"text":"hi"}`))
	assert.False(t, msg.IsError)
	assert.Equal(t, "hi", msg.Text())
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, "echo", msg.FromTool)
}

func TestExecuteToolNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{tools: []domain.ToolSchema{{Name: "echo"}}})

	msg := env.Execute(context.Background(), echoCall("c1", "missing", ""))
	assert.True(t, msg.IsError)
	assert.Equal(t, "Tool `missing` not found.", msg.Text())
}

func TestExecuteMalformedArguments(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{tools: []domain.ToolSchema{{Name: "echo"}}})

	msg := env.Execute(context.Background(), echoCall("c1", "echo", `{broken`))
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text(), "Invalid tool arguments")
}

func TestExecuteSchemaValidation(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{
			Name: "read_file",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return []domain.ContentBlock{domain.TextBlock("content")}, false, nil
		},
	}
	env := newTestEnv(t, p)

	msg := env.Execute(context.Background(), echoCall("c1", "read_file", `{"path": 42}`))
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text(), "Invalid arguments for tool `read_file`")

	msg = env.Execute(context.Background(), echoCall("c2", "read_file", `{"path": "a.md"}`))
	assert.False(t, msg.IsError)
}

func TestExecuteTimeout(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "slow"}},
		handler: func(ctx context.Context, _ string, _ map[string]any) ([]domain.ContentBlock, bool, error) {
			<-ctx.Done()
			return nil, false, ctx.Err()
		},
	}
	env := newTestEnv(t, p)
	env.callTimeout = 20 * time.Millisecond

	msg := env.Execute(context.Background(), echoCall("c1", "slow", ""))
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text(), "timed out")
}

func TestExecuteProviderError(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "flaky"}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return nil, false, assert.AnError
		},
	}
	env := newTestEnv(t, p)

	msg := env.Execute(context.Background(), echoCall("c1", "flaky", ""))
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text(), "Tool `flaky` failed")
}

func TestExecuteMultiBlockResultRejected(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "multi"}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return []domain.ContentBlock{
				domain.TextBlock("a"),
				domain.ImageBlock("data:image/png;base64,AAAA"),
			}, false, nil
		},
	}
	env := newTestEnv(t, p)

	msg := env.Execute(context.Background(), echoCall("c1", "multi", ""))
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text(), "2 blocks")
}

func TestExecuteDataURIBecomesImage(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "screenshot"}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return []domain.ContentBlock{domain.TextBlock("data:image/png;base64,AAAA")}, false, nil
		},
	}
	env := newTestEnv(t, p)

	msg := env.Execute(context.Background(), echoCall("c1", "screenshot", ""))
	assert.False(t, msg.IsError)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, domain.BlockImageURL, msg.Content[0].Type)
}

func TestExecuteTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("line of tool output\n", 1000)
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "cat"}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return []domain.ContentBlock{domain.TextBlock(long)}, false, nil
		},
	}
	env := newTestEnv(t, p)
	env.cutoff = 200

	msg := env.Execute(context.Background(), echoCall("c1", "cat", ""))
	assert.False(t, msg.IsError)
	text := msg.Text()
	assert.Contains(t, text, "NOTE: Output truncated")
	assert.Less(t, len(text), len(long))

	// The overflow file holds the full output.
	matches, err := filepath.Glob(filepath.Join(env.workspace, "cat_*.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, long, string(data))
}

func TestCloseFlushesHistory(t *testing.T) {
	p := &fakeProvider{
		tools: []domain.ToolSchema{{Name: "echo"}},
		handler: func(context.Context, string, map[string]any) ([]domain.ContentBlock, bool, error) {
			return []domain.ContentBlock{domain.TextBlock("ok")}, false, nil
		},
	}
	env := newTestEnv(t, p)

	env.Execute(context.Background(), echoCall("c1", "echo", ""))
	env.Execute(context.Background(), echoCall("c2", "missing", ""))
	require.NoError(t, env.Close())
	assert.True(t, p.closed)

	data, err := os.ReadFile(filepath.Join(env.workspace, "history", "tool_history.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec toolRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "echo", rec.Tool)
	assert.False(t, rec.IsError)
}

func TestBuiltinFinalize(t *testing.T) {
	validators := map[string]OutcomeValidator{
		"Researcher": func(_, outcome string) error {
			if outcome != "manuscript.md" {
				return assert.AnError
			}
			return nil
		},
	}
	p := newBuiltinProvider(t.TempDir(), validators, nil)

	blocks, isErr, err := p.call(context.Background(), domain.ToolFinalize,
		map[string]any{"outcome": "manuscript.md", "agent_name": "Researcher"})
	require.NoError(t, err)
	assert.False(t, isErr)
	require.Len(t, blocks, 1)
	assert.Equal(t, "manuscript.md", blocks[0].Text)

	_, isErr, err = p.call(context.Background(), domain.ToolFinalize,
		map[string]any{"outcome": "wrong.md", "agent_name": "Researcher"})
	require.NoError(t, err)
	assert.True(t, isErr)
}

func TestBuiltinThink(t *testing.T) {
	p := newBuiltinProvider(t.TempDir(), nil, nil)
	blocks, isErr, err := p.call(context.Background(), domain.ToolThink, map[string]any{"thought": "plan"})
	require.NoError(t, err)
	assert.False(t, isErr)
	require.Len(t, blocks, 1)
	assert.Equal(t, "OK", blocks[0].Text)
}
