package toolenv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"presenter-ai/internal/adapter/llm"
	"presenter-ai/internal/domain"
)

// OutcomeValidator checks an agent's finalize outcome against the workspace,
// e.g. that a claimed output file actually exists. Keyed by agent name.
type OutcomeValidator func(workspace, outcome string) error

// ImageGenerator produces images for the builtin generate_image tool.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, width, height int) (*llm.ImageResult, error)
}

// builtinProvider serves the control tools in-process: finalize ends an agent
// loop, think records reasoning without side effects, and generate_image (when
// an image backend is configured) renders illustrations into the workspace.
type builtinProvider struct {
	workspace  string
	validators map[string]OutcomeValidator
	imageGen   ImageGenerator
}

func newBuiltinProvider(workspace string, validators map[string]OutcomeValidator, imageGen ImageGenerator) *builtinProvider {
	return &builtinProvider{
		workspace:  workspace,
		validators: validators,
		imageGen:   imageGen,
	}
}

func (p *builtinProvider) schemas(context.Context) ([]domain.ToolSchema, error) {
	out := []domain.ToolSchema{
		{
			Name:        domain.ToolFinalize,
			Description: "Finish the current task and report its outcome. Call this exactly once, as the only tool call in the reply, when the task is fully done.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"outcome": {"type": "string", "description": "The final deliverable: the answer text or the path of the produced file."}
				},
				"required": ["outcome"]
			}`),
		},
		{
			Name:        domain.ToolThink,
			Description: "Record a thought while planning. Has no side effects. Call this as the only tool call in the reply.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"thought": {"type": "string"}
				},
				"required": ["thought"]
			}`),
		},
	}
	if p.imageGen != nil {
		out = append(out, domain.ToolSchema{
			Name:        "generate_image",
			Description: "Generate an illustration from a text prompt and save it into the workspace. Returns the saved file path.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string"},
					"width": {"type": "integer"},
					"height": {"type": "integer"}
				},
				"required": ["prompt"]
			}`),
		})
	}
	return out, nil
}

func (p *builtinProvider) call(ctx context.Context, tool string, args map[string]any) ([]domain.ContentBlock, bool, error) {
	switch tool {
	case domain.ToolFinalize:
		return p.finalize(args)
	case domain.ToolThink:
		return []domain.ContentBlock{domain.TextBlock("OK")}, false, nil
	case "generate_image":
		return p.generateImage(ctx, args)
	default:
		return nil, false, domain.NewDomainError("builtin.call", domain.ErrToolNotFound, tool)
	}
}

func (p *builtinProvider) close() error { return nil }

// finalize validates the outcome for the calling agent and echoes it back
// verbatim on success, so the engine can detect completion by text equality.
func (p *builtinProvider) finalize(args map[string]any) ([]domain.ContentBlock, bool, error) {
	outcome, _ := args["outcome"].(string)
	agent, _ := args["agent_name"].(string)

	if validate, ok := p.validators[agent]; ok && validate != nil {
		if err := validate(p.workspace, outcome); err != nil {
			return []domain.ContentBlock{domain.TextBlock(err.Error())}, true, nil
		}
	}
	return []domain.ContentBlock{domain.TextBlock(outcome)}, false, nil
}

func (p *builtinProvider) generateImage(ctx context.Context, args map[string]any) ([]domain.ContentBlock, bool, error) {
	prompt, _ := args["prompt"].(string)
	width := intArg(args, "width")
	height := intArg(args, "height")

	result, err := p.imageGen.GenerateImage(ctx, prompt, width, height)
	if err != nil {
		return nil, false, err
	}
	if result.B64 == "" {
		return []domain.ContentBlock{domain.TextBlock(result.URL)}, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(result.B64)
	if err != nil {
		return nil, false, domain.WrapOp("decode generated image", err)
	}
	dir := filepath.Join(p.workspace, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, domain.WrapOp("create images dir", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("generated_%s.png", overflowSuffix()))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, false, domain.WrapOp("write generated image", err)
	}
	return []domain.ContentBlock{domain.TextBlock("Image saved to " + path)}, false, nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
