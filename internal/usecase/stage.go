package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"presenter-ai/internal/domain"
)

// Validator checks a stage's finalize outcome against the workspace.
type Validator func(workspace, outcome string) error

// Stage describes one pipeline step: which role config drives it, how its
// first-turn prompt is built, and how its finalize outcome is verified.
type Stage struct {
	// Name is the agent name, used for history files and finalize routing.
	Name string
	// Role is the role config file name under the roles directory.
	Role string
	// Prompt builds the caller-facing task statement for this stage.
	Prompt func(req domain.InputRequest) string
	// Vars supplies the instruction template variables. prior carries the
	// previous stage's output path, empty for the first stage.
	Vars func(req domain.InputRequest, prior string) map[string]any
	// Validate verifies the finalize outcome. Nil accepts anything.
	Validate Validator
}

// ResearchStage produces the markdown manuscript.
func ResearchStage() Stage {
	return Stage{
		Name: "Researcher",
		Role: "research",
		Prompt: func(req domain.InputRequest) string {
			return req.ResearchPrompt()
		},
		Vars: func(req domain.InputRequest, _ string) map[string]any {
			return map[string]any{
				"instruction": req.ResearchPrompt(),
			}
		},
		Validate: validateManuscript,
	}
}

// DeckStage produces the presentation file directly from the manuscript.
func DeckStage() Stage {
	return Stage{
		Name: "DeckBuilder",
		Role: "deck",
		Prompt: func(req domain.InputRequest) string {
			return req.DeckPrompt()
		},
		Vars: func(req domain.InputRequest, manuscript string) map[string]any {
			return map[string]any{
				"instruction": req.DeckPrompt(),
				"manuscript":  manuscript,
				"template":    req.Template,
			}
		},
		Validate: validateDeck,
	}
}

// DesignStage produces one HTML file per slide for the external converter.
func DesignStage() Stage {
	return Stage{
		Name: "Designer",
		Role: "design",
		Prompt: func(req domain.InputRequest) string {
			return req.DesignPrompt()
		},
		Vars: func(req domain.InputRequest, manuscript string) map[string]any {
			ratio, err := req.DeckFormat.AspectRatio()
			if err != nil {
				ratio = "widescreen"
			}
			return map[string]any{
				"instruction":  req.DesignPrompt(),
				"manuscript":   manuscript,
				"aspect_ratio": ratio,
			}
		},
		Validate: validateSlideDir,
	}
}

func resolveOutcome(workspace, outcome string) string {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" || filepath.IsAbs(outcome) {
		return outcome
	}
	return filepath.Join(workspace, outcome)
}

var externalImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(https?://`)

// validateManuscript requires an existing markdown file whose images have all
// been localized into the workspace.
func validateManuscript(workspace, outcome string) error {
	path := resolveOutcome(workspace, outcome)
	if !strings.HasSuffix(path, ".md") {
		return fmt.Errorf("manuscript must be a markdown file, got %q", outcome)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("manuscript %q is not readable: %v", outcome, err)
	}
	if externalImagePattern.Match(data) {
		return fmt.Errorf("manuscript %q still references external images; download them into the workspace first", outcome)
	}
	return nil
}

// validateDeck requires an existing non-empty presentation file.
func validateDeck(workspace, outcome string) error {
	path := resolveOutcome(workspace, outcome)
	if !strings.HasSuffix(path, ".pptx") {
		return fmt.Errorf("deck must be a .pptx file, got %q", outcome)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("deck %q does not exist: %v", outcome, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("deck %q is empty", outcome)
	}
	return nil
}

// validateSlideDir requires a directory holding at least one slide HTML file.
func validateSlideDir(workspace, outcome string) error {
	dir := resolveOutcome(workspace, outcome)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("slide output %q is not a directory", outcome)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "slide_*.html"))
	if err != nil || len(matches) == 0 {
		return fmt.Errorf("slide output %q contains no slide_*.html files", outcome)
	}
	return nil
}
