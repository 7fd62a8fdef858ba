package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"presenter-ai/internal/domain"
)

// Event is one item of pipeline progress. Exactly one of Message, Path, or
// Err is meaningful: intermediate messages stream as they are produced, the
// final artifact path is the last successful event, and Err terminates a
// failed run.
type Event struct {
	Message *domain.Message
	Path    string
	Err     error
}

// ClientResolver looks up the model client bound to a config alias.
type ClientResolver func(alias string) (domain.ModelClient, error)

// RoleLoader loads one agent class's role configuration.
type RoleLoader func(name string) (domain.RoleConfig, error)

// Converter is the external collaborator that turns a directory of per-slide
// HTML files into a deliverable.
type Converter interface {
	ToDeck(ctx context.Context, slideDir, outPath, aspectRatio string) error
	ToPDF(ctx context.Context, slideDir, outPath string) error
}

// RunRecord is the durable summary of one pipeline run.
type RunRecord struct {
	TaskID      string            `json:"task_id"`
	Instruction string            `json:"instruction"`
	Request     json.RawMessage   `json:"request"`
	Status      string            `json:"status"`
	Outputs     map[string]string `json:"outputs"`
	FinalPath   string            `json:"final_path,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// RunStore persists run records.
type RunStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}

// PipelineOptions wires the pipeline's collaborators.
type PipelineOptions struct {
	Env       domain.ToolEnvironment
	Clients   ClientResolver
	Roles     RoleLoader
	Converter Converter
	Store     RunStore
	Language  string
	Offline   bool
	CutoffLen int
	MaxLogLen int
	Logger    *slog.Logger
}

// Pipeline drives the sequential research → deck|design run over one shared
// tool environment, streaming every intermediate message to the caller.
type Pipeline struct {
	env       domain.ToolEnvironment
	clients   ClientResolver
	roles     RoleLoader
	converter Converter
	store     RunStore
	language  string
	offline   bool
	cutoff    int
	maxLog    int
	logger    *slog.Logger
}

// NewPipeline builds a pipeline from its options.
func NewPipeline(opts PipelineOptions) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		env:       opts.Env,
		clients:   opts.Clients,
		roles:     opts.Roles,
		converter: opts.Converter,
		store:     opts.Store,
		language:  opts.Language,
		offline:   opts.Offline,
		cutoff:    opts.CutoffLen,
		maxLog:    opts.MaxLogLen,
		logger:    log,
	}
}

// StageValidators returns the finalize validators keyed by agent name, for
// installation into the tool environment before the pipeline starts.
func StageValidators() map[string]Validator {
	return map[string]Validator{
		ResearchStage().Name: validateManuscript,
		DeckStage().Name:     validateDeck,
		DesignStage().Name:   validateSlideDir,
	}
}

// Run executes the whole pipeline. The returned channel carries every
// intermediate message, then the final artifact path, and is closed when the
// run ends. The channel holds one pending event at a time; an unread event
// blocks the run until the caller catches up or the context is cancelled.
func (p *Pipeline) Run(ctx context.Context, req domain.InputRequest) <-chan Event {
	ch := make(chan Event, 1)
	go func() {
		defer close(ch)
		p.run(ctx, req, ch)
	}()
	return ch
}

func (p *Pipeline) run(ctx context.Context, req domain.InputRequest, ch chan<- Event) {
	startedAt := time.Now()
	workspace := p.env.Workspace()

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emitMessage := func(m domain.Message) {
		emit(Event{Message: &m})
	}

	outputs := map[string]string{}
	reqJSON, _ := json.Marshal(req)

	fail := func(stage string, err error) {
		p.logger.Error("pipeline failed", "stage", stage, "error", err)
		errMsg := domain.NewMessage(domain.RoleAssistant,
			fmt.Sprintf("The run failed during the %s stage: %v", stage, err))
		emitMessage(errMsg)
		p.saveRun(ctx, RunRecord{
			TaskID:      req.TaskID(),
			Instruction: req.Instruction,
			Request:     reqJSON,
			Status:      "failed",
			Outputs:     outputs,
			Error:       err.Error(),
			StartedAt:   startedAt,
			FinishedAt:  time.Now(),
		})
		emit(Event{Err: err})
	}

	if err := req.CopyToWorkspace(workspace); err != nil {
		fail("setup", err)
		return
	}
	if err := writeJSON(filepath.Join(workspace, ".input_request.json"), req); err != nil {
		fail("setup", err)
		return
	}

	hello := "Got it. I will research the topic and build your presentation now."
	if p.offline {
		hello += " Web access is disabled, so I will work from the attachments only."
	}
	emitMessage(domain.NewMessage(domain.RoleAssistant, hello))

	research := ResearchStage()
	manuscript, err := p.runStage(ctx, research, req, "", emitMessage)
	if err != nil {
		fail(research.Name, err)
		return
	}
	outputs[research.Name] = manuscript
	p.writeIntermediate(workspace, outputs)

	final := ""
	switch req.ConvertType {
	case domain.ConvertDeck:
		stage := DeckStage()
		final, err = p.runStage(ctx, stage, req, manuscript, emitMessage)
		if err != nil {
			fail(stage.Name, err)
			return
		}
		outputs[stage.Name] = final
	default:
		stage := DesignStage()
		slideDir, err := p.runStage(ctx, stage, req, manuscript, emitMessage)
		if err != nil {
			fail(stage.Name, err)
			return
		}
		outputs[stage.Name] = slideDir
		final, err = p.convertSlides(ctx, req, slideDir)
		if err != nil {
			fail("convert", err)
			return
		}
		outputs["convert"] = final
	}
	p.writeIntermediate(workspace, outputs)

	p.saveRun(ctx, RunRecord{
		TaskID:      req.TaskID(),
		Instruction: req.Instruction,
		Request:     reqJSON,
		Status:      "succeeded",
		Outputs:     outputs,
		FinalPath:   final,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
	})
	emit(Event{Path: final})
}

// runStage builds and runs one stage's agent. The agent's history is
// persisted on every exit, normal or not, before the error propagates.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, req domain.InputRequest, prior string, emit func(domain.Message)) (string, error) {
	role, err := p.roles(stage.Role)
	if err != nil {
		return "", err
	}
	client, err := p.clients(role.UseModel)
	if err != nil {
		return "", err
	}
	agent, err := NewAgent(AgentOptions{
		Name:      stage.Name,
		Role:      role,
		Client:    client,
		Env:       p.env,
		Language:  p.language,
		Vars:      stage.Vars(req, prior),
		CutoffLen: p.cutoff,
		Logger:    p.logger,
		MaxLogLen: p.maxLog,
	})
	if err != nil {
		return "", err
	}

	outcome, loopErr := agent.Loop(ctx, emit)
	if saveErr := agent.SaveHistory(filepath.Join(p.env.Workspace(), "history")); saveErr != nil {
		p.logger.Warn("history persistence failed", "agent", stage.Name, "error", saveErr)
	}
	if loopErr != nil {
		return "", loopErr
	}
	return resolveOutcome(p.env.Workspace(), outcome), nil
}

// convertSlides hands the slide directory to the external converter. When the
// deck conversion fails, a PDF render is attempted before giving up; with no
// converter configured the slide directory itself is the deliverable.
func (p *Pipeline) convertSlides(ctx context.Context, req domain.InputRequest, slideDir string) (string, error) {
	if p.converter == nil {
		return slideDir, nil
	}
	ratio, err := req.DeckFormat.AspectRatio()
	if err != nil {
		ratio = "widescreen"
	}

	deckPath := filepath.Join(p.env.Workspace(), "presentation.pptx")
	deckErr := p.converter.ToDeck(ctx, slideDir, deckPath, ratio)
	if deckErr == nil {
		return deckPath, nil
	}
	p.logger.Warn("deck conversion failed, falling back to pdf", "error", deckErr)

	pdfPath := filepath.Join(p.env.Workspace(), "presentation.pdf")
	if pdfErr := p.converter.ToPDF(ctx, slideDir, pdfPath); pdfErr != nil {
		return "", fmt.Errorf("deck conversion failed (%v) and pdf fallback failed (%v)", deckErr, pdfErr)
	}
	return pdfPath, nil
}

func (p *Pipeline) writeIntermediate(workspace string, outputs map[string]string) {
	if err := writeJSON(filepath.Join(workspace, "intermediate_output.json"), outputs); err != nil {
		p.logger.Warn("intermediate output write failed", "error", err)
	}
}

func (p *Pipeline) saveRun(ctx context.Context, rec RunRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveRun(ctx, rec); err != nil {
		p.logger.Warn("run record save failed", "task_id", rec.TaskID, "error", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
