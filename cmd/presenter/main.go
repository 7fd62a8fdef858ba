package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"presenter-ai/internal/adapter/llm"
	"presenter-ai/internal/adapter/store"
	"presenter-ai/internal/adapter/toolenv"
	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
	"presenter-ai/internal/infra/logger"
	"presenter-ai/internal/infra/tracer"
	"presenter-ai/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the configuration file")
		instruction = flag.String("instruction", "", "what to build the presentation about")
		attachments = flag.String("attach", "", "comma-separated attachment file paths")
		numPages    = flag.String("pages", "", "requested number of pages")
		template    = flag.String("template", "", "presentation template file")
		format      = flag.String("format", string(domain.FormatWidescreen), "deck format")
		convert     = flag.String("convert", string(domain.ConvertDesign), "conversion type: design or deck")
	)
	flag.Parse()

	if *instruction == "" {
		return fmt.Errorf("-instruction is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	req := domain.InputRequest{
		Instruction: *instruction,
		NumPages:    *numPages,
		Template:    *template,
		DeckFormat:  domain.DeckFormat(*format),
		ConvertType: domain.ConvertType(*convert),
	}
	if *attachments != "" {
		for _, a := range strings.Split(*attachments, ",") {
			if a = strings.TrimSpace(a); a != "" {
				req.Attachments = append(req.Attachments, a)
			}
		}
	}

	workspace := filepath.Join(cfg.WorkspaceBase, req.TaskID())
	log.Info("starting run", "task_id", req.TaskID(), "workspace", workspace)

	clients := newClientCache(cfg, log)

	var imageGen toolenv.ImageGenerator
	if _, err := cfg.Model("image"); err == nil {
		c, err := clients.resolve("image")
		if err != nil {
			return err
		}
		imageGen = c.(*llm.Client)
	}

	validators := make(map[string]toolenv.OutcomeValidator)
	for name, v := range usecase.StageValidators() {
		validators[name] = toolenv.OutcomeValidator(v)
	}

	env, err := toolenv.Open(ctx, toolenv.Options{
		Workspace:  workspace,
		TaskID:     req.TaskID(),
		Providers:  cfg.Providers,
		Limits:     cfg.Limits,
		Sandbox:    cfg.Sandbox,
		Validators: validators,
		ImageGen:   imageGen,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Warn("environment close failed", "error", err)
		}
	}()

	var runStore usecase.RunStore
	if cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		runStore = s
	}

	pipeline := usecase.NewPipeline(usecase.PipelineOptions{
		Env:       env,
		Clients:   clients.resolve,
		Roles:     func(name string) (domain.RoleConfig, error) { return config.LoadRole(cfg.RolesDir, name) },
		Store:     runStore,
		Language:  "en",
		Offline:   cfg.OfflineMode,
		CutoffLen: cfg.Limits.ToolCutoffLen,
		MaxLogLen: cfg.Limits.MaxLogLen,
		Logger:    log,
	})

	for ev := range pipeline.Run(ctx, req) {
		switch {
		case ev.Message != nil:
			printMessage(*ev.Message, cfg.Limits.MaxLogLen)
		case ev.Err != nil:
			return ev.Err
		case ev.Path != "":
			fmt.Printf("\nDone: %s\n", ev.Path)
		}
	}
	return ctx.Err()
}

func printMessage(m domain.Message, maxLen int) {
	text := logger.Clip(m.Text(), maxLen)
	if text == "" {
		return
	}
	label := m.Role
	if m.FromTool != "" {
		label = m.FromTool
	}
	fmt.Printf("[%s] %s\n", label, text)
}

// clientCache builds one model client per alias on demand and reuses it, so
// every agent sharing an alias shares its admission gate.
type clientCache struct {
	cfg     *config.Config
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]domain.ModelClient
}

func newClientCache(cfg *config.Config, log *slog.Logger) *clientCache {
	return &clientCache{
		cfg:     cfg,
		logger:  log,
		clients: make(map[string]domain.ModelClient),
	}
}

func (c *clientCache) resolve(alias string) (domain.ModelClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[alias]; ok {
		return client, nil
	}
	mc, err := c.cfg.Model(alias)
	if err != nil {
		return nil, err
	}
	client, err := llm.New(alias, mc, c.cfg.Limits, c.logger)
	if err != nil {
		return nil, err
	}
	c.clients[alias] = client
	return client, nil
}
