package toolenv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
)

// toolProvider is one connected tool backend: a remote MCP server or the
// in-process builtin provider.
type toolProvider interface {
	// call runs one tool and returns its content blocks plus the backend's
	// error flag. A returned error means the call itself failed.
	call(ctx context.Context, tool string, args map[string]any) ([]domain.ContentBlock, bool, error)
	// schemas lists the provider's advertised tools after filtering.
	schemas(ctx context.Context) ([]domain.ToolSchema, error)
	close() error
}

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// mcpProvider speaks MCP to one configured server over stdio or streaming HTTP.
type mcpProvider struct {
	name   string
	cfg    config.ProviderConfig
	client mcpClient
	logger *slog.Logger
}

func connectProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*mcpProvider, error) {
	var c mcpClient
	var err error

	switch {
	case cfg.Command != "":
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case cfg.URL != "":
		var t *transport.StreamableHTTP
		t, err = transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		httpClient := mcpclient.NewClient(t)
		if err = httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("provider %q has neither command nor url", cfg.Name)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "presenter-ai",
		Version: "1.0.0",
	}
	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	logger.Info("tool provider connected", "name", cfg.Name)
	return &mcpProvider{name: cfg.Name, cfg: cfg, client: c, logger: logger}, nil
}

// connectAll connects every configured provider concurrently. On any failure
// the already-connected providers are torn down and the first error returned.
func connectAll(ctx context.Context, cfgs []config.ProviderConfig, logger *slog.Logger) ([]*mcpProvider, error) {
	providers := make([]*mcpProvider, len(cfgs))
	errs := make([]error, len(cfgs))

	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg config.ProviderConfig) {
			defer wg.Done()
			p, err := connectProvider(ctx, cfg, logger)
			if err != nil {
				errs[i] = fmt.Errorf("provider %q: %w", cfg.Name, err)
				return
			}
			providers[i] = p
		}(i, cfg)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, p := range providers {
				if p != nil {
					p.close()
				}
			}
			return nil, err
		}
	}
	return providers, nil
}

func (p *mcpProvider) schemas(ctx context.Context) ([]domain.ToolSchema, error) {
	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, domain.WrapOp("list tools", err)
	}

	keep := map[string]bool{}
	for _, name := range p.cfg.KeepTools {
		keep[name] = true
	}
	exclude := map[string]bool{}
	for _, name := range p.cfg.ExcludeTools {
		exclude[name] = true
	}

	var out []domain.ToolSchema
	for _, t := range result.Tools {
		if p.cfg.KeepTools != nil && !keep[t.Name] {
			continue
		}
		if exclude[t.Name] {
			continue
		}
		params := json.RawMessage(`{"type": "object"}`)
		if data, err := json.Marshal(t.InputSchema); err == nil {
			params = data
		}
		out = append(out, domain.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out, nil
}

func (p *mcpProvider) call(ctx context.Context, tool string, args map[string]any) ([]domain.ContentBlock, bool, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := p.client.CallTool(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return blocksFromMCP(result), result.IsError, nil
}

func (p *mcpProvider) close() error {
	return p.client.Close()
}

// blocksFromMCP converts an MCP result into content blocks: text parts are
// joined into a single text block, image parts become image blocks, and
// anything else is serialized as JSON text.
func blocksFromMCP(result *mcp.CallToolResult) []domain.ContentBlock {
	var texts []string
	var images []domain.ContentBlock
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		case mcp.ImageContent:
			images = append(images, imageBlockFromMCP(v.MIMEType, v.Data))
		case *mcp.ImageContent:
			images = append(images, imageBlockFromMCP(v.MIMEType, v.Data))
		default:
			if data, err := json.Marshal(v); err == nil {
				texts = append(texts, string(data))
			}
		}
	}

	var out []domain.ContentBlock
	if len(texts) > 0 {
		out = append(out, domain.TextBlock(strings.Join(texts, "\n")))
	}
	return append(out, images...)
}

func imageBlockFromMCP(mimeType, data string) domain.ContentBlock {
	if strings.HasPrefix(data, "data:") {
		return domain.ImageBlock(data)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	// Data is expected to be base64 already; re-encode raw payloads.
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		data = base64.StdEncoding.EncodeToString([]byte(data))
	}
	return domain.ImageBlock("data:" + mimeType + ";base64," + data)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
