// Package gateway wires upstream and backend transports together, proxying
// tool calls and screening every text response for generator corruption.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quietloop/replyscreen/src/config"
	"github.com/quietloop/replyscreen/src/detect"
	"github.com/quietloop/replyscreen/src/transport"
)

const namespaceSep = "__"

// Registry discovers tools from backend servers, namespaces them, and
// registers proxy handlers on the upstream server. Each proxy call screens
// the backend's text output with a corruption detector before it reaches
// the host.
type Registry struct {
	upstream  *transport.Upstream
	backends  *transport.BackendManager
	globalCfg config.ScreeningConfig
	logger    *slog.Logger
}

// NewRegistry creates a registry wired to the given upstream/backend pair.
func NewRegistry(
	upstream *transport.Upstream,
	backends *transport.BackendManager,
	globalCfg config.ScreeningConfig,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		upstream:  upstream,
		backends:  backends,
		globalCfg: globalCfg,
		logger:    logger.With("area", "registry"),
	}
}

// DiscoverAndRegister iterates all backend connections, discovers their
// tools, and registers namespaced proxy handlers on the upstream server.
// It also registers the native screen_text diagnostic tool. Returns the
// total number of proxied tools registered.
func (r *Registry) DiscoverAndRegister(ctx context.Context) (int, error) {
	diag, err := newScreener(r.globalCfg, "diagnostic", r.logger)
	if err != nil {
		return 0, fmt.Errorf("building diagnostic screener: %w", err)
	}
	registerScreenTool(r.upstream.Server, diag)

	total := 0

	for name, conn := range r.backends.Conns() {
		merged := config.Merge(&r.globalCfg, conn.Config.Screening)

		scr, err := newScreener(merged, name, r.logger)
		if err != nil {
			return total, fmt.Errorf("building screener for %s: %w", name, err)
		}

		count, err := r.registerBackend(ctx, name, conn.Session, scr)
		if err != nil {
			return total, fmt.Errorf("registering tools for %s: %w", name, err)
		}

		r.logger.Info("registered tools", "backend", name, "count", count)
		total += count
	}

	if total == 0 {
		return 0, fmt.Errorf("no tools discovered from any backend server")
	}
	return total, nil
}

func (r *Registry) registerBackend(
	ctx context.Context,
	backendName string,
	session *mcp.ClientSession,
	scr *screener,
) (int, error) {
	count := 0
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return count, fmt.Errorf("listing tools: %w", err)
		}

		namespacedName := backendName + namespaceSep + tool.Name

		proxied := proxyTool(tool, namespacedName)
		handler := proxyHandler(r.backends, backendName, tool.Name, namespacedName, scr)
		r.upstream.Server.AddTool(proxied, handler)

		count++
	}
	return count, nil
}

// proxyTool creates a copy of the backend tool with a namespaced name.
func proxyTool(original *mcp.Tool, namespacedName string) *mcp.Tool {
	return &mcp.Tool{
		Name:        namespacedName,
		Description: original.Description,
		InputSchema: original.InputSchema,
		Annotations: original.Annotations,
		Title:       original.Title,
	}
}

// proxyHandler returns a ToolHandler that forwards calls to the backend
// session, then screens the response. It looks up the session at call time
// so that reconnected sessions are used automatically.
func proxyHandler(
	bm *transport.BackendManager,
	backendName string,
	backendTool string,
	namespacedName string,
	scr *screener,
) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session := bm.Session(backendName)
		if session == nil {
			return nil, fmt.Errorf("backend %s not connected", backendName)
		}

		// Forward to the backend with the original tool name.
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      backendTool,
			Arguments: req.Params.Arguments,
		})
		if err != nil {
			return nil, fmt.Errorf("backend call %s: %w", namespacedName, err)
		}

		return scr.screenResult(result), nil
	}
}

// BuildDetector constructs a detect.Detector from a (merged) screening
// config. Nil threshold and marker fields fall back to the detector's
// defaults.
func BuildDetector(cfg config.ScreeningConfig) (*detect.Detector, error) {
	opts := detect.Options{
		DisableBuiltInRules: deref(cfg.DisableBuiltInRules),
		DisableRatioCheck:   cfg.EnableRatioCheck != nil && !*cfg.EnableRatioCheck,
		CustomRules:         cfg.CustomRules,
	}
	if cfg.RatioThreshold != nil {
		opts.RatioThreshold = *cfg.RatioThreshold
	}
	if cfg.MarkerToken != nil {
		opts.MarkerToken = *cfg.MarkerToken
	}
	return detect.New(opts)
}

func deref(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
