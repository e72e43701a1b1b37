package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/sheetforge/workbookd/config"
	"github.com/sheetforge/workbookd/internal/cache"
	"github.com/sheetforge/workbookd/internal/fork"
	"github.com/sheetforge/workbookd/internal/registry"
	"github.com/sheetforge/workbookd/internal/runtime"
	"github.com/sheetforge/workbookd/internal/security"
	"github.com/sheetforge/workbookd/internal/telemetry"
	"github.com/sheetforge/workbookd/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	logger := zlog.With().Str("service", "mcpxcel-server").Logger()
	ctx := logger.WithContext(context.Background())

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set MCPXCEL_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set MCPXCEL_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.NewLimits(10, 4)
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	workbookCache := cache.NewManager(config.DefaultCacheCapacity, runtimeController)
	workbookCache.SetValidator(secMgr)
	defer workbookCache.Close()

	toolRegistry := registry.New()

	writeFilter := registry.NewWriteToolFilterFromEnv()

	telemetryHooks := telemetry.NewHooks(logger)

	srv := server.NewMCPServer(
		"MCP Excel Analysis Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
		server.WithHooks(buildHooks(telemetryHooks)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return writeFilter.FilterTools(ctx, tools) }),
	)

	// Register foundation tool schemas for discovery
	registry.RegisterFoundationTools(srv, toolRegistry, runtimeController.LimitsSnapshot(), workbookCache)

	forkRegistry, err := fork.NewRegistry(config.DefaultForkRoot)
	if err != nil {
		logger.Error().Err(err).Msg("fork: failed to initialize registry")
		fmt.Fprintln(os.Stderr, "failed to initialize fork registry")
		os.Exit(1)
	}
	registry.RegisterMutationTools(srv, toolRegistry, secMgr, forkRegistry)

	toolContextSize := toolRegistry.ModelContextSize("gpt-4o")

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int("model_context_size", toolContextSize).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if useStdio {
		telemetryHooks.OnServerStart()
		defer telemetryHooks.OnServerStop()
		if err := server.ServeStdio(srv); err != nil {
			// Use stderr for transport errors so clients don't misinterpret output
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// If no transport flags provided, print usage and exit non-zero
	fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
	os.Exit(2)
}

// buildHooks constructs mcp-go server hooks that forward lifecycle events to
// the telemetry layer, which owns the actual structured logging and running
// counters.
func buildHooks(t *telemetry.Hooks) *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		t.OnSessionStart(session.SessionID())
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		t.OnSessionEnd(session.SessionID())
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		t.OnListTools(len(res.Tools))
	})

	hooks.AddAfterReadResource(func(ctx context.Context, id any, req *mcp.ReadResourceRequest, res *mcp.ReadResourceResult) {
		t.OnResourceRead(req.Params.URI)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		t.OnToolCall(req.Params.Name, res != nil && res.IsError)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		t.OnRequestError(string(method), err)
	})

	return hooks
}
