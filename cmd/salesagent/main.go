// Command salesagent runs the conversational sales-assistant backend: the
// tool-server registry, the retrieval engine over the knowledge directory,
// the agent pool and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/embedders"
	"github.com/fleetworthy/salesagent/pkg/extraction"
	"github.com/fleetworthy/salesagent/pkg/llms"
	"github.com/fleetworthy/salesagent/pkg/logger"
	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/observability"
	"github.com/fleetworthy/salesagent/pkg/orchestrator"
	"github.com/fleetworthy/salesagent/pkg/rag"
	"github.com/fleetworthy/salesagent/pkg/server"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to built-in zero-config setup)")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	trace := flag.Bool("trace", false, "emit OpenTelemetry spans to stderr")
	flag.Parse()

	if err := run(*configPath, *logLevel, *trace); err != nil {
		fmt.Fprintf(os.Stderr, "salesagent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string, trace bool) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cfg.Logging.Format)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{Enabled: trace})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retrieval stack: embedder, engine, extractors, knowledge directory.
	embedder, err := embedders.New(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embedder.Close()

	engine, err := rag.NewEngine(&cfg.RAG, embedder, rag.WithEngineMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create RAG engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load persisted index: %w", err)
	}

	extractors := extraction.NewRegistry()

	if info, err := os.Stat(cfg.RAG.KnowledgeDir); err == nil && info.IsDir() {
		source := rag.NewDirectorySource(cfg.RAG.KnowledgeDir, engine, extractors)
		ingested, err := source.Scan(ctx)
		if err != nil {
			slog.Warn("Knowledge directory scan incomplete", "dir", cfg.RAG.KnowledgeDir, "error", err)
		}
		slog.Info("Knowledge directory scanned", "dir", cfg.RAG.KnowledgeDir, "documents", ingested)

		if cfg.RAG.WatchDir {
			watcher, err := rag.NewWatcher(source)
			if err != nil {
				return fmt.Errorf("failed to create directory watcher: %w", err)
			}
			if err := watcher.Start(ctx); err != nil {
				return fmt.Errorf("failed to start directory watcher: %w", err)
			}
			defer watcher.Stop()
		}
	} else {
		slog.Info("Knowledge directory missing, starting with empty index", "dir", cfg.RAG.KnowledgeDir)
	}

	// Conversation memory behind the memory tool server.
	store, err := toolserver.NewConversationStore(&cfg.Memory)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	// Tool-server registry.
	service := mcp.NewService(mcp.WithMetrics(metrics))
	defer service.Close()

	llm, err := llms.New(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	defer llm.Close()

	closeHandlers, err := registerToolServers(cfg, service, engine, store, extractors)
	if err != nil {
		return err
	}
	defer closeHandlers()

	service.StartHealthChecks(ctx, heartbeatInterval(cfg))

	agents, err := buildAgents(cfg, service, llm)
	if err != nil {
		return err
	}

	orch := orchestrator.New(service, agents,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTurnTimeout(time.Duration(cfg.Orchestrator.TurnTimeoutMs)*time.Millisecond),
		orchestrator.WithFallbackReply(cfg.Orchestrator.FallbackReply),
	)

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, orch, service, registry)

	slog.Info("Starting sales assistant",
		"embedder", embedder.ModelName(),
		"llm", llm.ModelName(),
		"tool_servers", service.ServerNames(),
		"agents", len(agents))

	return srv.Start(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("No config file given, using zero-config defaults")
		return config.Default(), nil
	}
	return config.Load(path)
}

// registerToolServers wires every configured server into the registry. Local
// servers are the built-in four; http and stdio entries dispatch to remote
// processes. The returned closer shuts down stdio subprocesses.
func registerToolServers(
	cfg *config.Config,
	service *mcp.Service,
	engine *rag.Engine,
	store toolserver.ConversationStore,
	extractors *extraction.Registry,
) (func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, closer := range closers {
			if err := closer(); err != nil {
				slog.Warn("Tool server shutdown failed", "error", err)
			}
		}
	}

	for name, ts := range cfg.ToolServers {
		timeout := time.Duration(ts.TimeoutMs) * time.Millisecond

		var (
			descriptor mcp.ServerDescriptor
			handler    mcp.Handler
			err        error
		)
		switch ts.Type {
		case "local":
			descriptor, handler, err = localServer(name, timeout, cfg, engine, store, extractors)
		case "http":
			handler, err = mcp.NewHTTPHandler(mcp.HTTPHandlerConfig{
				Name:       name,
				URL:        ts.URL,
				SSETimeout: timeout,
			})
			descriptor = remoteDescriptor(name, ts.Operations, timeout)
		case "stdio":
			var stdio *mcp.StdioHandler
			stdio, err = mcp.NewStdioHandler(mcp.StdioHandlerConfig{
				Name:    name,
				Command: ts.Command,
				Args:    ts.Args,
				Env:     ts.Env,
			})
			if err == nil {
				closers = append(closers, stdio.Close)
				handler = stdio
			}
			descriptor = remoteDescriptor(name, ts.Operations, timeout)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("tool server %q: %w", name, err)
		}

		descriptor.DegradedThreshold = ts.DegradedThreshold
		descriptor.DownThreshold = ts.DownThreshold
		if err := service.Register(descriptor, handler); err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to register tool server %q: %w", name, err)
		}
	}

	return closeAll, nil
}

func localServer(
	name string,
	timeout time.Duration,
	cfg *config.Config,
	engine *rag.Engine,
	store toolserver.ConversationStore,
	extractors *extraction.Registry,
) (mcp.ServerDescriptor, mcp.Handler, error) {
	switch name {
	case toolserver.ServerSalesKnowledge:
		srv := toolserver.NewKnowledgeServer(engine)
		return srv.Descriptor(timeout), srv, nil
	case toolserver.ServerMemory:
		srv := toolserver.NewMemoryServer(store)
		return srv.Descriptor(timeout), srv, nil
	case toolserver.ServerCompanyResearch:
		srv := toolserver.NewResearchServer(toolserver.ResearchServerConfig{
			BraveAPIKey: os.Getenv("BRAVE_API_KEY"),
		})
		return srv.Descriptor(timeout), srv, nil
	case toolserver.ServerFileProcessing:
		srv := toolserver.NewFileServer(extractors, engine)
		return srv.Descriptor(timeout), srv, nil
	default:
		return mcp.ServerDescriptor{}, nil, fmt.Errorf("unknown local tool server %q", name)
	}
}

func remoteDescriptor(name string, operations []string, timeout time.Duration) mcp.ServerDescriptor {
	capabilities := make([]mcp.Capability, 0, len(operations))
	for _, operation := range operations {
		capabilities = append(capabilities, mcp.Capability{Operation: operation})
	}
	return mcp.ServerDescriptor{
		Name:         name,
		Capabilities: capabilities,
		Timeout:      timeout,
	}
}

func buildAgents(cfg *config.Config, service *mcp.Service, llm llms.Provider) ([]agent.Agent, error) {
	maxContextTokens := cfg.Orchestrator.MaxContextTokens

	var agents []agent.Agent
	for name, ac := range cfg.Agents {
		if ac.Enabled != nil && !*ac.Enabled {
			continue
		}

		topK := ac.TopK
		if topK <= 0 {
			topK = cfg.RAG.DefaultTopK
		}
		toolbox := agent.NewToolbox(service, ac.Tools)

		switch name {
		case agent.NameSales:
			agents = append(agents, agent.NewSalesAgent(toolbox, llm, topK, maxContextTokens))
		case agent.NameResearch:
			agents = append(agents, agent.NewResearchAgent(toolbox, llm, maxContextTokens))
		case agent.NameKnowledge:
			agents = append(agents, agent.NewKnowledgeAgent(toolbox, llm, topK, maxContextTokens))
		default:
			return nil, fmt.Errorf("unknown agent %q", name)
		}
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents enabled")
	}
	return agents, nil
}

// heartbeatInterval picks the shortest configured heartbeat so the fastest
// server's expectation bounds the sweep.
func heartbeatInterval(cfg *config.Config) time.Duration {
	interval := mcp.DefaultHealthInterval
	for _, ts := range cfg.ToolServers {
		if ts.HeartbeatMs > 0 {
			candidate := time.Duration(ts.HeartbeatMs) * time.Millisecond
			if candidate < interval {
				interval = candidate
			}
		}
	}
	return interval
}
