// Command mcp-test-server runs a Model Context Protocol server exposing synthetic tool,
// resource, and prompt fixtures over the Streamable HTTP transport, plus a mock OAuth
// 2.1 authorization server for exercising the full discovery-to-token flow.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcp "github.com/nazq/mcp-test-server"
	"github.com/nazq/mcp-test-server/internal/authgate"
	"github.com/nazq/mcp-test-server/internal/config"
	"github.com/nazq/mcp-test-server/internal/fixtures"
	"github.com/nazq/mcp-test-server/internal/oauthmock"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	sessionManager := mcp.NewSessionManager()
	resources := fixtures.NewResources()
	prompts := fixtures.NewPrompts()
	tools := fixtures.NewTools()
	logs := fixtures.NewLogs(mcpLogLevel(cfg.LogLevel))
	defer logs.Close()

	subscriptions := mcp.NewSubscriptionBus(sessionManager, resources.Subscribable, logger)
	tasks := mcp.NewTaskRegistry(tools, sessionManager, logger)

	publishCtx, stopPublishing := context.WithCancel(context.Background())
	defer stopPublishing()
	go publishResourceUpdates(publishCtx, subscriptions, resources.SubscribableURIs())

	transport := mcp.NewStreamableHTTPTransport(logger)

	pingTimeoutThreshold := pingTimeoutThresholdFor(cfg.PingInterval, cfg.SessionGrace)

	server := mcp.NewServer(
		mcp.Info{Name: "mcp-test-server", Version: "0.1.0"},
		transport,
		mcp.WithInstructions("Synthetic MCP server exposing fixture tools, resources, and prompts for client conformance testing."),
		mcp.WithPromptServer(prompts),
		mcp.WithResourceServer(resources),
		mcp.WithResourceSubscriptionHandler(subscriptions),
		mcp.WithToolServer(tools),
		mcp.WithTaskServer(tasks),
		mcp.WithSessionManager(sessionManager),
		mcp.WithLogHandler(logs),
		mcp.WithExperimentalCapability("io.modelcontextprotocol/ui", json.RawMessage(`{}`)),
		mcp.WithServerPingInterval(cfg.PingInterval),
		mcp.WithServerPingTimeoutThreshold(pingTimeoutThreshold),
		mcp.WithServerLogger(logger),
		mcp.WithServerOnClientConnected(func(id string, info mcp.Info) {
			logger.Info("client connected", slog.String("session", id), slog.String("client", info.Name))
		}),
		mcp.WithServerOnClientDisconnected(func(id string) {
			logger.Info("client disconnected", slog.String("session", id))
		}),
	)

	mux := http.NewServeMux()

	gate := authgate.New(cfg.APIKey, logger)
	mux.Handle("/mcp", gate.Middleware(transport.Handler()))

	oauth := oauthmock.New(fmt.Sprintf("http://%s", publicHost(cfg)), logger)
	oauth.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go server.Serve()
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	return nil
}

// publishResourceUpdates periodically fires notifications/resources/updated for every
// subscribable resource, standing in for the external mutation (a file changing on disk,
// a row changing in a database) that would normally drive a subscribe-and-get-notified
// flow. Without this, a client that subscribes to test://dynamic/counter would never
// observe an update unless it happened to poll resources/read itself.
func publishResourceUpdates(ctx context.Context, bus *mcp.SubscriptionBus, uris []string) {
	if len(uris) == 0 {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, uri := range uris {
				bus.Publish(ctx, uri)
			}
		}
	}
}

// pingTimeoutThresholdFor derives the number of consecutive failed pings the engine
// tolerates before dropping a session from the configured ping interval and grace
// period, so the two env vars compose into one coherent disconnect policy instead of
// needing a separate timer in the transport.
func pingTimeoutThresholdFor(pingInterval, grace time.Duration) int {
	if pingInterval <= 0 {
		return 1
	}
	threshold := int(grace / pingInterval)
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// publicHost substitutes a dialable loopback address for a wildcard bind address, since
// "http://0.0.0.0:3000" is a listen address, not a URL a client could ever reach.
func publicHost(cfg config.Config) string {
	if cfg.Host == "0.0.0.0" || cfg.Host == "" {
		return fmt.Sprintf("localhost:%d", cfg.Port)
	}
	return cfg.Addr()
}

// mcpLogLevel maps the MCP_LOG_LEVEL config string onto the protocol's own LogLevel
// ladder, which is finer-grained than slog's four levels. Unrecognized values start the
// log handler at LogLevelInfo rather than failing startup over a typo.
func mcpLogLevel(s string) mcp.LogLevel {
	switch s {
	case "debug":
		return mcp.LogLevelDebug
	case "notice":
		return mcp.LogLevelNotice
	case "warning", "warn":
		return mcp.LogLevelWarning
	case "error":
		return mcp.LogLevelError
	case "critical":
		return mcp.LogLevelCritical
	case "alert":
		return mcp.LogLevelAlert
	case "emergency":
		return mcp.LogLevelEmergency
	default:
		return mcp.LogLevelInfo
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
