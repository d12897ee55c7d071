package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctford/lein-mcp/configs"
	"github.com/ctford/lein-mcp/internal/adapter/inbound/mcphttp"
	"github.com/ctford/lein-mcp/internal/adapter/outbound/localfs"
	"github.com/ctford/lein-mcp/internal/adapter/outbound/memrepo"
	"github.com/ctford/lein-mcp/internal/adapter/outbound/nrepl"
	"github.com/ctford/lein-mcp/internal/adapter/outbound/portfile"
	"github.com/ctford/lein-mcp/internal/domain"
	"github.com/ctford/lein-mcp/internal/telemetry"
	"github.com/ctford/lein-mcp/internal/usecase"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP bridge",
		Long: `Start the MCP bridge in front of the project's nREPL server.

Configuration comes from LEINMCP_* environment variables, optionally
layered over a YAML file (LEINMCP_CONFIG_FILE, default lein-mcp.yaml).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()))

	// === Observability ===
	shutdownOtel, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		Endpoint:       cfg.OtelExporterOtlpEndpoint,
		Insecure:       cfg.OtelExporterOtlpInsecure,
		ServiceName:    usecase.ServerName,
		ServiceVersion: version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()
	metrics := telemetry.NewMetrics()

	// === nREPL ===
	resolve, err := nreplAddress(ctx, cfg, logger)
	if err != nil {
		return err
	}
	client := nrepl.NewClient(resolve, logger, nrepl.WithDialTimeout(cfg.NREPLDialTimeout))
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close nREPL connection.", slog.Any("error", err))
		}
	}()
	evaluator := nrepl.NewEvaluator(client, logger,
		nrepl.WithEvalTimeout(cfg.EvalTimeout),
		nrepl.WithEvalObserver(metrics),
	)

	// === Use cases ===
	session := domain.NewSession(cfg.DefaultNamespace)
	defer session.Reset()

	catalogRepo := memrepo.NewInMemoryCatalog(logger)
	catalogUC := usecase.NewServeCatalogUseCase(catalogRepo, logger)
	if err := catalogUC.Publish(ctx); err != nil {
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	toolsUC := usecase.NewInvokeToolUseCase(catalogRepo, evaluator, localfs.New(cfg.ProjectDir), session, logger)
	resourcesUC := usecase.NewReadResourceUseCase(evaluator, session, logger)
	dispatcher := usecase.NewDispatcher(session, catalogUC, toolsUC, resourcesUC, logger,
		usecase.WithObserver(metrics),
		usecase.WithServerVersion(version),
	)

	// === MCP endpoint ===
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	mcpServer := &http.Server{
		Handler: mcphttp.NewHandler(dispatcher, logger,
			mcphttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, metrics.ObserveRateLimited),
		),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	portPath := projectPath(cfg.ProjectDir, cfg.PortFile)
	port := listener.Addr().(*net.TCPAddr).Port
	if err := portfile.Write(portPath, port); err != nil {
		_ = listener.Close()
		return err
	}
	defer func() {
		if err := portfile.Remove(portPath); err != nil {
			logger.Warn("Failed to remove port file.", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("MCP server starting.",
			slog.String("address", listener.Addr().String()),
			slog.String("port_file", portPath))
		if err := mcpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("MCP server failed.", slog.Any("error", err))
			stop()
		}
	}()

	// === Admin server (optional) ===
	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminMux := http.NewServeMux()
		mcphttp.NewAdminHandlers(evaluator, metrics.Handler(), logger).RegisterAdminRoutes(adminMux)
		adminServer = &http.Server{
			Addr:        cfg.AdminAddr,
			Handler:     adminMux,
			ReadTimeout: cfg.ServerReadTimeout,
		}
		go func() {
			logger.Info("Admin HTTP server starting.", slog.String("address", adminServer.Addr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Admin HTTP server failed.", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()

	// === Shutdown ===
	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin HTTP server graceful shutdown failed.", slog.Any("error", err))
		}
	}
	if err := mcpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("MCP server graceful shutdown failed.", slog.Any("error", err))
	}
	logger.Info("Servers shut down.")
	return nil
}

// nreplAddress returns the resolver used on every dial. A port file is
// re-read each time so a restarted REPL on a new port is picked up.
func nreplAddress(ctx context.Context, cfg *configs.Config, logger *slog.Logger) (nrepl.AddrFunc, error) {
	if cfg.NREPLAddr != "" {
		logger.Info("Using configured nREPL address.", slog.String("address", cfg.NREPLAddr))
		return nrepl.StaticAddr(cfg.NREPLAddr), nil
	}

	path := projectPath(cfg.ProjectDir, cfg.NREPLPortFile)
	waitCtx, cancel := context.WithTimeout(ctx, cfg.NREPLWait)
	defer cancel()
	port, err := portfile.Wait(waitCtx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("nREPL not available (start it with `lein repl :headless`): %w", err)
	}
	logger.Info("Found nREPL port.", slog.String("path", path), slog.Int("port", port))

	return func(context.Context) (string, error) {
		return portfile.LoopbackAddr(path)
	}, nil
}

func projectPath(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
