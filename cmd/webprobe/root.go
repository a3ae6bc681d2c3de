package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/probekit/webprobe/internal/browser"
	"github.com/probekit/webprobe/internal/config"
	"github.com/probekit/webprobe/internal/engine"
	mcpserver "github.com/probekit/webprobe/internal/mcp"
)

type rootFlags struct {
	configPath string
	engineName string
	headed     bool
	httpAddr   string
	logLevel   string
}

func setupRootCmd(base config.Config) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "webprobe",
		Short: "MCP server for browser automation and testing",
		Long: "webprobe exposes a single browser session as MCP tools: navigation,\n" +
			"interaction, JavaScript evaluation, console/network inspection,\n" +
			"screenshots and storage access. It serves MCP over stdio by default,\n" +
			"or over streamable HTTP when an address is configured.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), base, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flags.engineName, "engine", "", "automation engine: playwright or cdp")
	cmd.Flags().BoolVar(&flags.headed, "headed", false, "run the browser with a visible window")
	cmd.Flags().StringVar(&flags.httpAddr, "http", "", "serve MCP over streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func runServe(ctx context.Context, c config.Config, flags *rootFlags) error {
	setupLogging(flags.logLevel)

	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		c = loaded
	}
	if flags.engineName != "" {
		c.Engine = flags.engineName
	}
	if flags.headed {
		c.Headless = false
	}
	if flags.httpAddr != "" {
		c.HTTPAddr = flags.httpAddr
	}

	resolved, err := c.Resolve()
	if err != nil {
		return err
	}

	var eng engine.Engine
	switch resolved.Engine {
	case config.EngineCDP:
		eng = engine.NewCDP()
	default:
		eng = engine.NewPlaywright()
	}

	session := browser.NewSession(eng, engine.Config{
		Headless:       resolved.Headless,
		ViewportWidth:  resolved.ViewportWidth,
		ViewportHeight: resolved.ViewportHeight,
		DefaultTimeout: resolved.DefaultTimeout,
	}, resolved.LogCap)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Kill the browser process even when the client never called
	// close_browser before disconnecting.
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			slog.Warn("failed to close browser on shutdown", "error", err)
		}
	}()

	srv := mcpserver.NewServer(session)

	if resolved.HTTPAddr != "" {
		return serveHTTP(ctx, srv, resolved.HTTPAddr)
	}

	slog.Info("serving MCP over stdio", "engine", resolved.Engine)
	return srv.Run(ctx)
}

func serveHTTP(ctx context.Context, srv *mcpserver.Server, addr string) error {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving MCP over HTTP", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// setupLogging routes structured logs to stderr so they never corrupt
// the stdio MCP transport on stdout.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
