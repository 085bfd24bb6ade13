package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/computesdk/sandbox-agent/internal/agent"
	"github.com/computesdk/sandbox-agent/internal/httpapi"
	"github.com/computesdk/sandbox-agent/internal/install"
	"github.com/computesdk/sandbox-agent/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":7040", "Listen address")
	serveCmd.Flags().String("token", "", "Bearer token required on every request (empty disables auth)")
	serveCmd.Flags().String("workdir", "", "Directory agent processes run in (default: current directory)")
	serveCmd.Flags().String("install-dir", "", "Managed directory for installed agent binaries (default: <workdir>/.agents)")
	serveCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("with-mock-agent", false, "Register the in-process mock agent (testing)")

	// Every flag is also settable through the environment, e.g.
	// SANDBOX_AGENT_TOKEN=... sandbox-agent serve
	viper.SetEnvPrefix("SANDBOX_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	workDir := viper.GetString("workdir")
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workdir: %w", err)
		}
	}
	installDir := viper.GetString("install-dir")
	if installDir == "" {
		installDir = filepath.Join(workDir, ".agents")
	}
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	registry := agent.NewRegistry(agent.RegistryConfig{
		InstallDir: installDir,
		WithMock:   viper.GetBool("with-mock-agent"),
		Logger:     logger,
	})

	watcher, err := agent.WatchInstallDir(installDir, registry, logger)
	if err != nil {
		// The watcher is an optimization; installs still refresh explicitly.
		logger.Warn("install dir watch unavailable", "dir", installDir, "error", err)
	} else {
		defer watcher.Close()
	}

	manager := session.NewManager(session.ManagerConfig{
		Registry: registry,
		WorkDir:  workDir,
		Logger:   logger,
	})
	defer manager.Close()

	server := httpapi.NewServer(httpapi.Config{
		Manager:   manager,
		Registry:  registry,
		Installer: install.New(installDir, logger),
		Token:     viper.GetString("token"),
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:    viper.GetString("addr"),
		Handler: server,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("daemon started",
			"addr", httpServer.Addr,
			"workdir", workDir,
			"install_dir", installDir,
			"auth", viper.GetString("token") != "",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
