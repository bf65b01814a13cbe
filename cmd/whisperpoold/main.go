package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/whisperpool/pkg/whisperpool"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "whisperpoold",
	Short:   "whisperpoold supervises a pool of whisper-server child processes",
	Version: "0.1.0",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pool manager and its HTTP surface",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the last persisted pool status snapshot",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)

	serveCmd.Flags().String("listen", ":8080", "address for the outer HTTP contract")
	statusCmd.Flags().String("cache", "/var/run/whisperpool/status.cache", "path to the status cache file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := whisperpool.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := whisperpool.NewLogger(cfg.Logging)
	metrics := whisperpool.NewMetrics()
	cache := whisperpool.NewStatusCache("/var/run/whisperpool/status.cache", nil)

	driverCfg := whisperpool.DriverConfig{
		Cmd:       cfg.WhisperServer.Cmd,
		Cwd:       cfg.WhisperServer.Cwd,
		Model:     cfg.WhisperServer.Model,
		Threads:   cfg.WhisperServer.Threads,
		ExtraArgs: cfg.WhisperServer.ExtraArgs,
	}
	managerCfg := whisperpool.ManagerConfig{
		Size:            cfg.Pool.Size,
		RotateThreshold: cfg.Pool.RotateThreshold,
		StartingPort:    cfg.Pool.StartingPort,
	}

	manager := whisperpool.NewManager(driverCfg, managerCfg, logger, metrics, cache)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("init pool manager: %w", err)
	}

	listen, _ := cmd.Flags().GetString("listen")
	server := newOuterServer(manager, cfg, metrics, listen)

	go func() {
		logger.Info("serving outer HTTP contract", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("outer HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx := cmd.Context()
	_ = server.Shutdown(shutdownCtx)
	return manager.Dispose(shutdownCtx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cachePath, _ := cmd.Flags().GetString("cache")
	cache := whisperpool.NewStatusCache(cachePath, nil)

	status, err := cache.Load()
	if err != nil {
		return fmt.Errorf("load status cache: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
