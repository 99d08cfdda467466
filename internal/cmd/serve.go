package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/internal/config"
	"github.com/tenexa/wanworker/internal/observability"
	"github.com/tenexa/wanworker/internal/server"
	"github.com/tenexa/wanworker/pkg/artifact"
	"github.com/tenexa/wanworker/pkg/comfy"
	"github.com/tenexa/wanworker/pkg/diagnostics"
	"github.com/tenexa/wanworker/pkg/dispatcher"
	"github.com/tenexa/wanworker/pkg/supervisor"
	"github.com/tenexa/wanworker/pkg/tracker"
	"github.com/tenexa/wanworker/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the engine and serve the job API",
	Long: `Launch the ComfyUI engine subprocess (when configured), wait for it
to become ready, and serve the job API.

Readiness failure is fatal: a worker whose engine never came up must exit
so the platform can replace it instead of routing jobs into a dead pod.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rootConfig)
	if err != nil {
		return err
	}
	if cfg.Logging.Level != "" && !cmd.Flags().Changed("log-level") {
		if err := observability.Init(cfg.Logging.Level); err != nil {
			return err
		}
	}
	logger := observability.Logger

	logger.Info("worker starting",
		zap.String("version", Version),
		zap.String("handler_version", cfg.HandlerVersion),
		zap.String("engine", cfg.Engine.Endpoint()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := comfy.NewClient(cfg.Engine.Endpoint())
	sup := supervisor.New(client, supervisor.Options{
		Command: cfg.Engine.Command,
		LogPath: cfg.Engine.LogPath,
	}, logger)

	if err := sup.Launch(); err != nil {
		logger.Error("engine launch failed", zap.Error(err))
		observability.Sync()
		os.Exit(1)
	}
	if err := sup.BringUp(ctx, cfg.Engine.ReadyTimeout()); err != nil {
		var se *supervisor.StartupError
		if errors.As(err, &se) {
			logger.Error("engine never became ready",
				zap.String("reason", string(se.Reason)),
				zap.Duration("elapsed", se.Elapsed),
				zap.String("logs_tail", se.LogsTail))
		} else {
			logger.Error("engine never became ready", zap.Error(err))
		}
		observability.Sync()
		os.Exit(1)
	}
	logger.Info("engine ready")

	store, err := workflow.NewStore()
	if err != nil {
		return err
	}

	collector := diagnostics.NewCollector(client, store, sup, diagnostics.Options{
		EngineRoot:     cfg.Engine.Root,
		InputDir:       cfg.Engine.InputDir,
		OutputDir:      cfg.Engine.OutputDir,
		VolumeRoot:     cfg.Volume.Root,
		HandlerVersion: cfg.HandlerVersion,
	}, logger)

	var uploader dispatcher.Uploader
	if cfg.Artifact.Enabled() {
		up, err := artifact.NewUploader(ctx, artifact.UploadOptions{
			Endpoint:  cfg.Artifact.Endpoint,
			Bucket:    cfg.Artifact.Bucket,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
		}, logger)
		if err != nil {
			return err
		}
		uploader = up
		logger.Info("artifact upload enabled", zap.String("bucket", cfg.Artifact.Bucket))
	}

	disp := dispatcher.New(
		client,
		store,
		tracker.New(client, cfg.Engine.OutputDir, logger),
		collector,
		sup,
		uploader,
		dispatcher.Options{
			EngineRoot:     cfg.Engine.Root,
			InputDir:       cfg.Engine.InputDir,
			OutputDir:      cfg.Engine.OutputDir,
			VolumeRoot:     cfg.Volume.Root,
			ReadyTimeout:   cfg.Engine.ReadyTimeout(),
			ExecTimeout:    cfg.Engine.ExecTimeout(),
			HandlerVersion: cfg.HandlerVersion,
		},
		logger,
	)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Deps{
		Dispatcher:     disp,
		Engine:         sup,
		Version:        Version,
		HandlerVersion: cfg.HandlerVersion,
		Logger:         logger,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}
