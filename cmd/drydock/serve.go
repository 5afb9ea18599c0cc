package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/drydock/cli"
	"github.com/zhubert/drydock/config"
	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/logger"
	"github.com/zhubert/drydock/manager"
	"github.com/zhubert/drydock/server"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr  string
		image       string
		name        string
		publishPort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the viewer WebSocket endpoint",
		Long: `Serve accepts viewer connections and multiplexes them onto container
sessions. With --image it also launches a workspace container for the
agent before listening; the container is stopped and removed on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ValidateRequired(cli.DefaultPrerequisites()); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if image != "" {
				cfg.ContainerImage = image
			}
			if publishPort > 0 {
				cfg.PublishPort = publishPort
			}
			if debugMode {
				cfg.Debug = true
				logger.SetDebug(true)
			}

			return runServe(cmd.Context(), cfg, name)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&image, "image", "", "launch a workspace container from this image")
	cmd.Flags().StringVar(&name, "name", "", "name for the launched workspace container")
	cmd.Flags().IntVar(&publishPort, "publish-port", 0, "container port to publish on a local ephemeral port")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, workspaceName string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.NewDockerEngine()
	if err != nil {
		return fmt.Errorf("failed to connect to container engine: %w", err)
	}
	defer eng.Close()

	var workspaceID string
	if cfg.ContainerImage != "" {
		workspaceID, err = eng.CreateWorkspace(ctx, engine.WorkspaceSpec{
			Name:        workspaceName,
			Image:       cfg.ContainerImage,
			WorkDir:     cfg.ContainerWorkdir,
			PublishPort: cfg.PublishPort,
		})
		if err != nil {
			return fmt.Errorf("failed to launch workspace: %w", err)
		}
		fmt.Printf("workspace container started: %s\n", workspaceID[:12])

		src := cfg.SourceRepo
		if src == "" {
			if src, err = os.Getwd(); err != nil {
				return fmt.Errorf("failed to resolve source repository: %w", err)
			}
		}
		if err := eng.CopyTree(ctx, workspaceID, src, cfg.ContainerWorkdir); err != nil {
			return fmt.Errorf("failed to seed workspace from %s: %w", src, err)
		}
		fmt.Printf("seeded %s from %s\n", cfg.ContainerWorkdir, src)

		if cfg.PublishPort > 0 {
			if port, err := eng.PublishedPort(ctx, workspaceID, cfg.PublishPort); err == nil {
				fmt.Printf("published port: 127.0.0.1:%s -> %d\n", port, cfg.PublishPort)
			}
		}
	}

	coord, err := manager.New(cfg, eng)
	if err != nil {
		return err
	}

	srv := server.New(cfg.ListenAddr, coord)
	coord.SetNotifier(srv)

	fmt.Printf("listening on ws://%s/ws\n", cfg.ListenAddr)
	serveErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.WithComponent("main").Error("shutdown error", "error", err)
	}

	if workspaceID != "" {
		if err := eng.StopContainer(shutdownCtx, workspaceID); err != nil {
			logger.WithComponent("main").Warn("workspace stop failed", "error", err)
		}
		if err := eng.RemoveContainer(shutdownCtx, workspaceID); err != nil {
			logger.WithComponent("main").Warn("workspace removal failed", "error", err)
		}
	}

	logger.Close()
	return serveErr
}
