package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/intake/app"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/logger"
	"github.com/teranos/intake/server"
)

// ServerCmd starts the HTTP server and the pipeline workers
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the intake server and pipeline workers",
	Long: `Launch the intake HTTP API and the background workers that advance jobs
through the pipeline. Jobs queued with 'intake submit' while the server was
down are picked up on start.

Progress is streamed to WebSocket clients at /ws?owner=<owner-id>.`,
	RunE: runServer,
}

var (
	serverPort   int
	serverDBPath string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides database.path)")
}

func runServer(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverDBPath != "" {
		cfg.Database.Path = serverDBPath
	}
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger.ComponentLogger("server"))
	if err != nil {
		return errors.Wrap(err, "failed to start intake")
	}
	defer a.Close()

	watcher, err := newConfigWatcher()
	if err != nil {
		logger.Logger.Warnw("Config hot reload disabled", "error", err)
	} else if watcher != nil {
		a.Watch(watcher)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	printStartupBanner(verbosity, cfg.GetDatabasePath(), addr, a.Workers.Workers())

	srv := a.Server()
	a.Ticker.Start()
	defer a.Ticker.Stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancelShutdown()
			shutdownDone <- srv.Shutdown(shutdownCtx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
