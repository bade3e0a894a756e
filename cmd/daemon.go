package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modlink/core/cli"
	"github.com/modlink/core/internal/bridge"
	"github.com/modlink/core/internal/daemon/pidfile"
	"github.com/modlink/core/internal/daemon/server"
	"github.com/modlink/core/internal/library"
	"github.com/modlink/core/internal/session"
	"github.com/modlink/core/internal/sync"
	"github.com/modlink/core/logging"
	"github.com/modlink/core/pkg/paths"
)

// NewDaemonCmd returns the daemon command with its lifecycle subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "The modlink bridge daemon",
		Long:  "Maintains the bridge-target connection and keeps item libraries and the live inventory in sync.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the modlink daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			var logCfg logging.Config
			if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
				return err
			}
			logging.Configure(logCfg)
			logger := logging.NewLogger("modlinkd")

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create state directories: %w", err)
			}
			pidPath := cfg.Daemon.PidFile
			if pidPath == "" {
				pidPath = paths.PidFilePath()
			}
			sockPath := cfg.Daemon.Socket
			if sockPath == "" {
				sockPath = paths.SocketPath()
			}

			// 1. Acquire lock
			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// 2. Library store, initial scan and file watcher
			store, err := library.NewStore(cfg.Library.Extension, logger)
			if err != nil {
				return err
			}

			ledger := session.NewLedger()
			imports := session.NewImports()
			store.SetRetireHook(func(project, libID string, items []string) {
				if items == nil {
					ledger.StopLibrary(project, libID)
					return
				}
				for _, item := range items {
					ledger.StopItem(project, libID, item)
				}
			})

			watcher, err := library.NewWatcher(store, cfg.Projects, 0, logger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			// 3. Bridge client, reconciler and heartbeat
			bus := bridge.NewBus(logger)
			client := bridge.NewClient(bridge.Options{
				Endpoint:          cfg.Bridge.Endpoint,
				Scopes:            cfg.Bridge.Scopes,
				RequestTimeout:    cfg.RequestTimeout(),
				ReconnectInterval: cfg.ReconnectInterval(),
			}, bus, logger)
			client.SetAutoConnect(cfg.AutoConnect())

			reconciler := sync.New(store, ledger, imports, client.Queues(), client, logger)
			heartbeat := bridge.NewHeartbeat(client, bus, reconciler, cfg.HeartbeatInterval(), logger)

			bus.OnModeLeft(func() error {
				ledger.Clear()
				imports.Cancel()
				return nil
			})

			// 4. Daemon API server
			srv := server.New(client, store, ledger, imports, logger)
			srv.SetRunningConfig(&server.RunningConfig{
				Endpoint:          cfg.Bridge.Endpoint,
				HeartbeatInterval: cfg.HeartbeatInterval(),
				ReconnectInterval: cfg.ReconnectInterval(),
				RequestTimeout:    cfg.RequestTimeout(),
				StartedAt:         time.Now(),
			})

			// 5. Signals
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("Received stop signal")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}

				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			// 6. Background loops: scan, watch, connect, heartbeat
			go store.Scan(ctx, cfg.Projects)
			go watcher.Start(ctx)
			go client.Run(ctx)
			go func() {
				// The first pass must not race the initial scan.
				select {
				case <-store.Ready():
				case <-ctx.Done():
					return
				}
				heartbeat.Run(ctx)
			}()

			// 7. Serve (blocking)
			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(sockPath); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := resolvePidPath(cmd)

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := resolvePidPath(cmd)
			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("Running (PID: %d)\nSocket: %s\n", pid, resolveSocketPath(cmd))
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // Non-zero for stopped, useful in scripts
			}
			return nil
		},
	}
}

// resolvePidPath prefers the configured pid file when a config is loadable.
func resolvePidPath(cmd *cobra.Command) string {
	if cfg, err := cli.LoadConfig(cmd); err == nil && cfg.Daemon.PidFile != "" {
		return cfg.Daemon.PidFile
	}
	return paths.PidFilePath()
}

func resolveSocketPath(cmd *cobra.Command) string {
	if cfg, err := cli.LoadConfig(cmd); err == nil && cfg.Daemon.Socket != "" {
		return cfg.Daemon.Socket
	}
	return paths.SocketPath()
}
