package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-nexus/nexus/internal/bridge"
	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/logging"
	"github.com/opencode-nexus/nexus/internal/session"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/internal/stream"
	"github.com/opencode-nexus/nexus/internal/supervisor"
)

var (
	serveStartServer bool
	serveRestore     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nexus daemon",
	Long: `Run the daemon: supervise the local OpenCode server process, manage
the connection and event stream, and serve the UI bridge API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveStartServer, "start-server", false, "Start the local server process on boot")
	serveCmd.Flags().BoolVar(&serveRestore, "restore", true, "Reconnect to the most recent saved connection on boot")
}

func runServe(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = paths.ConfigFile()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(cfg.LogLevel),
			Output: os.Stderr,
			Pretty: prettyLogs,
		})
	}

	log := logging.With("daemon")
	log.Info().Str("version", Version).Str("config", cfgPath).Msg("starting nexus")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus()
	store := storage.New(paths.StoragePath())

	sup := supervisor.New(cfg.Server, bus)
	gw := gateway.New(cfg.Auth, bus, store)
	streamer := stream.New(gw, bus)
	sessions := session.New(gw, bus, store)
	go sessions.Run(ctx)

	// Reload-sensitive settings are limited to the log level; process and
	// bridge addresses require a restart.
	watcher := config.NewWatcher(cfgPath, bus)
	watcher.OnReload = func(next *config.Config) {
		if next.LogLevel != "" {
			logging.Init(logging.Config{
				Level:  logging.ParseLevel(next.LogLevel),
				Output: os.Stderr,
				Pretty: prettyLogs,
			})
		}
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	// Drop subscriptions abandoned by disconnected consumers.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := bus.CleanupSubscribers(); n > 0 {
					log.Debug().Int("removed", n).Msg("cleaned up event subscribers")
				}
			}
		}
	}()

	srv := bridge.New(cfg.Bridge, sup, gw, streamer, sessions, bus)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if serveStartServer {
		if err := sup.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start server process")
		} else if err := gw.Connect(ctx, sup.BaseURL()); err != nil {
			log.Error().Err(err).Msg("failed to connect to local server")
		}
	} else if serveRestore {
		if err := gw.Restore(ctx); err != nil {
			log.Warn().Err(err).Msg("could not restore previous connection")
		}
	}
	if gw.IsConnected() {
		if err := streamer.Start(); err != nil {
			log.Warn().Err(err).Msg("could not start event stream")
		}
	}

	bus.Emit(event.New(event.CategoryApplication, event.ApplicationReadyData{
		Version:  Version,
		Features: []string{"supervisor", "gateway", "stream", "sessions", "bridge"},
	}))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		bus.Emit(event.New(event.CategoryApplication, event.ApplicationShutdownData{Reason: sig.String()}))
	case err := <-errCh:
		log.Error().Err(err).Msg("bridge server failed")
		bus.Emit(event.New(event.CategoryApplication, event.ApplicationShutdownData{Reason: "bridge failure"}))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("bridge shutdown error")
	}
	streamer.Stop()
	gw.Close()
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server process stop error")
	}
	bus.Close()

	log.Info().Msg("nexus stopped")
	return nil
}
