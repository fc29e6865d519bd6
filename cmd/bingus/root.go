package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/bingus/internal/config"
	"github.com/neboloop/bingus/internal/defaults"
	"github.com/neboloop/bingus/internal/lifecycle"
	"github.com/neboloop/bingus/internal/logging"
	"github.com/neboloop/bingus/internal/server"
	"github.com/neboloop/bingus/internal/svc"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "bingus",
		Short: "Bingus - personal assistant daemon",
		Long: `Bingus keeps one conversation with you over a WebSocket, answers with an
LLM, and can wake itself up later to follow up.

Just type 'bingus' to start the daemon.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML file layered over the built-in config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(SendCmd())
	rootCmd.AddCommand(LogCmd())
	rootCmd.AddCommand(WakeCmd())

	return rootCmd
}

// ServeCmd runs the daemon in the foreground
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context())
		},
	}
}

// RunServe starts every component and blocks until SIGINT/SIGTERM.
func RunServe(parent context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	level := c.Log.Level
	if verbose {
		level = "debug"
	}
	logging.Init(level, c.Log.Format == "json")
	defer logging.Sync()

	if err := c.Validate(); err != nil {
		return err
	}

	dataDir, err := defaults.EnsureDataDir(c.Storage.DataDir)
	if err != nil {
		return err
	}

	// Enforce single instance with lock file
	lockFile, err := acquireLock(dataDir)
	if err != nil {
		return fmt.Errorf("%w: bingus is already running for %s", err, dataDir)
	}
	defer releaseLock(lockFile)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registerLifecycleLogging()

	svcCtx, err := svc.NewServiceContext(ctx, c, dataDir, svc.Options{})
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	if err := svcCtx.Start(ctx); err != nil {
		return err
	}

	err = server.Run(ctx, server.ServerOptions{
		Addr:      c.Addr(),
		AuthToken: c.Server.AuthToken,
		Log:       svcCtx.Log,
		Manager:   svcCtx.Manager,
		SendRate:  c.Server.SendRate,
		SendBurst: c.Server.SendBurst,
		Quiet:     !verbose,
	}, func(addr net.Addr) {
		lifecycle.Emit(lifecycle.EventServerStarted, addr.String())
	})
	lifecycle.Emit(lifecycle.EventShutdownStarted, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var lifecycleOnce bool

func registerLifecycleLogging() {
	if lifecycleOnce {
		return
	}
	lifecycleOnce = true

	log := logging.Named("lifecycle")
	lifecycle.OnServerStarted(func() { log.Infof("daemon ready") })
	lifecycle.OnShutdown(func() { log.Infof("shutting down") })
	lifecycle.OnClientConnected(func(remote string) { log.Infof("client connected from %s", remote) })
	lifecycle.OnClientDisconnected(func(remote string) { log.Infof("client %s disconnected", remote) })
	lifecycle.OnAgentRunComplete(func(d lifecycle.AgentRunEventData) {
		log.Debugf("run complete: provider=%s tools=%d took=%dms", d.Provider, d.ToolCalls, d.DurationMS)
	})
	lifecycle.OnAgentRunError(func(d lifecycle.AgentRunEventData) {
		log.Warnf("run failed: provider=%s err=%v", d.Provider, d.Error)
	})
	lifecycle.OnWakeFired(func(d lifecycle.WakeEventData) { log.Infof("woke: %s", d.Reason) })
}
