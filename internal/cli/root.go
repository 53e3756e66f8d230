package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/config"
	"github.com/cbout22/fbsync/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// overrides are per-command flags that take precedence over fbsync.toml.
type overrides struct {
	workers    int
	localRoot  string
	remoteRoot string
}

func (o *overrides) register(cmd *cobra.Command, g *globalOptions) {
	cmd.Flags().IntVarP(&o.workers, "workers", "w", 0, "Number of files transferred in parallel")
	cmd.Flags().StringVar(&o.localRoot, "local-root", "", "Local directory that receives the mirror")
	cmd.Flags().StringVar(&o.remoteRoot, "remote-root", "", "Remote directory to start the walk from")
	_ = cmd.RegisterFlagCompletionFunc("remote-root", completeRemoteDirs(g))
}

func (o overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") {
		cfg.Sync.Workers = o.workers
	}
	if cmd.Flags().Changed("local-root") {
		cfg.Sync.LocalRoot = o.localRoot
	}
	if cmd.Flags().Changed("remote-root") {
		cfg.Sync.RemoteRoot = o.remoteRoot
	}
}

// load reads the config file, applies flag overrides and builds the logger.
func (g *globalOptions) load(cmd *cobra.Command, ov overrides) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	ov.apply(cmd, cfg)
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// NewRootCmd creates the top-level `fbsync` command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "fbsync",
		Short: "fbsync — one-way mirror of a File Browser server",
		Long: `fbsync pulls files from a File Browser server into a local directory.
Directories opt in with a set.classB marker file and opt out with a set.skip
marker file. Every download is verified against the server's SHA-256 checksum
and retried on transient failures.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultConfigFile, "Path to the config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (console, json)")

	root.AddCommand(newSyncCmd(g))
	root.AddCommand(newCheckCmd(g))
	root.AddCommand(newLoginCmd(g))
	root.AddCommand(newInitCmd(g))

	return root
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
