// Command boostd runs the performance arbitration daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boostd/boostd/internal/buildinfo"
	"github.com/boostd/boostd/internal/config"
	"github.com/boostd/boostd/internal/daemon"
)

type options struct {
	configPath string
	dryRun     bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:   "boostd",
		Short: "Arbitrate performance, power and thermal requests onto hardware nodes",
		Long: `boostd accepts timed boost requests over a local control socket and writes
the single winning value of every tunable to its hardware node.`,
		Version:       buildinfo.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := daemon.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			logger.Info("starting boostd", "version", buildinfo.Version, "config", cfg.ConfigPath, "dryRun", cfg.DryRun)
			return daemon.Run(cmd.Context(), cfg, logger)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfig().ConfigPath, "path to config file")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "log node writes instead of performing them")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config and definition files, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := daemon.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			model, err := daemon.LoadModel(cfg, logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdout, "ok: %d resources, %d commands, %d partitions\n",
				len(model.ResourceIDs()), len(model.CmdIDs()), len(model.Partitions()))
			return err
		},
	})
	return root
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
