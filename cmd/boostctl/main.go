// ABOUTME: Entry point for boostctl, the local client for boostd.
// ABOUTME: Builds the cobra command tree and reports errors with hints.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/boostd/boostd/internal/buildinfo"
)

type globalOptions struct {
	socketPath string
	jsonOutput bool
	timeout    time.Duration
}

// app carries what every command needs. Tests replace newClient and
// terminal.
type app struct {
	opts      globalOptions
	stdout    io.Writer
	stderr    io.Writer
	newClient func(globalOptions) *apiClient
	terminal  func() bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		newClient: func(opts globalOptions) *apiClient {
			return newAPIClient(opts.socketPath, opts.timeout)
		},
		terminal: func() bool {
			return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		},
	}
}

func (a *app) client() *apiClient {
	return a.newClient(a.opts)
}

// table reports whether output should be rendered for a human.
func (a *app) table() bool {
	return !a.opts.jsonOutput && a.terminal()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "boostctl",
		Short: "Control the boostd performance arbitration daemon",
		Long: `boostctl sends performance, limit and policy requests to boostd over its
unix socket and inspects the arbitrated resource values.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.socketPath, "socket", defaultSocketPath, "path to boostd socket")
	flags.BoolVar(&a.opts.jsonOutput, "json", false, "output json")
	flags.DurationVar(&a.opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 5s, 1m)")

	root.AddCommand(
		newPerfCmd(a),
		newToggleCmd(a),
		newLimitBoostCmd(a),
		newLimitCmd(a),
		newEnableCmd(a),
		newDisableCmd(a),
		newThermalCmd(a),
		newModeCmd(a),
		newCountsCmd(a),
		newStatusCmd(a),
		newResourcesCmd(a),
		newEventsCmd(a),
		newReportsCmd(a),
	)
	return root
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(newApp(stdout, stderr))
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(stderr, annotate(err))
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
