package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"tweetgraph/internal/config"
	"tweetgraph/internal/errs"
	"tweetgraph/internal/logging"
	"tweetgraph/internal/metrics"
	"tweetgraph/internal/theme"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(errs.ExitCode(err))
	}
}

// rootCommand holds the global flags and the loaded configuration shared by
// every subcommand.
type rootCommand struct {
	configPath  string
	verbosity   int
	logJSON     bool
	metricsAddr string

	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &rootCommand{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "tweetgraph",
		Short:         "Fetch Twitter data and store it in a relational schema",
		Long:          theme.Banner() + "\nFetch Twitter data and store it in a relational schema.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(root.verbosity, root.logJSON, root.stderr)
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			// profile management edits the file as written
			if !underConfig(cmd) {
				cfg.ResolveEnv()
			}
			root.cfg = cfg
			addr := root.metricsAddr
			if addr == "" {
				addr = cfg.Metrics.Addr
			}
			metrics.StartServer(addr)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&root.configPath, "config-file", "c", config.DefaultPath(), "path to config file")
	flags.CountVarP(&root.verbosity, "verbose", "v", "verbose output (repeat for more)")
	flags.BoolVar(&root.logJSON, "log-json", false, "log JSON lines instead of text")
	flags.StringVar(&root.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(
		initializeCommand(root),
		fetchCommand(root),
		tagCommand(root),
		exportCommand(root),
		showCommand(root),
		configCommand(root),
	)
	return cmd
}

func underConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" && c.Parent() != nil && !c.Parent().HasParent() {
			return true
		}
	}
	return false
}
