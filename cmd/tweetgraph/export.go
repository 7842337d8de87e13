package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tweetgraph/internal/jobs"
	"tweetgraph/internal/store"
)

func exportCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "export", Short: "Export stored data as CSV"}
	for _, kind := range store.ExportNames() {
		cmd.AddCommand(exportKindCommand(root, kind))
	}
	return cmd
}

func exportKindCommand(root *rootCommand, kind string) *cobra.Command {
	var (
		database string
		outfile  string
		targets  targetFlags
	)
	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("Export %s", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := targets.build()
			if err != nil {
				return err
			}
			var out io.Writer = root.stdout
			if outfile != "" {
				f, err := os.Create(outfile)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			db, err := root.openDB(cmd.Context(), database)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, &jobs.ExportJob{DB: db, Kind: kind, Targets: tg, Out: out})
		},
	}
	targets.register(cmd)
	targets.registerAllowMissing(cmd)
	cmd.Flags().StringVarP(&database, "database", "d", "", "database profile to use instead of the default")
	cmd.Flags().StringVarP(&outfile, "outfile", "o", "", "write the export to this file (default stdout)")
	return cmd
}
