package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/jobs"
	"tweetgraph/internal/store"
	"tweetgraph/internal/theme"
)

func initializeCommand(root *rootCommand) *cobra.Command {
	var (
		database string
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Initialize the database schema (deletes all data)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.openDB(cmd.Context(), database)
			if err != nil {
				return err
			}
			if err := run(cmd.Context(), db, &jobs.InitializeJob{DB: db, Confirmed: yes}); err != nil {
				return err
			}
			theme.PrintBanner(root.stdout)
			fmt.Fprintln(root.stdout, "Database initialized at schema version", store.SchemaVersion)
			return nil
		},
	}
	cmd.Flags().StringVarP(&database, "database", "d", "", "database profile to use instead of the default")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm that all data may be deleted")
	return cmd
}

func showCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "show", Short: "Print information"}

	var (
		full        bool
		profile     string
		consumerKey string
	)
	ratelimit := &cobra.Command{
		Use:   "ratelimit",
		Short: "Show API rate limit usage per credential set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var profiles []string
			if profile != "" {
				p, ok := root.cfg.APIProfiles[profile]
				if !ok {
					return errs.BadConfig("unknown api profile %q", profile)
				}
				profiles, consumerKey = []string{profile}, p.ConsumerKey
			}
			api, err := root.newClient(profiles)
			if err != nil {
				return err
			}
			return run(cmd.Context(), nil, &jobs.RateLimitJob{API: api, ConsumerKey: consumerKey, Full: full, Out: root.stdout})
		},
	}
	ratelimit.Flags().BoolVarP(&full, "full", "f", false, "print the full JSON response")
	ratelimit.Flags().StringVarP(&profile, "api-profile-name", "n", "", "API profile name")
	ratelimit.Flags().StringVarP(&consumerKey, "consumer-key", "k", "", "consumer key")
	ratelimit.MarkFlagsMutuallyExclusive("api-profile-name", "consumer-key")

	cmd.AddCommand(ratelimit)
	return cmd
}
