package main

import (
	"time"

	"github.com/spf13/cobra"

	"tweetgraph/internal/jobs"
	"tweetgraph/internal/store"
)

type fetchFlags struct {
	targetFlags
	database      string
	apis          []string
	randomize     bool
	loadBatchSize int
}

func (f *fetchFlags) register(cmd *cobra.Command, extra bool) {
	f.targetFlags.register(cmd)
	f.registerAllowAPIErrors(cmd)
	fl := cmd.Flags()
	fl.BoolVarP(&f.randomize, "randomize", "w", false, "randomize the order targets are processed in")
	fl.StringVarP(&f.database, "database", "d", "", "database profile to use instead of the default")
	fl.StringSliceVarP(&f.apis, "api", "a", nil, "use only these API profiles")
	if extra {
		f.registerAllowMissing(cmd)
		fl.IntVarP(&f.loadBatchSize, "load-batch-size", "j", 0, "load rows in batches of this size (default all at once)")
	}
}

// prepare opens the database and API client and assembles the fetch options.
func (f *fetchFlags) prepare(cmd *cobra.Command, root *rootCommand) (*store.DB, jobs.API, jobs.FetchOptions, error) {
	targets, err := f.build()
	if err != nil {
		return nil, nil, jobs.FetchOptions{}, err
	}
	api, err := root.newClient(f.apis)
	if err != nil {
		return nil, nil, jobs.FetchOptions{}, err
	}
	db, err := root.openDB(cmd.Context(), f.database)
	if err != nil {
		return nil, nil, jobs.FetchOptions{}, err
	}
	opts := jobs.FetchOptions{Targets: targets, LoadBatchSize: f.loadBatchSize, Randomize: f.randomize}
	return db, api, opts, nil
}

func fetchCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "fetch", Short: "Fetch Twitter data"}

	users := &fetchFlags{}
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Fetch user info for the targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, api, opts, err := users.prepare(cmd, root)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, &jobs.UserInfoJob{DB: db, API: api, Options: opts})
		},
	}
	users.register(usersCmd, false)

	followers := &fetchFlags{}
	followersCmd := &cobra.Command{
		Use:   "followers",
		Short: "Fetch the followers of stored target users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, api, opts, err := followers.prepare(cmd, root)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, jobs.NewFollowersJob(db, api, opts))
		},
	}
	followers.register(followersCmd, true)

	friends := &fetchFlags{}
	friendsCmd := &cobra.Command{
		Use:   "friends",
		Short: "Fetch the accounts stored target users follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, api, opts, err := friends.prepare(cmd, root)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, jobs.NewFriendsJob(db, api, opts))
		},
	}
	friends.register(friendsCmd, true)

	tweets := &fetchFlags{}
	var (
		oldTweets bool
		sinceTS   int64
		maxTweets int
	)
	tweetsCmd := &cobra.Command{
		Use:   "tweets",
		Short: "Fetch the timelines of stored target users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, api, opts, err := tweets.prepare(cmd, root)
			if err != nil {
				return err
			}
			job := &jobs.TweetsJob{DB: db, API: api, Options: opts, OldTweets: oldTweets, MaxTweets: maxTweets}
			if sinceTS > 0 {
				job.SinceTimestamp = time.Unix(sinceTS, 0).UTC()
			}
			return run(cmd.Context(), db, job)
		},
	}
	tweets.register(tweetsCmd, true)
	tweetsCmd.Flags().BoolVarP(&oldTweets, "old-tweets", "o", false, "also load tweets older than the newest stored one")
	tweetsCmd.Flags().Int64VarP(&sinceTS, "since-timestamp", "z", 0, "ignore tweets older than this Unix timestamp")
	tweetsCmd.Flags().IntVarP(&maxTweets, "max-tweets", "r", 0, "max tweets to collect per user")

	cmd.AddCommand(usersCmd, followersCmd, friendsCmd, tweetsCmd)
	return cmd
}
