package main

import (
	"context"

	"github.com/spf13/cobra"

	"tweetgraph/internal/cmdlog"
	"tweetgraph/internal/jobs"
	"tweetgraph/internal/store"
	"tweetgraph/internal/target"
	"tweetgraph/internal/xclient"
)

// targetFlags are the user selection flags shared by fetch, tag apply and
// export.
type targetFlags struct {
	tags    []string
	userIDs []int64
	names   []string
	lists   []string

	allowMissing   bool
	allowAPIErrors bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.tags, "select-tags", "g", nil, "process stored users with these tags")
	fl.Int64SliceVarP(&f.userIDs, "user-ids", "i", nil, "process these Twitter user IDs")
	fl.StringSliceVarP(&f.names, "screen-names", "n", nil, "process these Twitter screen names")
	fl.StringSliceVarP(&f.lists, "twitter-lists", "l", nil, "process the members of these lists (ID or owner/slug)")
}

func (f *targetFlags) registerAllowMissing(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.allowMissing, "allow-missing-targets", "p", false,
		"continue when a target should be in the database but is not")
}

func (f *targetFlags) registerAllowAPIErrors(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.allowAPIErrors, "allow-api-errors", "b", false,
		"continue when the API reports a target protected or missing")
}

func (f *targetFlags) empty() bool {
	return len(f.tags) == 0 && len(f.userIDs) == 0 && len(f.names) == 0 && len(f.lists) == 0
}

func (f *targetFlags) build() (jobs.Targets, error) {
	out := jobs.Targets{AllowMissing: f.allowMissing, AllowAPIErrors: f.allowAPIErrors}
	if len(f.userIDs) > 0 {
		out.Targets = append(out.Targets, target.NewUserIDs(f.userIDs))
	}
	if len(f.names) > 0 {
		out.Targets = append(out.Targets, target.NewScreenNames(f.names))
	}
	if len(f.lists) > 0 {
		lt, err := target.NewLists(f.lists)
		if err != nil {
			return out, err
		}
		out.Targets = append(out.Targets, lt)
	}
	if len(f.tags) > 0 {
		out.Targets = append(out.Targets, target.NewTags(f.tags))
	}
	return out, nil
}

func (r *rootCommand) openDB(ctx context.Context, profile string) (*store.DB, error) {
	url, err := r.cfg.DatabaseURL(profile)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, url)
}

// newClient builds an API client over a pool of the named API profiles, or
// of every profile when none are named.
func (r *rootCommand) newClient(profiles []string) (*xclient.Client, error) {
	creds, err := r.cfg.SelectAPIProfiles(profiles)
	if err != nil {
		return nil, err
	}
	sessions := make([]xclient.Caller, 0, len(creds))
	for _, c := range creds {
		var opts []xclient.SessionOption
		if pc := r.cfg.Pool; pc.RequestsPerSecond > 0 {
			opts = append(opts, xclient.WithLimiter(xclient.NewLimiter(pc.RequestsPerSecond, pc.Burst)))
		}
		sessions = append(sessions, xclient.NewSession(xclient.Credentials{
			ConsumerKey:    c.ConsumerKey,
			ConsumerSecret: c.ConsumerSecret,
			Token:          c.Token,
			TokenSecret:    c.TokenSecret,
		}, opts...))
	}
	pool, err := xclient.NewPool(sessions,
		xclient.WithCapacitySleep(r.cfg.Pool.CapacitySleep),
		xclient.WithCapacityRetries(r.cfg.Pool.CapacityRetries),
	)
	if err != nil {
		return nil, err
	}
	return xclient.NewClient(pool), nil
}

// run executes a job under cmdlog and closes the database afterwards.
func run(ctx context.Context, db *store.DB, job jobs.Job) error {
	if db != nil {
		defer db.Close()
	}
	return cmdlog.Run(job.Name(), func() error { return job.Run(ctx) })
}
