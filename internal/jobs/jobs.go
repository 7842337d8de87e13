// Package jobs runs the units of work behind each command: fetching users,
// tweets and follow edges into the store, tagging, exporting and admin.
package jobs

import (
	"context"
	"encoding/json"
	"iter"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/logging"
	"tweetgraph/internal/model"
	"tweetgraph/internal/store"
	"tweetgraph/internal/target"
	"tweetgraph/internal/xclient"
)

// Job is one command's unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// API is the Twitter client surface the jobs use; *xclient.Client implements it.
type API interface {
	target.API
	UserTimeline(ctx context.Context, q xclient.TimelineQuery) iter.Seq2[model.Tweet, error]
	FollowersIDs(ctx context.Context, userID int64) iter.Seq2[int64, error]
	FriendsIDs(ctx context.Context, userID int64) iter.Seq2[int64, error]
	RateLimitStatus(ctx context.Context, consumerKey string) (map[string]json.RawMessage, error)
}

var _ API = (*xclient.Client)(nil)

// Targets are the raw references a job resolves and how strictly.
type Targets struct {
	Targets []target.Target
	// AllowMissing tolerates targets absent from the store in skip mode.
	AllowMissing bool
	// AllowAPIErrors tolerates targets the API rejects, and per-user
	// not-found or forbidden errors while fetching.
	AllowAPIErrors bool
}

// resolve resolves every target in mode and returns the union of their
// users in first-seen order. On error the session is rolled back.
func (t Targets) resolve(ctx context.Context, sess *store.Session, api API, mode target.Mode) ([]int64, error) {
	rc := &target.Context{Session: sess, API: api, Mode: mode}
	seen := map[int64]bool{}
	var users []int64
	for _, tg := range t.Targets {
		err := tg.Resolve(ctx, rc)
		if err == nil {
			err = target.Validate(tg, mode, t.AllowMissing, t.AllowAPIErrors)
		}
		if err != nil {
			_ = sess.Rollback()
			return nil, err
		}
		for _, id := range tg.Users() {
			if !seen[id] {
				seen[id] = true
				users = append(users, id)
			}
		}
	}
	return users, nil
}

// FetchOptions tune the per-user fetch jobs.
type FetchOptions struct {
	Targets
	// LoadBatchSize bounds staged follow-edge inserts; 0 loads each user's
	// edges in one batch.
	LoadBatchSize int
	// Randomize shuffles the order users are processed in.
	Randomize bool
	Rand      *rand.Rand
}

// order returns users in processing order, shuffled once if requested.
func (o *FetchOptions) order(users []int64) []int64 {
	if !o.Randomize {
		return users
	}
	out := append([]int64(nil), users...)
	r := o.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// userError decides whether a per-user API failure is tolerated. A nil
// result means skip the user and continue.
func (o *FetchOptions) userError(log *logrus.Entry, userID int64, err error) error {
	if errs.Is(err, errs.KindNotFound) || errs.Is(err, errs.KindForbidden) {
		if o.AllowAPIErrors {
			log.WithError(err).WithField("user_id", userID).Warn("Skipping user after Twitter API error")
			return nil
		}
		return errs.BadTarget([]string{formatID(userID)}, err, "Twitter API rejected user")
	}
	return err
}

func checkSchema(ctx context.Context, db *store.DB) error {
	return db.CheckSchema(ctx, store.SchemaVersion)
}

func jobLog(name string) *logrus.Entry { return logging.For("jobs").WithField("job", name) }
