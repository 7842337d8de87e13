package jobs

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"tweetgraph/internal/metrics"
	"tweetgraph/internal/store"
	"tweetgraph/internal/target"
	"tweetgraph/internal/util"
	"tweetgraph/internal/xclient"
)

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

// UserInfoJob hydrates every target user from the API in one transaction.
type UserInfoJob struct {
	DB      *store.DB
	API     API
	Options FetchOptions
}

func (j *UserInfoJob) Name() string { return "fetch_users" }

func (j *UserInfoJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()

	users, err := j.Options.resolve(ctx, sess, j.API, target.Hydrate)
	if err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	metrics.AddRows("user_data", len(users))
	jobLog(j.Name()).WithField("users", len(users)).Info("Hydrated users")
	return nil
}

// TweetsJob loads new tweets of already stored users, one transaction per
// user.
type TweetsJob struct {
	DB      *store.DB
	API     API
	Options FetchOptions
	// OldTweets refetches from the start instead of after the newest stored tweet.
	OldTweets      bool
	MaxTweets      int
	SinceTimestamp time.Time
}

func (j *TweetsJob) Name() string { return "fetch_tweets" }

func (j *TweetsJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()
	log := jobLog(j.Name())

	users, err := j.Options.resolve(ctx, sess, j.API, target.Skip)
	if err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	var total int
	for i, uid := range j.Options.order(users) {
		n, err := j.loadUser(ctx, sess, uid)
		if err != nil {
			_ = sess.Rollback()
			if err = j.Options.userError(log, uid, err); err != nil {
				return err
			}
			continue
		}
		if err := sess.Commit(); err != nil {
			return err
		}
		total += n
		metrics.AddRows("tweets", n)
		log.WithFields(logrus.Fields{"user": i + 1, "of": len(users), "user_id": uid,
			"tweets": n, "total": total}).Info("Loaded tweets")
	}
	return nil
}

func (j *TweetsJob) loadUser(ctx context.Context, sess *store.Session, uid int64) (int, error) {
	q := xclient.TimelineQuery{UserID: uid, MaxTweets: j.MaxTweets, SinceTimestamp: j.SinceTimestamp}
	if !j.OldTweets {
		since, err := sess.MaxTweetID(ctx, uid)
		if err != nil {
			return 0, err
		}
		q.SinceID = since
	}
	var n int
	for tw, err := range j.API.UserTimeline(ctx, q) {
		if err != nil {
			return 0, err
		}
		if _, err := sess.SaveTweet(ctx, &tw); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// FollowGraphJob refreshes the follow edges of each target user: the full
// id listing is staged, then merged so the user's current edges match it.
// Each user is its own transaction.
type FollowGraphJob struct {
	DB        *store.DB
	API       API
	Options   FetchOptions
	Direction store.Direction
}

// NewFollowersJob loads who follows each target user.
func NewFollowersJob(db *store.DB, api API, opts FetchOptions) *FollowGraphJob {
	return &FollowGraphJob{DB: db, API: api, Options: opts, Direction: store.Followers}
}

// NewFriendsJob loads whom each target user follows.
func NewFriendsJob(db *store.DB, api API, opts FetchOptions) *FollowGraphJob {
	return &FollowGraphJob{DB: db, API: api, Options: opts, Direction: store.Friends}
}

func (j *FollowGraphJob) Name() string { return "fetch_" + j.Direction.String() }

func (j *FollowGraphJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()
	log := jobLog(j.Name())

	users, err := j.Options.resolve(ctx, sess, j.API, target.Skip)
	if err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	var total int
	for i, uid := range j.Options.order(users) {
		n, err := j.loadUser(ctx, sess, uid)
		if err != nil {
			_ = sess.Rollback()
			if err = j.Options.userError(log, uid, err); err != nil {
				return err
			}
			continue
		}
		total += n
		metrics.AddRows(j.Direction.String(), n)
		log.WithFields(logrus.Fields{"user": i + 1, "of": len(users), "user_id": uid,
			"edges": n, "total": total}).Info("Loaded follow edges")
	}
	return nil
}

func (j *FollowGraphJob) ids(ctx context.Context, uid int64) iter.Seq2[int64, error] {
	if j.Direction == store.Friends {
		return j.API.FriendsIDs(ctx, uid)
	}
	return j.API.FollowersIDs(ctx, uid)
}

// loadUser stages and merges one user's edges. Staging commits as it goes;
// the merge and its commit are one transaction.
func (j *FollowGraphJob) loadUser(ctx context.Context, sess *store.Session, uid int64) (int, error) {
	if err := sess.ClearFast(ctx, "stg_follow"); err != nil {
		return 0, err
	}
	var (
		n     int
		batch []int64
	)
	flush := func() error {
		k, err := j.stage(ctx, sess, uid, batch)
		n += k
		batch = batch[:0]
		return err
	}
	for id, err := range j.ids(ctx, uid) {
		if err != nil {
			return 0, err
		}
		batch = append(batch, id)
		if j.Options.LoadBatchSize > 0 && len(batch) >= j.Options.LoadBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return 0, err
		}
	}
	if err := sess.MergeFollows(ctx, j.Direction, uid); err != nil {
		return 0, err
	}
	return n, sess.Commit()
}

// stage inserts one batch into stg_follow. The API occasionally repeats an
// id across batches; when the bulk insert hits one, the batch is retried row
// by row and repeats are dropped.
func (j *FollowGraphJob) stage(ctx context.Context, sess *store.Session, uid int64, batch []int64) (int, error) {
	ids, _ := util.Uniq(batch)
	err := sess.StageFollows(ctx, j.Direction, uid, ids)
	if err == nil {
		return len(ids), sess.Commit()
	}
	if !store.IsUniqueViolation(err) {
		return 0, err
	}
	if err := sess.Rollback(); err != nil {
		return 0, err
	}
	log := jobLog(j.Name())
	log.Info("Working around duplicates in Twitter API response")
	var n int
	for _, id := range ids {
		err := sess.StageFollows(ctx, j.Direction, uid, []int64{id})
		if store.IsUniqueViolation(err) {
			if err := sess.Rollback(); err != nil {
				return n, err
			}
			log.WithFields(logrus.Fields{"user_id": uid, "partner_id": id}).Debug("Dropped duplicate edge")
			continue
		}
		if err != nil {
			return n, err
		}
		if err := sess.Commit(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
