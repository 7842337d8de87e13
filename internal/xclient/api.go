package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/logging"
	"tweetgraph/internal/model"
	"tweetgraph/internal/util"
)

const (
	lookupBatchSize = 100
	timelinePage    = 200
	idsPage         = 5000
)

// Client exposes the v1.1 operations the loaders need as lazy sequences
// that follow pagination cursors.
type Client struct {
	pool *Pool
	log  *logrus.Entry
}

func NewClient(pool *Pool) *Client {
	return &Client{pool: pool, log: logging.For("client")}
}

// ListRef addresses a list by ID, or by slug plus exactly one of the owner's
// ID or screen name.
type ListRef struct {
	ID              int64
	Slug            string
	OwnerID         int64
	OwnerScreenName string
}

func (r ListRef) String() string {
	switch {
	case r.ID != 0:
		return strconv.FormatInt(r.ID, 10)
	case r.OwnerScreenName != "":
		return r.OwnerScreenName + "/" + r.Slug
	default:
		return strconv.FormatInt(r.OwnerID, 10) + "/" + r.Slug
	}
}

func (r ListRef) params() (url.Values, error) {
	slugParts := r.Slug != "" || r.OwnerID != 0 || r.OwnerScreenName != ""
	bySlug := r.Slug != "" && ((r.OwnerID != 0) != (r.OwnerScreenName != ""))
	if (r.ID != 0 && slugParts) || (r.ID == 0 && !bySlug) {
		return nil, fmt.Errorf("bad list reference %+v", r)
	}
	v := url.Values{}
	switch {
	case r.ID != 0:
		v.Set("list_id", strconv.FormatInt(r.ID, 10))
	case r.OwnerID != 0:
		v.Set("slug", r.Slug)
		v.Set("owner_id", strconv.FormatInt(r.OwnerID, 10))
	default:
		v.Set("slug", r.Slug)
		v.Set("owner_screen_name", r.OwnerScreenName)
	}
	return v, nil
}

// TimelineQuery selects a user's tweets. Zero values mean no limit.
type TimelineQuery struct {
	UserID         int64
	ScreenName     string
	SinceID        int64
	MaxTweets      int
	SinceTimestamp time.Time
}

func get[T any](ctx context.Context, p *Pool, endpoint string, params url.Values) (T, error) {
	var out T
	err := p.Get(ctx, endpoint, params, &out)
	return out, err
}

// LookupUsers hydrates users by ID and by screen name in batches of 100.
// A batch in which every entry is invalid yields nothing rather than an error.
func (c *Client) LookupUsers(ctx context.Context, userIDs []int64, screenNames []string) iter.Seq2[model.User, error] {
	return func(yield func(model.User, error) bool) {
		if len(userIDs) == 0 && len(screenNames) == 0 {
			yield(model.User{}, errors.New("lookup users: no users given"))
			return
		}
		ids := make([]string, len(userIDs))
		for i, id := range userIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		for _, kind := range []struct {
			param string
			vals  []string
		}{{"user_id", ids}, {"screen_name", screenNames}} {
			for _, chunk := range util.Chunk(kind.vals, lookupBatchSize) {
				params := url.Values{
					kind.param:         {strings.Join(chunk, ",")},
					"include_entities": {"true"},
					"tweet_mode":       {"extended"},
				}
				c.log.WithFields(logrus.Fields{"by": kind.param, "count": len(chunk)}).Debug("users/lookup")
				users, err := get[[]model.User](ctx, c.pool, "users/lookup", params)
				if errs.Is(err, errs.KindNotFound) {
					continue
				}
				if err != nil {
					yield(model.User{}, err)
					return
				}
				for _, u := range users {
					if !yield(u, nil) {
						return
					}
				}
			}
		}
	}
}

// GetList hydrates a single list.
func (c *Client) GetList(ctx context.Context, ref ListRef) (model.List, error) {
	params, err := ref.params()
	if err != nil {
		return model.List{}, err
	}
	c.log.WithField("list", ref.String()).Debug("lists/show")
	return get[model.List](ctx, c.pool, "lists/show", params)
}

// ListMembers yields every member of a list, following cursors.
func (c *Client) ListMembers(ctx context.Context, ref ListRef) iter.Seq2[model.User, error] {
	return func(yield func(model.User, error) bool) {
		params, err := ref.params()
		if err != nil {
			yield(model.User{}, err)
			return
		}
		params.Set("count", strconv.Itoa(idsPage))
		params.Set("include_entities", "true")
		params.Set("skip_status", "true")
		type page struct {
			Users      []model.User `json:"users"`
			NextCursor int64        `json:"next_cursor"`
		}
		cursor := int64(-1)
		for {
			params.Set("cursor", strconv.FormatInt(cursor, 10))
			c.log.WithFields(logrus.Fields{"list": ref.String(), "cursor": cursor}).Debug("lists/members")
			pg, err := get[page](ctx, c.pool, "lists/members", params)
			if err != nil {
				yield(model.User{}, err)
				return
			}
			for _, u := range pg.Users {
				if !yield(u, nil) {
					return
				}
			}
			if pg.NextCursor == 0 {
				return
			}
			cursor = pg.NextCursor
		}
	}
}

// UserTimeline yields a user's tweets newest first, paging backwards by
// max_id until the timeline, MaxTweets, or SinceTimestamp is exhausted.
func (c *Client) UserTimeline(ctx context.Context, q TimelineQuery) iter.Seq2[model.Tweet, error] {
	return func(yield func(model.Tweet, error) bool) {
		if (q.UserID != 0) == (q.ScreenName != "") {
			yield(model.Tweet{}, errors.New("user timeline: need exactly one of user id or screen name"))
			return
		}
		params := url.Values{
			"count":           {strconv.Itoa(timelinePage)},
			"tweet_mode":      {"extended"},
			"include_rts":     {"true"},
			"exclude_replies": {"false"},
		}
		if q.UserID != 0 {
			params.Set("user_id", strconv.FormatInt(q.UserID, 10))
		} else {
			params.Set("screen_name", q.ScreenName)
		}
		if q.SinceID > 0 {
			params.Set("since_id", strconv.FormatInt(q.SinceID, 10))
		}
		n := 0
		for {
			c.log.WithFields(logrus.Fields{"user_id": q.UserID, "max_id": params.Get("max_id")}).Debug("statuses/user_timeline")
			tweets, err := get[[]model.Tweet](ctx, c.pool, "statuses/user_timeline", params)
			if err != nil {
				yield(model.Tweet{}, err)
				return
			}
			if len(tweets) == 0 {
				return
			}
			for _, t := range tweets {
				if q.MaxTweets > 0 && n >= q.MaxTweets {
					return
				}
				if !q.SinceTimestamp.IsZero() && t.CreatedAt.Before(q.SinceTimestamp) {
					return
				}
				if !yield(t, nil) {
					return
				}
				n++
			}
			params.Set("max_id", strconv.FormatInt(tweets[len(tweets)-1].ID-1, 10))
		}
	}
}

// FollowersIDs yields the IDs of users following userID.
func (c *Client) FollowersIDs(ctx context.Context, userID int64) iter.Seq2[int64, error] {
	return c.cursoredIDs(ctx, "followers/ids", userID)
}

// FriendsIDs yields the IDs of users userID follows.
func (c *Client) FriendsIDs(ctx context.Context, userID int64) iter.Seq2[int64, error] {
	return c.cursoredIDs(ctx, "friends/ids", userID)
}

func (c *Client) cursoredIDs(ctx context.Context, endpoint string, userID int64) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		type page struct {
			IDs        []int64 `json:"ids"`
			NextCursor int64   `json:"next_cursor"`
		}
		params := url.Values{
			"user_id":       {strconv.FormatInt(userID, 10)},
			"count":         {strconv.Itoa(idsPage)},
			"stringify_ids": {"false"},
		}
		cursor := int64(-1)
		for {
			params.Set("cursor", strconv.FormatInt(cursor, 10))
			c.log.WithFields(logrus.Fields{"user_id": userID, "cursor": cursor}).Debug(endpoint)
			pg, err := get[page](ctx, c.pool, endpoint, params)
			if err != nil {
				yield(0, err)
				return
			}
			for _, id := range pg.IDs {
				if !yield(id, nil) {
					return
				}
			}
			if pg.NextCursor == 0 {
				return
			}
			cursor = pg.NextCursor
		}
	}
}

// RateLimitStatus reports limits for every credential set, or only consumerKey's.
func (c *Client) RateLimitStatus(ctx context.Context, consumerKey string) (map[string]json.RawMessage, error) {
	return c.pool.RateLimitStatus(ctx, consumerKey)
}
