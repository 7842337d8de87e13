package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"tweetgraph/internal/util"
)

// Export is a read-only CSV extract.
type Export struct {
	Name    string
	Columns []string
	// query builds the SQL; restrict limits it to users in stg_user.
	query func(d Dialect, restrict bool) string
}

const eligibleUsers = `(SELECT DISTINCT user_id FROM user_data)`

func eligible(restrict bool) string {
	if restrict {
		return "stg_user"
	}
	return eligibleUsers
}

// restrictEdge joins both ends of an edge to stg_user when restricting.
func restrictEdge(restrict bool, src, tgt string) string {
	if !restrict {
		return ""
	}
	return ` JOIN stg_user su1 ON su1.user_id = ` + src + ` JOIN stg_user su2 ON su2.user_id = ` + tgt
}

func edgeCount(table, src, tgt, join, where, count string) func(Dialect, bool) string {
	return func(_ Dialect, restrict bool) string {
		return `SELECT ` + src + ` AS source_user_id, ` + tgt + ` AS target_user_id, COUNT(*) AS ` + count +
			` FROM ` + table + join + restrictEdge(restrict, src, tgt) + where +
			` GROUP BY ` + src + `, ` + tgt + ` ORDER BY 1, 2`
	}
}

var exports = map[string]Export{
	"follow-graph": {
		Name:    "follow-graph",
		Columns: []string{"source_user_id", "target_user_id"},
		query: func(_ Dialect, restrict bool) string {
			return `SELECT f.source_user_id, f.target_user_id FROM follow f` +
				restrictEdge(restrict, "f.source_user_id", "f.target_user_id") +
				` WHERE f.valid_end_dt IS NULL ORDER BY 1, 2`
		},
	},
	"mention-graph": {
		Name:    "mention-graph",
		Columns: []string{"source_user_id", "target_user_id", "num_mentions"},
		query: edgeCount("user_mention um", "t.user_id", "um.mentioned_user_id",
			` JOIN tweet t ON t.tweet_id = um.tweet_id`, "", "num_mentions"),
	},
	"reply-graph": {
		Name:    "reply-graph",
		Columns: []string{"source_user_id", "target_user_id", "num_replies"},
		query: edgeCount("tweet t", "t.user_id", "t.in_reply_to_user_id",
			"", ` WHERE t.in_reply_to_user_id IS NOT NULL`, "num_replies"),
	},
	"retweet-graph": {
		Name:    "retweet-graph",
		Columns: []string{"source_user_id", "target_user_id", "num_retweets"},
		query: edgeCount("tweet tws", "tws.user_id", "twt.user_id",
			` JOIN tweet twt ON twt.tweet_id = tws.retweeted_status_id`, "", "num_retweets"),
	},
	"quote-graph": {
		Name:    "quote-graph",
		Columns: []string{"source_user_id", "target_user_id", "num_quotes"},
		query: edgeCount("tweet tws", "tws.user_id", "twt.user_id",
			` JOIN tweet twt ON twt.tweet_id = tws.quoted_status_id`, "", "num_quotes"),
	},
	"tweets": {
		Name: "tweets",
		Columns: []string{"tweet_id", "user_id", "content", "retweeted_status_content",
			"quoted_status_content", "in_reply_to_status_content", "is_retweet", "is_reply",
			"is_quote", "create_dt", "lang", "retweet_count", "favorite_count", "source_collapsed"},
		query: func(_ Dialect, restrict bool) string {
			q := `SELECT t.tweet_id, t.user_id, t.content, tr.content, tq.content, tp.content,
			    CASE WHEN t.retweeted_status_id IS NOT NULL THEN 1 ELSE 0 END,
			    CASE WHEN t.in_reply_to_status_id IS NOT NULL THEN 1 ELSE 0 END,
			    CASE WHEN t.quoted_status_id IS NOT NULL THEN 1 ELSE 0 END,
			    t.create_dt, t.lang, t.retweet_count, t.favorite_count,
			    CASE t.source
			      WHEN 'Twitter for iPhone' THEN 'iPhone'
			      WHEN 'Twitter for Android' THEN 'Android'
			      WHEN 'Twitter Web App' THEN 'Web'
			      WHEN 'Twitter Web Client' THEN 'Web'
			      WHEN 'TweetDeck' THEN 'Desktop'
			      ELSE 'Other' END
			  FROM tweet t
			  LEFT JOIN tweet tr ON tr.tweet_id = t.retweeted_status_id
			  LEFT JOIN tweet tq ON tq.tweet_id = t.quoted_status_id
			  LEFT JOIN tweet tp ON tp.tweet_id = t.in_reply_to_status_id`
			if restrict {
				q += ` JOIN stg_user su ON su.user_id = t.user_id`
			}
			return q + ` ORDER BY t.tweet_id`
		},
	},
	"user-info": {
		Name: "user-info",
		Columns: []string{"user_id", "profile_url", "friends_count", "followers_count",
			"listed_count", "screen_name", "location", "display_name", "description",
			"protected", "verified", "account_create_dt", "recorded_tweets_all_time",
			"first_tweet_dt", "last_tweet_dt", "android_user", "ios_user", "desktop_user",
			"business_app_user"},
		query: func(_ Dialect, restrict bool) string {
			el := eligible(restrict)
			return `SELECT e.user_id, ud.profile_url, ud.friends_count, ud.followers_count,
			    ud.listed_count, ud.screen_name, ud.location, ud.display_name, ud.description,
			    ud.protected, ud.verified, ud.create_dt,
			    COALESCE(td.recorded_tweets_all_time, 0),
			    td.first_tweet_dt, td.last_tweet_dt, td.android_user, td.ios_user,
			    td.desktop_user, td.business_app_user
			  FROM ` + el + ` e
			  LEFT JOIN (
			    SELECT d.*, u.url AS profile_url,
			      ROW_NUMBER() OVER (PARTITION BY d.user_id ORDER BY d.user_data_id DESC) AS rn
			    FROM user_data d LEFT JOIN url u ON u.url_id = d.url_id
			  ) ud ON ud.user_id = e.user_id AND ud.rn = 1
			  LEFT JOIN (
			    SELECT t.user_id,
			      COUNT(*) AS recorded_tweets_all_time,
			      MIN(t.create_dt) AS first_tweet_dt,
			      MAX(t.create_dt) AS last_tweet_dt,
			      MAX(CASE WHEN t.source IN ('Twitter for Android') THEN 1 ELSE 0 END) AS android_user,
			      MAX(CASE WHEN t.source IN ('Twitter for iPhone', 'Twitter for iPad', 'iOS',
			        'Tweetbot for iOS') THEN 1 ELSE 0 END) AS ios_user,
			      MAX(CASE WHEN t.source IN ('Twitter Web App', 'Twitter Web Client', 'TweetDeck',
			        'Twitter for Mac', 'Tweetbot for Mac') THEN 1 ELSE 0 END) AS desktop_user,
			      MAX(CASE WHEN t.source IN ('SocialFlow', 'Hootsuite', 'Hootsuite Inc.',
			        'Twitter Media Studio') THEN 1 ELSE 0 END) AS business_app_user
			    FROM tweet t GROUP BY t.user_id
			  ) td ON td.user_id = e.user_id
			  ORDER BY e.user_id`
		},
	},
	"mutual-followers": {
		Name:    "mutual-followers",
		Columns: []string{"user_id1", "user_id2", "mutual_followers"},
		query:   mutuals(Followers),
	},
	"mutual-friends": {
		Name:    "mutual-friends",
		Columns: []string{"user_id1", "user_id2", "mutual_friends"},
		query:   mutuals(Friends),
	},
}

// mutuals counts, for every pair of eligible users, the partners both have
// a current edge with. SQLite lacks INTERSECT ALL; edges are unique per
// pair so plain INTERSECT counts the same.
func mutuals(dir Direction) func(Dialect, bool) string {
	sel, flt := dir.apiColumn(), dir.ownerColumn()
	return func(d Dialect, restrict bool) string {
		op := "INTERSECT ALL"
		if d == SQLite {
			op = "INTERSECT"
		}
		el := eligible(restrict)
		return `SELECT e1.user_id AS user_id1, e2.user_id AS user_id2,
		    (SELECT COUNT(*) FROM (
		      SELECT f1.` + sel + ` FROM follow f1
		        WHERE f1.valid_end_dt IS NULL AND f1.` + flt + ` = e1.user_id
		      ` + op + `
		      SELECT f2.` + sel + ` FROM follow f2
		        WHERE f2.valid_end_dt IS NULL AND f2.` + flt + ` = e2.user_id
		    ) m)
		  FROM ` + el + ` e1 JOIN ` + el + ` e2 ON e1.user_id > e2.user_id
		  ORDER BY 1, 2`
	}
}

// LookupExport returns the named extract.
func LookupExport(name string) (Export, bool) {
	e, ok := exports[name]
	return e, ok
}

// ExportNames lists every extract, sorted.
func ExportNames() []string {
	names := make([]string, 0, len(exports))
	for n := range exports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StageUsers replaces the contents of stg_user with ids and commits.
func (s *Session) StageUsers(ctx context.Context, ids []int64) error {
	if err := s.ClearFast(ctx, "stg_user"); err != nil {
		return err
	}
	ids, _ = util.Uniq(ids)
	for _, chunk := range util.Chunk(ids, insertBatch) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if _, err := s.exec(ctx, `INSERT INTO stg_user (user_id) VALUES `+placeholders(len(chunk), 1), args...); err != nil {
			return fmt.Errorf("stage users: %w", err)
		}
	}
	return s.Commit()
}

// Export runs e and hands each row, rendered as strings, to fn. NULL
// renders as the empty string.
func (s *Session) Export(ctx context.Context, e Export, restrict bool, fn func([]string) error) error {
	rows, err := s.query(ctx, e.query(s.db.dialect, restrict))
	if err != nil {
		return fmt.Errorf("export %s: %w", e.Name, err)
	}
	defer rows.Close()
	vals := make([]sql.NullString, len(e.Columns))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	out := make([]string, len(vals))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("export %s: %w", e.Name, err)
		}
		for i, v := range vals {
			out[i] = v.String
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export %s: %w", e.Name, err)
	}
	return nil
}
