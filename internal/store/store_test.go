package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/model"
)

func openTest(t *testing.T) (*DB, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	db, err := Open(context.Background(), "sqlite://", WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Initialize(context.Background(), SchemaVersion))
	return db, clock
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	require.Error(t, err)
}

func TestCheckSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://")
	require.NoError(t, err)
	defer db.Close()

	err = db.CheckSchema(ctx, SchemaVersion)
	assert.True(t, errs.Is(err, errs.KindBadSchema), "missing table: %v", err)

	require.NoError(t, db.Initialize(ctx, SchemaVersion))
	require.NoError(t, db.CheckSchema(ctx, SchemaVersion))

	err = db.CheckSchema(ctx, "0.9.0")
	assert.True(t, errs.Is(err, errs.KindBadSchema))

	_, err = db.sql.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ('x')`)
	require.NoError(t, err)
	err = db.CheckSchema(ctx, SchemaVersion)
	assert.True(t, errs.Is(err, errs.KindBadSchema))

	// reinitializing wipes everything, including the extra row
	require.NoError(t, db.Initialize(ctx, SchemaVersion))
	require.NoError(t, db.CheckSchema(ctx, SchemaVersion))
}

func TestAsUniqueSameSessionSameRow(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	a, err := s.AsUnique(ctx, HashtagKind, map[string]string{"name": "golang"})
	require.NoError(t, err)
	b, err := s.AsUnique(ctx, HashtagKind, map[string]string{"name": "golang"})
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := s.AsUnique(ctx, SymbolKind, map[string]string{"name": "golang"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, a.Hash, c.Hash)
	require.NoError(t, s.Commit())

	other := db.NewSession()
	defer other.Close()
	d, err := other.AsUnique(ctx, HashtagKind, map[string]string{"name": "golang"})
	require.NoError(t, err)
	assert.NotSame(t, a, d)
	assert.Equal(t, a.ID, d.ID)

	var n int
	require.NoError(t, other.get(ctx, &n, `SELECT COUNT(*) FROM hashtag`))
	assert.Equal(t, 1, n)
}

func TestAsUniqueCacheDroppedOnRollback(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	_, err := s.AsUnique(ctx, URLKind, map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, len(s.cache.m))
	require.NoError(t, s.Rollback())
	assert.Equal(t, 0, len(s.cache.m))

	u, err := s.AsUnique(ctx, URLKind, map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	require.NoError(t, s.Commit())
}

func TestUniqueHash(t *testing.T) {
	h := UniqueHash(map[string]string{"b": "2", "a": "1"})
	// sha1("a: 1, b: 2")
	assert.Equal(t, "1719aefef5382c40c38e59279a317d57757f16bf", h)
	assert.Equal(t, h, UniqueHash(map[string]string{"a": "1", "b": "2"}))
	assert.NotEqual(t, h, UniqueHash(map[string]string{"a": "1", "b": "3"}))
}

func followRows(t *testing.T, s *Session, owner int64) (current []int64, expired int) {
	t.Helper()
	ctx := context.Background()
	current, err := s.CurrentFollows(ctx, Followers, owner)
	require.NoError(t, err)
	require.NoError(t, s.get(ctx, &expired, `SELECT COUNT(*) FROM follow
	  WHERE target_user_id = ? AND valid_end_dt IS NOT NULL AND valid_end_dt >= valid_start_dt`, owner))
	return current, expired
}

func loadFollowers(t *testing.T, s *Session, owner int64, ids []int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ClearFast(ctx, "stg_follow"))
	require.NoError(t, s.StageFollows(ctx, Followers, owner, ids))
	require.NoError(t, s.MergeFollows(ctx, Followers, owner))
	require.NoError(t, s.Commit())
}

func TestMergeFollowsKeepsHistory(t *testing.T) {
	db, clock := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	const u, a, b, c, d = 1, 10, 20, 30, 40
	require.NoError(t, s.EnsureUsers(ctx, []int64{u}))
	require.NoError(t, s.Commit())

	loadFollowers(t, s, u, []int64{a, b, c})
	current, expired := followRows(t, s, u)
	assert.Equal(t, []int64{a, b, c}, current)
	assert.Zero(t, expired)

	clock.Advance(24 * time.Hour)
	loadFollowers(t, s, u, []int64{a, c, d})
	current, expired = followRows(t, s, u)
	assert.Equal(t, []int64{a, c, d}, current)
	assert.Equal(t, 1, expired)

	var total int
	require.NoError(t, s.get(ctx, &total, `SELECT COUNT(*) FROM follow WHERE target_user_id = ?`, u))
	assert.Equal(t, 4, total)

	var closed []int64
	require.NoError(t, s.selectx(ctx, &closed, `SELECT source_user_id FROM follow WHERE valid_end_dt IS NOT NULL`))
	assert.Equal(t, []int64{b}, closed)

	existing, err := s.ExistingUserIDs(ctx, []int64{a, b, c, d, 99})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{a: true, b: true, c: true, d: true}, existing)

	// B follows again after a gap: a new row, the old one stays expired
	clock.Advance(24 * time.Hour)
	loadFollowers(t, s, u, []int64{a, b, c, d})
	require.NoError(t, s.get(ctx, &total, `SELECT COUNT(*) FROM follow WHERE target_user_id = ?`, u))
	assert.Equal(t, 5, total)
	current, _ = followRows(t, s, u)
	assert.Equal(t, []int64{a, b, c, d}, current)
}

func TestMergeFriendsDirection(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	require.NoError(t, s.EnsureUsers(ctx, []int64{1}))
	require.NoError(t, s.ClearFast(ctx, "stg_follow"))
	require.NoError(t, s.StageFollows(ctx, Friends, 1, []int64{2, 3}))
	require.NoError(t, s.MergeFollows(ctx, Friends, 1))
	require.NoError(t, s.Commit())

	var sources []int64
	require.NoError(t, s.selectx(ctx, &sources, `SELECT DISTINCT source_user_id FROM follow`))
	assert.Equal(t, []int64{1}, sources)
	friends, err := s.CurrentFollows(ctx, Friends, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, friends)
}

func TestStageFollowsDuplicateIsUniqueViolation(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	require.NoError(t, s.ClearFast(ctx, "stg_follow"))
	require.NoError(t, s.StageFollows(ctx, Followers, 1, []int64{5, 6}))
	require.NoError(t, s.Commit())

	err := s.StageFollows(ctx, Followers, 1, []int64{7, 6})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "%v", err)
	require.NoError(t, s.Rollback())

	var n int
	require.NoError(t, s.get(ctx, &n, `SELECT COUNT(*) FROM stg_follow`))
	assert.Equal(t, 2, n)
}

func TestClearFastRejectsDurableTables(t *testing.T) {
	db, _ := openTest(t)
	s := db.NewSession()
	defer s.Close()
	require.Error(t, s.ClearFast(context.Background(), "follow"))
}

func TestTags(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	created, err := s.CreateTag(ctx, "press")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateTag(ctx, "press")
	require.NoError(t, err)
	assert.False(t, created)

	id, err := s.TagID(ctx, "press")
	require.NoError(t, err)
	require.NotZero(t, id)
	require.NoError(t, s.EnsureUsers(ctx, []int64{1, 2}))
	require.NoError(t, s.ApplyTag(ctx, id, []int64{1, 2}))
	require.NoError(t, s.ApplyTag(ctx, id, []int64{1}))
	require.NoError(t, s.Commit())

	var n int
	require.NoError(t, s.get(ctx, &n, `SELECT COUNT(*) FROM user_tag WHERE user_id = 1`))
	assert.Equal(t, 1, n)

	tagged, err := s.TaggedUserIDs(ctx, []string{"press", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"press": {1, 2}}, tagged)

	existed, err := s.DeleteTag(ctx, "press")
	require.NoError(t, err)
	assert.True(t, existed)
	require.NoError(t, s.get(ctx, &n, `SELECT COUNT(*) FROM user_tag`))
	assert.Zero(t, n)
	existed, err = s.DeleteTag(ctx, "press")
	require.NoError(t, err)
	assert.False(t, existed)
}

func decode[T any](t *testing.T, js string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(js), &v))
	return v
}

func TestSaveUserAndScreenNameLookup(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	u := decode[model.User](t, `{"id": 7, "screen_name": "OldName", "name": "Seven",
	  "created_at": "Wed Oct 10 20:19:24 +0000 2018",
	  "entities": {"url": {"urls": [{"url": "https://t.co/x", "expanded_url": "https://seven.example"}]}}}`)
	require.NoError(t, s.SaveUser(ctx, &u))
	u.ScreenName = "NewName"
	require.NoError(t, s.SaveUser(ctx, &u))
	require.NoError(t, s.Commit())

	ids, err := s.UserIDsByScreenName(ctx, []string{"newname", "OLDNAME", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"newname": 7, "oldname": 7}, ids)

	var link string
	require.NoError(t, s.get(ctx, &link, `SELECT u.url FROM user_data d JOIN url u ON u.url_id = d.url_id LIMIT 1`))
	assert.Equal(t, "https://seven.example", link)
}

func TestListsAndMemberships(t *testing.T) {
	db, clock := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	l := decode[model.List](t, `{"id": 55, "slug": "press", "name": "Press", "full_name": "@owner/press",
	  "mode": "public", "member_count": 2, "user": {"id": 1, "screen_name": "Owner"}}`)
	require.NoError(t, s.SaveUser(ctx, &l.User))
	require.NoError(t, s.SaveList(ctx, &l))
	require.NoError(t, s.EnsureUsers(ctx, []int64{2, 3, 4}))
	require.NoError(t, s.MergeMemberships(ctx, l.ID, []int64{2, 3}))
	require.NoError(t, s.Commit())

	id, err := s.FindListBySlug(ctx, "owner", "press")
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	id, err = s.FindListBySlug(ctx, "OWNER", "Press")
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	id, err = s.FindListByID(ctx, 56)
	require.NoError(t, err)
	assert.Zero(t, id)

	var fullName string
	require.NoError(t, s.get(ctx, &fullName, `SELECT full_name FROM list WHERE list_id = 55`))
	assert.Equal(t, "owner/press", fullName)

	clock.Advance(time.Hour)
	require.NoError(t, s.SaveList(ctx, &l))
	require.NoError(t, s.MergeMemberships(ctx, l.ID, []int64{3, 4}))
	require.NoError(t, s.Commit())

	members, err := s.ListMemberIDs(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, members)
	var rows int
	require.NoError(t, s.get(ctx, &rows, `SELECT COUNT(*) FROM user_list`))
	assert.Equal(t, 3, rows)
}

const tweetJSON = `{
  "id": 100, "full_text": "RT hi @bob #go $GO https://t.co/a", "created_at": "Wed Oct 10 20:19:24 +0000 2018",
  "user": {"id": 1, "screen_name": "alice"},
  "source": "<a href=\"http://twitter.com/download/iphone\" rel=\"nofollow\">Twitter for iPhone</a>",
  "lang": "en",
  "entities": {
    "hashtags": [{"text": "go", "indices": [10, 13]}],
    "symbols": [{"text": "GO", "indices": [14, 17]}],
    "user_mentions": [{"id": 2, "screen_name": "bob", "indices": [6, 10]}],
    "urls": [{"url": "https://t.co/a", "expanded_url": "https://bit.ly/x", "display_url": "bit.ly/x",
      "indices": [18, 32], "unwound": {"url": "https://example.com/long", "status": 200, "title": "T"}}]
  },
  "extended_entities": {"media": [{"id": 9, "type": "video", "media_url_https": "https://pbs/v.jpg",
    "indices": [33, 40], "additional_media_info": {"embeddable": false},
    "video_info": {"aspect_ratio": [16, 9], "duration_millis": 1500,
      "variants": [{"bitrate": 832000, "content_type": "video/mp4", "url": "https://video/v.mp4"}]}}]},
  "retweeted_status": {"id": 90, "full_text": "hi #go", "user": {"id": 3, "screen_name": "carol"},
    "entities": {"hashtags": [{"text": "go", "indices": [3, 6]}]}}
}`

func TestSaveTweet(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	tw := decode[model.Tweet](t, tweetJSON)
	isNew, err := s.SaveTweet(ctx, &tw)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NoError(t, s.Commit())

	isNew, err = s.SaveTweet(ctx, &tw)
	require.NoError(t, err)
	assert.False(t, isNew)
	require.NoError(t, s.Commit())

	maxID, err := s.MaxTweetID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), maxID)
	maxID, err = s.MaxTweetID(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, maxID)

	var row struct {
		Source    string `db:"source"`
		Retweeted int64  `db:"retweeted_status_id"`
	}
	require.NoError(t, s.get(ctx, &row, `SELECT source, retweeted_status_id FROM tweet WHERE tweet_id = 100`))
	assert.Equal(t, "Twitter for iPhone", row.Source)
	assert.Equal(t, int64(90), row.Retweeted)

	count := func(q string) int {
		var n int
		require.NoError(t, s.get(ctx, &n, q))
		return n
	}
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM hashtag`))
	assert.Equal(t, 2, count(`SELECT COUNT(*) FROM hashtag_mention`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM user_mention WHERE mentioned_user_id = 2`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM media_variant WHERE bitrate = 832000`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM media_type WHERE name = 'unembeddable_video'`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM url_mention m JOIN url u ON u.url_id = m.url_id
	  WHERE u.url = 'https://example.com/long' AND m.expanded_short_url = 'https://bit.ly/x' AND m.status = 200`))

	var duration float64
	require.NoError(t, s.get(ctx, &duration, `SELECT duration FROM media WHERE media_id = 9`))
	assert.InDelta(t, 1.5, duration, 1e-9)
}

func TestExports(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	s := db.NewSession()
	defer s.Close()

	// 10 and 20 both follow 1 and 2; 30 follows only 1
	require.NoError(t, s.EnsureUsers(ctx, []int64{1, 2}))
	for _, owner := range []int64{1, 2} {
		ids := []int64{10, 20}
		if owner == 1 {
			ids = append(ids, 30)
		}
		require.NoError(t, s.ClearFast(ctx, "stg_follow"))
		require.NoError(t, s.StageFollows(ctx, Followers, owner, ids))
		require.NoError(t, s.MergeFollows(ctx, Followers, owner))
		require.NoError(t, s.Commit())
	}
	require.NoError(t, s.StageUsers(ctx, []int64{1, 2}))

	collect := func(name string, restrict bool) [][]string {
		e, ok := LookupExport(name)
		require.True(t, ok)
		var out [][]string
		require.NoError(t, s.Export(ctx, e, restrict, func(row []string) error {
			out = append(out, append([]string(nil), row...))
			return nil
		}))
		return out
	}

	assert.Len(t, collect("follow-graph", false), 5)
	assert.Empty(t, collect("follow-graph", true))
	assert.Equal(t, [][]string{{"2", "1", "2"}}, collect("mutual-followers", true))
	assert.Equal(t, [][]string{{"2", "1", "0"}}, collect("mutual-friends", true))
	assert.Len(t, collect("user-info", true), 2)
	assert.Contains(t, ExportNames(), "retweet-graph")
}
