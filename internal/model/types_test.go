package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tweetJSON = `{
  "id": 20, "full_text": "hello #go $ABC @jack", "created_at": "Wed Oct 10 20:19:24 +0000 2018",
  "user": {"id": 7, "screen_name": "Someone", "created_at": "Tue Mar 21 20:50:14 +0000 2006"},
  "in_reply_to_status_id": null, "lang": "en",
  "source": "<a href=\"https://about.twitter.com\">Twitter Web App</a>",
  "retweeted_status": {"id": 19, "text": "orig", "user": {"id": 8}},
  "entities": {"hashtags": [{"text": "go", "indices": [6, 9]}], "user_mentions": [{"id": 12, "indices": [15, 20]}]},
  "extended_entities": {"media": [{"id": 5, "type": "video", "media_url": "http://a", "media_url_https": "https://a",
    "additional_media_info": {"embeddable": false},
    "video_info": {"aspect_ratio": [16, 9], "duration_millis": 1500, "variants": [{"bitrate": 832000, "content_type": "video/mp4", "url": "https://v"}]}}]}
}`

func TestTweetDecode(t *testing.T) {
	var tw Tweet
	require.NoError(t, json.Unmarshal([]byte(tweetJSON), &tw))
	assert.Equal(t, int64(20), tw.ID)
	assert.Equal(t, "hello #go $ABC @jack", tw.Content())
	assert.Equal(t, time.Date(2018, 10, 10, 20, 19, 24, 0, time.UTC), tw.CreatedAt.Time)
	assert.Nil(t, tw.InReplyToStatusID)
	require.NotNil(t, tw.RetweetedStatus)
	assert.Equal(t, "orig", tw.RetweetedStatus.Content())
	assert.JSONEq(t, `{"id": 19, "text": "orig", "user": {"id": 8}}`, string(tw.RetweetedStatus.Raw))
	assert.JSONEq(t, tweetJSON, string(tw.Raw))

	m := tw.ExtendedEntities.Media[0]
	assert.Equal(t, "unembeddable_video", m.TypeName())
	assert.Equal(t, "https://a", m.URL())
	assert.Equal(t, int64(1500), *m.VideoInfo.DurationMillis)
}

func TestProfileURLOrder(t *testing.T) {
	bare := "http://t.co/bare"
	u := User{URL: &bare}
	assert.Equal(t, bare, u.ProfileURL())

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"url":"http://t.co/x","entities":{"url":{"urls":[{"url":"http://t.co/x","display_url":"x.com"}]}}}`), &u))
	assert.Equal(t, "x.com", u.ProfileURL())

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"entities":{"url":{"urls":[{"url":"http://t.co/x","expanded_url":"https://x.com/a","display_url":"x.com"}]}}}`), &u))
	assert.Equal(t, "https://x.com/a", u.ProfileURL())
}

func TestListOwnerSlug(t *testing.T) {
	var l List
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"slug":"s","full_name":"@cspan/s","user":{"id":9}}`), &l))
	assert.Equal(t, "cspan/s", l.OwnerSlug())
	assert.Equal(t, int64(9), l.User.ID)
}
