package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Time decodes v1.1 timestamps such as "Wed Oct 10 20:19:24 +0000 2018".
type Time struct{ time.Time }

func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RubyDate, s)
	if err != nil {
		return err
	}
	t.Time = ts.UTC()
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RubyDate))
}

// Ptr returns nil for the zero time.
func (t Time) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// URLEntity is an entry of entities.urls or entities.url.urls.
type URLEntity struct {
	URL         string   `json:"url"`
	ExpandedURL string   `json:"expanded_url"`
	DisplayURL  string   `json:"display_url"`
	Indices     [2]int   `json:"indices"`
	Unwound     *Unwound `json:"unwound,omitempty"`
}

// Unwound is present when Twitter followed a user-supplied short link.
type Unwound struct {
	URL         string `json:"url"`
	Status      *int   `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// User is a v1.1 user object. Raw keeps the payload as received.
type User struct {
	ID             int64   `json:"id"`
	ScreenName     string  `json:"screen_name"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Location       string  `json:"location"`
	URL            *string `json:"url"`
	CreatedAt      Time    `json:"created_at"`
	Protected      bool    `json:"protected"`
	Verified       bool    `json:"verified"`
	FollowersCount int     `json:"followers_count"`
	FriendsCount   int     `json:"friends_count"`
	ListedCount    int     `json:"listed_count"`
	Entities       struct {
		URL struct {
			URLs []URLEntity `json:"urls"`
		} `json:"url"`
	} `json:"entities"`

	Raw json.RawMessage `json:"-"`
}

func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*u = User(a)
	u.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// ProfileURL picks the best available profile link: the expanded entity URL,
// then its display form, then the t.co form, then the bare url field.
func (u *User) ProfileURL() string {
	if urls := u.Entities.URL.URLs; len(urls) > 0 {
		e := urls[0]
		switch {
		case e.ExpandedURL != "":
			return e.ExpandedURL
		case e.DisplayURL != "":
			return e.DisplayURL
		case e.URL != "":
			return e.URL
		}
	}
	if u.URL != nil {
		return *u.URL
	}
	return ""
}

// List is a v1.1 list object.
type List struct {
	ID              int64  `json:"id"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	URI             string `json:"uri"`
	Description     string `json:"description"`
	Mode            string `json:"mode"`
	MemberCount     int    `json:"member_count"`
	SubscriberCount int    `json:"subscriber_count"`
	CreatedAt       Time   `json:"created_at"`
	User            User   `json:"user"`

	Raw json.RawMessage `json:"-"`
}

func (l *List) UnmarshalJSON(b []byte) error {
	type alias List
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*l = List(a)
	l.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// OwnerSlug is full_name without the leading "@", e.g. "cspan/members-of-congress".
func (l *List) OwnerSlug() string { return strings.TrimPrefix(l.FullName, "@") }

type TextEntity struct {
	Text    string `json:"text"`
	Indices [2]int `json:"indices"`
}

type MentionEntity struct {
	ID         int64  `json:"id"`
	ScreenName string `json:"screen_name"`
	Indices    [2]int `json:"indices"`
}

type MediaVariant struct {
	Bitrate     *int   `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type MediaEntity struct {
	ID                  int64  `json:"id"`
	Type                string `json:"type"`
	MediaURL            string `json:"media_url"`
	MediaURLHTTPS       string `json:"media_url_https"`
	Indices             [2]int `json:"indices"`
	AdditionalMediaInfo *struct {
		Embeddable *bool `json:"embeddable"`
	} `json:"additional_media_info"`
	VideoInfo *struct {
		AspectRatio    []int          `json:"aspect_ratio"`
		DurationMillis *int64         `json:"duration_millis"`
		Variants       []MediaVariant `json:"variants"`
	} `json:"video_info"`
}

// TypeName is the stored media type; videos that cannot be embedded get their own.
func (m *MediaEntity) TypeName() string {
	if m.AdditionalMediaInfo != nil && m.AdditionalMediaInfo.Embeddable != nil && !*m.AdditionalMediaInfo.Embeddable {
		return "unembeddable_video"
	}
	return m.Type
}

func (m *MediaEntity) URL() string {
	if m.MediaURLHTTPS != "" {
		return m.MediaURLHTTPS
	}
	return m.MediaURL
}

type Entities struct {
	Hashtags     []TextEntity    `json:"hashtags"`
	Symbols      []TextEntity    `json:"symbols"`
	UserMentions []MentionEntity `json:"user_mentions"`
	URLs         []URLEntity     `json:"urls"`
}

type ExtendedEntities struct {
	Media []MediaEntity `json:"media"`
}

// Tweet is a v1.1 status object as returned with tweet_mode=extended.
type Tweet struct {
	ID                int64            `json:"id"`
	FullText          string           `json:"full_text"`
	Text              string           `json:"text"`
	CreatedAt         Time             `json:"created_at"`
	User              User             `json:"user"`
	InReplyToStatusID *int64           `json:"in_reply_to_status_id"`
	InReplyToUserID   *int64           `json:"in_reply_to_user_id"`
	Lang              string           `json:"lang"`
	Source            string           `json:"source"`
	Truncated         bool             `json:"truncated"`
	RetweetCount      int              `json:"retweet_count"`
	FavoriteCount     int              `json:"favorite_count"`
	RetweetedStatus   *Tweet           `json:"retweeted_status"`
	QuotedStatus      *Tweet           `json:"quoted_status"`
	Entities          Entities         `json:"entities"`
	ExtendedEntities  ExtendedEntities `json:"extended_entities"`

	Raw json.RawMessage `json:"-"`
}

func (t *Tweet) UnmarshalJSON(b []byte) error {
	type alias Tweet
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*t = Tweet(a)
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Content prefers the untruncated text of extended mode.
func (t *Tweet) Content() string {
	if t.FullText != "" {
		return t.FullText
	}
	return t.Text
}
