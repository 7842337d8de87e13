package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tweetgraph/internal/model"
	"tweetgraph/internal/util"
)

// MaxTweetID is the newest stored tweet of a user, or 0 if none.
func (s *Session) MaxTweetID(ctx context.Context, userID int64) (int64, error) {
	var id sql.NullInt64
	if err := s.get(ctx, &id, `SELECT MAX(tweet_id) FROM tweet WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("max tweet id of %d: %w", userID, err)
	}
	return id.Int64, nil
}

// SaveTweet stores a tweet with its entities, first storing the tweets it
// retweets or quotes. Tweets are immutable: one already stored is left
// untouched. It reports whether the tweet was new.
func (s *Session) SaveTweet(ctx context.Context, t *model.Tweet) (bool, error) {
	var rtID, qtID *int64
	if rt := t.RetweetedStatus; rt != nil {
		if _, err := s.SaveTweet(ctx, rt); err != nil {
			return false, err
		}
		rtID = &rt.ID
	}
	if qt := t.QuotedStatus; qt != nil {
		if _, err := s.SaveTweet(ctx, qt); err != nil {
			return false, err
		}
		qtID = &qt.ID
	}
	if err := s.EnsureUsers(ctx, []int64{t.User.ID}); err != nil {
		return false, err
	}
	raw, err := payload(t.Raw, t)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `INSERT INTO tweet (tweet_id, user_id, api_response, content, create_dt,
	    retweeted_status_id, quoted_status_id, in_reply_to_status_id, in_reply_to_user_id,
	    lang, source, truncated, retweet_count, favorite_count)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	  ON CONFLICT (tweet_id) DO NOTHING`,
		t.ID, t.User.ID, raw, util.StripNUL(t.Content()), t.CreatedAt.Ptr(),
		rtID, qtID, t.InReplyToStatusID, t.InReplyToUserID,
		t.Lang, util.SourceName(t.Source), t.Truncated, t.RetweetCount, t.FavoriteCount)
	if err != nil {
		return false, fmt.Errorf("save tweet %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if err := s.saveEntities(ctx, t); err != nil {
		return false, fmt.Errorf("save tweet %d: %w", t.ID, err)
	}
	return true, nil
}

func (s *Session) saveEntities(ctx context.Context, t *model.Tweet) error {
	ents := t.Entities
	if len(ents.UserMentions) > 0 {
		ids := make([]int64, len(ents.UserMentions))
		for i, m := range ents.UserMentions {
			ids[i] = m.ID
		}
		if err := s.EnsureUsers(ctx, ids); err != nil {
			return err
		}
	}
	for _, m := range ents.UserMentions {
		if err := s.mention(ctx, "user_mention", t.ID, m.Indices, map[string]any{"mentioned_user_id": m.ID}); err != nil {
			return err
		}
	}
	for _, h := range ents.Hashtags {
		row, err := s.AsUnique(ctx, HashtagKind, map[string]string{"name": h.Text})
		if err != nil {
			return err
		}
		if err := s.mention(ctx, "hashtag_mention", t.ID, h.Indices, map[string]any{"hashtag_id": row.ID}); err != nil {
			return err
		}
	}
	for _, sym := range ents.Symbols {
		row, err := s.AsUnique(ctx, SymbolKind, map[string]string{"name": sym.Text})
		if err != nil {
			return err
		}
		if err := s.mention(ctx, "symbol_mention", t.ID, sym.Indices, map[string]any{"symbol_id": row.ID}); err != nil {
			return err
		}
	}
	for _, u := range ents.URLs {
		if err := s.urlMention(ctx, t.ID, u); err != nil {
			return err
		}
	}
	for i := range t.ExtendedEntities.Media {
		m := &t.ExtendedEntities.Media[i]
		if err := s.saveMedia(ctx, m); err != nil {
			return err
		}
		if err := s.mention(ctx, "media_mention", t.ID, m.Indices, map[string]any{"media_id": m.ID}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) urlMention(ctx context.Context, tweetID int64, u model.URLEntity) error {
	cols := map[string]any{
		"twitter_short_url":   u.URL,
		"twitter_display_url": u.DisplayURL,
	}
	link := u.ExpandedURL
	if uw := u.Unwound; uw != nil && uw.URL != "" {
		link = uw.URL
		cols["expanded_short_url"] = u.ExpandedURL
		cols["status"] = uw.Status
		cols["title"] = uw.Title
		cols["description"] = uw.Description
	}
	if link == "" {
		link = u.URL
	}
	row, err := s.AsUnique(ctx, URLKind, map[string]string{"url": link})
	if err != nil {
		return err
	}
	cols["url_id"] = row.ID
	return s.mention(ctx, "url_mention", tweetID, u.Indices, cols)
}

func (s *Session) saveMedia(ctx context.Context, m *model.MediaEntity) error {
	typ, err := s.AsUnique(ctx, MediaTypeKind, map[string]string{"name": m.TypeName()})
	if err != nil {
		return err
	}
	mediaURL, err := s.AsUnique(ctx, URLKind, map[string]string{"url": m.URL()})
	if err != nil {
		return err
	}
	var width, height *int
	var duration *float64
	var variants []model.MediaVariant
	if vi := m.VideoInfo; vi != nil {
		if len(vi.AspectRatio) == 2 {
			width, height = &vi.AspectRatio[0], &vi.AspectRatio[1]
		}
		if vi.DurationMillis != nil {
			d := 0.001 * float64(*vi.DurationMillis)
			duration = &d
		}
		variants = vi.Variants
	}
	res, err := s.exec(ctx, `INSERT INTO media (media_id, media_type_id, media_url_id,
	    aspect_ratio_width, aspect_ratio_height, duration)
	  VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (media_id) DO NOTHING`,
		m.ID, typ.ID, mediaURL.ID, width, height, duration)
	if err != nil {
		return fmt.Errorf("save media %d: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	for _, v := range variants {
		u, err := s.AsUnique(ctx, URLKind, map[string]string{"url": v.URL})
		if err != nil {
			return err
		}
		if _, err := s.exec(ctx, `INSERT INTO media_variant (media_id, url_id, bitrate, content_type)
		  VALUES (?, ?, ?, ?) ON CONFLICT (media_id, url_id) DO NOTHING`,
			m.ID, u.ID, v.Bitrate, v.ContentType); err != nil {
			return fmt.Errorf("save media variant %d: %w", m.ID, err)
		}
	}
	return nil
}

// mention inserts one positional entity row of a tweet.
func (s *Session) mention(ctx context.Context, table string, tweetID int64, idx [2]int, cols map[string]any) error {
	names := []string{"tweet_id", "start_index", "end_index"}
	args := []any{tweetID, idx[0], idx[1]}
	for k, v := range cols {
		names = append(names, k)
		args = append(args, v)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s ON CONFLICT (tweet_id, start_index, end_index) DO NOTHING`,
		table, strings.Join(names, ", "), placeholders(1, len(names)))
	if _, err := s.exec(ctx, q, args...); err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	return nil
}
