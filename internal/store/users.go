package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tweetgraph/internal/model"
	"tweetgraph/internal/util"
)

// insertBatch bounds the rows of one multi-row insert, keeping well under
// SQLite's host parameter limit.
const insertBatch = 500

// EnsureUsers creates a stub user row for every id not yet present.
func (s *Session) EnsureUsers(ctx context.Context, ids []int64) error {
	ids, _ = util.Uniq(ids)
	for _, chunk := range util.Chunk(ids, insertBatch) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := `INSERT INTO "user" (user_id) VALUES ` + placeholders(len(chunk), 1) + ` ON CONFLICT DO NOTHING`
		if _, err := s.exec(ctx, q, args...); err != nil {
			return fmt.Errorf("ensure users: %w", err)
		}
	}
	return nil
}

// SaveUser records the user and appends a snapshot of its current profile.
func (s *Session) SaveUser(ctx context.Context, u *model.User) error {
	if err := s.EnsureUsers(ctx, []int64{u.ID}); err != nil {
		return err
	}
	var urlID *int64
	if link := u.ProfileURL(); link != "" {
		row, err := s.AsUnique(ctx, URLKind, map[string]string{"url": link})
		if err != nil {
			return err
		}
		urlID = &row.ID
	}
	raw, err := payload(u.Raw, u)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO user_data (user_id, api_response, screen_name, create_dt,
	    protected, verified, display_name, description, location,
	    friends_count, followers_count, listed_count, url_id)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, raw, u.ScreenName, u.CreatedAt.Ptr(),
		u.Protected, u.Verified, u.Name, u.Description, u.Location,
		u.FriendsCount, u.FollowersCount, u.ListedCount, urlID)
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	return nil
}

// ExistingUserIDs returns the subset of ids that have a user row.
func (s *Session) ExistingUserIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, chunk := range util.Chunk(ids, insertBatch) {
		var found []int64
		if err := s.selectIn(ctx, &found, `SELECT user_id FROM "user" WHERE user_id IN (?)`, chunk); err != nil {
			return nil, fmt.Errorf("existing users: %w", err)
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

// UserIDsByScreenName maps lowercased screen names to the user whose most
// recent snapshot carries that name.
func (s *Session) UserIDsByScreenName(ctx context.Context, names []string) (map[string]int64, error) {
	lower := make([]string, len(names))
	for i, n := range names {
		lower[i] = strings.ToLower(n)
	}
	lower, _ = util.Uniq(lower)
	out := make(map[string]int64, len(lower))
	for _, chunk := range util.Chunk(lower, insertBatch) {
		var rows []struct {
			Name   string `db:"name"`
			UserID int64  `db:"user_id"`
		}
		err := s.selectIn(ctx, &rows, `SELECT lower(screen_name) AS name, user_id FROM user_data
		  WHERE lower(screen_name) IN (?) ORDER BY user_data_id`, chunk)
		if err != nil {
			return nil, fmt.Errorf("users by screen name: %w", err)
		}
		for _, r := range rows {
			out[r.Name] = r.UserID
		}
	}
	return out, nil
}

// payload is the stored api_response: the raw bytes when present, else v
// re-encoded, with NULs removed.
func payload(raw json.RawMessage, v any) (string, error) {
	if len(raw) == 0 {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	return util.StripNUL(string(raw)), nil
}
