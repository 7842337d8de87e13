package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tweetgraph/internal/util"
)

// CreateTag adds a tag and reports whether it was new.
func (s *Session) CreateTag(ctx context.Context, name string) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO tag (name) VALUES (?) ON CONFLICT DO NOTHING`, name)
	if err != nil {
		return false, fmt.Errorf("create tag %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteTag removes a tag and every assignment of it. It reports whether
// the tag existed.
func (s *Session) DeleteTag(ctx context.Context, name string) (bool, error) {
	id, err := s.TagID(ctx, name)
	if err != nil || id == 0 {
		return false, err
	}
	if _, err := s.exec(ctx, `DELETE FROM user_tag WHERE tag_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete tag %s: %w", name, err)
	}
	if _, err := s.exec(ctx, `DELETE FROM tag WHERE tag_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete tag %s: %w", name, err)
	}
	return true, nil
}

// TagID returns 0 when the tag does not exist.
func (s *Session) TagID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.get(ctx, &id, `SELECT tag_id FROM tag WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup tag %s: %w", name, err)
	}
	return id, nil
}

// TaggedUserIDs returns, per existing tag name, the ids of users carrying
// it. Unknown tags are absent from the result.
func (s *Session) TaggedUserIDs(ctx context.Context, names []string) (map[string][]int64, error) {
	out := make(map[string][]int64)
	if len(names) == 0 {
		return out, nil
	}
	var rows []struct {
		Name   string        `db:"name"`
		UserID sql.NullInt64 `db:"user_id"`
	}
	err := s.selectIn(ctx, &rows, `SELECT t.name AS name, ut.user_id AS user_id
	  FROM tag t LEFT JOIN user_tag ut ON ut.tag_id = t.tag_id
	  WHERE t.name IN (?) ORDER BY ut.user_id`, names)
	if err != nil {
		return nil, fmt.Errorf("tagged users: %w", err)
	}
	for _, r := range rows {
		ids := out[r.Name]
		if r.UserID.Valid {
			ids = append(ids, r.UserID.Int64)
		}
		out[r.Name] = ids
	}
	return out, nil
}

// ApplyTag assigns the tag to every user; existing assignments are kept as is.
func (s *Session) ApplyTag(ctx context.Context, tagID int64, userIDs []int64) error {
	userIDs, _ = util.Uniq(userIDs)
	for _, chunk := range util.Chunk(userIDs, insertBatch) {
		args := make([]any, 0, 2*len(chunk))
		for _, id := range chunk {
			args = append(args, id, tagID)
		}
		q := `INSERT INTO user_tag (user_id, tag_id) VALUES ` + placeholders(len(chunk), 2) + ` ON CONFLICT DO NOTHING`
		if _, err := s.exec(ctx, q, args...); err != nil {
			return fmt.Errorf("apply tag: %w", err)
		}
	}
	return nil
}
