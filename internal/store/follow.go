package store

import (
	"context"
	"fmt"

	"tweetgraph/internal/util"
)

// Direction says which end of a follow edge the API listing supplies.
type Direction int

const (
	// Followers: listed users follow the owner.
	Followers Direction = iota
	// Friends: the owner follows the listed users.
	Friends
)

func (d Direction) String() string {
	if d == Friends {
		return "friends"
	}
	return "followers"
}

// apiColumn holds the listed ids; ownerColumn holds the user being fetched.
func (d Direction) apiColumn() string {
	if d == Friends {
		return "target_user_id"
	}
	return "source_user_id"
}

func (d Direction) ownerColumn() string {
	if d == Friends {
		return "source_user_id"
	}
	return "target_user_id"
}

func (d Direction) edge(owner, partner int64) (source, target int64) {
	if d == Friends {
		return owner, partner
	}
	return partner, owner
}

// StageFollows inserts (owner, id) edges into stg_follow in the current
// transaction. A repeated edge fails with a unique violation; see
// IsUniqueViolation.
func (s *Session) StageFollows(ctx context.Context, dir Direction, owner int64, ids []int64) error {
	for _, chunk := range util.Chunk(ids, insertBatch) {
		args := make([]any, 0, 2*len(chunk))
		for _, id := range chunk {
			src, tgt := dir.edge(owner, id)
			args = append(args, src, tgt)
		}
		q := `INSERT INTO stg_follow (source_user_id, target_user_id) VALUES ` + placeholders(len(chunk), 2)
		if _, err := s.exec(ctx, q, args...); err != nil {
			return fmt.Errorf("stage %s of %d: %w", dir, owner, err)
		}
	}
	return nil
}

// MergeFollows makes the current follow edges of owner in direction dir
// exactly the edges in stg_follow, in three statements:
// create users first seen in staging, open edges not currently open, and
// close open edges absent from staging. Staging must hold only owner's edges.
func (s *Session) MergeFollows(ctx context.Context, dir Direction, owner int64) error {
	api, own := dir.apiColumn(), dir.ownerColumn()
	now := s.db.now()
	ts := s.db.tsParam()

	// The owner never appears in the api column, a user cannot follow itself.
	if _, err := s.exec(ctx, `INSERT INTO "user" (user_id)
	  SELECT s.`+api+` FROM stg_follow s
	  WHERE NOT EXISTS (SELECT 1 FROM "user" u WHERE u.user_id = s.`+api+`)`); err != nil {
		return fmt.Errorf("merge %s of %d: new users: %w", dir, owner, err)
	}
	if _, err := s.exec(ctx, `INSERT INTO follow (source_user_id, target_user_id, valid_start_dt)
	  SELECT s.source_user_id, s.target_user_id, `+ts+` FROM stg_follow s
	  WHERE NOT EXISTS (
	    SELECT 1 FROM follow f
	    WHERE f.valid_end_dt IS NULL
	      AND f.source_user_id = s.source_user_id
	      AND f.target_user_id = s.target_user_id)`, now); err != nil {
		return fmt.Errorf("merge %s of %d: new edges: %w", dir, owner, err)
	}
	if _, err := s.exec(ctx, `UPDATE follow SET valid_end_dt = `+ts+`
	  WHERE valid_end_dt IS NULL
	    AND `+own+` = ?
	    AND NOT EXISTS (
	      SELECT 1 FROM stg_follow s
	      WHERE s.source_user_id = follow.source_user_id
	        AND s.target_user_id = follow.target_user_id)`, now, owner); err != nil {
		return fmt.Errorf("merge %s of %d: expire edges: %w", dir, owner, err)
	}
	return nil
}

// CurrentFollows returns the partners of owner with an open edge.
func (s *Session) CurrentFollows(ctx context.Context, dir Direction, owner int64) ([]int64, error) {
	var ids []int64
	err := s.selectx(ctx, &ids, `SELECT `+dir.apiColumn()+` FROM follow
	  WHERE valid_end_dt IS NULL AND `+dir.ownerColumn()+` = ? ORDER BY 1`, owner)
	if err != nil {
		return nil, fmt.Errorf("current %s of %d: %w", dir, owner, err)
	}
	return ids, nil
}
