package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tweetgraph/internal/model"
)

// SaveList upserts a list. The owner must already be saved.
func (s *Session) SaveList(ctx context.Context, l *model.List) error {
	raw, err := payload(l.Raw, l)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO list (list_id, user_id, slug, api_response, create_dt,
	    full_name, display_name, uri, description, mode, member_count, subscriber_count)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	  ON CONFLICT (list_id) DO UPDATE SET
	    user_id = excluded.user_id, slug = excluded.slug, api_response = excluded.api_response,
	    create_dt = excluded.create_dt, full_name = excluded.full_name,
	    display_name = excluded.display_name, uri = excluded.uri,
	    description = excluded.description, mode = excluded.mode,
	    member_count = excluded.member_count, subscriber_count = excluded.subscriber_count,
	    modified_dt = CURRENT_TIMESTAMP`,
		l.ID, l.User.ID, l.Slug, raw, l.CreatedAt.Ptr(),
		l.OwnerSlug(), l.Name, l.URI, l.Description, l.Mode, l.MemberCount, l.SubscriberCount)
	if err != nil {
		return fmt.Errorf("save list %d: %w", l.ID, err)
	}
	return nil
}

// FindListByID returns 0 when the list has not been loaded.
func (s *Session) FindListByID(ctx context.Context, listID int64) (int64, error) {
	var id int64
	err := s.get(ctx, &id, `SELECT list_id FROM list WHERE list_id = ?`, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find list %d: %w", listID, err)
	}
	return id, nil
}

// FindListBySlug looks a list up by owner screen name and slug, resolving
// the owner through its latest snapshot. It returns 0 when either is unknown.
func (s *Session) FindListBySlug(ctx context.Context, ownerScreenName, slug string) (int64, error) {
	owners, err := s.UserIDsByScreenName(ctx, []string{ownerScreenName})
	if err != nil {
		return 0, err
	}
	owner, ok := owners[strings.ToLower(ownerScreenName)]
	if !ok {
		return 0, nil
	}
	var id int64
	err = s.get(ctx, &id, `SELECT list_id FROM list WHERE user_id = ? AND LOWER(slug) = LOWER(?)`, owner, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find list %s/%s: %w", ownerScreenName, slug, err)
	}
	return id, nil
}

// ListMemberIDs returns the current members of a list.
func (s *Session) ListMemberIDs(ctx context.Context, listID int64) ([]int64, error) {
	var ids []int64
	err := s.selectx(ctx, &ids, `SELECT user_id FROM user_list
	  WHERE list_id = ? AND valid_end_dt IS NULL ORDER BY user_list_id`, listID)
	if err != nil {
		return nil, fmt.Errorf("list members %d: %w", listID, err)
	}
	return ids, nil
}

// MergeMemberships makes the current members of a list exactly members:
// rows for users no longer present are expired, newcomers get a new row.
// Members must already have user rows.
func (s *Session) MergeMemberships(ctx context.Context, listID int64, members []int64) error {
	current, err := s.ListMemberIDs(ctx, listID)
	if err != nil {
		return err
	}
	observed := make(map[int64]bool, len(members))
	for _, id := range members {
		observed[id] = true
	}
	known := make(map[int64]bool, len(current))
	now := s.db.now()
	for _, id := range current {
		known[id] = true
		if observed[id] {
			continue
		}
		if _, err := s.exec(ctx, `UPDATE user_list SET valid_end_dt = ?
		  WHERE list_id = ? AND user_id = ? AND valid_end_dt IS NULL`, now, listID, id); err != nil {
			return fmt.Errorf("expire membership %d/%d: %w", listID, id, err)
		}
	}
	for _, id := range members {
		if known[id] {
			continue
		}
		known[id] = true
		if _, err := s.exec(ctx, `INSERT INTO user_list (user_id, list_id, valid_start_dt)
		  VALUES (?, ?, ?)`, id, listID, now); err != nil {
			return fmt.Errorf("add membership %d/%d: %w", listID, id, err)
		}
	}
	return nil
}
