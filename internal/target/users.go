package target

import (
	"context"
	"strconv"
	"strings"
)

// UserIDTarget resolves numeric user ids.
type UserIDTarget struct {
	state
	ids []int64
}

func NewUserIDs(ids []int64) *UserIDTarget {
	t := &UserIDTarget{state: newState("user_id", formatIDs(ids), Fetch, Hydrate, Skip)}
	for _, raw := range t.targets {
		id, _ := strconv.ParseInt(raw, 10, 64)
		t.ids = append(t.ids, id)
	}
	return t
}

func (t *UserIDTarget) Resolve(ctx context.Context, rc *Context) error {
	if err := t.begin(rc); err != nil {
		return err
	}
	todo := t.ids
	if rc.Mode != Hydrate {
		existing, err := rc.Session.ExistingUserIDs(ctx, t.ids)
		if err != nil {
			return err
		}
		todo = nil
		for _, id := range t.ids {
			if existing[id] {
				t.addUsers(id)
			} else {
				todo = append(todo, id)
			}
		}
		if len(todo) == 0 {
			return nil
		}
		if rc.Mode == Skip {
			t.addMissing(formatIDs(todo)...)
			t.log.WithField("missing", len(todo)).Warn("Not all requested users are loaded")
			return nil
		}
	}
	users, bad, _, err := hydrateUsers(ctx, rc, todo, nil)
	if err != nil {
		return err
	}
	t.addUsers(users...)
	t.addBad(formatIDs(bad)...)
	return nil
}

// ScreenNameTarget resolves screen names, matched case-insensitively
// against each user's most recent snapshot.
type ScreenNameTarget struct {
	state
}

func NewScreenNames(names []string) *ScreenNameTarget {
	return &ScreenNameTarget{state: newState("screen_name", names, Fetch, Hydrate, Skip)}
}

func (t *ScreenNameTarget) Resolve(ctx context.Context, rc *Context) error {
	if err := t.begin(rc); err != nil {
		return err
	}
	todo := t.targets
	if rc.Mode != Hydrate {
		known, err := rc.Session.UserIDsByScreenName(ctx, t.targets)
		if err != nil {
			return err
		}
		todo = nil
		for _, name := range t.targets {
			if id, ok := known[strings.ToLower(name)]; ok {
				t.addUsers(id)
			} else {
				todo = append(todo, name)
			}
		}
		if len(todo) == 0 {
			return nil
		}
		if rc.Mode == Skip {
			t.addMissing(todo...)
			t.log.WithField("missing", len(todo)).Warn("Not all requested users are loaded")
			return nil
		}
	}
	users, _, bad, err := hydrateUsers(ctx, rc, nil, todo)
	if err != nil {
		return err
	}
	t.addUsers(users...)
	t.addBad(bad...)
	return nil
}

// SelectTagTarget resolves every user carrying one of the named tags. It
// cannot fetch: a tag only names users already stored.
type SelectTagTarget struct {
	state
}

func NewTags(names []string) *SelectTagTarget {
	return &SelectTagTarget{state: newState("tag", names, Hydrate, Skip)}
}

func (t *SelectTagTarget) Resolve(ctx context.Context, rc *Context) error {
	if err := t.begin(rc); err != nil {
		return err
	}
	tagged, err := rc.Session.TaggedUserIDs(ctx, t.targets)
	if err != nil {
		return err
	}
	var ids []int64
	for _, name := range t.targets {
		members, ok := tagged[name]
		if !ok {
			t.addMissing(name)
			continue
		}
		ids = append(ids, members...)
	}
	if len(t.missing) > 0 {
		t.log.WithField("tags", t.missing).Warn("Requested tags do not exist")
	}
	if rc.Mode == Skip || len(ids) == 0 {
		t.addUsers(ids...)
		return nil
	}
	users, bad, _, err := hydrateUsers(ctx, rc, ids, nil)
	if err != nil {
		return err
	}
	t.addUsers(users...)
	if len(bad) > 0 {
		t.log.WithField("users", bad).Warn("Tagged users not returned by the Twitter API")
	}
	return nil
}
