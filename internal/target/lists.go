package target

import (
	"context"
	"strconv"
	"strings"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/util"
	"tweetgraph/internal/xclient"
)

// ListTarget resolves Twitter lists, given as numeric ids or as
// "owner_screen_name/slug", to their current members. Hydrating a list
// stores the list, its owner and its members and brings its membership
// history up to date.
type ListTarget struct {
	state
	refs map[string]xclient.ListRef
}

// NewLists fails with a bad_target error on malformed references.
func NewLists(raw []string) (*ListTarget, error) {
	t := &ListTarget{state: newState("list", raw, Fetch, Hydrate, Skip), refs: map[string]xclient.ListRef{}}
	var malformed []string
	for _, r := range t.targets {
		ref, ok := parseListRef(r)
		if !ok {
			malformed = append(malformed, r)
			continue
		}
		t.refs[r] = ref
	}
	if len(malformed) > 0 {
		return nil, errs.BadTarget(malformed, nil, "malformed list reference")
	}
	return t, nil
}

func parseListRef(raw string) (xclient.ListRef, bool) {
	if owner, slug, ok := strings.Cut(raw, "/"); ok {
		owner = strings.TrimPrefix(owner, "@")
		if owner == "" || slug == "" || strings.Contains(slug, "/") {
			return xclient.ListRef{}, false
		}
		return xclient.ListRef{OwnerScreenName: owner, Slug: slug}, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return xclient.ListRef{}, false
	}
	return xclient.ListRef{ID: id}, true
}

func (t *ListTarget) Resolve(ctx context.Context, rc *Context) error {
	if err := t.begin(rc); err != nil {
		return err
	}
	todo := t.targets
	var hydrated map[string]int64
	if rc.Mode == Hydrate {
		var err error
		if hydrated, err = t.hydrate(ctx, rc, t.targets); err != nil {
			return err
		}
	} else {
		var err error
		if todo, err = t.loadStored(ctx, rc, t.targets); err != nil {
			return err
		}
		if len(todo) == 0 {
			return nil
		}
		if rc.Mode == Skip {
			t.addMissing(todo...)
			t.log.WithField("missing", len(todo)).Warn("Not all requested lists are loaded")
			return nil
		}
		if hydrated, err = t.hydrate(ctx, rc, todo); err != nil {
			return err
		}
	}
	// Members are read back from the store rather than taken from the
	// hydration, so a list only counts once its membership is recorded.
	for _, r := range todo {
		id, ok := hydrated[r]
		if !ok {
			continue
		}
		members, err := rc.Session.ListMemberIDs(ctx, id)
		if err != nil {
			return err
		}
		t.addUsers(members...)
	}
	return nil
}

// loadStored adds the current members of every stored list among targets
// and returns the targets that are not stored.
func (t *ListTarget) loadStored(ctx context.Context, rc *Context, targets []string) ([]string, error) {
	var absent []string
	for _, r := range targets {
		ref := t.refs[r]
		var (
			id  int64
			err error
		)
		if ref.ID != 0 {
			id, err = rc.Session.FindListByID(ctx, ref.ID)
		} else {
			id, err = rc.Session.FindListBySlug(ctx, ref.OwnerScreenName, ref.Slug)
		}
		if err != nil {
			return nil, err
		}
		if id == 0 {
			absent = append(absent, r)
			continue
		}
		members, err := rc.Session.ListMemberIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		t.addUsers(members...)
	}
	return absent, nil
}

// hydrate loads targets from the API and returns the stored list ID of
// each one that was not rejected.
func (t *ListTarget) hydrate(ctx context.Context, rc *Context, targets []string) (map[string]int64, error) {
	// owners of lists named by slug are looked up first, all at once
	var owners []string
	for _, r := range targets {
		if ref := t.refs[r]; ref.ID == 0 {
			owners = append(owners, ref.OwnerScreenName)
		}
	}
	ownerIDs := map[string]int64{}
	if len(owners) > 0 {
		owners, _ = util.Uniq(owners)
		_, _, badOwners, err := hydrateUsers(ctx, rc, nil, owners)
		if err != nil {
			return nil, err
		}
		if ownerIDs, err = rc.Session.UserIDsByScreenName(ctx, owners); err != nil {
			return nil, err
		}
		for _, n := range badOwners {
			delete(ownerIDs, strings.ToLower(n))
		}
	}

	hydrated := make(map[string]int64, len(targets))
	for _, r := range targets {
		ref := t.refs[r]
		if ref.ID == 0 {
			id, ok := ownerIDs[strings.ToLower(ref.OwnerScreenName)]
			if !ok {
				t.addBad(r)
				continue
			}
			ref = xclient.ListRef{Slug: ref.Slug, OwnerID: id}
		}
		id, err := t.hydrateOne(ctx, rc, ref)
		if errs.Is(err, errs.KindNotFound) || errs.Is(err, errs.KindForbidden) {
			t.log.WithError(err).WithField("list", r).Debug("list rejected by the Twitter API")
			t.addBad(r)
			continue
		}
		if err != nil {
			return nil, err
		}
		hydrated[r] = id
	}
	return hydrated, nil
}

func (t *ListTarget) hydrateOne(ctx context.Context, rc *Context, ref xclient.ListRef) (int64, error) {
	l, err := rc.API.GetList(ctx, ref)
	if err != nil {
		return 0, err
	}
	var members []int64
	for u, err := range rc.API.ListMembers(ctx, ref) {
		if err != nil {
			return 0, err
		}
		if err := rc.Session.SaveUser(ctx, &u); err != nil {
			return 0, err
		}
		members = append(members, u.ID)
	}
	if err := rc.Session.SaveUser(ctx, &l.User); err != nil {
		return 0, err
	}
	if err := rc.Session.SaveList(ctx, &l); err != nil {
		return 0, err
	}
	if err := rc.Session.MergeMemberships(ctx, l.ID, members); err != nil {
		return 0, err
	}
	return l.ID, nil
}
