package target

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/model"
	"tweetgraph/internal/store"
	"tweetgraph/internal/xclient"
)

type fakeAPI struct {
	users   map[int64]model.User
	lists   map[int64]model.List
	members map[int64][]int64
	lookups int
}

func newFakeAPI(users ...model.User) *fakeAPI {
	f := &fakeAPI{users: map[int64]model.User{}, lists: map[int64]model.List{}, members: map[int64][]int64{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeAPI) LookupUsers(_ context.Context, ids []int64, names []string) iter.Seq2[model.User, error] {
	f.lookups++
	return func(yield func(model.User, error) bool) {
		for _, id := range ids {
			if u, ok := f.users[id]; ok && !yield(u, nil) {
				return
			}
		}
		for _, n := range names {
			for _, u := range f.users {
				if strings.EqualFold(u.ScreenName, n) && !yield(u, nil) {
					return
				}
			}
		}
	}
}

func (f *fakeAPI) findList(ref xclient.ListRef) (model.List, error) {
	for _, l := range f.lists {
		if (ref.ID != 0 && l.ID == ref.ID) || (strings.EqualFold(ref.Slug, l.Slug) && ref.OwnerID == l.User.ID) {
			return l, nil
		}
	}
	return model.List{}, errs.NotFound(nil, "list %s", ref)
}

func (f *fakeAPI) GetList(_ context.Context, ref xclient.ListRef) (model.List, error) {
	return f.findList(ref)
}

func (f *fakeAPI) ListMembers(_ context.Context, ref xclient.ListRef) iter.Seq2[model.User, error] {
	return func(yield func(model.User, error) bool) {
		l, err := f.findList(ref)
		if err != nil {
			yield(model.User{}, err)
			return
		}
		for _, id := range f.members[l.ID] {
			if !yield(f.users[id], nil) {
				return
			}
		}
	}
}

func user(id int64, name string) model.User { return model.User{ID: id, ScreenName: name} }

func newSession(t *testing.T) *store.Session {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Initialize(ctx, store.SchemaVersion))
	s := db.NewSession()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserIDsFetchHydratesMissing(t *testing.T) {
	s := newSession(t)
	api := newFakeAPI(user(111, "one"))
	tg := NewUserIDs([]int64{111, 222})

	require.NoError(t, tg.Resolve(context.Background(), &Context{Session: s, API: api, Mode: Fetch}))
	assert.Equal(t, []int64{111}, tg.Users())
	assert.Equal(t, []string{"222"}, tg.Bad())
	assert.Empty(t, tg.Missing())
	assert.Equal(t, []string{"111"}, tg.Good())

	err := Validate(tg, Fetch, false, false)
	assert.True(t, errs.Is(err, errs.KindBadTarget))
	require.NoError(t, Validate(tg, Fetch, false, true))
}

func TestUserIDsFetchUsesStoreFirst(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []int64{111}))
	api := newFakeAPI(user(222, "two"))

	tg := NewUserIDs([]int64{111, 222})
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Fetch}))
	assert.Equal(t, []int64{111, 222}, tg.Users())
	assert.Empty(t, tg.Bad())
	assert.Equal(t, 1, api.lookups)
}

func TestUserIDsSkipReportsMissing(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []int64{111}))

	tg := NewUserIDs([]int64{111, 222, 111})
	assert.Equal(t, []string{"111", "222"}, tg.Targets())
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Equal(t, []int64{111}, tg.Users())
	assert.Equal(t, []string{"222"}, tg.Missing())
	assert.NotContains(t, tg.Users(), int64(222))

	err := Validate(tg, Skip, false, false)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"222"}, e.Targets)
	require.NoError(t, Validate(tg, Skip, true, false))
}

func TestUserIDsHydrateAlwaysCallsAPI(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []int64{111}))
	api := newFakeAPI(user(111, "one"))

	tg := NewUserIDs([]int64{111})
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{111}, tg.Users())
	assert.Equal(t, 1, api.lookups)

	ids, err := s.UserIDsByScreenName(ctx, []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, int64(111), ids["one"])
}

func TestScreenNames(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	api := newFakeAPI(user(1, "Alice"), user(2, "bob"))

	tg := NewScreenNames([]string{"alice", "nobody"})
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{1}, tg.Users())
	assert.Equal(t, []string{"nobody"}, tg.Bad())

	tg = NewScreenNames([]string{"ALICE", "bob"})
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Equal(t, []int64{1}, tg.Users())
	assert.Equal(t, []string{"bob"}, tg.Missing())

	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Fetch}))
	assert.Equal(t, []int64{1, 2}, tg.Users())
	assert.Empty(t, tg.Missing())
}

func TestTagsRejectFetch(t *testing.T) {
	s := newSession(t)
	tg := NewTags([]string{"press"})
	err := tg.Resolve(context.Background(), &Context{Session: s, API: newFakeAPI(), Mode: Fetch})
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestTagsSkipAndHydrate(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	_, err := s.CreateTag(ctx, "press")
	require.NoError(t, err)
	id, err := s.TagID(ctx, "press")
	require.NoError(t, err)
	require.NoError(t, s.EnsureUsers(ctx, []int64{5, 6}))
	require.NoError(t, s.ApplyTag(ctx, id, []int64{5, 6}))

	tg := NewTags([]string{"press", "gone"})
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Equal(t, []int64{5, 6}, tg.Users())
	assert.Equal(t, []string{"gone"}, tg.Missing())
	assert.Equal(t, []string{"press"}, tg.Good())

	api := newFakeAPI(user(5, "five"))
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{5}, tg.Users())
	assert.Empty(t, tg.Bad())
}

func listAPI() *fakeAPI {
	api := newFakeAPI(user(1, "owner"), user(2, "m2"), user(3, "m3"))
	api.lists[77] = model.List{ID: 77, Slug: "press", FullName: "@owner/press", User: user(1, "owner")}
	api.members[77] = []int64{2, 3}
	return api
}

func TestListsHydrateByName(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	api := listAPI()

	tg, err := NewLists([]string{"owner/press", "owner/nothing", "ghost/press"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{2, 3}, tg.Users())
	assert.ElementsMatch(t, []string{"owner/nothing", "ghost/press"}, tg.Bad())
	assert.Empty(t, tg.Missing())

	members, err := s.ListMemberIDs(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, members)

	// membership changes are recorded on the next hydration
	api.members[77] = []int64{3}
	tg, err = NewLists([]string{"77"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{3}, tg.Users())
}

func TestListsSlugCaseDoesNotLoseMembers(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	api := listAPI()

	tg, err := NewLists([]string{"owner/Press"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Hydrate}))
	assert.Equal(t, []int64{2, 3}, tg.Users())
	assert.Empty(t, tg.Missing())
	assert.Equal(t, []string{"owner/Press"}, tg.Good())

	tg, err = NewLists([]string{"owner/PRESS"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Equal(t, []int64{2, 3}, tg.Users())
	assert.Empty(t, tg.Missing())
}

func TestListsSkipAndFetch(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	api := listAPI()

	tg, err := NewLists([]string{"77"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Empty(t, tg.Users())
	assert.Equal(t, []string{"77"}, tg.Missing())

	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, API: api, Mode: Fetch}))
	assert.Equal(t, []int64{2, 3}, tg.Users())
	assert.Empty(t, tg.Missing())
	assert.Equal(t, []string{"77"}, tg.Good())

	// stored now: skip mode finds it by owner and slug as well
	tg, err = NewLists([]string{"OWNER/press"})
	require.NoError(t, err)
	require.NoError(t, tg.Resolve(ctx, &Context{Session: s, Mode: Skip}))
	assert.Equal(t, []int64{2, 3}, tg.Users())
}

func TestNewListsRejectsMalformed(t *testing.T) {
	_, err := NewLists([]string{"77", "a/b/c", "nope", "/slug"})
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindBadTarget, e.Kind)
	assert.Equal(t, []string{"a/b/c", "nope", "/slug"}, e.Targets)
}
