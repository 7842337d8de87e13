// Package target resolves user-supplied references (user IDs, screen names,
// tags and lists) into stored users.
package target

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/logging"
	"tweetgraph/internal/model"
	"tweetgraph/internal/store"
	"tweetgraph/internal/util"
	"tweetgraph/internal/xclient"
)

// Mode says where resolution may look for users.
type Mode string

const (
	// Fetch looks in the store first and hydrates whatever is absent.
	Fetch Mode = "fetch"
	// Hydrate always asks the API.
	Hydrate Mode = "hydrate"
	// Skip only looks in the store; absent targets are reported missing.
	Skip Mode = "skip"
)

// ErrUnsupportedMode is returned when a target kind cannot resolve in a mode.
var ErrUnsupportedMode = errors.New("unsupported resolve mode")

// API is the part of the Twitter client resolution needs.
type API interface {
	LookupUsers(ctx context.Context, userIDs []int64, screenNames []string) iter.Seq2[model.User, error]
	GetList(ctx context.Context, ref xclient.ListRef) (model.List, error)
	ListMembers(ctx context.Context, ref xclient.ListRef) iter.Seq2[model.User, error]
}

// Context carries what a resolution needs. API may be nil in Skip mode.
type Context struct {
	Session *store.Session
	API     API
	Mode    Mode
}

// Target is one kind of raw reference. After Resolve, Users holds the ids
// of every user reached, in first-seen order, and each raw target is in
// exactly one of Good, Bad or Missing.
type Target interface {
	Kind() string
	Targets() []string
	Resolve(ctx context.Context, rc *Context) error
	Users() []int64
	Good() []string
	Bad() []string
	Missing() []string
}

// state is the bookkeeping shared by every target kind.
type state struct {
	kind    string
	targets []string
	modes   []Mode

	users   []int64
	seen    map[int64]bool
	bad     []string
	missing []string
	log     *logrus.Entry
}

func newState(kind string, raw []string, modes ...Mode) state {
	st := state{kind: kind, modes: modes, log: logging.For("target").WithField("kind", kind)}
	var dupes bool
	st.targets, dupes = util.Uniq(raw)
	if dupes {
		st.log.WithField("removed", len(raw)-len(st.targets)).Warn("Removed duplicate targets")
	}
	return st
}

func (st *state) Kind() string      { return st.kind }
func (st *state) Targets() []string { return st.targets }
func (st *state) Users() []int64    { return st.users }
func (st *state) Bad() []string     { return st.bad }
func (st *state) Missing() []string { return st.missing }

func (st *state) Good() []string {
	out := make([]string, 0, len(st.targets))
	for _, t := range st.targets {
		if !slices.Contains(st.bad, t) && !slices.Contains(st.missing, t) {
			out = append(out, t)
		}
	}
	return out
}

// begin checks the mode and clears results from any earlier resolution.
func (st *state) begin(rc *Context) error {
	if !slices.Contains(st.modes, rc.Mode) {
		return fmt.Errorf("%s targets: %w %q", st.kind, ErrUnsupportedMode, rc.Mode)
	}
	if rc.Mode != Skip && rc.API == nil {
		return fmt.Errorf("%s targets: resolve mode %s needs an API client", st.kind, rc.Mode)
	}
	st.users, st.seen, st.bad, st.missing = nil, map[int64]bool{}, nil, nil
	return nil
}

func (st *state) addUsers(ids ...int64) {
	for _, id := range ids {
		if !st.seen[id] {
			st.seen[id] = true
			st.users = append(st.users, id)
		}
	}
}

func (st *state) addBad(targets ...string)     { st.bad = append(st.bad, targets...) }
func (st *state) addMissing(targets ...string) { st.missing = append(st.missing, targets...) }

// hydrateUsers looks users up through the API and stores a snapshot of
// each one returned. Requested users the API leaves out come back as bad.
func hydrateUsers(ctx context.Context, rc *Context, ids []int64, names []string) (users []int64, badIDs []int64, badNames []string, err error) {
	if len(ids) == 0 && len(names) == 0 {
		return nil, nil, nil, nil
	}
	gotIDs := map[int64]bool{}
	gotNames := map[string]bool{}
	for u, err := range rc.API.LookupUsers(ctx, ids, names) {
		if err != nil {
			return nil, nil, nil, err
		}
		if err := rc.Session.SaveUser(ctx, &u); err != nil {
			return nil, nil, nil, err
		}
		gotIDs[u.ID] = true
		gotNames[strings.ToLower(u.ScreenName)] = true
		users = append(users, u.ID)
	}
	for _, id := range ids {
		if !gotIDs[id] {
			badIDs = append(badIDs, id)
		}
	}
	for _, n := range names {
		if !gotNames[strings.ToLower(n)] {
			badNames = append(badNames, n)
		}
	}
	return users, badIDs, badNames, nil
}

func formatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// Validate applies the tolerance flags to a resolved target: missing
// targets fail a Skip resolution unless allowMissing, and bad targets fail
// any other resolution unless allowAPIErrors. Tolerated problems are logged.
func Validate(t Target, mode Mode, allowMissing, allowAPIErrors bool) error {
	log := logging.For("target").WithField("kind", t.Kind())
	if missing := t.Missing(); mode == Skip && len(missing) > 0 {
		if !allowMissing {
			return errs.BadTarget(missing, nil, "%s targets not found in the database", t.Kind())
		}
		log.WithField("targets", missing).Warn("Ignoring targets missing from the database")
	}
	if bad := t.Bad(); mode != Skip && len(bad) > 0 {
		if !allowAPIErrors {
			return errs.BadTarget(bad, nil, "%s targets rejected by the Twitter API", t.Kind())
		}
		log.WithField("targets", bad).Warn("Ignoring targets rejected by the Twitter API")
	}
	return nil
}
