package xclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/model"
)

// helper to create a session with a mocked transport and fixed nonce/time
func newTestSession(t *testing.T, creds Credentials) *Session {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	s := NewSession(creds, WithHTTPClient(hc), WithLimiter(NewLimiter(0, 0)))
	s.nowFn = func() time.Time { return time.Unix(1318622958, 0) }
	s.nonceFn = func() string { return "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg" }
	return s
}

func TestOAuth1SigningAddsHeader(t *testing.T) {
	s := newTestSession(t, Credentials{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as"})
	var auth, rawQuery string
	httpmock.RegisterResponder(http.MethodGet, DefaultBaseURL+"/users/lookup.json",
		func(r *http.Request) (*http.Response, error) {
			auth = r.Header.Get("Authorization")
			rawQuery = r.URL.RawQuery
			return httpmock.NewStringResponse(http.StatusOK, `[{"id": 1, "screen_name": "a"}]`), nil
		})

	var users []model.User
	err := s.Get(context.Background(), "users/lookup", url.Values{"user_id": {"1,2"}, "tweet_mode": {"extended"}}, &users)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].ScreenName)

	assert.True(t, strings.HasPrefix(auth, "OAuth "), auth)
	for _, k := range []string{"oauth_consumer_key=\"ck\"", "oauth_token=\"at\"", "oauth_signature=", "oauth_nonce=\"kYjz", "oauth_timestamp=\"1318622958\""} {
		assert.Contains(t, auth, k)
	}
	assert.Equal(t, "tweet_mode=extended&user_id=1%2C2", rawQuery)
}

func TestOAuth1SignatureIsDeterministic(t *testing.T) {
	s := NewSession(Credentials{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as"})
	s.nowFn = func() time.Time { return time.Unix(100, 0) }
	s.nonceFn = func() string { return "n" }
	sign := func(q url.Values) string {
		req, _ := http.NewRequest(http.MethodGet, DefaultBaseURL+"/friends/ids.json?"+encodeQuery(q), nil)
		s.oauth1Sign(req, q)
		return req.Header.Get("Authorization")
	}
	a := sign(url.Values{"user_id": {"1"}})
	assert.Equal(t, a, sign(url.Values{"user_id": {"1"}}))
	assert.NotEqual(t, a, sign(url.Values{"user_id": {"2"}}))
}

func TestAppOnlyAuthFetchesTokenOnce(t *testing.T) {
	s := newTestSession(t, Credentials{ConsumerKey: "ck", ConsumerSecret: "cs"})
	httpmock.RegisterResponder(http.MethodPost, DefaultTokenURL,
		func(r *http.Request) (*http.Response, error) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "ck" || pass != "cs" {
				return httpmock.NewStringResponse(http.StatusForbidden, `{"errors":[{"code":99,"message":"bad"}]}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"token_type":"bearer","access_token":"TOKEN"}`), nil
		})
	httpmock.RegisterResponder(http.MethodGet, DefaultBaseURL+"/friends/ids.json",
		func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("Authorization") != "Bearer TOKEN" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"ids":[1],"next_cursor":0}`), nil
		})

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Get(context.Background(), "friends/ids", url.Values{"user_id": {"1"}}, nil))
	}
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+DefaultTokenURL])
	assert.Equal(t, 2, info["GET "+DefaultBaseURL+"/friends/ids.json"])
}

func TestErrorClassification(t *testing.T) {
	s := newTestSession(t, Credentials{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as"})
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"rate limit status", http.StatusTooManyRequests, `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`, func(t *testing.T, err error) {
			var rl *rateLimitError
			require.True(t, errors.As(err, &rl))
			assert.Equal(t, time.Unix(1700000000, 0).UTC(), rl.reset)
		}},
		{"over capacity", http.StatusServiceUnavailable, `{"errors":[{"code":130,"message":"Over capacity"}]}`, func(t *testing.T, err error) {
			assert.True(t, errs.Is(err, errs.KindService))
		}},
		{"internal error code", http.StatusBadRequest, `{"errors":[{"code":131,"message":"Internal error"}]}`, func(t *testing.T, err error) {
			assert.True(t, errs.Is(err, errs.KindService))
		}},
		{"no such user", http.StatusNotFound, `{"errors":[{"code":50,"message":"User not found."}]}`, func(t *testing.T, err error) {
			assert.True(t, errs.Is(err, errs.KindNotFound))
		}},
		{"suspended", http.StatusForbidden, `{"errors":[{"code":63,"message":"User has been suspended."}]}`, func(t *testing.T, err error) {
			assert.True(t, errs.Is(err, errs.KindNotFound))
		}},
		{"protected", http.StatusUnauthorized, `{"request":"/1.1/statuses/user_timeline.json","error":"Not authorized."}`, func(t *testing.T, err error) {
			assert.True(t, errs.Is(err, errs.KindForbidden))
		}},
		{"other", http.StatusBadRequest, `{"errors":[{"code":44,"message":"bad param"}]}`, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, []int{44}, apiErr.Codes)
			assert.False(t, errs.Is(err, errs.KindService))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			httpmock.RegisterResponder(http.MethodGet, DefaultBaseURL+"/statuses/user_timeline.json",
				func(r *http.Request) (*http.Response, error) {
					resp := httpmock.NewStringResponse(tc.status, tc.body)
					resp.Header.Set("x-rate-limit-reset", "1700000000")
					return resp, nil
				})
			err := s.Get(context.Background(), "statuses/user_timeline", url.Values{"user_id": {"1"}}, nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestTransportFailureIsServiceError(t *testing.T) {
	s := newTestSession(t, Credentials{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as"})
	httpmock.RegisterResponder(http.MethodGet, DefaultBaseURL+"/friends/ids.json",
		httpmock.NewErrorResponder(errors.New("connection reset")))
	err := s.Get(context.Background(), "friends/ids", nil, nil)
	assert.True(t, errs.Is(err, errs.KindService))
}

func TestParseResetDefault(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(15*time.Minute), parseReset("", now))
	assert.Equal(t, time.Unix(42, 0).UTC(), parseReset("42", now))
}
