package xclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tweetgraph/internal/errs"
)

const (
	DefaultBaseURL  = "https://api.twitter.com/1.1"
	DefaultTokenURL = "https://api.twitter.com/oauth2/token"
)

// Credentials is one set of OAuth keys. Without a token the session uses
// app-only auth.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Session is a single authenticated v1.1 API session.
type Session struct {
	baseURL    string
	tokenURL   string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	nowFn      func() time.Time
	nonceFn    func() string

	mu     sync.Mutex
	bearer string
}

type SessionOption func(*Session)

func WithHTTPClient(c *http.Client) SessionOption { return func(s *Session) { s.httpClient = c } }

func WithBaseURL(base, token string) SessionOption {
	return func(s *Session) {
		s.baseURL = strings.TrimRight(base, "/")
		s.tokenURL = token
	}
}

func WithLimiter(l *rate.Limiter) SessionOption { return func(s *Session) { s.limiter = l } }

func NewSession(creds Credentials, opts ...SessionOption) *Session {
	s := &Session{
		baseURL:    DefaultBaseURL,
		tokenURL:   DefaultTokenURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: time.Duration(getEnvInt("TWEETGRAPH_HTTP_TIMEOUT_S", 60)) * time.Second},
		limiter:    newDefaultLimiter(),
		nowFn:      time.Now,
		nonceFn:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID identifies the session by its consumer key.
func (s *Session) ID() string { return s.creds.ConsumerKey }

// Get calls a v1.1 endpoint such as "users/lookup" and decodes the JSON body into out.
func (s *Session) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	reqURL := s.baseURL + "/" + endpoint + ".json"
	if len(params) > 0 {
		reqURL += "?" + encodeQuery(params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, req, params); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Service(err, "%s: no response", endpoint)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Service(err, "%s: reading response", endpoint)
	}
	if resp.StatusCode >= 400 {
		return classify(endpoint, resp, body, s.nowFn())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", endpoint, err)
	}
	return nil
}

func (s *Session) authorize(ctx context.Context, req *http.Request, params url.Values) error {
	req.Header.Set("Accept", "application/json")
	if s.creds.Token != "" {
		s.oauth1Sign(req, params)
		return nil
	}
	tok, err := s.bearerToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// bearerToken exchanges the consumer key pair for an app-only token once per session.
func (s *Session) bearerToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bearer != "" {
		return s.bearer, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(url.QueryEscape(s.creds.ConsumerKey), url.QueryEscape(s.creds.ConsumerSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Service(err, "oauth2/token: no response")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Service(err, "oauth2/token: reading response")
	}
	if resp.StatusCode >= 400 {
		return "", classify("oauth2/token", resp, body, s.nowFn())
	}
	var tok struct {
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("oauth2/token: decoding response: %w", err)
	}
	if !strings.EqualFold(tok.TokenType, "bearer") || tok.AccessToken == "" {
		return "", fmt.Errorf("oauth2/token: unexpected token type %q", tok.TokenType)
	}
	s.bearer = tok.AccessToken
	return s.bearer, nil
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
