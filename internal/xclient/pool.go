package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/logging"
	"tweetgraph/internal/metrics"
)

const (
	DefaultCapacitySleep   = 60 * time.Second
	DefaultCapacityRetries = 10
	rateLimitMargin        = 2 * time.Second
)

// Caller is anything that can issue a v1.1 GET on one set of credentials.
type Caller interface {
	ID() string
	Get(ctx context.Context, endpoint string, params url.Values, out any) error
}

// Pool rotates calls across several credential sessions. Rate-limited
// sessions are swapped out for free ones, and when none is free the pool
// sleeps until the earliest reset. Service errors are retried in place.
// A Pool is not safe for concurrent use.
type Pool struct {
	sessions        []Caller
	resets          []time.Time
	current         int
	capacitySleep   time.Duration
	capacityRetries int
	clock           clockwork.Clock
	rnd             *rand.Rand
	log             *logrus.Entry
}

type PoolOption func(*Pool)

func WithCapacitySleep(d time.Duration) PoolOption { return func(p *Pool) { p.capacitySleep = d } }
func WithCapacityRetries(n int) PoolOption         { return func(p *Pool) { p.capacityRetries = n } }
func WithClock(c clockwork.Clock) PoolOption       { return func(p *Pool) { p.clock = c } }
func WithRand(r *rand.Rand) PoolOption             { return func(p *Pool) { p.rnd = r } }
func WithLogger(l *logrus.Entry) PoolOption        { return func(p *Pool) { p.log = l } }

func NewPool(sessions []Caller, opts ...PoolOption) (*Pool, error) {
	if len(sessions) == 0 {
		return nil, errs.BadConfig("at least one API profile is required")
	}
	p := &Pool{
		sessions:        sessions,
		resets:          make([]time.Time, len(sessions)),
		capacitySleep:   DefaultCapacitySleep,
		capacityRetries: DefaultCapacityRetries,
		clock:           clockwork.NewRealClock(),
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
		log:             logging.For("pool"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.capacityRetries < 0 {
		p.capacityRetries = 0
	}
	return p, nil
}

// ID is the identifying credential of the current session.
func (p *Pool) ID() string { return p.sessions[p.current].ID() }

// Get issues the call on the current session with failover and retries.
func (p *Pool) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	_, err := withFailover(ctx, p, endpoint, func(ctx context.Context, c Caller) (struct{}, error) {
		return struct{}{}, c.Get(ctx, endpoint, params, out)
	})
	return err
}

// withFailover runs call against the pool's current session until it
// succeeds or fails with something other than a rate limit.
func withFailover[T any](ctx context.Context, p *Pool, endpoint string, call func(context.Context, Caller) (T, error)) (T, error) {
	var zero T
	for {
		v, err := retryService(ctx, p, endpoint, p.sessions[p.current], call)
		var rl *rateLimitError
		switch {
		case err == nil:
			p.resets[p.current] = time.Time{}
			return v, nil
		case errors.As(err, &rl):
			p.resets[p.current] = rl.reset
			if err := p.switchSession(ctx); err != nil {
				return zero, err
			}
		default:
			return zero, err
		}
	}
}

// retryService retries call on session s while it reports service errors,
// sleeping capacitySleep between attempts.
func retryService[T any](ctx context.Context, p *Pool, endpoint string, s Caller, call func(context.Context, Caller) (T, error)) (T, error) {
	var zero T
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.capacitySleep), uint64(p.capacityRetries))
	b.Reset()
	for {
		v, err := call(ctx, s)
		if err == nil || !errs.Is(err, errs.KindService) {
			return v, err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return zero, errs.Service(err, "%s: giving up after %d retries", endpoint, p.capacityRetries)
		}
		metrics.IncAPIRetry(endpoint)
		p.log.WithError(err).WithField("endpoint", endpoint).Warnf("service error, retrying in %s", delay)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// switchSession moves to a random session without an active limit, or
// sleeps until the soonest reset when every session is limited.
func (p *Pool) switchSession(ctx context.Context) error {
	now := p.clock.Now()
	free := make([]int, 0, len(p.sessions))
	for i, r := range p.resets {
		// the session that was just limited is never free, even when its
		// reset header is already in the past
		if i != p.current && (r.IsZero() || !r.After(now)) {
			free = append(free, i)
		}
	}
	if len(free) > 0 {
		next := free[p.rnd.Intn(len(free))]
		p.log.WithFields(logrus.Fields{"from": p.ID(), "to": p.sessions[next].ID()}).Info("rate limited, switching session")
		metrics.RateLimitSwitches.Inc()
		p.current = next
		return nil
	}

	soonest := 0
	for i, r := range p.resets {
		if r.Before(p.resets[soonest]) {
			soonest = i
		}
	}
	wait := max(p.resets[soonest].Sub(now), 0) + rateLimitMargin
	p.log.WithField("session", p.sessions[soonest].ID()).Warnf("all sessions rate limited, sleeping %s", wait.Round(time.Second))
	metrics.RateLimitSleeps.Inc()
	if err := p.sleep(ctx, wait); err != nil {
		return err
	}
	p.current = soonest
	return nil
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-p.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimitStatus asks every session (or only the one with consumerKey)
// for its limits, keyed by consumer key.
func (p *Pool) RateLimitStatus(ctx context.Context, consumerKey string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(p.sessions))
	for _, s := range p.sessions {
		if consumerKey != "" && s.ID() != consumerKey {
			continue
		}
		raw, err := retryService(ctx, p, "application/rate_limit_status", s, func(ctx context.Context, c Caller) (json.RawMessage, error) {
			var raw json.RawMessage
			err := c.Get(ctx, "application/rate_limit_status", nil, &raw)
			return raw, err
		})
		if err != nil {
			return nil, fmt.Errorf("rate limit status for %s: %w", s.ID(), err)
		}
		out[s.ID()] = raw
	}
	if len(out) == 0 {
		return nil, errs.BadConfig("no API profile with consumer key %q", consumerKey)
	}
	return out, nil
}
