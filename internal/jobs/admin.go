package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"tweetgraph/internal/store"
)

// ErrNotConfirmed is returned by InitializeJob unless Confirmed is set.
var ErrNotConfirmed = errors.New("initializing deletes all stored data; pass -y to confirm")

// InitializeJob drops and recreates the schema.
type InitializeJob struct {
	DB        *store.DB
	Confirmed bool
}

func (j *InitializeJob) Name() string { return "initialize" }

func (j *InitializeJob) Run(ctx context.Context) error {
	if !j.Confirmed {
		return ErrNotConfirmed
	}
	return j.DB.Initialize(ctx, store.SchemaVersion)
}

// RateLimitJob prints API rate limits per consumer key: the raw JSON when
// Full, otherwise only endpoints that have been used in the current window.
type RateLimitJob struct {
	API         API
	ConsumerKey string
	Full        bool
	Out         io.Writer
}

func (j *RateLimitJob) Name() string { return "ratelimit" }

type rateLimit struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

func (j *RateLimitJob) Run(ctx context.Context) error {
	status, err := j.API.RateLimitStatus(ctx, j.ConsumerKey)
	if err != nil {
		return err
	}
	if j.Full {
		enc := json.NewEncoder(j.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(j.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "consumer_key\tendpoint\tremaining\tlimit\treset")
	for _, key := range keys {
		var body struct {
			Resources map[string]map[string]rateLimit `json:"resources"`
		}
		if err := json.Unmarshal(status[key], &body); err != nil {
			return fmt.Errorf("decode rate limits for %s: %w", key, err)
		}
		var endpoints []string
		limits := map[string]rateLimit{}
		for _, group := range body.Resources {
			for ep, rl := range group {
				if rl.Remaining < rl.Limit {
					endpoints = append(endpoints, ep)
					limits[ep] = rl
				}
			}
		}
		sort.Strings(endpoints)
		for _, ep := range endpoints {
			rl := limits[ep]
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", key, ep, rl.Remaining, rl.Limit,
				time.Unix(rl.Reset, 0).UTC().Format(time.RFC3339))
		}
	}
	return tw.Flush()
}
