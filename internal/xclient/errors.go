package xclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"tweetgraph/internal/errs"
)

// Twitter v1.1 error codes we classify.
const (
	codeNoUserMatches     = 17
	codeNoSuchPage        = 34
	codeUserNotFound      = 50
	codeSuspended         = 63
	codeRateLimited       = 88
	codeOverCapacity      = 130
	codeInternalError     = 131
	codeNotAuthorized     = 179
	codeAccountLocked     = 326
	defaultRateLimitReset = 15 * time.Minute
)

// APIError is an error response that is not rate limiting, a service fault,
// or a per-target condition.
type APIError struct {
	Endpoint string
	Status   int
	Codes    []int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d codes %v: %s", e.Endpoint, e.Status, e.Codes, e.Message)
}

func (e *APIError) hasCode(codes ...int) bool {
	for _, c := range codes {
		if slices.Contains(e.Codes, c) {
			return true
		}
	}
	return false
}

// rateLimitError is absorbed by the Pool and never reaches callers.
type rateLimitError struct {
	endpoint string
	reset    time.Time
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited until %s", e.endpoint, e.reset.Format(time.RFC3339))
}

func classify(endpoint string, resp *http.Response, body []byte, now time.Time) error {
	apiErr := &APIError{Endpoint: endpoint, Status: resp.StatusCode}
	var payload struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		msgs := make([]string, 0, len(payload.Errors)+1)
		for _, e := range payload.Errors {
			apiErr.Codes = append(apiErr.Codes, e.Code)
			msgs = append(msgs, e.Message)
		}
		if payload.Error != "" {
			msgs = append(msgs, payload.Error)
		}
		apiErr.Message = strings.Join(msgs, "; ")
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || apiErr.hasCode(codeRateLimited):
		return &rateLimitError{endpoint: endpoint, reset: parseReset(resp.Header.Get("x-rate-limit-reset"), now)}
	case resp.StatusCode >= 500 || apiErr.hasCode(codeOverCapacity, codeInternalError):
		return errs.Service(apiErr, "%s", endpoint)
	case apiErr.hasCode(codeNoUserMatches, codeNoSuchPage, codeUserNotFound, codeSuspended):
		return errs.NotFound(apiErr, "%s", endpoint)
	case apiErr.hasCode(codeNotAuthorized, codeAccountLocked):
		return errs.Forbidden(apiErr, "%s", endpoint)
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound(apiErr, "%s", endpoint)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Forbidden(apiErr, "%s", endpoint)
	}
	return apiErr
}

// parseReset reads the epoch-seconds reset header, defaulting to one window from now.
func parseReset(v string, now time.Time) time.Time {
	if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return now.Add(defaultRateLimitReset)
}
