// Package ratelimit classifies GitHub responses that were rejected for rate
// limiting and derives how long to wait before trying again. The client
// itself never retries; these helpers are for callers that bring their own
// retry policy.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

const (
	resourceHeader   = "X-Ratelimit-Resource"
	remainingHeader  = "X-Ratelimit-Remaining"
	resetHeader      = "X-Ratelimit-Reset"
	retryAfterHeader = "Retry-After"
)

var jsonMediaTypes = []contenttype.MediaType{
	contenttype.NewMediaType("application/json"),
	contenttype.NewMediaType("application/vnd.github+json"),
}

// IsRateLimited reports whether resp was rejected for rate limiting. body is
// the already-read response body; the response's own Body is not touched.
//
// GraphQL rejections arrive as 200 or 403 with x-ratelimit-resource: graphql
// and a RATE_LIMITED error in the payload. REST rejections arrive as 403 or
// 429 with the remaining-quota or Retry-After headers, or a rate-limit
// message in the body.
func IsRateLimited(resp *http.Response, body []byte) bool {
	if resp == nil {
		return false
	}

	if resp.Header.Get(resourceHeader) == "graphql" {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusForbidden {
			return false
		}
		return graphqlRateLimited(resp, body)
	}

	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	if resp.Header.Get(remainingHeader) == "0" || resp.Header.Get(retryAfterHeader) != "" {
		return true
	}
	if !isJSON(resp) {
		return false
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	message := strings.ToLower(payload.Message)
	return strings.Contains(message, "rate limit exceeded") || strings.Contains(message, "too many requests")
}

func graphqlRateLimited(resp *http.Response, body []byte) bool {
	if !isJSON(resp) {
		return false
	}
	var payload struct {
		Errors []struct {
			Type       string `json:"type"`
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	for _, gqlErr := range payload.Errors {
		if gqlErr.Type == "RATE_LIMITED" || gqlErr.Extensions.Code == "RATE_LIMITED" {
			return true
		}
		if strings.Contains(strings.ToLower(gqlErr.Message), "rate limit") {
			return true
		}
	}
	return false
}

func isJSON(resp *http.Response) bool {
	mt := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	for _, j := range jsonMediaTypes {
		if mt.Matches(j) {
			return true
		}
	}
	return false
}

// WaitTime derives how long to pause before retrying a rate-limited request.
// It prefers the quota reset timestamp, then Retry-After, then a fallback
// that starts at one minute and grows twenty seconds per attempt. attempt
// counts from 1.
func WaitTime(resp *http.Response, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if resp != nil {
		if resp.Header.Get(remainingHeader) == "0" {
			if reset, err := strconv.ParseInt(resp.Header.Get(resetHeader), 10, 64); err == nil {
				wait := time.Until(time.Unix(reset, 0))
				if wait < 0 {
					wait = 0
				}
				return wait
			}
		}
		if after, err := strconv.Atoi(resp.Header.Get(retryAfterHeader)); err == nil {
			return time.Duration(after) * time.Second
		}
	}
	return time.Duration(60+20*(attempt-1)) * time.Second
}
