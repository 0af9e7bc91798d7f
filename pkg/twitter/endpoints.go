package twitter

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// BaseURL is the base URL for the Twitter REST API
	BaseURL = "https://api.twitter.com/1.1"

	// UserTimelineEndpoint returns a user's own tweets
	UserTimelineEndpoint = "/statuses/user_timeline.json"

	// SearchTweetsEndpoint returns tweets matching a search query
	SearchTweetsEndpoint = "/search/tweets.json"

	// RateLimitStatusEndpoint reports per-endpoint quota state
	RateLimitStatusEndpoint = "/application/rate_limit_status.json"

	// StatusesResource and SearchResource are the rate-limit resource
	// families the two flows draw quota from
	StatusesResource = "statuses"
	SearchResource   = "search"

	// TimelineLimitKey and SearchLimitKey are the endpoint keys inside
	// the rate_limit_status response
	TimelineLimitKey = "/statuses/user_timeline"
	SearchLimitKey   = "/search/tweets"

	// MaxPageSize is the largest page the API serves per request
	MaxPageSize = 200
)

// windowParams encodes the shared (since_id, max_id] window parameters.
// A zero bound means "no bound" and is omitted.
func windowParams(params url.Values, sinceID, maxID int64, count int) url.Values {
	if sinceID > 0 {
		params.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	if maxID > 0 {
		params.Set("max_id", strconv.FormatInt(maxID, 10))
	}
	if count <= 0 || count > MaxPageSize {
		count = MaxPageSize
	}
	params.Set("count", strconv.Itoa(count))
	return params
}

// TimelineParams builds the user_timeline query parameters
func TimelineParams(screenName string, sinceID, maxID int64, count int) url.Values {
	params := url.Values{}
	params.Set("screen_name", screenName)
	return windowParams(params, sinceID, maxID, count)
}

// SearchParams builds the search/tweets query parameters for replies and
// mentions addressed to screenName ("to:<name>" query).
func SearchParams(screenName string, sinceID, maxID int64, count int) url.Values {
	params := url.Values{}
	params.Set("q", "to:"+screenName)
	return windowParams(params, sinceID, maxID, count)
}

// RateLimitParams builds the rate_limit_status query parameters,
// optionally narrowed to specific resource families.
func RateLimitParams(resources ...string) url.Values {
	params := url.Values{}
	if len(resources) > 0 {
		params.Set("resources", strings.Join(resources, ","))
	}
	return params
}

// SanitizeScreenName strips the @ prefix and surrounding noise from a handle
func SanitizeScreenName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.TrimRight(name, "/ ")
}
