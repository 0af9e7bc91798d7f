package twitter

import "encoding/json"

// User is the subset of the tweet author object the handler reads
type User struct {
	ID         int64  `json:"id"`
	ScreenName string `json:"screen_name"`
}

// Tweet is one fetched status. Raw carries the full API payload untouched;
// the typed fields are the ones the harvest engine needs.
type Tweet struct {
	ID              int64  `json:"id"`
	IDStr           string `json:"id_str"`
	InReplyToUserID *int64 `json:"in_reply_to_user_id"`
	User            User   `json:"user"`

	// Raw is the complete source document, persisted and forwarded as-is
	Raw json.RawMessage `json:"-"`
}

// decodeTweets parses an array of status objects, keeping each raw payload
func decodeTweets(data []byte) ([]Tweet, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	tweets := make([]Tweet, 0, len(raws))
	for _, raw := range raws {
		var t Tweet
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		t.Raw = raw
		tweets = append(tweets, t)
	}
	return tweets, nil
}

// searchResponse is the envelope of the search/tweets endpoint
type searchResponse struct {
	Statuses json.RawMessage `json:"statuses"`
}

// apiErrorResponse is the error envelope the API returns on failures
type apiErrorResponse struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// EndpointLimit is the reported quota state for one rate-limited endpoint
type EndpointLimit struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// RateLimitStatus is the response of application/rate_limit_status.json,
// keyed by resource family and then by endpoint path.
type RateLimitStatus struct {
	Resources map[string]map[string]EndpointLimit `json:"resources"`
}

// Endpoint looks up the limit state for one endpoint within a resource family
func (s *RateLimitStatus) Endpoint(resource, endpoint string) (EndpointLimit, bool) {
	if s == nil || s.Resources == nil {
		return EndpointLimit{}, false
	}
	family, ok := s.Resources[resource]
	if !ok {
		return EndpointLimit{}, false
	}
	limit, ok := family[endpoint]
	return limit, ok
}
