package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
)

// newTestClient points a client at a stub API server
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClientWithHTTP(server.Client(), logger.NewTestLogger())
	client.SetBaseURL(server.URL)
	return client
}

func TestUserTimeline(t *testing.T) {
	payload := `[
		{"id": 12, "id_str": "12", "user": {"id": 7, "screen_name": "socatel"}, "text": "newest"},
		{"id": 9, "id_str": "9", "user": {"id": 7, "screen_name": "socatel"}, "text": "older"}
	]`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserTimelineEndpoint, r.URL.Path)
		assert.Equal(t, "socatel", r.URL.Query().Get("screen_name"))
		assert.Equal(t, "100", r.URL.Query().Get("since_id"))
		assert.Equal(t, "200", r.URL.Query().Get("count"))
		w.Write([]byte(payload))
	})

	tweets, err := client.UserTimeline(context.Background(), "socatel", 100, 0, 200)
	require.NoError(t, err)
	require.Len(t, tweets, 2)

	assert.Equal(t, int64(12), tweets[0].ID)
	assert.Equal(t, int64(7), tweets[0].User.ID)
	assert.Equal(t, "socatel", tweets[0].User.ScreenName)

	// The raw payload is carried untouched, typed fields are a view on it
	assert.Contains(t, string(tweets[0].Raw), `"text": "newest"`)
	assert.Contains(t, string(tweets[1].Raw), `"text": "older"`)
}

func TestUserTimelineEmptyPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	tweets, err := client.UserTimeline(context.Background(), "socatel", 0, 0, 200)
	require.NoError(t, err)
	assert.Empty(t, tweets)
}

func TestSearchMentions(t *testing.T) {
	payload := `{"statuses": [
		{"id": 44, "id_str": "44", "in_reply_to_user_id": 7, "user": {"id": 9, "screen_name": "citizen"}}
	], "search_metadata": {}}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SearchTweetsEndpoint, r.URL.Path)
		assert.Equal(t, "to:socatel", r.URL.Query().Get("q"))
		w.Write([]byte(payload))
	})

	tweets, err := client.SearchMentions(context.Background(), "socatel", 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, tweets, 1)

	assert.Equal(t, int64(44), tweets[0].ID)
	require.NotNil(t, tweets[0].InReplyToUserID)
	assert.Equal(t, int64(7), *tweets[0].InReplyToUserID)
}

func TestRateLimitStatus(t *testing.T) {
	payload := `{"resources": {
		"statuses": {"/statuses/user_timeline": {"limit": 900, "remaining": 0, "reset": 1700000000}},
		"search": {"/search/tweets": {"limit": 180, "remaining": 180, "reset": 1700000900}}
	}}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RateLimitStatusEndpoint, r.URL.Path)
		assert.Equal(t, "statuses,search", r.URL.Query().Get("resources"))
		w.Write([]byte(payload))
	})

	status, err := client.RateLimitStatus(context.Background(), StatusesResource, SearchResource)
	require.NoError(t, err)

	limit, ok := status.Endpoint(StatusesResource, TimelineLimitKey)
	require.True(t, ok)
	assert.Equal(t, 900, limit.Limit)
	assert.Equal(t, 0, limit.Remaining)
	assert.Equal(t, int64(1700000000), limit.Reset)

	_, ok = status.Endpoint(StatusesResource, "/statuses/unknown")
	assert.False(t, ok)
	_, ok = status.Endpoint("direct_messages", SearchLimitKey)
	assert.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType errs.ErrorType
	}{
		{
			name:     "429 is a quota error",
			status:   http.StatusTooManyRequests,
			body:     `{"errors": [{"code": 88, "message": "Rate limit exceeded"}]}`,
			wantType: errs.ErrorTypeQuota,
		},
		{
			name:     "403 with API code 88 is a quota error",
			status:   http.StatusForbidden,
			body:     `{"errors": [{"code": 88, "message": "Rate limit exceeded"}]}`,
			wantType: errs.ErrorTypeQuota,
		},
		{
			name:     "401 without code 88 is a transport error",
			status:   http.StatusUnauthorized,
			body:     `{"errors": [{"code": 32, "message": "Could not authenticate you"}]}`,
			wantType: errs.ErrorTypeTransport,
		},
		{
			name:     "server error is a transport error",
			status:   http.StatusServiceUnavailable,
			body:     `{}`,
			wantType: errs.ErrorTypeTransport,
		},
		{
			name:     "unexpected status is a transport error",
			status:   http.StatusNotFound,
			body:     `{}`,
			wantType: errs.ErrorTypeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.UserTimeline(context.Background(), "socatel", 0, 0, 200)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errs.TypeOf(err))

			var classified *errs.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, tt.status, classified.Code)
		})
	}
}

func TestMalformedResponseIsParsingError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	})

	_, err := client.UserTimeline(context.Background(), "socatel", 0, 0, 200)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewClientWithHTTP(server.Client(), logger.NewTestLogger())
	client.SetBaseURL(server.URL)
	server.Close()

	_, err := client.UserTimeline(context.Background(), "socatel", 0, 0, 200)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
}

func TestFingerprint(t *testing.T) {
	a := Credentials{ConsumerKey: "ck", AccessToken: "at"}
	b := Credentials{ConsumerKey: "ck", AccessToken: "at", AccessSecret: "different"}
	c := Credentials{ConsumerKey: "ck", AccessToken: "other"}

	// Only the consumer key and access token identify the quota window
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)
}
