package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoCaTel/data-handlers/pkg/config"
	"github.com/SoCaTel/data-handlers/pkg/elastic"
	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

type fetchCall struct {
	sinceID int64
	maxID   int64
	count   int
}

// apiResponse is one scripted FetchPage outcome
type apiResponse struct {
	tweets []twitter.Tweet
	err    error
}

type fakeAPI struct {
	responses []apiResponse
	calls     []fetchCall
	rateCalls int
}

func (f *fakeAPI) pop(sinceID, maxID int64, count int) ([]twitter.Tweet, error) {
	f.calls = append(f.calls, fetchCall{sinceID: sinceID, maxID: maxID, count: count})
	if len(f.responses) == 0 {
		return nil, nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next.tweets, next.err
}

func (f *fakeAPI) UserTimeline(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]twitter.Tweet, error) {
	return f.pop(sinceID, maxID, count)
}

func (f *fakeAPI) SearchMentions(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]twitter.Tweet, error) {
	return f.pop(sinceID, maxID, count)
}

// RateLimitStatus always reports an already-passed reset, so a quota wait
// resolves immediately
func (f *fakeAPI) RateLimitStatus(ctx context.Context, resources ...string) (*twitter.RateLimitStatus, error) {
	f.rateCalls++
	reset := time.Now().Unix() - 10
	return &twitter.RateLimitStatus{
		Resources: map[string]map[string]twitter.EndpointLimit{
			twitter.StatusesResource: {
				twitter.TimelineLimitKey: {Limit: 900, Remaining: 0, Reset: reset},
			},
			twitter.SearchResource: {
				twitter.SearchLimitKey: {Limit: 180, Remaining: 0, Reset: reset},
			},
		},
	}, nil
}

type fakeStore struct {
	countResult int64
	countErr    error

	// searches are consumed in query order
	searches []*elastic.SearchResult

	indexed  []string
	failIDs  map[string]error
	indexErr error
}

func (f *fakeStore) Count(ctx context.Context, query string) (int64, error) {
	return f.countResult, f.countErr
}

func (f *fakeStore) Search(ctx context.Context, query string) (*elastic.SearchResult, error) {
	if len(f.searches) == 0 {
		return &elastic.SearchResult{}, nil
	}
	next := f.searches[0]
	f.searches = f.searches[1:]
	return next, nil
}

func (f *fakeStore) Index(ctx context.Context, id string, doc json.RawMessage) (int, error) {
	if f.indexErr != nil {
		return 0, f.indexErr
	}
	if err, ok := f.failIDs[id]; ok {
		return 0, err
	}
	f.indexed = append(f.indexed, id)
	return 201, nil
}

type fakeForwarder struct {
	batches [][]json.RawMessage
	err     error
}

func (f *fakeForwarder) Forward(ctx context.Context, batch []json.RawMessage) error {
	f.batches = append(f.batches, batch)
	return f.err
}

func tweet(id int64) twitter.Tweet {
	raw := fmt.Sprintf(`{"id": %d, "id_str": "%d", "user": {"id": 7, "screen_name": "socatel"}}`, id, id)
	return twitter.Tweet{
		ID:    id,
		IDStr: strconv.FormatInt(id, 10),
		Raw:   json.RawMessage(raw),
	}
}

// tweetsDesc builds a page of count tweets with descending ids from high
func tweetsDesc(high int64, count int) []twitter.Tweet {
	page := make([]twitter.Tweet, 0, count)
	for i := 0; i < count; i++ {
		page = append(page, tweet(high-int64(i)))
	}
	return page
}

func storedTweetHit(id, userID int64) elastic.Hit {
	return elastic.Hit{
		ID:     strconv.FormatInt(id, 10),
		Source: json.RawMessage(fmt.Sprintf(`{"id": %d, "user": {"id": %d}}`, id, userID)),
	}
}

func testConfig(pageSize int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Twitter.ConsumerKey = "ck"
	cfg.Twitter.ConsumerSecret = "cs"
	cfg.Twitter.AccessToken = "at"
	cfg.Twitter.AccessSecret = "as"
	cfg.Twitter.PageSize = pageSize
	return cfg
}

func newTestHarvester(cfg *config.Config, api TweetAPI, store Store, forwarder BatchForwarder) *Harvester {
	h := New(cfg, store, forwarder, logger.NewTestLogger())
	h.SetAPIFactory(func(creds twitter.Credentials) TweetAPI { return api })
	return h
}

func subject() *models.Subject {
	return &models.Subject{ScreenName: "socatel", Organisation: "SoCaTel"}
}

func TestTimelineFullHarvestPaginates(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{tweets: tweetsDesc(1000, 200)}, // 1000..801
		{tweets: tweetsDesc(800, 200)},  // 800..601
		{tweets: tweetsDesc(600, 57)},   // 600..544, short page ends the scan
	}}
	store := &fakeStore{countResult: 0}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 457, result.Fetched)
	assert.Equal(t, 457, result.Persisted)
	assert.Zero(t, result.Failed)
	assert.Len(t, store.indexed, 457)

	// Each page lowers max_id to just below the lowest id seen
	require.Len(t, api.calls, 3)
	assert.Equal(t, fetchCall{sinceID: 0, maxID: 0, count: 200}, api.calls[0])
	assert.Equal(t, fetchCall{sinceID: 0, maxID: 800, count: 200}, api.calls[1])
	assert.Equal(t, fetchCall{sinceID: 0, maxID: 600, count: 200}, api.calls[2])
}

func TestTimelineIncrementalUsesWatermark(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{tweets: []twitter.Tweet{tweet(20), tweet(18), tweet(15)}},
	}}
	store := &fakeStore{
		countResult: 457,
		searches:    []*elastic.SearchResult{{Total: 457, Hits: []elastic.Hit{storedTweetHit(12, 7)}}},
	}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Fetched)
	require.Len(t, api.calls, 1)
	assert.Equal(t, int64(12), api.calls[0].sinceID)
}

func TestTimelineDropsItemsAtOrBelowWatermark(t *testing.T) {
	// The API must not serve items at or below since_id; if any slip
	// through they are dropped instead of re-delivered
	api := &fakeAPI{responses: []apiResponse{
		{tweets: []twitter.Tweet{tweet(20), tweet(12), tweet(10)}},
	}}
	store := &fakeStore{
		countResult: 1,
		searches:    []*elastic.SearchResult{{Total: 1, Hits: []elastic.Hit{storedTweetHit(12, 7)}}},
	}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, []string{"20"}, store.indexed)
}

func TestTimelineNoNewItems(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{{tweets: nil}}}
	store := &fakeStore{
		countResult: 5,
		searches:    []*elastic.SearchResult{{Total: 5, Hits: []elastic.Hit{storedTweetHit(12, 7)}}},
	}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Zero(t, result.Fetched)
	assert.Empty(t, store.indexed)
}

func TestRepliesMissingPrerequisiteSkips(t *testing.T) {
	api := &fakeAPI{}
	// No stored tweet to resolve the subject's user id from
	store := &fakeStore{searches: []*elastic.SearchResult{{Total: 0}}}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowReplies, subject())
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Empty(t, api.calls)
}

func TestRepliesOnlyEmptyPageTerminates(t *testing.T) {
	// Search under-fills pages before exhaustion, so a short page keeps
	// the scan going; only an empty page ends it
	api := &fakeAPI{responses: []apiResponse{
		{tweets: tweetsDesc(500, 50)},
		{tweets: nil},
	}}
	store := &fakeStore{searches: []*elastic.SearchResult{
		{Total: 3, Hits: []elastic.Hit{storedTweetHit(12, 7)}}, // resolves user id 7
		{Total: 0}, // no stored replies yet
	}}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowReplies, subject())
	require.NoError(t, err)

	assert.Equal(t, 50, result.Fetched)
	require.Len(t, api.calls, 2)
	assert.Equal(t, int64(450), api.calls[1].maxID)
}

func TestRepliesWatermarkFromLatestReply(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{tweets: []twitter.Tweet{tweet(900)}},
		{tweets: nil},
	}}
	store := &fakeStore{searches: []*elastic.SearchResult{
		{Total: 3, Hits: []elastic.Hit{storedTweetHit(12, 7)}},
		{Total: 8, Hits: []elastic.Hit{storedTweetHit(800, 7)}},
	}}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowReplies, subject())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched)
	require.NotEmpty(t, api.calls)
	assert.Equal(t, int64(800), api.calls[0].sinceID)
}

func TestPersistFailureKeepsBatchComplete(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{tweets: []twitter.Tweet{tweet(5), tweet(4), tweet(3), tweet(2), tweet(1)}},
	}}
	store := &fakeStore{
		failIDs: map[string]error{"4": errs.New(errs.ErrorTypePersistence, "write rejected")},
	}
	forwarder := &fakeForwarder{}

	h := newTestHarvester(testConfig(200), api, store, forwarder)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Fetched)
	assert.Equal(t, 4, result.Persisted)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Forwarded)

	// The forwarded batch carries every fetched item, failed writes included
	require.Len(t, forwarder.batches, 1)
	assert.Len(t, forwarder.batches[0], 5)
}

func TestQuotaErrorRetriesSamePage(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{err: errs.NewWithCode(errs.ErrorTypeQuota, 429, "rate limit exceeded")},
		{tweets: []twitter.Tweet{tweet(5), tweet(4)}},
	}}
	store := &fakeStore{countResult: 0}

	h := newTestHarvester(testConfig(200), api, store, nil)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Fetched)
	assert.GreaterOrEqual(t, api.rateCalls, 1)

	// The cursor did not advance across the quota wait
	require.Len(t, api.calls, 2)
	assert.Equal(t, api.calls[0], api.calls[1])
}

func TestTransportErrorAbortsScan(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{err: errs.NewWithCode(errs.ErrorTypeTransport, 503, "server error")},
	}}
	store := &fakeStore{countResult: 0}

	h := newTestHarvester(testConfig(200), api, store, nil)

	_, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
	assert.Empty(t, store.indexed)
}

func TestForwardFailureIsBestEffort(t *testing.T) {
	api := &fakeAPI{responses: []apiResponse{
		{tweets: []twitter.Tweet{tweet(5)}},
	}}
	store := &fakeStore{}
	forwarder := &fakeForwarder{err: errs.NewWithCode(errs.ErrorTypeTransport, 502, "pipeline down")}

	h := newTestHarvester(testConfig(200), api, store, forwarder)

	result, err := h.HarvestSubject(context.Background(), FlowTimeline, subject())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Persisted)
	assert.False(t, result.Forwarded)
}

func TestSubjectOverrideCredentials(t *testing.T) {
	var gotCreds twitter.Credentials
	api := &fakeAPI{responses: []apiResponse{{tweets: nil}}}
	store := &fakeStore{countResult: 0}

	h := New(testConfig(200), store, nil, logger.NewTestLogger())
	h.SetAPIFactory(func(creds twitter.Credentials) TweetAPI {
		gotCreds = creds
		return api
	})

	sub := subject()
	sub.OverrideToken = "subject-token"
	sub.OverrideSecret = "subject-secret"

	_, err := h.HarvestSubject(context.Background(), FlowTimeline, sub)
	require.NoError(t, err)

	// Consumer pair stays the handler's own; the token pair is the subject's
	assert.Equal(t, "ck", gotCreds.ConsumerKey)
	assert.Equal(t, "subject-token", gotCreds.AccessToken)
	assert.Equal(t, "subject-secret", gotCreds.AccessSecret)
}
