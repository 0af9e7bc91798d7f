package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// esResponse builds a response the client accepts as coming from Elasticsearch
func esResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header: http.Header{
			"X-Elastic-Product": []string{"Elasticsearch"},
			"Content-Type":      []string{"application/json"},
		},
		Body: io.NopCloser(strings.NewReader(body)),
	}
}

func newTestStore(t *testing.T, maxRetries int, rt roundTripFunc) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Endpoint:   "http://localhost:9200",
		Index:      "kb_twitter_raw",
		MaxRetries: maxRetries,
		Transport:  rt,
	}, logger.NewTestLogger())
	require.NoError(t, err)
	store.backoff = &retry.ConstantBackoff{Delay: 0}
	return store
}

func TestCount(t *testing.T) {
	var gotPath, gotBody string
	store := newTestStore(t, 0, func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
		}
		return esResponse(http.StatusOK, `{"count": 457}`), nil
	})

	count, err := store.Count(context.Background(), TimelineCountQuery("socatel"))
	require.NoError(t, err)

	assert.Equal(t, int64(457), count)
	assert.Equal(t, "/kb_twitter_raw/_count", gotPath)
	assert.Contains(t, gotBody, "socatel")
}

func TestSearch(t *testing.T) {
	response := `{"hits": {"total": {"value": 2}, "hits": [
		{"_id": "12", "_source": {"id": 12, "text": "newest"}},
		{"_id": "9", "_source": {"id": 9, "text": "older"}}
	]}}`

	var gotPath string
	store := newTestStore(t, 0, func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		return esResponse(http.StatusOK, response), nil
	})

	result, err := store.Search(context.Background(), LatestTimelineTweetQuery("socatel"))
	require.NoError(t, err)

	assert.Equal(t, "/kb_twitter_raw/_search", gotPath)
	assert.Equal(t, int64(2), result.Total)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "12", result.Hits[0].ID)
	assert.Contains(t, string(result.Hits[0].Source), `"text": "newest"`)
}

func TestSearchRejected(t *testing.T) {
	store := newTestStore(t, 0, func(r *http.Request) (*http.Response, error) {
		return esResponse(http.StatusBadRequest, `{"error": "parsing_exception"}`), nil
	})

	_, err := store.Search(context.Background(), `{"query": {}}`)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "store query rejected")
}

func TestIndexCreateAndReplace(t *testing.T) {
	var statuses []int
	var paths []string
	store := newTestStore(t, 0, func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		status := http.StatusCreated
		if len(statuses) > 0 {
			status = http.StatusOK
		}
		statuses = append(statuses, status)
		return esResponse(status, `{"result": "created"}`), nil
	})

	doc := json.RawMessage(`{"id": 12, "text": "hello"}`)

	status, err := store.Index(context.Background(), "12", doc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	// Re-delivery replaces the document in place
	status, err = store.Index(context.Background(), "12", doc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	require.Len(t, paths, 2)
	assert.Equal(t, "PUT /kb_twitter_raw/_doc/12", paths[0])
}

func TestIndexRetriesTransientFailures(t *testing.T) {
	calls := 0
	store := newTestStore(t, 3, func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return esResponse(http.StatusServiceUnavailable, `{"error": "unavailable"}`), nil
		}
		return esResponse(http.StatusCreated, `{"result": "created"}`), nil
	})

	status, err := store.Index(context.Background(), "12", json.RawMessage(`{"id": 12}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 3, calls)
}

func TestIndexRejectionIsPersistenceError(t *testing.T) {
	calls := 0
	store := newTestStore(t, 3, func(r *http.Request) (*http.Response, error) {
		calls++
		return esResponse(http.StatusBadRequest, `{"error": "mapper_parsing_exception"}`), nil
	})

	_, err := store.Index(context.Background(), "12", json.RawMessage(`{"id": 12}`))
	require.Error(t, err)

	// A document rejection is not transient; no retry happens
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))
	assert.Equal(t, 1, calls)
}
