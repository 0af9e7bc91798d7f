package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/retry"
)

// Config holds the store connection settings
type Config struct {
	Endpoint string
	Index    string
	Username string
	Password string

	// MaxRetries caps transient write retries; 0 disables retrying
	MaxRetries int

	// Transport overrides the HTTP transport. Used by tests.
	Transport http.RoundTripper
}

// Store wraps the knowledge-base index with the query and upsert operations
// the harvest engine needs. Writes are keyed by tweet id, so re-delivery of
// an item leaves the index unchanged.
type Store struct {
	es         *elasticsearch.Client
	index      string
	maxRetries int
	backoff    retry.BackoffStrategy
	logger     logger.Logger
}

// Hit is one search result document
type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// SearchResult is the subset of a search response the handler reads
type SearchResult struct {
	Total int64
	Hits  []Hit
}

// searchResponse mirrors the wire shape of a search response
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// countResponse mirrors the wire shape of a count response
type countResponse struct {
	Count int64 `json:"count"`
}

// NewStore creates a store bound to one index
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Endpoint},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeConfig, "failed to create elasticsearch client: %v", err)
	}

	return &Store{
		es:         es,
		index:      cfg.Index,
		maxRetries: cfg.MaxRetries,
		backoff:    retry.DefaultExponentialBackoff(),
		logger:     log,
	}, nil
}

// Count executes a count query against the index
func (s *Store) Count(ctx context.Context, query string) (int64, error) {
	res, err := s.es.Count(
		s.es.Count.WithContext(ctx),
		s.es.Count.WithIndex(s.index),
		s.es.Count.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return 0, errs.Newf(errs.ErrorTypeTransport, "count request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := s.readResponse(res)
	if err != nil {
		return 0, err
	}

	var parsed countResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, errs.Newf(errs.ErrorTypeParsing, "failed to parse count response: %v", err)
	}
	return parsed.Count, nil
}

// Search executes a search query against the index
func (s *Store) Search(ctx context.Context, query string) (*SearchResult, error) {
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeTransport, "search request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := s.readResponse(res)
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errs.Newf(errs.ErrorTypeParsing, "failed to parse search response: %v", err)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Hits:  parsed.Hits.Hits,
	}, nil
}

// Index writes doc under id as a full-document replace and returns the HTTP
// status (201 on create, 200 on replace). Transient failures are retried
// with exponential backoff before being reported.
func (s *Store) Index(ctx context.Context, id string, doc json.RawMessage) (int, error) {
	op := func() (int, error) {
		return s.indexOnce(ctx, id, doc)
	}

	if s.maxRetries <= 0 {
		return op()
	}

	return retry.DoWithResult(op, &retry.Config{
		MaxAttempts: s.maxRetries,
		Backoff:     s.backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      s.logger,
	})
}

func (s *Store) indexOnce(ctx context.Context, id string, doc json.RawMessage) (int, error) {
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: id,
		Body:       bytes.NewReader(doc),
	}

	start := time.Now()
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return 0, errs.Newf(errs.ErrorTypeTransport, "index request failed: %v", err)
	}
	defer res.Body.Close()

	s.logger.DebugWithFields("index request completed", map[string]interface{}{
		"doc_id":   id,
		"status":   res.StatusCode,
		"duration": time.Since(start),
	})

	if res.IsError() {
		msg := responsePreview(res.Body)
		t := errs.ErrorTypePersistence
		if errs.IsRetryableStatusCode(res.StatusCode) {
			t = errs.ErrorTypeTransport
		}
		return res.StatusCode, errs.NewWithCode(t, res.StatusCode,
			fmt.Sprintf("index write rejected: %s", msg))
	}

	return res.StatusCode, nil
}

// readResponse validates and drains an API response body
func (s *Store) readResponse(res *esapi.Response) ([]byte, error) {
	if res.IsError() {
		msg := responsePreview(res.Body)
		return nil, errs.NewWithCode(errs.ErrorTypeTransport, res.StatusCode,
			fmt.Sprintf("store query rejected: %s", msg))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeTransport, "failed to read store response: %v", err)
	}
	return body, nil
}

func responsePreview(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 200))
	return string(body)
}
