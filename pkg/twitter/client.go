package twitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
)

// Credentials is one immutable API credential set. A fresh client is built
// from it per subject; nothing mutates a shared handle between subjects.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Fingerprint identifies the credential set for quota sharing. Subjects with
// equal fingerprints draw from the same API quota window.
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.ConsumerKey + ":" + c.AccessToken))
	return hex.EncodeToString(sum[:8])
}

// Client is a Twitter REST API client scoped to one credential set
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger
}

// NewClient creates a client whose requests are signed with creds
func NewClient(creds Credentials, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	oauthConfig := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)

	httpClient := oauthConfig.Client(oauth1.NoContext, token)
	httpClient.Timeout = timeout

	return &Client{
		httpClient: httpClient,
		baseURL:    BaseURL,
		logger:     log,
	}
}

// NewClientWithHTTP wraps an existing HTTP client, bypassing request
// signing. Used by tests and anywhere a custom transport is needed.
func NewClientWithHTTP(httpClient *http.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    BaseURL,
		logger:     log,
	}
}

// UserTimeline fetches up to count of the subject's own tweets within
// (sinceID, maxID]. Zero bounds mean unbounded.
func (c *Client) UserTimeline(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]Tweet, error) {
	body, err := c.get(ctx, c.endpointURL(UserTimelineEndpoint, TimelineParams(screenName, sinceID, maxID, count)))
	if err != nil {
		return nil, err
	}

	tweets, err := decodeTweets(body)
	if err != nil {
		return nil, c.parseError(body, err)
	}
	return tweets, nil
}

// SearchMentions fetches up to count replies/mentions addressed to
// screenName within (sinceID, maxID]
func (c *Client) SearchMentions(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]Tweet, error) {
	body, err := c.get(ctx, c.endpointURL(SearchTweetsEndpoint, SearchParams(screenName, sinceID, maxID, count)))
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.parseError(body, err)
	}

	tweets, err := decodeTweets(resp.Statuses)
	if err != nil {
		return nil, c.parseError(body, err)
	}
	return tweets, nil
}

// RateLimitStatus reads the quota state, optionally narrowed to resources
func (c *Client) RateLimitStatus(ctx context.Context, resources ...string) (*RateLimitStatus, error) {
	body, err := c.get(ctx, c.endpointURL(RateLimitStatusEndpoint, RateLimitParams(resources...)))
	if err != nil {
		return nil, err
	}

	var status RateLimitStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, c.parseError(body, err)
	}
	return &status, nil
}

// SetBaseURL points the client at a different API root. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// endpointURL composes the request URL for an endpoint and its parameters
func (c *Client) endpointURL(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return c.baseURL + endpoint
	}
	return c.baseURL + endpoint + "?" + params.Encode()
}

// get performs a signed GET and returns the response body, classifying failures
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending API request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("API request failed", map[string]interface{}{
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Newf(errs.ErrorTypeTransport, "network error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewWithCode(errs.ErrorTypeTransport, resp.StatusCode,
			fmt.Sprintf("failed to read response body: %v", err))
	}

	c.logger.DebugWithFields("API request completed", map[string]interface{}{
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := c.checkResponseStatus(resp.StatusCode, body, req.URL.String()); err != nil {
		return nil, err
	}

	return body, nil
}

// checkResponseStatus maps HTTP and API-level failures onto the error taxonomy
func (c *Client) checkResponseStatus(statusCode int, body []byte, url string) error {
	switch {
	case statusCode == http.StatusOK:
		return nil

	case statusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("API quota exhausted", map[string]interface{}{
			"status": statusCode,
			"url":    url,
		})
		return errs.NewWithCode(errs.ErrorTypeQuota, statusCode, "rate limit exceeded")

	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		// The API reports quota exhaustion as error code 88 on some endpoints
		if apiErrorCode(body) == 88 {
			return errs.NewWithCode(errs.ErrorTypeQuota, statusCode, "rate limit exceeded")
		}
		c.logger.WarnWithFields("API rejected credentials", map[string]interface{}{
			"status": statusCode,
			"url":    url,
		})
		return errs.NewWithCode(errs.ErrorTypeTransport, statusCode, "request not authorized")

	case statusCode >= 500:
		c.logger.ErrorWithFields("API server error", map[string]interface{}{
			"status": statusCode,
			"url":    url,
		})
		return errs.NewWithCode(errs.ErrorTypeTransport, statusCode, "server error")

	default:
		c.logger.ErrorWithFields("unexpected API response", map[string]interface{}{
			"status": statusCode,
			"url":    url,
		})
		return errs.NewWithCode(errs.ErrorTypeTransport, statusCode,
			fmt.Sprintf("unexpected status code: %d", statusCode))
	}
}

// apiErrorCode extracts the first API error code from an error envelope, or 0
func apiErrorCode(body []byte) int {
	var resp apiErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Errors) == 0 {
		return 0
	}
	return resp.Errors[0].Code
}

// parseError wraps a JSON decode failure with a body preview for debugging
func (c *Client) parseError(body []byte, err error) error {
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}

	c.logger.ErrorWithFields("failed to parse API response", map[string]interface{}{
		"error":        err.Error(),
		"body_preview": preview,
	})
	return errs.Newf(errs.ErrorTypeParsing, "failed to parse response: %v", err)
}
