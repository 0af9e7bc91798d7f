package harvester

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SoCaTel/data-handlers/pkg/config"
	"github.com/SoCaTel/data-handlers/pkg/elastic"
	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/ratelimit"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

// TweetAPI is the subset of the Twitter client the engine uses
type TweetAPI interface {
	UserTimeline(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]twitter.Tweet, error)
	SearchMentions(ctx context.Context, screenName string, sinceID, maxID int64, count int) ([]twitter.Tweet, error)
	RateLimitStatus(ctx context.Context, resources ...string) (*twitter.RateLimitStatus, error)
}

// Store is the indexed-store surface the engine needs: bounded queries for
// watermark resolution and an idempotent keyed upsert.
type Store interface {
	Count(ctx context.Context, query string) (int64, error)
	Search(ctx context.Context, query string) (*elastic.SearchResult, error)
	Index(ctx context.Context, id string, doc json.RawMessage) (int, error)
}

// BatchForwarder ships one subject's accumulated batch downstream
type BatchForwarder interface {
	Forward(ctx context.Context, batch []json.RawMessage) error
}

// Result summarizes one subject's scan
type Result struct {
	Fetched   int
	Persisted int
	Failed    int
	Skipped   bool
	Forwarded bool
}

// Harvester is the incremental ingestion engine: it resolves each subject's
// watermark, fetches everything newer, persists each item exactly once and
// forwards the batch downstream. One instance serves a whole run; all
// per-subject state (API client, cursor, batch) is scoped to the scan.
type Harvester struct {
	cfg       *config.Config
	store     Store
	forwarder BatchForwarder // nil when forwarding is disabled
	governors *ratelimit.Registry
	newAPI    func(creds twitter.Credentials) TweetAPI
	logger    logger.Logger
}

// New creates a harvester. forwarder may be nil to disable forwarding.
func New(cfg *config.Config, store Store, forwarder BatchForwarder, log logger.Logger) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Harvester{
		cfg:       cfg,
		store:     store,
		forwarder: forwarder,
		governors: ratelimit.NewRegistry(),
		newAPI: func(creds twitter.Credentials) TweetAPI {
			return twitter.NewClient(creds, cfg.Twitter.RequestTimeout.Std(), log)
		},
		logger: log,
	}
}

// resolveCredentials returns the immutable credential set for a subject:
// the default consumer pair with either the subject's own access token pair
// or the default one.
func (h *Harvester) resolveCredentials(subject *models.Subject) twitter.Credentials {
	creds := twitter.Credentials{
		ConsumerKey:    h.cfg.Twitter.ConsumerKey,
		ConsumerSecret: h.cfg.Twitter.ConsumerSecret,
		AccessToken:    h.cfg.Twitter.AccessToken,
		AccessSecret:   h.cfg.Twitter.AccessSecret,
	}
	if subject.HasOverride() {
		h.logger.InfoWithFields("using subject-provided access tokens", subject.LogFields())
		creds.AccessToken = subject.OverrideToken
		creds.AccessSecret = subject.OverrideSecret
	}
	return creds
}

// HarvestSubject runs one subject's scan end to end. Missing-prerequisite
// conditions skip the subject without error; transport and parsing failures
// abort the scan and propagate.
func (h *Harvester) HarvestSubject(ctx context.Context, kind FlowKind, subject *models.Subject) (*Result, error) {
	log := h.logger.WithFields(subject.LogFields())

	creds := h.resolveCredentials(subject)
	fingerprint := creds.Fingerprint()

	// Subjects sharing a credential set share one quota window; their
	// scans serialize so the governor's accounting stays coherent.
	release := h.governors.Acquire(fingerprint)
	defer release()

	api := h.newAPI(creds)
	flow := h.newFlow(kind, api)

	resource, endpoint := flow.QuotaEndpoint()
	gov := h.governors.Governor(fingerprint+":"+endpoint, func() *ratelimit.Governor {
		return ratelimit.NewGovernor(api, resource, endpoint, h.cfg.Quota.MaxWait.Std(), h.logger)
	})
	gov.ResetBudget()

	log.InfoWithFields("starting scan", map[string]interface{}{"flow": string(kind)})

	sinceID, _, err := flow.ResolveWatermark(ctx, subject)
	if err != nil {
		if errs.IsMissingPrereq(err) {
			log.WarnWithFields("skipping subject", map[string]interface{}{
				"flow":   string(kind),
				"reason": err.Error(),
			})
			return &Result{Skipped: true}, nil
		}
		return nil, err
	}

	items, err := h.fetchWindow(ctx, flow, subject, sinceID, gov, h.cfg.Twitter.PageSize)
	if err != nil {
		return nil, err
	}

	result := &Result{Fetched: len(items)}
	if len(items) == 0 {
		log.InfoWithFields("no new items", map[string]interface{}{"flow": string(kind)})
		return result, nil
	}

	batch := h.persist(ctx, items, result, log)

	if h.forwarder != nil {
		if err := h.forwarder.Forward(ctx, batch); err != nil {
			// Best-effort: persistence already completed
			log.ErrorWithFields("batch forwarding failed", map[string]interface{}{
				"flow":  string(kind),
				"items": len(batch),
				"error": err.Error(),
			})
		} else {
			result.Forwarded = true
		}
	}

	log.InfoWithFields("scan completed", map[string]interface{}{
		"flow":      string(kind),
		"fetched":   result.Fetched,
		"persisted": result.Persisted,
		"failed":    result.Failed,
		"forwarded": result.Forwarded,
	})

	return result, nil
}

// persist upserts each item keyed by its id and returns the full batch of
// raw payloads. A single item's write failure is logged and skipped; it
// neither blocks later items nor shrinks the forwarded batch.
func (h *Harvester) persist(ctx context.Context, items []twitter.Tweet, result *Result, log logger.Logger) []json.RawMessage {
	batch := make([]json.RawMessage, 0, len(items))

	for _, t := range items {
		batch = append(batch, t.Raw)

		status, err := h.store.Index(ctx, t.IDStr, t.Raw)
		if err != nil {
			result.Failed++
			log.ErrorWithFields("failed to persist item", map[string]interface{}{
				"tweet_id": t.IDStr,
				"error":    err.Error(),
			})
			continue
		}

		result.Persisted++
		if status != http.StatusCreated {
			// 200 means the document already existed and was replaced
			log.DebugWithFields("item replaced existing document", map[string]interface{}{
				"tweet_id": t.IDStr,
				"status":   status,
			})
		}
	}

	return batch
}

func (h *Harvester) newFlow(kind FlowKind, api TweetAPI) Flow {
	switch kind {
	case FlowReplies:
		return NewRepliesFlow(api, h.store, h.logger)
	default:
		return NewTimelineFlow(api, h.store, h.logger)
	}
}

// SetAPIFactory overrides API client construction. Used by tests.
func (h *Harvester) SetAPIFactory(f func(creds twitter.Credentials) TweetAPI) {
	h.newAPI = f
}
