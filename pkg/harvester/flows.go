package harvester

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/SoCaTel/data-handlers/pkg/elastic"
	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

// FlowKind selects which harvest variant runs
type FlowKind string

const (
	// FlowTimeline harvests a subject's own tweets
	FlowTimeline FlowKind = "timeline"
	// FlowReplies harvests replies and mentions addressed to the subject
	FlowReplies FlowKind = "replies"
)

// Flow defines the query semantics of one harvest variant. The engine is
// identical for both; only watermark resolution, the fetch call and the
// termination heuristic differ.
type Flow interface {
	// Kind names the flow for logging
	Kind() FlowKind

	// QuotaEndpoint returns the rate-limit resource family and endpoint
	// key the flow draws quota from
	QuotaEndpoint() (resource, endpoint string)

	// ResolveWatermark returns the highest persisted item id for the
	// subject. ok is false when no watermark exists yet. A
	// missing-prerequisite error means the subject cannot be scanned.
	ResolveWatermark(ctx context.Context, subject *models.Subject) (watermark int64, ok bool, err error)

	// FetchPage requests up to count items within (sinceID, maxID].
	// Zero bounds mean unbounded.
	FetchPage(ctx context.Context, subject *models.Subject, sinceID, maxID int64, count int) ([]twitter.Tweet, error)

	// ShortPageTerminates reports whether an under-filled page ends the
	// scan. The timeline endpoint reliably fills pages until exhaustion;
	// search does not, so the replies flow only stops on an empty page.
	ShortPageTerminates() bool
}

// tweetSource is the part of a stored document watermark resolution reads
type tweetSource struct {
	ID   int64 `json:"id"`
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

func decodeHitSource(hit elastic.Hit) (*tweetSource, error) {
	var src tweetSource
	if err := json.Unmarshal(hit.Source, &src); err != nil {
		return nil, errs.Newf(errs.ErrorTypeParsing, "malformed stored document %s: %v", hit.ID, err)
	}
	return &src, nil
}

// TimelineFlow harvests the subject's own tweets
type TimelineFlow struct {
	api    TweetAPI
	store  Store
	logger logger.Logger
}

// NewTimelineFlow creates the own-timeline flow
func NewTimelineFlow(api TweetAPI, store Store, log logger.Logger) *TimelineFlow {
	return &TimelineFlow{api: api, store: store, logger: log}
}

func (f *TimelineFlow) Kind() FlowKind { return FlowTimeline }

func (f *TimelineFlow) QuotaEndpoint() (string, string) {
	return twitter.StatusesResource, twitter.TimelineLimitKey
}

func (f *TimelineFlow) ShortPageTerminates() bool { return true }

// ResolveWatermark counts the subject's stored non-reply tweets and, when
// any exist, returns the id of the latest one.
func (f *TimelineFlow) ResolveWatermark(ctx context.Context, subject *models.Subject) (int64, bool, error) {
	name := strings.ToLower(subject.ScreenName)

	count, err := f.store.Count(ctx, elastic.TimelineCountQuery(name))
	if err != nil {
		return 0, false, err
	}
	if count == 0 {
		f.logger.InfoWithFields("no stored tweets, full harvest", subject.LogFields())
		return 0, false, nil
	}

	result, err := f.store.Search(ctx, elastic.LatestTimelineTweetQuery(name))
	if err != nil {
		return 0, false, err
	}
	if len(result.Hits) == 0 {
		// Count said the index has documents but the search window is
		// empty; treat as an absent watermark rather than failing.
		return 0, false, nil
	}

	src, err := decodeHitSource(result.Hits[0])
	if err != nil {
		return 0, false, err
	}

	f.logger.InfoWithFields("resolved timeline watermark", mergeFields(subject.LogFields(), map[string]interface{}{
		"stored_tweets": count,
		"watermark":     src.ID,
	}))
	return src.ID, true, nil
}

func (f *TimelineFlow) FetchPage(ctx context.Context, subject *models.Subject, sinceID, maxID int64, count int) ([]twitter.Tweet, error) {
	return f.api.UserTimeline(ctx, subject.ScreenName, sinceID, maxID, count)
}

// RepliesFlow harvests replies and mentions addressed to the subject
type RepliesFlow struct {
	api    TweetAPI
	store  Store
	logger logger.Logger
}

// NewRepliesFlow creates the replies/mentions flow
func NewRepliesFlow(api TweetAPI, store Store, log logger.Logger) *RepliesFlow {
	return &RepliesFlow{api: api, store: store, logger: log}
}

func (f *RepliesFlow) Kind() FlowKind { return FlowReplies }

func (f *RepliesFlow) QuotaEndpoint() (string, string) {
	return twitter.SearchResource, twitter.SearchLimitKey
}

func (f *RepliesFlow) ShortPageTerminates() bool { return false }

// ResolveWatermark first resolves the subject's internal user id from any
// stored tweet it authored (replies are indexed by recipient user id, not
// screen name), then returns the id of the latest stored reply to that user.
func (f *RepliesFlow) ResolveWatermark(ctx context.Context, subject *models.Subject) (int64, bool, error) {
	name := strings.ToLower(subject.ScreenName)

	anyTweet, err := f.store.Search(ctx, elastic.AnyTweetQuery(name))
	if err != nil {
		return 0, false, err
	}
	if anyTweet.Total == 0 {
		return 0, false, errs.Newf(errs.ErrorTypeMissingPrereq,
			"no stored tweets for %s, cannot resolve user id", subject.ScreenName)
	}

	src, err := decodeHitSource(anyTweet.Hits[0])
	if err != nil {
		return 0, false, err
	}
	userID := src.User.ID

	latest, err := f.store.Search(ctx, elastic.LatestReplyQuery(userID))
	if err != nil {
		return 0, false, err
	}
	if latest.Total == 0 {
		f.logger.InfoWithFields("no stored replies, full harvest", mergeFields(subject.LogFields(), map[string]interface{}{
			"user_id": userID,
		}))
		return 0, false, nil
	}

	latestSrc, err := decodeHitSource(latest.Hits[0])
	if err != nil {
		return 0, false, err
	}

	f.logger.InfoWithFields("resolved replies watermark", mergeFields(subject.LogFields(), map[string]interface{}{
		"user_id":   userID,
		"watermark": latestSrc.ID,
	}))
	return latestSrc.ID, true, nil
}

func (f *RepliesFlow) FetchPage(ctx context.Context, subject *models.Subject, sinceID, maxID int64, count int) ([]twitter.Tweet, error) {
	return f.api.SearchMentions(ctx, subject.ScreenName, sinceID, maxID, count)
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
