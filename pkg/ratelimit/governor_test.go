package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

type fakeQuotaReader struct {
	status *twitter.RateLimitStatus
	err    error
	calls  int
}

func (f *fakeQuotaReader) RateLimitStatus(ctx context.Context, resources ...string) (*twitter.RateLimitStatus, error) {
	f.calls++
	return f.status, f.err
}

func limitStatus(resource, endpoint string, reset int64, remaining int) *twitter.RateLimitStatus {
	return &twitter.RateLimitStatus{
		Resources: map[string]map[string]twitter.EndpointLimit{
			resource: {
				endpoint: {Limit: 900, Remaining: remaining, Reset: reset},
			},
		},
	}
}

// newTestGovernor pins the clock and records sleeps instead of blocking
func newTestGovernor(api QuotaReader, maxWait time.Duration, now time.Time, slept *[]time.Duration) *Governor {
	g := NewGovernor(api, twitter.StatusesResource, twitter.TimelineLimitKey, maxWait, logger.NewTestLogger())
	g.now = func() time.Time { return now }
	g.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return g
}

func TestAwaitQuotaResetAlreadyPassed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.StatusesResource, twitter.TimelineLimitKey, now.Unix()-60, 5)}

	var slept []time.Duration
	g := newTestGovernor(api, time.Hour, now, &slept)

	require.NoError(t, g.AwaitQuota(context.Background()))
	assert.Empty(t, slept)
	assert.Equal(t, 1, api.calls)
}

func TestAwaitQuotaSleepsUntilReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.StatusesResource, twitter.TimelineLimitKey, now.Unix()+120, 0)}

	var slept []time.Duration
	g := newTestGovernor(api, time.Hour, now, &slept)

	require.NoError(t, g.AwaitQuota(context.Background()))
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Minute, slept[0])
}

func TestAwaitQuotaBudgetExceeded(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.StatusesResource, twitter.TimelineLimitKey, now.Unix()+600, 0)}

	var slept []time.Duration
	g := newTestGovernor(api, 15*time.Minute, now, &slept)

	// First window fits the budget, the second would exceed it
	require.NoError(t, g.AwaitQuota(context.Background()))
	err := g.AwaitQuota(context.Background())

	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "quota wait budget")
	assert.Len(t, slept, 1)
}

func TestAwaitQuotaZeroBudgetIsUnlimited(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.StatusesResource, twitter.TimelineLimitKey, now.Unix()+3600, 0)}

	var slept []time.Duration
	g := newTestGovernor(api, 0, now, &slept)

	require.NoError(t, g.AwaitQuota(context.Background()))
	require.NoError(t, g.AwaitQuota(context.Background()))
	assert.Len(t, slept, 2)
}

func TestResetBudget(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.StatusesResource, twitter.TimelineLimitKey, now.Unix()+600, 0)}

	var slept []time.Duration
	g := newTestGovernor(api, 15*time.Minute, now, &slept)

	require.NoError(t, g.AwaitQuota(context.Background()))
	g.ResetBudget()
	require.NoError(t, g.AwaitQuota(context.Background()))
	assert.Len(t, slept, 2)
}

func TestAwaitQuotaUnreadableState(t *testing.T) {
	api := &fakeQuotaReader{err: errs.New(errs.ErrorTypeTransport, "network error")}

	var slept []time.Duration
	g := newTestGovernor(api, time.Hour, time.Unix(1700000000, 0), &slept)

	err := g.AwaitQuota(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "rate limit state unreadable")
}

func TestAwaitQuotaMissingEndpoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	api := &fakeQuotaReader{status: limitStatus(twitter.SearchResource, twitter.SearchLimitKey, now.Unix()+60, 0)}

	var slept []time.Duration
	g := newTestGovernor(api, time.Hour, now, &slept)

	err := g.AwaitQuota(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "missing endpoint")
}

func TestRegistrySharesGovernors(t *testing.T) {
	registry := NewRegistry()

	created := 0
	newFn := func() *Governor {
		created++
		return NewGovernor(&fakeQuotaReader{}, twitter.StatusesResource, twitter.TimelineLimitKey, 0, logger.NewTestLogger())
	}

	a := registry.Governor("fp1:/statuses/user_timeline", newFn)
	b := registry.Governor("fp1:/statuses/user_timeline", newFn)
	c := registry.Governor("fp2:/statuses/user_timeline", newFn)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, created)
}

func TestRegistryAcquireSerializesPerFingerprint(t *testing.T) {
	registry := NewRegistry()

	release := registry.Acquire("fp1")

	// A distinct fingerprint is not blocked by the held slot
	otherDone := make(chan struct{})
	go func() {
		releaseOther := registry.Acquire("fp2")
		releaseOther()
		close(otherDone)
	}()

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("distinct fingerprint blocked by unrelated slot")
	}

	// The same fingerprint waits for the release
	sameDone := make(chan struct{})
	go func() {
		releaseSame := registry.Acquire("fp1")
		releaseSame()
		close(sameDone)
	}()

	select {
	case <-sameDone:
		t.Fatal("shared fingerprint acquired while the slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-sameDone:
	case <-time.After(time.Second):
		t.Fatal("slot not acquired after release")
	}
}
