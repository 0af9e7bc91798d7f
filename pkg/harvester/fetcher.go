package harvester

import (
	"context"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/ratelimit"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

// fetchWindow eagerly collects every item newer than sinceID by walking the
// window backward: each page lowers max_id to just below the lowest id seen,
// so no boundary item is delivered twice. Quota exhaustion suspends the scan
// through the governor and retries the same page; any other API error aborts
// the scan with nothing emitted.
func (h *Harvester) fetchWindow(ctx context.Context, flow Flow, subject *models.Subject, sinceID int64, gov *ratelimit.Governor, pageSize int) ([]twitter.Tweet, error) {
	log := h.logger.WithFields(subject.LogFields())

	var all []twitter.Tweet
	var maxID int64 // 0 = no upper bound yet

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := flow.FetchPage(ctx, subject, sinceID, maxID, pageSize)
		if err != nil {
			if errs.IsQuota(err) {
				if waitErr := gov.AwaitQuota(ctx); waitErr != nil {
					return nil, waitErr
				}
				// Cursor state unchanged; retry the same page
				continue
			}
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		lowest := page[0].ID
		for _, t := range page[1:] {
			if t.ID < lowest {
				lowest = t.ID
			}
		}

		// The API must not return items at or below since_id; drop any
		// that slip through rather than re-delivering known items.
		kept := page[:0:len(page)]
		for _, t := range page {
			if sinceID > 0 && t.ID <= sinceID {
				continue
			}
			kept = append(kept, t)
		}
		if dropped := len(page) - len(kept); dropped > 0 {
			log.WarnWithFields("dropped items at or below since_id", map[string]interface{}{
				"dropped":  dropped,
				"since_id": sinceID,
			})
		}

		all = append(all, kept...)
		maxID = lowest - 1

		log.InfoWithFields("fetched page", map[string]interface{}{
			"flow":      string(flow.Kind()),
			"page_size": len(page),
			"total":     len(all),
			"max_id":    maxID,
		})

		if len(page) < pageSize && flow.ShortPageTerminates() {
			// An under-filled page is taken as the final one. This can
			// stop one page early on APIs that under-fill before true
			// exhaustion; accepted to save one call per subject.
			break
		}
	}

	return all, nil
}
