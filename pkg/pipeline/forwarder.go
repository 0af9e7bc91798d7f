package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
)

// Forwarder submits harvested batches to the LinkedPipes ETL trigger
// endpoint for semantic enrichment. Forwarding is best-effort: persistence
// has already completed when it runs, and its failures are only logged.
type Forwarder struct {
	httpClient *http.Client
	endpoint   string
	pipeline   string
	logger     logger.Logger
}

// NewForwarder creates a forwarder for one pipeline
func NewForwarder(endpoint, pipeline string, timeout time.Duration, log logger.Logger) *Forwarder {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Forwarder{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		pipeline:   pipeline,
		logger:     log,
	}
}

// Forward submits the whole batch as one multipart payload: an "input" file
// part holding the JSON array of raw documents, with the pipeline selected
// via query parameter. The response is logged only.
func (f *Forwarder) Forward(ctx context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return errs.Newf(errs.ErrorTypeParsing, "failed to encode batch: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("input", "input.json")
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "failed to build multipart payload: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "failed to build multipart payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "failed to build multipart payload: %v", err)
	}

	reqURL := f.endpoint + "?" + url.Values{"pipeline": []string{f.pipeline}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	f.logger.InfoWithFields("forwarding batch to enrichment pipeline", map[string]interface{}{
		"endpoint": f.endpoint,
		"pipeline": f.pipeline,
		"items":    len(batch),
	})

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errs.Newf(errs.ErrorTypeTransport, "pipeline trigger failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	f.logger.InfoWithFields("enrichment pipeline responded", map[string]interface{}{
		"status":   resp.StatusCode,
		"response": string(respBody),
	})

	if resp.StatusCode >= 400 {
		return errs.NewWithCode(errs.ErrorTypeTransport, resp.StatusCode, "pipeline trigger rejected")
	}

	return nil
}
