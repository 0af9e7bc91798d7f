package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
)

func TestForward(t *testing.T) {
	var gotPipeline string
	var gotFilename string
	var gotPayload []json.RawMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPipeline = r.URL.Query().Get("pipeline")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("input")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotPayload))

		w.Write([]byte(`{"status": "accepted"}`))
	}))
	defer server.Close()

	forwarder := NewForwarder(server.URL, "tweets-pipeline", 5*time.Second, logger.NewTestLogger())

	batch := []json.RawMessage{
		json.RawMessage(`{"id": 12, "text": "newest"}`),
		json.RawMessage(`{"id": 9, "text": "older"}`),
	}

	require.NoError(t, forwarder.Forward(context.Background(), batch))

	assert.Equal(t, "tweets-pipeline", gotPipeline)
	assert.Equal(t, "input.json", gotFilename)
	require.Len(t, gotPayload, 2)
	assert.JSONEq(t, `{"id": 12, "text": "newest"}`, string(gotPayload[0]))
}

func TestForwardEmptyBatchSkipsRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	forwarder := NewForwarder(server.URL, "tweets-pipeline", 5*time.Second, logger.NewTestLogger())

	require.NoError(t, forwarder.Forward(context.Background(), nil))
	assert.Zero(t, requests)
}

func TestForwardRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown pipeline", http.StatusBadRequest)
	}))
	defer server.Close()

	forwarder := NewForwarder(server.URL, "missing", 5*time.Second, logger.NewTestLogger())

	err := forwarder.Forward(context.Background(), []json.RawMessage{json.RawMessage(`{"id": 1}`)})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
}

func TestForwardUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	forwarder := NewForwarder(server.URL, "tweets-pipeline", time.Second, logger.NewTestLogger())

	err := forwarder.Forward(context.Background(), []json.RawMessage{json.RawMessage(`{"id": 1}`)})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTransport, errs.TypeOf(err))
}
