package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-proposals/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.IngestConfig{BaseURL: srv.URL + "/", Token: "secret", Timeout: 2 * time.Second}, srv.Client(), nil)
}

func TestIngestSuccess(t *testing.T) {
	payload := []byte(`{"course":{"id":"course_royal_scot"}}`)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/courses/ingest", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "hash-1", r.Header.Get("Idempotency-Key"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, string(payload), string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"courseId":"c1","snapshotId":"s1"}`))
	})

	result, err := client.Ingest(context.Background(), payload, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", result.CourseID)
	assert.Equal(t, "s1", result.SnapshotID)
}

func TestIngestHTTPStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid_payload"}` + "\n"))
	})

	_, err := client.Ingest(context.Background(), []byte(`{}`), "hash-1")
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Equal(t, `{"error":"invalid_payload"}`, statusErr.Body)
	assert.Equal(t, `HTTP 422 - {"error":"invalid_payload"}`, err.Error())
}

func TestIngestRejectsUnusableSuccessBody(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>ok</html>`,
		"missing course": `{"snapshotId":"s1"}`,
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := client.Ingest(context.Background(), []byte(`{}`), "hash-1")
			var statusErr *HTTPStatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, http.StatusOK, statusErr.Code)
		})
	}
}

func TestIngestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(config.IngestConfig{BaseURL: url, Token: "secret"}, nil, nil)
	_, err := client.Ingest(context.Background(), []byte(`{}`), "hash-1")
	require.Error(t, err)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
}

func TestIngestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(config.IngestConfig{BaseURL: srv.URL, Token: "secret", Timeout: 50 * time.Millisecond}, nil, nil)
	_, err := client.Ingest(context.Background(), []byte(`{}`), "hash-1")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
}

func TestNewClientEndpoint(t *testing.T) {
	client := NewClient(config.IngestConfig{BaseURL: "http://ingest.local//", Resource: "venues"}, nil, nil)
	assert.Equal(t, "http://ingest.local/v1/venues/ingest", client.Endpoint())
}
