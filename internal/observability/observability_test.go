package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		failed bool
		want   string
	}{
		{200, false, "2xx"},
		{301, false, "3xx"},
		{404, true, "4xx"},
		{503, true, "5xx"},
		{0, true, "error"},
		{0, false, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusClass(tt.status, tt.failed))
	}
}

func TestRecordingWithoutInitIsSafe(t *testing.T) {
	ctx, span := StartPageSpan(context.Background(), PageSpanInfo{URL: "https://example.com/", Host: "example.com", Depth: 1})
	require.NotNil(t, span)
	defer span.End()

	assert.NotPanics(t, func() {
		RecordFetch(ctx, FetchMetrics{Host: "example.com", StatusCode: 200, Duration: time.Millisecond})
		RecordCrawl(ctx, "complete", 3, time.Second)
	})
}

func TestWrapHandlerPassthrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := WrapHandler(handler, nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWrapTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := &http.Client{Transport: WrapTransport(nil, nil)}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
