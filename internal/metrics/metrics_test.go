package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Request("ai_hub", "grok")
	m.Request("ai_hub", "grok")
	m.Request("prompt_chat", "gemini")
	m.UpstreamError("openai")
	m.Deltas("grok", 3)
	m.Deltas("grok", 0)
	m.Abort("grok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("ai_hub", "grok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("prompt_chat", "gemini")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamErrors.WithLabelValues("openai")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deltas.WithLabelValues("grok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aborts.WithLabelValues("grok")))
}

func TestStreamDone(t *testing.T) {
	m := New()
	m.StreamDone("gemini", time.Now().Add(-2*time.Second))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration, "aihub_stream_duration_seconds"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Request("r", "p")
		m.UpstreamError("p")
		m.Deltas("p", 1)
		m.Abort("p")
		m.StreamDone("p", time.Now())
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Request("ai_hub", "openai")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `aihub_requests_total{provider="openai",route="ai_hub"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
