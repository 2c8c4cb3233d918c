package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbert-ci/collector/pkg/reporting"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()

	r.PostsFetched("Bitcoin", 10)
	r.PostsFetched("Bitcoin", 5)
	r.PostsFetched("ethereum", 3)
	r.PostDeduplicated()
	r.PostDeduplicated()
	r.PostProcessed("positive")
	r.PostProcessed("positive")
	r.PostProcessed("neutral")

	assert.Equal(t, 15.0, testutil.ToFloat64(r.postsFetched.WithLabelValues("Bitcoin")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.postsFetched.WithLabelValues("ethereum")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.postsDeduplicated))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.postsProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sentimentDistribution.WithLabelValues("positive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sentimentDistribution.WithLabelValues("neutral")))
}

func TestErrorCounters(t *testing.T) {
	r := NewRegistry()

	r.PipelineError("sink", "SinkWriteError")
	r.SentimentError("forward")
	r.SourceError("SourceTransientError")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.pipelineErrors.WithLabelValues("sink", "SinkWriteError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pipelineErrors.WithLabelValues("classifier", "forward")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sourceErrors.WithLabelValues("SourceTransientError")))
}

func TestGauges(t *testing.T) {
	r := NewRegistry()

	r.SetPipelineStatus(StatusHealthy)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pipelineStatus))

	r.SetPipelineStatus(StatusFailed)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.pipelineStatus))

	at := time.Unix(1700000000, 0)
	r.MarkSuccessfulRun(at)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastSuccessfulRun))
}

func TestMemoryUsageSampling(t *testing.T) {
	r := NewRegistry()
	r.UpdateMemoryUsage()
	assert.Greater(t, testutil.ToFloat64(r.memoryUsage), 0.0)
}

func TestBuildInfo(t *testing.T) {
	r := NewRegistry()
	r.SetBuildInfo("1.2.3", "deadbeef", "2026-08-25")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.buildInfo.WithLabelValues("1.2.3", "deadbeef", "2026-08-25")))
}

func TestObserveSentimentBatch(t *testing.T) {
	r := NewRegistry()

	r.ObserveSentimentBatch(8, 250*time.Millisecond)
	r.ObserveSentimentBatch(4, 100*time.Millisecond)

	count := testutil.CollectAndCount(r.sentimentBatchSize, "sentiment_batch_size")
	assert.Equal(t, 1, count)
}

func TestExposition(t *testing.T) {
	r := NewRegistry()
	r.PostsFetched("Bitcoin", 7)
	r.SetPipelineStatus(StatusHealthy)

	srv := httptest.NewServer(promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `posts_fetched_total{community="Bitcoin"} 7`)
	assert.Contains(t, text, "pipeline_status 1")
}

func TestServerEndpoints(t *testing.T) {
	r := NewRegistry()
	r.PostDeduplicated()

	s := NewServer(0, r, reporting.Nop())
	// Drive the mux directly; binding a real port is covered by Start.
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "posts_deduplicated_total 1"))
}
