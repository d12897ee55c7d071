package telemetry_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctford/lein-mcp/internal/telemetry"
)

func TestMetrics(t *testing.T) {
	m := telemetry.NewMetrics()

	m.ObserveRequest("tools/call", "ok", 20*time.Millisecond)
	m.ObserveRequest("tools/call", "ok", 30*time.Millisecond)
	m.ObserveRequest("tools/call", "tool_error", time.Millisecond)
	m.ObserveEval("eval", 15*time.Millisecond, false)
	m.ObserveRateLimited()

	count, err := testutil.GatherAndCount(m.Registry(), "leinmcp_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per method/outcome pair")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `leinmcp_requests_total{method="tools/call",outcome="ok"} 2`)
	assert.Contains(t, text, `leinmcp_requests_total{method="tools/call",outcome="tool_error"} 1`)
	assert.Contains(t, text, `leinmcp_nrepl_op_duration_seconds_count{failed="false",op="eval"} 1`)
	assert.Contains(t, text, "leinmcp_rate_limited_total 1")
	assert.Contains(t, text, "go_goroutines")
}
