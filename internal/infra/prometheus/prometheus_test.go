package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sifan077/TempLink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_DefaultPort(t *testing.T) {
	assert.Equal(t, ":9090", NewServer(config.PrometheusConfig{}).Addr)
	assert.Equal(t, ":9400", NewServer(config.PrometheusConfig{Port: 9400}).Addr)
}

func TestHandler_ExposesCounters(t *testing.T) {
	LinksCreated.Inc()
	ForwardRequests.WithLabelValues("timeout").Inc()

	rec := httptest.NewRecorder()
	Handler(prom.DefaultGatherer).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "templink_links_created_total")
	assert.Contains(t, string(body), `templink_forward_requests_total{outcome="timeout"}`)
}

func TestHandler_UnknownPath(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(prom.NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
