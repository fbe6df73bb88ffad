package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(QuotaDenied.WithLabelValues("documents"))
	IncQuotaDenied("documents")
	require.Equal(t, before+1, testutil.ToFloat64(QuotaDenied.WithLabelValues("documents")))

	beforeRejected := testutil.ToFloat64(RateLimit.WithLabelValues("memory", "rejected"))
	IncRateLimit("memory", false)
	require.Equal(t, beforeRejected+1, testutil.ToFloat64(RateLimit.WithLabelValues("memory", "rejected")))
}

func TestHandlerServesExposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	IncIngest("processed")

	r := gin.New()
	r.GET("/metrics", Handler())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, strings.Contains(resp.Body.String(), `docchat_ingest_jobs_total{outcome="processed"}`))
}

func TestRegisterDBExportsPoolStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(7)

	require.NoError(t, RegisterDB(db, "metrics_test"))
	require.NoError(t, RegisterDB(db, "metrics_test"))

	r := gin.New()
	r.GET("/metrics", Handler())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, resp.Body.String(), `go_sql_max_open_connections{db_name="metrics_test"} 7`)
}
