package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCountersExposed(t *testing.T) {
	RecordTaskSubmitted("sora2", 30)
	RecordTaskCompleted("sora2", "failed")
	RecordRefund("sora2")
	RecordWebhook("sora2", "applied")
	RecordMediaTransfer("fallback")

	body := scrape(t)
	for _, want := range []string{
		`mediagen_tasks_submitted_total{provider="sora2"}`,
		`mediagen_credits_debited_total{provider="sora2"}`,
		`mediagen_tasks_completed_total{provider="sora2",status="failed"}`,
		`mediagen_credits_refunds_total{provider="sora2"}`,
		`mediagen_webhooks_received_total{provider="sora2",result="applied"}`,
		`mediagen_media_transfers_total{result="fallback"}`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/api/:provider/status/:taskId", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sora2/status/t-1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mediagen_http_requests_total{method="GET",path="/api/:provider/status/:taskId",status="204"}`))
}
