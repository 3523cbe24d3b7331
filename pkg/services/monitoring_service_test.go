package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoringMiddlewareGroupsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewMonitoringService(0, nil)

	router := gin.New()
	router.Use(svc.LoggingMiddleware())
	router.GET("/api/v1/drafts/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/drafts/:id/audience", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	router.GET("/api/v1/monitoring/logs", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/drafts/a", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/drafts/b", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/drafts/a/audience", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/logs", nil),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	data := svc.GetDashboardData(1)
	assert.Equal(t, 2, data.Endpoints["GET /api/v1/drafts/:id"])
	assert.Equal(t, 1, data.Endpoints["POST /api/v1/drafts/:id/audience"])
	assert.NotContains(t, data.Endpoints, "GET /api/v1/monitoring/logs")
	assert.Equal(t, 1, data.UpstreamFailures)
	require.Len(t, data.RecentErrors, 1)
	assert.Equal(t, http.StatusBadGateway, data.RecentErrors[0].StatusCode)

	require.Len(t, data.RequestsOverTime, 1)
	assert.Equal(t, 3, data.RequestsOverTime[0]["requests"])
	assert.Equal(t, "2xx Success", data.StatusCodes[0]["name"])
	assert.Equal(t, 2, data.StatusCodes[0]["value"])
}

func TestMonitoringDropsOldEntries(t *testing.T) {
	svc := NewMonitoringService(2, nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		svc.LogRequest(LogEntry{Timestamp: now, Route: "/r", Method: http.MethodGet, StatusCode: 200 + i})
	}
	data := svc.GetDashboardData(24)
	assert.Equal(t, 2, data.Endpoints["GET /r"])
	assert.Len(t, data.RequestsOverTime, 24)

	old := NewMonitoringService(0, nil)
	old.LogRequest(LogEntry{Timestamp: now.Add(-48 * time.Hour), Route: "/r", Method: http.MethodGet, StatusCode: 500})
	assert.Empty(t, old.GetDashboardData(24).RecentErrors)
}
