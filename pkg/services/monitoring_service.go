package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"persona-sim-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultMaxLogEntries 保持するリクエストログの上限
const DefaultMaxLogEntries = 10000

// LogEntry 単一のリクエストログ
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Route        string        `json:"route"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// MonitoringService ウィザードAPIのリクエストを記録して集計する
type MonitoringService struct {
	mu         sync.RWMutex
	logs       []LogEntry
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger
}

// NewMonitoringService 新しいMonitoringServiceを生成。maxEntriesが0以下なら既定値。
func NewMonitoringService(maxEntries int, logger *zap.Logger) *MonitoringService {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxLogEntries
	}
	return &MonitoringService{
		logs:       make([]LogEntry, 0),
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logging.OrNop(logger).Named("monitoring"),
	}
}

// LogRequest リクエストを記録する。上限を超えたら古いものから捨てる。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - s.maxEntries; over > 0 {
		s.logs = append(s.logs[:0:0], s.logs[over:]...)
	}
}

// LoggingMiddleware リクエスト情報を記録するGinミドルウェア
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()

		// IDごとに分散しないようルートのテンプレートで集計する
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if strings.HasPrefix(route, "/api/v1/monitoring") {
			return
		}

		entry := LogEntry{
			Timestamp:    start,
			Route:        route,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: s.now().Sub(start),
		}
		s.LogRequest(entry)

		if entry.StatusCode >= 500 {
			s.logger.Warn("リクエストがサーバーエラーで終了",
				zap.String("method", entry.Method),
				zap.String("route", entry.Route),
				zap.Int("status", entry.StatusCode),
				zap.Duration("elapsed", entry.ResponseTime))
		}
	}
}

// DashboardData ダッシュボード表示用の集計データ
type DashboardData struct {
	RequestsOverTime []map[string]interface{} `json:"requestsOverTime"`
	Endpoints        map[string]int           `json:"endpoints"`
	StatusCodes      []map[string]interface{} `json:"statusCodes"`
	AvgResponseTimes []map[string]interface{} `json:"avgResponseTimes"`
	UpstreamFailures int                      `json:"upstreamFailures"`
	RecentErrors     []LogEntry               `json:"recentErrors"`
}

// GetDashboardData 指定期間のログを時間単位で集計する
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 24
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filtered := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}

	// 過去から現在へ向かう順序で時間バケットを用意する
	requestsOverTime := make([]map[string]interface{}, periodHours)
	bucketIndex := make(map[int64]int, periodHours)
	for i := 0; i < periodHours; i++ {
		bucket := now.Add(-time.Duration(periodHours-1-i) * time.Hour).Truncate(time.Hour)
		bucketIndex[bucket.Unix()] = i
		requestsOverTime[i] = map[string]interface{}{"time": bucket.Format("15:00"), "requests": 0}
	}

	endpoints := make(map[string]int)
	statusCounts := map[string]int{"2xx Success": 0, "4xx Client Error": 0, "5xx Server Error": 0}
	responseTimeSum := make(map[string]time.Duration)
	responseCount := make(map[string]int)
	upstream := 0

	for _, entry := range filtered {
		if i, ok := bucketIndex[entry.Timestamp.Truncate(time.Hour).Unix()]; ok {
			requestsOverTime[i]["requests"] = requestsOverTime[i]["requests"].(int) + 1
		}
		key := entry.Method + " " + entry.Route
		endpoints[key]++
		responseTimeSum[key] += entry.ResponseTime
		responseCount[key]++

		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCounts["2xx Success"]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			statusCounts["4xx Client Error"]++
		case entry.StatusCode >= 500:
			statusCounts["5xx Server Error"]++
		}
		if entry.StatusCode == 502 {
			upstream++
		}
	}

	statusCodes := make([]map[string]interface{}, 0, len(statusCounts))
	for _, name := range []string{"2xx Success", "4xx Client Error", "5xx Server Error"} {
		statusCodes = append(statusCodes, map[string]interface{}{"name": name, "value": statusCounts[name]})
	}

	keys := make([]string, 0, len(responseTimeSum))
	for key := range responseTimeSum {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	avgResponseTimes := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		avg := responseTimeSum[key].Milliseconds() / int64(responseCount[key])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": key, "responseTime": avg})
	}

	recentErrors := make([]LogEntry, 0)
	for i := len(filtered) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filtered[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filtered[i])
		}
	}

	return DashboardData{
		RequestsOverTime: requestsOverTime,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		AvgResponseTimes: avgResponseTimes,
		UpstreamFailures: upstream,
		RecentErrors:     recentErrors,
	}
}
