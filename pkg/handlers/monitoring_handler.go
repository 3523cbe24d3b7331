package handlers

import (
	"net/http"

	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler モニタリング関連のハンドラ
type MonitoringHandler struct {
	Service *services.MonitoringService
}

// NewMonitoringHandler 新しいMonitoringHandlerを生成
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{Service: service}
}

// periodHours ?period= の値を時間数に変換する
var periodHours = map[string]int{
	"1h":  1,
	"6h":  6,
	"24h": 24,
	"7d":  24 * 7,
}

// GetLogs 集計されたリクエストログを返す
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	hours, ok := periodHours[c.DefaultQuery("period", "24h")]
	if !ok {
		hours = 24
	}
	c.JSON(http.StatusOK, h.Service.GetDashboardData(hours))
}
