package server

import (
	"net/http"

	"persona-sim-api/pkg/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware X-API-KEYヘッダーを検証する。キー未設定なら素通し。
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// NewRouter ルーティングを組み立てる
func NewRouter(app *App) *gin.Engine {
	r := gin.Default()

	draftHandler := handlers.NewDraftHandler(app.Drafts, app.Audiences, app.Filters, app.Simulations)
	audienceHandler := handlers.NewAudienceHandler(app.Audiences, app.Generation)
	filterHandler := handlers.NewFilterHandler(app.Audiences, app.Filters)
	simulationHandler := handlers.NewSimulationHandler(app.Simulations)
	chatHandler := handlers.NewChatHandler(app.Chat)
	exportHandler := handlers.NewExportHandler(app.Exports)
	monitoringHandler := handlers.NewMonitoringHandler(app.Monitoring)
	adminHandler := handlers.NewAdminHandler(app.Config)

	// ミドルウェアの登録
	r.Use(app.Monitoring.LoggingMiddleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("X-API-KEY")
	r.Use(cors.New(corsConfig))

	// ヘルスチェックエンドポイント
	r.GET("/health", adminHandler.HealthCheck)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(app.Config.APIKey), adminHandler.MaintenanceMiddleware())
	{
		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		v1.GET("/monitoring/logs", monitoringHandler.GetLogs)

		// ウィザードのドラフト
		drafts := v1.Group("/drafts")
		{
			drafts.POST("", draftHandler.CreateDraft)
			drafts.GET("/:id", draftHandler.GetDraft)
			drafts.PATCH("/:id", draftHandler.UpdateDraft)
			drafts.DELETE("/:id", draftHandler.DeleteDraft)
			drafts.POST("/:id/validate", draftHandler.ValidateDraft)
			drafts.POST("/:id/file", draftHandler.UploadFile)
			drafts.POST("/:id/audience", draftHandler.CreateAudience)
			drafts.PUT("/:id/forms/:task", draftHandler.PutForm)
			drafts.GET("/:id/forms/:task", draftHandler.GetForm)
		}

		// オーディエンス・セグメント・フィルター
		audiences := v1.Group("/audiences")
		{
			audiences.GET("", audienceHandler.ListAudiences)
			audiences.GET("/:id", audienceHandler.GetAudience)
			audiences.GET("/:id/segments", audienceHandler.GetSegments)
			audiences.PUT("/:id/name", audienceHandler.SaveAudience)
			audiences.GET("/:id/generation", audienceHandler.GetGeneration)
			audiences.DELETE("/:id/generation", audienceHandler.CancelGeneration)
			audiences.GET("/:id/filters", filterHandler.GetFilters)
			audiences.POST("/:id/filters/submit", filterHandler.SubmitFilters)
			audiences.POST("/:id/segments/:segmentId/select", filterHandler.SelectSegment)
			audiences.POST("/:id/segments/:segmentId/toggle", filterHandler.ToggleFilter)
		}
		v1.GET("/segments/:id/personas", audienceHandler.GetSegmentPersonas)
		v1.GET("/personas/:id", audienceHandler.GetPersona)
		v1.GET("/filters/profile", filterHandler.GetProfile)

		// シミュレーション
		v1.POST("/simulations", simulationHandler.CreateSimulation)
		v1.POST("/simulations/images", simulationHandler.CreateImageSimulation)

		// グループチャット
		chat := v1.Group("/chat/sessions")
		{
			chat.POST("", chatHandler.CreateSession)
			chat.GET("/:id", chatHandler.GetSession)
			chat.DELETE("/:id", chatHandler.DeleteSession)
			chat.POST("/:id/messages", chatHandler.SendMessage)
			chat.POST("/:id/refresh", chatHandler.RefreshSession)
		}

		// エクスポート
		exports := v1.Group("/export")
		{
			exports.PUT("/tables/:id", exportHandler.PutTable)
			exports.GET("/tables/:id/markdown", exportHandler.GetTableMarkdown)
			exports.GET("/tables/:id/xlsx", exportHandler.GetTableXLSX)
			exports.PUT("/charts/:id", exportHandler.PutChart)
			exports.GET("/charts/:id/png", exportHandler.GetChartPNG)
		}
	}

	return r
}
