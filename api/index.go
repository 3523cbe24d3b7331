package handler

import (
	"log"
	"net/http"
	"sync"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp Ginアプリケーションを初期化する。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行する。
func setupApp() *gin.Engine {
	once.Do(func() {
		// .envファイルはVercelの環境変数設定から読み込まれるため、ここではgodotenvを呼び出さない
		cfg := config.LoadConfig()
		if cfg.StorePath == "wizard_state.db" {
			// 書き込み可能なのは/tmpのみ
			cfg.StorePath = "/tmp/wizard_state.db"
		}

		logger, err := logging.NewLogger(cfg.Environment, cfg.LogLevel)
		if err != nil {
			log.Printf("failed to create logger, falling back to nop: %v", err)
			logger = zap.NewNop()
		}

		a, err := server.NewApp(cfg, logger)
		if err != nil {
			logger.Error("アプリケーションの初期化に失敗", zap.Error(err))
			r := gin.New()
			r.NoRoute(func(c *gin.Context) {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "server initialization failed"})
			})
			app = r
			return
		}
		logger.Info("サーバーレス関数を初期化", zap.String("environment", cfg.Environment))
		app = server.NewRouter(a)
	})
	return app
}

// Handler Vercelからのすべてのリクエストを処理するエントリーポイント
func Handler(w http.ResponseWriter, r *http.Request) {
	setupApp().ServeHTTP(w, r)
}
