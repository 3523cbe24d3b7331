package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 設定の読み込み
	cfg := config.LoadConfig()

	logger, err := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Warn(".envファイルが読み込めませんでした", zap.Error(envErr))
	}

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("アプリケーションの初期化に失敗", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("サーバーを起動", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("サーバーの起動に失敗", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("シャットダウンを開始")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTPサーバーの停止に失敗", zap.Error(err))
	}
	if err := app.Close(); err != nil {
		logger.Error("サービスの停止に失敗", zap.Error(err))
	}
	logger.Info("シャットダウン完了")
}
