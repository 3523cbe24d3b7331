package server

import (
	"fmt"
	"net/http"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/backend"
	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/services"
	"persona-sim-api/pkg/store"

	"go.uber.org/zap"
)

// App サービス一式。cmd/serverとapi/index.goで共有する。
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  *store.SQLiteStore
	Client *backend.Client

	Drafts      *services.DraftService
	Generation  *services.GenerationService
	Filters     *services.FilterService
	Audiences   *services.AudienceService
	Simulations *services.SimulationService
	Chat        *services.ChatService
	Exports     *services.ExportService
	Monitoring  *services.MonitoringService
}

// NewApp 設定からストア・バックエンドクライアント・各サービスを組み立てる
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	if cfg.APIBaseURL == "" {
		logger.Warn("API_BASE_URLが未設定です。バックエンドへのリクエストは失敗します")
	}

	profile, err := config.LoadFilterProfile(cfg.FilterProfilesPath, cfg.FilterProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to load filter profile: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	// タイムアウトは呼び出し側のcontextで管理する
	client := backend.NewClient(cfg.APIBaseURL, &http.Client{})

	drafts := services.NewDraftService()
	generation := services.NewGenerationService(client, st, services.PollConfig{
		FirstRetryDelay: cfg.PollFirstRetryDelay,
		RetryDelay:      cfg.PollRetryDelay,
		MaxAttempts:     cfg.PollMaxAttempts,
		RequestTimeout:  cfg.PollRequestTimeout,
	}, logger)
	filters := services.NewFilterService(client, profile, logger)

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Client:      client,
		Drafts:      drafts,
		Generation:  generation,
		Filters:     filters,
		Audiences:   services.NewAudienceService(client, drafts, generation, filters, st, logger),
		Simulations: services.NewSimulationService(client, filters, st, logger),
		Chat:        services.NewChatService(client, cfg.PersonaFetchTimeout, logger),
		Exports:     services.NewExportService(cfg.ChartSettleDelay, logger),
		Monitoring:  services.NewMonitoringService(0, logger),
	}

	logger.Info("サービスを初期化",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StorePath),
		zap.String("filter_profile", profile.Name),
		zap.Duration("poll_first_retry", cfg.PollFirstRetryDelay),
		zap.Duration("poll_retry", cfg.PollRetryDelay))
	return app, nil
}

// Close バックグラウンド処理を止めてストアを閉じる
func (a *App) Close() error {
	a.Generation.Close()
	a.Chat.Close()
	a.Exports.Close()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	return nil
}
