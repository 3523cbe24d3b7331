package config

import (
	"os"
	"strconv"
	"time"
)

// Config アプリケーション設定
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	APIKey      string

	// 管理者認証（メンテナンスモードの切り替え）
	AdminUsername string
	AdminPassword string

	// APIBaseURL バックエンドAPIのベースURL（未設定時は空文字列）
	APIBaseURL string

	StorePath          string
	FilterProfilesPath string
	FilterProfile      string

	PollFirstRetryDelay time.Duration
	PollRetryDelay      time.Duration
	PollMaxAttempts     int
	PollRequestTimeout  time.Duration

	PersonaFetchTimeout time.Duration
	ChartSettleDelay    time.Duration
}

// LoadConfig 環境変数から設定を読み込む
func LoadConfig() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("ENVIRONMENT", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		APIKey:              getEnv("API_KEY", ""),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		APIBaseURL:          getEnv("API_BASE_URL", ""),
		StorePath:           getEnv("STORE_PATH", "wizard_state.db"),
		FilterProfilesPath:  getEnv("FILTER_PROFILES_PATH", ""),
		FilterProfile:       getEnv("FILTER_PROFILE", DefaultProfileName),
		PollFirstRetryDelay: getEnvDuration("POLL_FIRST_RETRY_DELAY", 20*time.Second),
		PollRetryDelay:      getEnvDuration("POLL_RETRY_DELAY", 40*time.Second),
		PollMaxAttempts:     getEnvInt("POLL_MAX_ATTEMPTS", 0),
		PollRequestTimeout:  getEnvDuration("POLL_REQUEST_TIMEOUT", 2*time.Minute),
		PersonaFetchTimeout: getEnvDuration("PERSONA_FETCH_TIMEOUT", 5*time.Minute),
		ChartSettleDelay:    getEnvDuration("CHART_SETTLE_DELAY", 300*time.Millisecond),
	}
}

// IsDevelopment 開発環境かどうか
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvDuration "20s" 形式、または秒数の整数を受け付ける
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
