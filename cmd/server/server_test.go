package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// テスト環境の設定
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestApplicationSetup(t *testing.T) {
	t.Setenv("STORE_PATH", ":memory:")
	t.Setenv("API_BASE_URL", "http://127.0.0.1:0")

	cfg := config.LoadConfig()
	require.NotNil(t, cfg)

	app, err := server.NewApp(cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	router := server.NewRouter(app)
	assert.NotNil(t, router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "persona-sim-api")
}

func TestUnknownFilterProfileFails(t *testing.T) {
	t.Setenv("STORE_PATH", ":memory:")
	t.Setenv("FILTER_PROFILE", "retail")

	_, err := server.NewApp(config.LoadConfig(), nil)
	assert.Error(t, err)
}
