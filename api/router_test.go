package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/BaSui01/chatrelay/accounts"
	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/testutil"
)

func newTestRouter(t *testing.T) (http.Handler, *accounts.Directory) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	require.NoError(t, err)
	dir, err := accounts.NewDirectory(db)
	require.NoError(t, err)

	reg := providers.NewRegistry()
	reg.Register(testutil.NewFakeDriver("qwen"))

	logger := zap.NewNop()
	router := api.NewRouter(api.RouterDeps{
		Chat:      handlers.NewChatHandler(nil, logger),
		Models:    handlers.NewModelsHandler(reg, logger),
		Health:    handlers.NewHealthHandler("test", logger),
		Directory: dir,
		Logger:    logger,
	})
	return router, dir
}

func TestRouterOpenWhenNoKeysConfigured(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRequiresKeyWhenConfigured(t *testing.T) {
	router, dir := newTestRouter(t)
	require.NoError(t, dir.AddKey("sk-valid", "test"))

	// 无密钥拒绝
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 错误密钥拒绝
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 正确密钥放行
	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-valid")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterOperationalEndpointsUnguarded(t *testing.T) {
	router, dir := newTestRouter(t)
	require.NoError(t, dir.AddKey("sk-valid", "test"))

	for _, path := range []string{"/health", "/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
