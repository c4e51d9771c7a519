package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/accounts"
	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 🌐 路由装配
// =============================================================================

// RouterDeps 路由依赖。
type RouterDeps struct {
	Chat      *handlers.ChatHandler
	Models    *handlers.ModelsHandler
	Health    *handlers.HealthHandler
	Directory *accounts.Directory
	Metrics   *metrics.Collector // 可为 nil
	Logger    *zap.Logger
}

// NewRouter 装配全部路由。/v1 下的接口走 API 密钥校验，
// 运维端点（health / metrics）不设防。
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/chat/completions",
		deps.auth(http.HandlerFunc(deps.Chat.HandleCompletion)))
	mux.Handle("GET /v1/models",
		deps.auth(http.HandlerFunc(deps.Models.HandleList)))

	mux.HandleFunc("GET /health", deps.Health.HandleHealth)
	mux.HandleFunc("GET /healthz", deps.Health.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return deps.instrument(mux)
}

// auth 校验 Authorization: Bearer 密钥。
func (d RouterDeps) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := d.Directory.VerifyKey(strings.TrimSpace(key)); err != nil {
			handlers.WriteError(w, types.NewError(types.ErrUnauthorized,
				"invalid or missing api key").WithHTTPStatus(http.StatusUnauthorized),
				d.Logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument 记录请求指标与访问日志。
func (d RouterDeps) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := handlers.NewResponseWriter(w)
		started := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(started)

		if d.Metrics != nil {
			d.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, rw.StatusCode, elapsed)
		}
		if d.Logger != nil {
			d.Logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", elapsed))
		}
	})
}
