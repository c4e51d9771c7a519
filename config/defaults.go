package config

import (
	"time"
)

// =============================================================================
// 🎛️ 默认配置
// =============================================================================

// DefaultConfig 返回带默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    8080,
			ReadTimeout: 30 * time.Second,
			// 流式回合最长可跑满调和上限，写超时必须覆盖它
			WriteTimeout:    0,
			ShutdownTimeout: 15 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ProfileRoot:    "./profiles",
			ViewportWidth:  1440,
			ViewportHeight: 900,
			StartTimeout:   30 * time.Second,
		},
		Pool: PoolConfig{
			MaxAttempts:  3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			PollInterval:   150 * time.Millisecond,
			QuietPolls:     10,
			SettleDelay:    300 * time.Millisecond,
			MaxDuration:    300 * time.Second,
			TransientPause: 200 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path: "./chatrelay.db",
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "chatrelay",
		},
		Providers: map[string]ProviderConfig{},
	}
}
