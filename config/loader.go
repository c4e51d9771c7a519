// =============================================================================
// 📦 chatrelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHATRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/chatrelay/bridge/reconcile"
	"github.com/BaSui01/chatrelay/bridge/sessionpool"
	"github.com/BaSui01/chatrelay/browser"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 chatrelay 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Browser 浏览器引擎配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Pool 会话池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Reconcile 流调和配置
	Reconcile ReconcileConfig `yaml:"reconcile" env:"RECONCILE"`

	// Database SQLite 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Providers 站点覆盖配置，键为 provider id
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时。0 表示不设限：流式回合可长达数分钟
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// BrowserConfig 浏览器引擎配置
type BrowserConfig struct {
	// 是否无头模式
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// Profile 根目录
	ProfileRoot string `yaml:"profile_root" env:"PROFILE_ROOT"`
	// 视口宽度
	ViewportWidth int `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	// 视口高度
	ViewportHeight int `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	// User-Agent 覆盖，空则使用内置固定值
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 代理地址
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"`
	// 启动超时
	StartTimeout time.Duration `yaml:"start_timeout" env:"START_TIMEOUT"`
}

// ToBrowser 转换为引擎配置。
func (b BrowserConfig) ToBrowser() browser.Config {
	return browser.Config{
		Headless:       b.Headless,
		ProfileRoot:    b.ProfileRoot,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
		UserAgent:      b.UserAgent,
		ProxyURL:       b.ProxyURL,
		StartTimeout:   b.StartTimeout,
	}
}

// PoolConfig 会话池配置
type PoolConfig struct {
	// 同一操作最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 两次尝试间的停顿
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
}

// ToPool 转换为会话池配置。
func (p PoolConfig) ToPool() sessionpool.Config {
	return sessionpool.Config{
		MaxAttempts:  p.MaxAttempts,
		RetryBackoff: p.RetryBackoff,
	}
}

// ReconcileConfig 流调和配置
type ReconcileConfig struct {
	// DOM 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 内容稳定所需的连续静默轮询次数
	QuietPolls int `yaml:"quiet_polls" env:"QUIET_POLLS"`
	// UI 完成信号的复确认延迟
	SettleDelay time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	// 单回合墙钟上限
	MaxDuration time.Duration `yaml:"max_duration" env:"MAX_DURATION"`
	// 瞬时错误后的停顿
	TransientPause time.Duration `yaml:"transient_pause" env:"TRANSIENT_PAUSE"`
}

// ToReconcile 转换为调和器配置。
func (r ReconcileConfig) ToReconcile() reconcile.Config {
	return reconcile.Config{
		PollInterval:   r.PollInterval,
		QuietPolls:     r.QuietPolls,
		SettleDelay:    r.SettleDelay,
		MaxDuration:    r.MaxDuration,
		TransientPause: r.TransientPause,
	}
}

// DatabaseConfig 数据库配置。登录会话与账号目录共用一个 SQLite 库。
type DatabaseConfig struct {
	// SQLite 文件路径
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// ProviderConfig 单站点覆盖配置
type ProviderConfig struct {
	// 是否启用该站点
	Enabled bool `yaml:"enabled"`
	// 入口地址覆盖，空则用驱动内置值
	EntryURL string `yaml:"entry_url"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Browser.ProfileRoot == "" {
		errs = append(errs, "browser profile_root is required")
	}
	if c.Reconcile.PollInterval < 0 {
		errs = append(errs, "reconcile poll_interval must not be negative")
	}
	if c.Reconcile.MaxDuration < 0 {
		errs = append(errs, "reconcile max_duration must not be negative")
	}
	if c.Pool.MaxAttempts < 0 {
		errs = append(errs, "pool max_attempts must not be negative")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
