package browser

import (
	"context"
	"time"
)

// ProfileKey 唯一标识一个持久化浏览器 Profile。
// 不变式: Account 非空时 Profile 目录一定包含 Account，
// 不同账号永远不会共享同一 Profile 目录。
type ProfileKey struct {
	Provider string
	Account  string
}

// Config 浏览器驱动配置
type Config struct {
	// 是否无头模式
	Headless bool `yaml:"headless" json:"headless"`
	// Profile 根目录，每个 (provider, account) 一个子目录
	ProfileRoot string `yaml:"profile_root" json:"profile_root"`
	// 视口宽度
	ViewportWidth int `yaml:"viewport_width" json:"viewport_width"`
	// 视口高度
	ViewportHeight int `yaml:"viewport_height" json:"viewport_height"`
	// User-Agent，空则使用内置固定 UA
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// 代理地址
	ProxyURL string `yaml:"proxy_url" json:"proxy_url"`
	// 浏览器启动超时
	StartTimeout time.Duration `yaml:"start_timeout" json:"start_timeout"`
}

// DefaultConfig 返回默认配置。
// 视口与 UA 是反指纹对策的一部分，保持固定值。
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ProfileRoot:    "./profiles",
		ViewportWidth:  1440,
		ViewportHeight: 900,
		UserAgent:      defaultUserAgent,
		StartTimeout:   30 * time.Second,
	}
}

// Engine 打开与关闭持久化浏览器 Profile。
type Engine interface {
	// OpenProfile 打开（或启动）key 对应的浏览器会话。
	OpenProfile(ctx context.Context, key ProfileKey) (Session, error)
	// Close 关闭引擎创建的全部会话。
	Close() error
}

// Session 一个账号级浏览器会话，拥有其创建的全部页面。
type Session interface {
	// Key 返回会话的 Profile 标识。
	Key() ProfileKey
	// NewPage 打开一个新标签页（已注入反指纹脚本并启用网络拦截）。
	NewPage(ctx context.Context) (Page, error)
	// Pages 返回当前仍然打开的页面快照。
	Pages() []Page
	// Alive 惰性存活判断；false 表示底层浏览器已不可用。
	Alive() bool
	// Close 关闭会话与其全部页面。
	Close() error
}

// Page 单个标签页上的操作集合。
type Page interface {
	// Navigate 导航到 URL 并等待加载。
	Navigate(ctx context.Context, url string) error
	// URL 返回当前地址。
	URL(ctx context.Context) (string, error)
	// Click 点击选择器命中的首个元素。
	Click(ctx context.Context, selector string) error
	// Fill 清空并输入文本。
	Fill(ctx context.Context, selector, text string) error
	// Text 返回选择器命中元素的文本；元素不存在时返回空串而非错误。
	Text(ctx context.Context, selector string) (string, error)
	// Exists 判断选择器是否命中任何元素。
	Exists(ctx context.Context, selector string) (bool, error)
	// Eval 执行 JS 表达式并将结果反序列化到 out（可为 nil）。
	Eval(ctx context.Context, expr string, out any) error
	// OnResponse 注册网络响应回调：URL 包含 pattern 的响应体在
	// 加载完成后投递给 fn。回调在独立 goroutine 中执行。
	// 返回注销函数。页面会跨回合复用，回合结束必须注销，
	// 否则旧回合的回调会一直挂在页面上继续触发。
	OnResponse(pattern string, fn func(body []byte)) (cancel func())
	// Alive 页面是否仍可操作。
	Alive() bool
	// Close 关闭标签页。
	Close() error
}
