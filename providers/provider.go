// Package providers defines the polymorphic site driver interface and the
// model-to-driver registry. Each driver wraps one web chat product's UI:
// selector catalogs, stream fragment parsing, and the login form flow.
package providers

import (
	"context"

	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/browser"
)

// FragmentKind 拦截到的流片段分类。
type FragmentKind int

const (
	// FragmentAnswer 正文回答片段
	FragmentAnswer FragmentKind = iota
	// FragmentThinking 思考/推理片段
	FragmentThinking
	// FragmentEnd 显式流结束标记
	FragmentEnd
)

// Fragment 一条已分类的流片段。积累器按到达顺序记录类型，
// 在 UI 确认最终答案前对交错片段归类。
type Fragment struct {
	Kind FragmentKind
	Text string
}

// GenerationState UI 侧的生成状态观察。
type GenerationState struct {
	// Generating 停止/生成中控件是否存在
	Generating bool
	// CanSend 发送控件是否可用
	CanSend bool
}

// Settled 判断 UI 认为生成已结束：无"生成中"控件且发送控件可用。
func (s GenerationState) Settled() bool {
	return !s.Generating && s.CanSend
}

// SiteDriver is the capability set one web chat product must provide.
// Implementations are stateless; all per-conversation state lives in the
// page itself.
type SiteDriver interface {
	// ID 返回 provider 标识（qwen / kimi / glm）。
	ID() string
	// SupportedModels 返回该站点可用的模型名列表。
	SupportedModels() []string
	// EntryURL 返回新会话入口地址。
	EntryURL(model string) string
	// Codec 返回会话 ID 与可恢复定位符的编解码器。
	Codec() continuity.LocatorCodec
	// StreamPattern 返回需要拦截的流式接口 URL 片段。
	StreamPattern() string
	// ClassifyFragments 将一段拦截到的响应体解析为已分类片段序列。
	ClassifyFragments(body []byte) []Fragment
	// CheckAuthenticated 检查当前页面是否已登录。
	CheckAuthenticated(ctx context.Context, p browser.Page) (bool, error)
	// SendMessage 在页面上提交一条用户消息。
	SendMessage(ctx context.Context, p browser.Page, text string) error
	// ResponseText 读取当前渲染的最新一条回复文本。
	ResponseText(ctx context.Context, p browser.Page) (string, error)
	// State 观察 UI 生成状态。
	State(ctx context.Context, p browser.Page) (GenerationState, error)
	// Login 在登录页上提交账号密码。
	Login(ctx context.Context, p browser.Page, account, password string) error
}
