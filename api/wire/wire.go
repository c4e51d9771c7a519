// Package wire defines the OpenAI-compatible wire types served by chatrelay.
//
// 对外只暴露 chat.completions 的子集：采样参数（temperature / top_p 等）
// 接收但忽略——底层站点 UI 没有对应旋钮。扩展字段一律带 x_ 前缀。
package wire

import "github.com/BaSui01/chatrelay/types"

// =============================================================================
// 📦 请求结构
// =============================================================================

// Message 一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
	// ReasoningContent 思考通道增量（流式响应专用）
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatRequest OpenAI 风格的补全请求。
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`

	// 接收但忽略的采样参数
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`

	// 扩展：站点账号槽位
	AccountID string `json:"x_account_id,omitempty"`
	// 扩展：显式会话 ID，历史中无续接块时生效
	ConversationID string `json:"x_conversation_id,omitempty"`
}

// ToMessages 转换为内部消息类型。
func (r *ChatRequest) ToMessages() []types.Message {
	out := make([]types.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = types.Message{
			Role:    types.Role(m.Role),
			Content: m.Content,
			Name:    m.Name,
		}
	}
	return out
}

// =============================================================================
// 📦 响应结构
// =============================================================================

// ChatUsage token 用量（估算值，底层站点不回报真实用量）。
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoice 非流式响应中的一个选择。
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse 非流式补全响应。
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"` // chat.completion
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// StreamDelta 流式增量。
type StreamDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamChoice 流式响应中的一个选择。Replace 为真时 Content 是全文，
// 客户端应整段替换已渲染内容（终局校正扩展）。
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
	Replace      bool        `json:"x_replace,omitempty"`
}

// StreamChunk 一条 SSE 数据块。
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"` // chat.completion.chunk
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *ChatUsage     `json:"usage,omitempty"`
}

// =============================================================================
// 📦 模型列表
// =============================================================================

// Model 一个可用模型。
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // model
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList /v1/models 响应。
type ModelList struct {
	Object string  `json:"object"` // list
	Data   []Model `json:"data"`
}

// =============================================================================
// 📦 错误结构（OpenAI 风格）
// =============================================================================

// ErrorInfo OpenAI 风格错误体。
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ErrorResponse 错误响应信封。
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}
