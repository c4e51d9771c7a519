// Package api assembles the OpenAI-compatible HTTP surface served by chatrelay.
//
// 对外只暴露 chat.completions 的子集：采样参数（temperature / top_p 等）
// 接收但忽略——底层站点 UI 没有对应旋钮。扩展字段一律带 x_ 前缀。
// 线路类型定义在叶子包 api/wire 中，这里以别名形式重新导出，
// 以便 handlers 可以引用线路类型而不与路由装配形成导入环。
package api

import "github.com/BaSui01/chatrelay/api/wire"

// =============================================================================
// 📦 请求结构
// =============================================================================

// Message 一条对话消息。
type Message = wire.Message

// ChatRequest OpenAI 风格的补全请求。
type ChatRequest = wire.ChatRequest

// =============================================================================
// 📦 响应结构
// =============================================================================

// ChatUsage token 用量（估算值，底层站点不回报真实用量）。
type ChatUsage = wire.ChatUsage

// ChatChoice 非流式响应中的一个选择。
type ChatChoice = wire.ChatChoice

// ChatResponse 非流式补全响应。
type ChatResponse = wire.ChatResponse

// StreamDelta 流式增量。
type StreamDelta = wire.StreamDelta

// StreamChoice 流式响应中的一个选择。
type StreamChoice = wire.StreamChoice

// StreamChunk 一条 SSE 数据块。
type StreamChunk = wire.StreamChunk

// =============================================================================
// 📦 模型列表
// =============================================================================

// Model 一个可用模型。
type Model = wire.Model

// ModelList /v1/models 响应。
type ModelList = wire.ModelList

// =============================================================================
// 📦 错误结构（OpenAI 风格）
// =============================================================================

// ErrorInfo OpenAI 风格错误体。
type ErrorInfo = wire.ErrorInfo

// ErrorResponse 错误响应信封。
type ErrorResponse = wire.ErrorResponse
