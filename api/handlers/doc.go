/*
Package handlers 提供 OpenAI 兼容 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 chatrelay 所有 HTTP 端点的请求处理逻辑，
包括聊天补全（同步与 SSE 流式）、模型列表、健康检查以及统一的
错误响应。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ChatHandler     — 聊天补全处理器，支持同步聚合与 SSE 流式响应
  - ModelsHandler   — 模型列表，按注册表中的站点驱动枚举
  - HealthHandler   — 服务健康检查（/health, /healthz）
  - ErrorInfo       — OpenAI error 包络（message + type + code）
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码并透传 Flush
  - HealthCheck     — 可插拔健康检查接口（数据库等）

# 主要能力

  - 统一错误格式：WriteError / WriteErrorFrom，ErrorCode → HTTP 状态码映射
  - 请求验证：DecodeJSONBody（1 MB 限制，未知字段宽容以兼容各类客户端）
  - SSE 流式输出：role 首块、reasoning_content 思考通道、x_replace 全文
    替换块、会话延续尾块、携带 finish_reason 与 usage 的终块、[DONE] 哨兵
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
