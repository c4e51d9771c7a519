package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/api/wire"
	"github.com/BaSui01/chatrelay/bridge"
	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/bridge/reconcile"
	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// TurnRunner 执行一次对话回合。由 bridge.Bridge 实现。
type TurnRunner interface {
	Turn(ctx context.Context, req bridge.TurnRequest, emit reconcile.Sink) (*bridge.TurnResult, error)
}

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	runner TurnRunner
	logger *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(runner TurnRunner, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleCompletion 处理 /v1/chat/completions。
// 同一入口按 req.Stream 分流到 SSE 或聚合响应。
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var req wire.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	turnReq := bridge.TurnRequest{
		Model:            req.Model,
		Messages:         req.ToMessages(),
		AccountID:        req.AccountID,
		ConversationHint: req.ConversationID,
	}

	if req.Stream {
		h.streamCompletion(w, r, &req, turnReq)
		return
	}

	start := time.Now()
	res, err := h.runner.Turn(r.Context(), turnReq, nil)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("chat completion",
		zap.String("model", req.Model),
		zap.String("conversation_id", res.ConversationID),
		zap.Bool("login_dialog", res.LoginDialog),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("completion_tokens", res.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	WriteJSON(w, http.StatusOK, &wire.ChatResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []wire.ChatChoice{{
			Index: 0,
			Message: wire.Message{
				Role:             string(types.RoleAssistant),
				Content:          res.Text,
				ReasoningContent: res.Thinking,
			},
			FinishReason: finishReason(res),
		}},
		Usage: wire.ChatUsage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.PromptTokens + res.CompletionTokens,
		},
	})
}

// streamCompletion 以 SSE 下发增量。
func (h *ChatHandler) streamCompletion(w http.ResponseWriter, r *http.Request, req *wire.ChatRequest, turnReq bridge.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError,
			"streaming not supported"), h.logger)
		return
	}

	id := completionID()
	created := time.Now().Unix()
	wroteRole := false
	started := false

	// SSE 头推迟到首块前才落：首字节发出后无法再改状态码，
	// 但回合开始前的失败仍然可以走带状态码的 JSON 错误
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
	}

	sink := func(ev reconcile.Event) error {
		begin()
		choice := wire.StreamChoice{Index: 0}
		switch ev.Kind {
		case reconcile.EventThinking:
			choice.Delta.ReasoningContent = ev.Text
		case reconcile.EventReplace:
			choice.Delta.Content = ev.Text
			choice.Replace = true
		default:
			choice.Delta.Content = ev.Text
		}
		if !wroteRole {
			choice.Delta.Role = string(types.RoleAssistant)
			wroteRole = true
		}
		return h.writeChunk(w, flusher, &wire.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []wire.StreamChoice{choice},
		})
	}

	res, err := h.runner.Turn(r.Context(), turnReq, sink)
	if err != nil {
		if !started {
			// 尚未写出任何字节，客户端还能拿到真实状态码
			WriteErrorFrom(w, err, h.logger)
			return
		}
		h.writeStreamError(w, flusher, err)
		return
	}

	// 回合可能零增量（如超时且无内容），终块之前补齐 SSE 头
	begin()

	// 续接块不在增量里，终块单独补发
	if block := continuityTail(res); block != "" {
		_ = h.writeChunk(w, flusher, &wire.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []wire.StreamChoice{{Index: 0,
				Delta: wire.StreamDelta{Content: block}}},
		})
	}

	fin := finishReason(res)
	_ = h.writeChunk(w, flusher, &wire.StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []wire.StreamChoice{{Index: 0, FinishReason: &fin}},
		Usage: &wire.ChatUsage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.PromptTokens + res.CompletionTokens,
		},
	})

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (h *ChatHandler) writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk *wire.StreamChunk) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(chunk); err != nil {
		h.logger.Error("failed to write chunk", zap.Error(err))
		return err
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (h *ChatHandler) writeStreamError(w http.ResponseWriter, flusher http.Flusher, err error) {
	h.logger.Error("stream turn failed", zap.Error(err))
	msg := "internal error"
	code := string(types.ErrInternalError)
	if typed, ok := err.(*types.Error); ok {
		msg = typed.Message
		code = string(typed.Code)
	}
	payload, _ := json.Marshal(wire.ErrorResponse{
		Error: wire.ErrorInfo{Message: msg, Type: "server_error", Code: code},
	})
	w.Write([]byte("event: error\ndata: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// validateChatRequest 验证聊天请求
func (h *ChatHandler) validateChatRequest(req *wire.ChatRequest) *types.Error {
	if req.Model == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	return nil
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// finishReason 超时交付的部分内容标记为 length，其余 stop。
func finishReason(res *bridge.TurnResult) string {
	if res.Reason == reconcile.ReasonTimeout || res.Reason == reconcile.ReasonPageGone {
		return "length"
	}
	return "stop"
}

// continuityTail 返回增量未覆盖的续接尾块。
// 登录对话的回复整段经 sink 下发过，不需要补。
func continuityTail(res *bridge.TurnResult) string {
	if res.LoginDialog || res.ConversationID == "" {
		return ""
	}
	return continuity.Embed(res.ConversationID)
}
