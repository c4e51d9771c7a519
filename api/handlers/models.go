package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/api/wire"
	"github.com/BaSui01/chatrelay/providers"
)

// =============================================================================
// 📋 模型列表 Handler
// =============================================================================

// ModelsHandler 模型列表处理器
type ModelsHandler struct {
	registry *providers.Registry
	logger   *zap.Logger
	created  int64
}

// NewModelsHandler 创建模型列表处理器
func NewModelsHandler(registry *providers.Registry, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		registry: registry,
		logger:   logger,
		created:  time.Now().Unix(),
	}
}

// HandleList 处理 /v1/models。
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Models()
	models := make([]wire.Model, 0, len(names))
	for _, name := range names {
		owner := "chatrelay"
		if drv, err := h.registry.ByModel(name); err == nil {
			owner = drv.ID()
		}
		models = append(models, wire.Model{
			ID:      name,
			Object:  "model",
			Created: h.created,
			OwnedBy: owner,
		})
	}
	WriteJSON(w, http.StatusOK, wire.ModelList{Object: "list", Data: models})
}
