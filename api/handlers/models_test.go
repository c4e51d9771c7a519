package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/api/wire"
	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/testutil"
)

func TestHandleModelList(t *testing.T) {
	reg := providers.NewRegistry()
	qwen := testutil.NewFakeDriver("qwen")
	qwen.ModelsValue = []string{"qwen-web", "qwen-web-thinking"}
	reg.Register(qwen)
	reg.Register(testutil.NewFakeDriver("kimi"))

	h := NewModelsHandler(reg, zap.NewNop())
	rec := httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var list wire.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))

	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 3)
	// 字典序
	assert.Equal(t, "kimi-web", list.Data[0].ID)
	assert.Equal(t, "kimi", list.Data[0].OwnedBy)
	assert.Equal(t, "qwen-web", list.Data[1].ID)
	assert.Equal(t, "qwen-web-thinking", list.Data[2].ID)
}
